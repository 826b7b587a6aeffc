package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"retro-improver-backend/internal/auth"
	"retro-improver-backend/internal/ledger"
	"retro-improver-backend/internal/models"
	"retro-improver-backend/internal/supabase"
)

type TokenIssuer interface {
	Issue(userID uuid.UUID) (string, error)
}

type ProfilesHandler struct {
	accounts      Accounts
	credits       Credits
	tokens        TokenIssuer
	signupCredits int
	log           *slog.Logger
}

func NewProfilesHandler(accounts Accounts, credits Credits, tokens TokenIssuer, signupCredits int, log *slog.Logger) *ProfilesHandler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &ProfilesHandler{
		accounts:      accounts,
		credits:       credits,
		tokens:        tokens,
		signupCredits: signupCredits,
		log:           log,
	}
}

// Register godoc
// @Summary     Register
// @Description Creates an account with the signup credit bonus and returns a bearer token.
// @Tags        auth
// @Accept      json
// @Produce     json
// @Param       request body models.RegisterRequest true "Credentials"
// @Success     201 {object} models.AuthResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /auth/register [post]
func (h *ProfilesHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error(), Code: codeValidation})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	user, err := h.accounts.CreateUser(c.Request.Context(), req.Email, hash, normalizeLanguage(req.Language))
	if errors.Is(err, supabase.ErrEmailTaken) {
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "email already registered", Code: "email_taken"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	if h.signupCredits > 0 {
		balance, err := h.credits.Credit(c.Request.Context(), user.ID, h.signupCredits, ledger.ReasonSignupBonus, "signup:"+user.ID.String())
		if err != nil {
			h.log.Error("failed to grant signup credits", "user_id", user.ID, "err", err)
		} else {
			user.Credits = balance
		}
	}

	h.respondWithToken(c, http.StatusCreated, user)
}

// Login godoc
// @Summary     Log in
// @Tags        auth
// @Accept      json
// @Produce     json
// @Param       request body models.LoginRequest true "Credentials"
// @Success     200 {object} models.AuthResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /auth/login [post]
func (h *ProfilesHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error(), Code: codeValidation})
		return
	}

	user, err := h.accounts.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		writeError(c, err)
		return
	}
	if err != nil || auth.CheckPassword(user.PasswordHash.String, req.Password) != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: auth.ErrInvalidCredentials.Error(), Code: "invalid_credentials"})
		return
	}

	h.respondWithToken(c, http.StatusOK, user)
}

// Me godoc
// @Summary     Current user
// @Tags        auth
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.UserResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /auth/me [get]
func (h *ProfilesHandler) Me(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	user, err := h.accounts.GetUser(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userResponse(user))
}

func (h *ProfilesHandler) respondWithToken(c *gin.Context, status int, user *models.User) {
	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(status, models.AuthResponse{Token: token, User: userResponse(user)})
}

func userResponse(user *models.User) models.UserResponse {
	return models.UserResponse{
		ID:           user.ID.String(),
		Email:        user.Email,
		Credits:      user.Credits,
		Language:     user.Language,
		IsSubscribed: user.IsSubscribed,
	}
}

func normalizeLanguage(language string) string {
	if language == models.LanguageRU {
		return models.LanguageRU
	}
	return models.LanguageEN
}
