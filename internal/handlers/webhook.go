package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"retro-improver-backend/internal/ledger"
	"retro-improver-backend/internal/models"
)

// EventCreditsChanged is sent on the user channel after a top-up.
const EventCreditsChanged = "credits_changed"

type WebhookHandler struct {
	credits  Credits
	token    string
	notifier UserNotifier
	log      *slog.Logger
}

// NewWebhookHandler builds the top-up webhook. notifier may be nil.
func NewWebhookHandler(credits Credits, token string, notifier UserNotifier, log *slog.Logger) *WebhookHandler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &WebhookHandler{credits: credits, token: token, notifier: notifier, log: log}
}

// HandleCredits godoc
// @Summary     Credit top-up webhook
// @Description Adds purchased credits to a user. Authenticated with the shared webhook token.
// @Description A reference that was already applied is acknowledged with the current balance.
// @Tags        webhooks
// @Accept      json
// @Produce     json
// @Param       Authorization header string true "Bearer <webhook token>"
// @Param       request body models.CreditsWebhookRequest true "Top-up"
// @Success     200 {object} models.CreditsResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /webhooks/credits [post]
func (h *WebhookHandler) HandleCredits(c *gin.Context) {
	if h.token == "" {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "credits webhook not configured"})
		return
	}

	// Accept "Bearer <token>" or the bare token
	token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "invalid webhook token"})
		return
	}

	var req models.CreditsWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error(), Code: codeValidation})
		return
	}

	ctx := c.Request.Context()
	balance, err := h.credits.Credit(ctx, req.UserID, req.Credits, ledger.ReasonPurchase, req.Reference)
	switch {
	case errors.Is(err, ledger.ErrDuplicateReference):
		h.log.Info("credits webhook replayed", "user_id", req.UserID, "reference", req.Reference)
		balance, err = h.credits.Balance(ctx, req.UserID)
		if err != nil {
			writeError(c, err)
			return
		}
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid amount", Message: err.Error(), Code: codeValidation})
		return
	case err != nil:
		writeError(c, err)
		return
	default:
		h.log.Info("credits purchased", "user_id", req.UserID, "amount", req.Credits, "reference", req.Reference, "balance", balance)
		h.notify(ctx, req.UserID, balance)
	}

	c.JSON(http.StatusOK, models.CreditsResponse{UserID: req.UserID.String(), Credits: balance})
}

func (h *WebhookHandler) notify(ctx context.Context, userID uuid.UUID, balance int) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.PublishUserEvent(ctx, userID, EventCreditsChanged, map[string]any{"credits": balance}); err != nil {
		h.log.Warn("failed to publish credits event", "user_id", userID, "err", err)
	}
}
