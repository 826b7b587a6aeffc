package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"retro-improver-backend/internal/artifact"
	"retro-improver-backend/internal/ledger"
	"retro-improver-backend/internal/middleware"
	"retro-improver-backend/internal/models"
	"retro-improver-backend/internal/pipeline"
)

// Pipeline is the subset of the orchestrator the HTTP layer drives.
type Pipeline interface {
	Restore(ctx context.Context, userID uuid.UUID, upload pipeline.Upload) (*pipeline.RestoreOutcome, error)
	StartSpeculative(ctx context.Context, upload pipeline.Upload) (string, time.Time, error)
	ClaimSpeculative(ctx context.Context, userID uuid.UUID, token string) (*pipeline.RestoreOutcome, error)
	GeneratePrompts(ctx context.Context, userID, projectID uuid.UUID) (*pipeline.PromptsOutcome, error)
	GenerateVideo(ctx context.Context, userID, projectID uuid.UUID, selected []string) (*pipeline.VideoOutcome, error)
	ToggleLike(ctx context.Context, userID, projectID uuid.UUID, liked *bool) (*models.Project, error)
	DeleteProject(ctx context.Context, userID, projectID uuid.UUID) error
	Status(ctx context.Context, userID, projectID uuid.UUID) (*pipeline.StatusOutcome, error)
	ListProjects(ctx context.Context, userID uuid.UUID, likedOnly bool) ([]models.Project, error)
	PublicURL(ref artifact.Reference) string
	OpenArtifact(ctx context.Context, userID, projectID uuid.UUID, kind string) (string, func(), error)
}

type Accounts interface {
	CreateUser(ctx context.Context, email, passwordHash, language string) (*models.User, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type Credits interface {
	Credit(ctx context.Context, userID uuid.UUID, amount int, reason ledger.Reason, reference string) (int, error)
	Balance(ctx context.Context, userID uuid.UUID) (int, error)
}

// UserNotifier pushes account events to a user's live clients.
type UserNotifier interface {
	PublishUserEvent(ctx context.Context, userID uuid.UUID, event string, payload map[string]any) error
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "user id not found", Code: "unauthenticated"})
	}
	return userID, ok
}

func parseUUID(c *gin.Context, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid " + field,
			Message: err.Error(),
			Code:    codeValidation,
		})
		return uuid.Nil, false
	}
	return id, true
}

func projectResponse(p *models.Project, publicURL func(artifact.Reference) string, language string) models.ProjectResponse {
	resp := models.ProjectResponse{
		ID:          p.ID.String(),
		OriginalRef: publicURL(p.OriginalRef),
		RestoredRef: publicURL(p.RestoredRef),
		VideoRef:    publicURL(p.VideoRef),
		State:       p.State,
		IsLiked:     p.IsLiked,
		CreatedAt:   p.CreatedAt,
	}
	if len(p.Prompts) > 0 {
		resp.Prompts = pipeline.DisplayPrompts(p.Prompts, language)
		resp.BilingualPrompts = p.Prompts
	}
	return resp
}
