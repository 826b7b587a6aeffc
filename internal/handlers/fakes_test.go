package handlers_test

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"retro-improver-backend/internal/artifact"
	"retro-improver-backend/internal/ledger"
	"retro-improver-backend/internal/middleware"
	"retro-improver-backend/internal/models"
	"retro-improver-backend/internal/pipeline"
)

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Restore(ctx context.Context, userID uuid.UUID, upload pipeline.Upload) (*pipeline.RestoreOutcome, error) {
	args := m.Called(ctx, userID, upload)
	out, _ := args.Get(0).(*pipeline.RestoreOutcome)
	return out, args.Error(1)
}

func (m *mockPipeline) StartSpeculative(ctx context.Context, upload pipeline.Upload) (string, time.Time, error) {
	args := m.Called(ctx, upload)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func (m *mockPipeline) ClaimSpeculative(ctx context.Context, userID uuid.UUID, token string) (*pipeline.RestoreOutcome, error) {
	args := m.Called(ctx, userID, token)
	out, _ := args.Get(0).(*pipeline.RestoreOutcome)
	return out, args.Error(1)
}

func (m *mockPipeline) GeneratePrompts(ctx context.Context, userID, projectID uuid.UUID) (*pipeline.PromptsOutcome, error) {
	args := m.Called(ctx, userID, projectID)
	out, _ := args.Get(0).(*pipeline.PromptsOutcome)
	return out, args.Error(1)
}

func (m *mockPipeline) GenerateVideo(ctx context.Context, userID, projectID uuid.UUID, selected []string) (*pipeline.VideoOutcome, error) {
	args := m.Called(ctx, userID, projectID, selected)
	out, _ := args.Get(0).(*pipeline.VideoOutcome)
	return out, args.Error(1)
}

func (m *mockPipeline) ToggleLike(ctx context.Context, userID, projectID uuid.UUID, liked *bool) (*models.Project, error) {
	args := m.Called(ctx, userID, projectID, liked)
	out, _ := args.Get(0).(*models.Project)
	return out, args.Error(1)
}

func (m *mockPipeline) DeleteProject(ctx context.Context, userID, projectID uuid.UUID) error {
	return m.Called(ctx, userID, projectID).Error(0)
}

func (m *mockPipeline) Status(ctx context.Context, userID, projectID uuid.UUID) (*pipeline.StatusOutcome, error) {
	args := m.Called(ctx, userID, projectID)
	out, _ := args.Get(0).(*pipeline.StatusOutcome)
	return out, args.Error(1)
}

func (m *mockPipeline) ListProjects(ctx context.Context, userID uuid.UUID, likedOnly bool) ([]models.Project, error) {
	args := m.Called(ctx, userID, likedOnly)
	out, _ := args.Get(0).([]models.Project)
	return out, args.Error(1)
}

func (m *mockPipeline) PublicURL(ref artifact.Reference) string {
	if ref.IsZero() {
		return ""
	}
	return "https://cdn.test/" + ref.Location
}

func (m *mockPipeline) OpenArtifact(ctx context.Context, userID, projectID uuid.UUID, kind string) (string, func(), error) {
	args := m.Called(ctx, userID, projectID, kind)
	cleanup, _ := args.Get(1).(func())
	return args.String(0), cleanup, args.Error(2)
}

type mockAccounts struct {
	mock.Mock
}

func (m *mockAccounts) CreateUser(ctx context.Context, email, passwordHash, language string) (*models.User, error) {
	args := m.Called(ctx, email, passwordHash, language)
	out, _ := args.Get(0).(*models.User)
	return out, args.Error(1)
}

func (m *mockAccounts) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, userID)
	out, _ := args.Get(0).(*models.User)
	return out, args.Error(1)
}

func (m *mockAccounts) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	out, _ := args.Get(0).(*models.User)
	return out, args.Error(1)
}

type mockCredits struct {
	mock.Mock
}

func (m *mockCredits) Credit(ctx context.Context, userID uuid.UUID, amount int, reason ledger.Reason, reference string) (int, error) {
	args := m.Called(ctx, userID, amount, reason, reference)
	return args.Int(0), args.Error(1)
}

func (m *mockCredits) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) PublishUserEvent(ctx context.Context, userID uuid.UUID, event string, payload map[string]any) error {
	args := m.Called(ctx, userID, event, payload)
	return args.Error(0)
}

type staticTokens struct{}

func (staticTokens) Issue(userID uuid.UUID) (string, error) {
	return "token-" + userID.String(), nil
}

// asUser authenticates every request as userID.
func asUser(userID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}
