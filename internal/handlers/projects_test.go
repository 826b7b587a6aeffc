package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"retro-improver-backend/internal/artifact"
	"retro-improver-backend/internal/handlers"
	"retro-improver-backend/internal/models"
	"retro-improver-backend/internal/pipeline"
)

func projectsRouter(p *mockPipeline, accounts *mockAccounts, userID uuid.UUID) *gin.Engine {
	router := newEngine()
	router.Use(asUser(userID))
	projects := handlers.NewProjectsHandler(p, accounts)
	status := handlers.NewStatusHandler(p)
	files := handlers.NewFilesHandler(p)
	router.GET("/api/projects", projects.ListProjects)
	router.GET("/api/projects/liked-media", projects.LikedMedia)
	router.POST("/api/projects/:project_id/like", projects.Like)
	router.DELETE("/api/projects/:project_id", projects.DeleteProject)
	router.GET("/api/projects/:project_id/status", status.GetStatus)
	router.GET("/api/projects/:project_id/download", files.Download)
	return router
}

func serve(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListProjects(t *testing.T) {
	userID := uuid.New()
	projects := []models.Project{
		{ID: uuid.New(), UserID: userID, RestoredRef: artifact.Local("b.png"), State: models.StateRestored, CreatedAt: time.Now()},
		{ID: uuid.New(), UserID: userID, RestoredRef: artifact.Local("a.png"), State: models.StatePromptsReady,
			Prompts: []models.BilingualPrompt{{EN: "a", RU: "а"}, {EN: "b", RU: "б"}, {EN: "c", RU: "в"}, {EN: "d", RU: "г"}}},
	}

	p := &mockPipeline{}
	p.On("ListProjects", mock.Anything, userID, true).Return(projects, nil)
	accounts := &mockAccounts{}
	accounts.On("GetUser", mock.Anything, userID).Return(&models.User{ID: userID, Language: models.LanguageRU}, nil)

	w := serve(projectsRouter(p, accounts, userID), "GET", "/api/projects?liked=true", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp models.ProjectListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Projects, 2)
	assert.Equal(t, projects[0].ID.String(), resp.Projects[0].ID)
	assert.Equal(t, []string{"а", "б", "в", "г"}, resp.Projects[1].Prompts)
}

func TestLikedMedia(t *testing.T) {
	userID := uuid.New()
	p := &mockPipeline{}
	p.On("ListProjects", mock.Anything, userID, true).Return([]models.Project{
		{ID: uuid.New(), RestoredRef: artifact.Local("r1.png"), VideoRef: artifact.Remote("v1.mp4")},
		{ID: uuid.New(), RestoredRef: artifact.Local("r2.png")},
	}, nil)

	w := serve(projectsRouter(p, &mockAccounts{}, userID), "GET", "/api/projects/liked-media", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp models.LikedMediaResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Media, 3)
	assert.Equal(t, "image", resp.Media[0].Kind)
	assert.Equal(t, "video", resp.Media[1].Kind)
	assert.Equal(t, "https://cdn.test/v1.mp4", resp.Media[1].URL)
}

func TestLike(t *testing.T) {
	userID, projectID := uuid.New(), uuid.New()
	p := &mockPipeline{}
	p.On("ToggleLike", mock.Anything, userID, projectID, (*bool)(nil)).
		Return(&models.Project{ID: projectID, IsLiked: true}, nil).Once()
	p.On("ToggleLike", mock.Anything, userID, projectID, mock.MatchedBy(func(v *bool) bool { return v != nil && !*v })).
		Return(&models.Project{ID: projectID, IsLiked: false}, nil).Once()
	router := projectsRouter(p, &mockAccounts{}, userID)

	w := serve(router, "POST", "/api/projects/"+projectID.String()+"/like", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"isLiked":true`)

	w = serve(router, "POST", "/api/projects/"+projectID.String()+"/like", []byte(`{"liked":false}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"isLiked":false`)
	p.AssertExpectations(t)
}

func TestDeleteProject(t *testing.T) {
	userID, projectID, busyID := uuid.New(), uuid.New(), uuid.New()
	p := &mockPipeline{}
	p.On("DeleteProject", mock.Anything, userID, projectID).Return(nil)
	p.On("DeleteProject", mock.Anything, userID, busyID).Return(pipeline.ErrConflict)
	router := projectsRouter(p, &mockAccounts{}, userID)

	assert.Equal(t, http.StatusNoContent, serve(router, "DELETE", "/api/projects/"+projectID.String(), nil).Code)
	assert.Equal(t, http.StatusConflict, serve(router, "DELETE", "/api/projects/"+busyID.String(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, "DELETE", "/api/projects/not-a-uuid", nil).Code)
}

func TestGetStatus(t *testing.T) {
	userID, projectID := uuid.New(), uuid.New()
	p := &mockPipeline{}
	p.On("Status", mock.Anything, userID, projectID).Return(&pipeline.StatusOutcome{
		Project:  &models.Project{ID: projectID, State: models.StateVideoPending},
		InFlight: pipeline.StageVideo,
	}, nil)

	w := serve(projectsRouter(p, &mockAccounts{}, userID), "GET", "/api/projects/"+projectID.String()+"/status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp models.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.StateVideoPending, resp.State)
	assert.True(t, resp.InFlight)
}

func TestDownload(t *testing.T) {
	userID, projectID := uuid.New(), uuid.New()
	path := filepath.Join(t.TempDir(), "restored.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o644))

	cleaned := false
	p := &mockPipeline{}
	p.On("OpenArtifact", mock.Anything, userID, projectID, "restored").Return(path, func() { cleaned = true }, nil)
	p.On("OpenArtifact", mock.Anything, userID, projectID, "video").Return("", nil, pipeline.ErrNotFound)
	p.On("OpenArtifact", mock.Anything, userID, projectID, "original").Return("", nil, artifact.ErrArtifactMissing)
	router := projectsRouter(p, &mockAccounts{}, userID)

	w := serve(router, "GET", "/api/projects/"+projectID.String()+"/download", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png-bytes", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "restored-"+projectID.String()+".png")
	assert.True(t, cleaned)

	assert.Equal(t, http.StatusNotFound, serve(router, "GET", "/api/projects/"+projectID.String()+"/download?kind=video", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(router, "GET", "/api/projects/"+projectID.String()+"/download?kind=original", nil).Code)
}
