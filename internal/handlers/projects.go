package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"retro-improver-backend/internal/models"
)

type ProjectsHandler struct {
	pipeline Pipeline
	accounts Accounts
}

func NewProjectsHandler(p Pipeline, accounts Accounts) *ProjectsHandler {
	return &ProjectsHandler{pipeline: p, accounts: accounts}
}

// ListProjects godoc
// @Summary     List projects
// @Description Returns the caller's projects, newest first.
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       liked query bool false "Only liked projects"
// @Success     200 {object} models.ProjectListResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /projects [get]
func (h *ProjectsHandler) ListProjects(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	likedOnly, _ := strconv.ParseBool(c.Query("liked"))
	projects, err := h.pipeline.ListProjects(c.Request.Context(), userID, likedOnly)
	if err != nil {
		writeError(c, err)
		return
	}

	language := models.LanguageEN
	if user, err := h.accounts.GetUser(c.Request.Context(), userID); err == nil {
		language = user.Language
	}

	resp := models.ProjectListResponse{Projects: make([]models.ProjectResponse, len(projects))}
	for i := range projects {
		resp.Projects[i] = projectResponse(&projects[i], h.pipeline.PublicURL, language)
	}
	c.JSON(http.StatusOK, resp)
}

// LikedMedia godoc
// @Summary     Liked media
// @Description Flat list of restored images and videos from liked projects.
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.LikedMediaResponse
// @Router      /projects/liked-media [get]
func (h *ProjectsHandler) LikedMedia(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	projects, err := h.pipeline.ListProjects(c.Request.Context(), userID, true)
	if err != nil {
		writeError(c, err)
		return
	}

	media := make([]models.MediaItem, 0, len(projects))
	for _, p := range projects {
		if !p.RestoredRef.IsZero() {
			media = append(media, models.MediaItem{
				ProjectID: p.ID.String(),
				Kind:      "image",
				URL:       h.pipeline.PublicURL(p.RestoredRef),
				CreatedAt: p.CreatedAt,
			})
		}
		if !p.VideoRef.IsZero() {
			media = append(media, models.MediaItem{
				ProjectID: p.ID.String(),
				Kind:      "video",
				URL:       h.pipeline.PublicURL(p.VideoRef),
				CreatedAt: p.CreatedAt,
			})
		}
	}
	c.JSON(http.StatusOK, models.LikedMediaResponse{Media: media})
}

// Like godoc
// @Summary     Like or unlike a project
// @Description Toggles the like flag. A body with "liked" sets it explicitly.
// @Tags        projects
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     200 {object} models.ProjectResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id}/like [post]
func (h *ProjectsHandler) Like(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := parseUUID(c, c.Param("project_id"), "project id")
	if !ok {
		return
	}

	var req models.LikeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error(), Code: codeValidation})
			return
		}
	}

	project, err := h.pipeline.ToggleLike(c.Request.Context(), userID, projectID, req.Liked)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, projectResponse(project, h.pipeline.PublicURL, models.LanguageEN))
}

// DeleteProject godoc
// @Summary     Delete a project
// @Description Deletes the project and every artifact it references.
// @Tags        projects
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     204
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /projects/{project_id} [delete]
func (h *ProjectsHandler) DeleteProject(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := parseUUID(c, c.Param("project_id"), "project id")
	if !ok {
		return
	}

	if err := h.pipeline.DeleteProject(c.Request.Context(), userID, projectID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
