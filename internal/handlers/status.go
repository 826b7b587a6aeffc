package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"retro-improver-backend/internal/models"
)

type StatusHandler struct {
	pipeline Pipeline
}

func NewStatusHandler(p Pipeline) *StatusHandler {
	return &StatusHandler{pipeline: p}
}

// GetStatus godoc
// @Summary     Get project status
// @Description Returns the pipeline state of a project and whether a stage is running.
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     200 {object} models.StatusResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id}/status [get]
func (h *StatusHandler) GetStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := parseUUID(c, c.Param("project_id"), "project id")
	if !ok {
		return
	}

	outcome, err := h.pipeline.Status(c.Request.Context(), userID, projectID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.StatusResponse{
		ProjectID: outcome.Project.ID.String(),
		State:     outcome.Project.State,
		InFlight:  outcome.InFlight != "",
		UpdatedAt: outcome.Project.UpdatedAt,
	})
}
