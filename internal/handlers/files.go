package handlers

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"retro-improver-backend/internal/artifact"
	"retro-improver-backend/internal/models"
)

type FilesHandler struct {
	pipeline Pipeline
}

func NewFilesHandler(p Pipeline) *FilesHandler {
	return &FilesHandler{pipeline: p}
}

// Download godoc
// @Summary     Download an artifact
// @Description Streams the original, restored or video artifact of the caller's project as an attachment.
// @Tags        files
// @Produce     octet-stream
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Param       kind query string false "original, restored (default) or video"
// @Success     200 {file} file
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id}/download [get]
func (h *FilesHandler) Download(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := parseUUID(c, c.Param("project_id"), "project id")
	if !ok {
		return
	}

	kind := c.DefaultQuery("kind", "restored")
	path, cleanup, err := h.pipeline.OpenArtifact(c.Request.Context(), userID, projectID, kind)
	switch {
	case errors.Is(err, artifact.ErrArtifactMissing):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "artifact missing", Message: err.Error(), Code: codeNotFound})
		return
	case errors.Is(err, artifact.ErrArtifactUnavailable):
		c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: "artifact unavailable", Message: err.Error()})
		return
	case err != nil:
		writeError(c, err)
		return
	}
	defer cleanup()

	c.FileAttachment(path, kind+"-"+projectID.String()+filepath.Ext(path))
}
