package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"retro-improver-backend/internal/models"
)

type ProcessHandler struct {
	pipeline Pipeline
}

func NewProcessHandler(p Pipeline) *ProcessHandler {
	return &ProcessHandler{pipeline: p}
}

// Prompts godoc
// @Summary     Generate animation prompts
// @Description Writes four bilingual animation prompts for a restored project. Free of charge.
// @Tags        pipeline
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.PromptsRequest true "Project"
// @Success     200 {object} models.PromptsResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /prompts [post]
func (h *ProcessHandler) Prompts(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.PromptsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "projectId is required", Message: err.Error(), Code: codeValidation})
		return
	}
	projectID, ok := parseUUID(c, req.ProjectID, "project id")
	if !ok {
		return
	}

	outcome, err := h.pipeline.GeneratePrompts(c.Request.Context(), userID, projectID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.PromptsResponse{
		Prompts:          outcome.Display,
		BilingualPrompts: outcome.Prompts,
	})
}

// Video godoc
// @Summary     Generate a video
// @Description Charges three credits and animates the restored photo with the selected prompts.
// @Description Failures and timeouts are refunded before the response is sent.
// @Tags        pipeline
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.VideoRequest true "Project and selected prompts"
// @Success     200 {object} models.VideoResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /video [post]
func (h *ProcessHandler) Video(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.VideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "projectId is required", Message: err.Error(), Code: codeValidation})
		return
	}
	projectID, ok := parseUUID(c, req.ProjectID, "project id")
	if !ok {
		return
	}

	outcome, err := h.pipeline.GenerateVideo(c.Request.Context(), userID, projectID, req.SelectedPrompts)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.VideoResponse{
		VideoURL:    outcome.VideoURL,
		CreditsLeft: outcome.CreditsLeft,
	})
}
