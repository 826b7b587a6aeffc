package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"retro-improver-backend/internal/jobs"
	"retro-improver-backend/internal/models"
	"retro-improver-backend/internal/pipeline"
)

// Machine readable error codes.
const (
	codeValidation   = "validation_error"
	codeInsufficient = "insufficient_credits"
	codeNotFound     = "not_found"
	codeConflict     = "stage_in_progress"
	codeFailed       = "generation_failed"
	codeTimeout      = "generation_timeout"
	codeInternal     = "internal_error"
)

// writeError maps pipeline errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status, resp := classify(err)
	c.JSON(status, resp)
}

func classify(err error) (int, models.ErrorResponse) {
	// A stage failure reports its refund even when the cause looks like a
	// client error.
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		code := codeFailed
		if errors.Is(err, jobs.ErrTimeout) {
			code = codeTimeout
		}
		resp := models.ErrorResponse{
			Error:    string(stageErr.Stage) + " failed",
			Message:  err.Error(),
			Code:     code,
			Refunded: stageErr.Refunded,
		}
		if stageErr.Refunded {
			left := stageErr.CreditsLeft
			resp.CreditsLeft = &left
		}
		return http.StatusInternalServerError, resp
	}

	switch {
	case errors.Is(err, pipeline.ErrValidation), errors.Is(err, jobs.ErrInvalidRequest):
		return http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error(), Code: codeValidation}
	case errors.Is(err, pipeline.ErrInsufficientFunds):
		return http.StatusBadRequest, models.ErrorResponse{Error: "insufficient credits", Message: err.Error(), Code: codeInsufficient}
	case errors.Is(err, pipeline.ErrNotFound), errors.Is(err, pipeline.ErrSpeculationNotFound):
		return http.StatusNotFound, models.ErrorResponse{Error: "not found", Message: err.Error(), Code: codeNotFound}
	case errors.Is(err, pipeline.ErrConflict):
		return http.StatusConflict, models.ErrorResponse{Error: "stage already in progress", Message: err.Error(), Code: codeConflict}
	}

	return http.StatusInternalServerError, models.ErrorResponse{Error: "internal error", Message: err.Error(), Code: codeInternal}
}
