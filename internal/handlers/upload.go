package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"retro-improver-backend/internal/middleware"
	"retro-improver-backend/internal/models"
	"retro-improver-backend/internal/pipeline"
)

var allowedExtensions = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Multipart field names probed for the photo, in order.
var uploadFields = []string{"file", "image", "photo"}

// Room for multipart boundaries and part headers on top of the file itself.
const multipartOverhead = 1 << 20

type UploadHandler struct {
	pipeline    Pipeline
	accounts    Accounts
	maxFileSize int64
}

func NewUploadHandler(p Pipeline, accounts Accounts, maxFileSize int64) *UploadHandler {
	return &UploadHandler{
		pipeline:    p,
		accounts:    accounts,
		maxFileSize: maxFileSize,
	}
}

// Restore godoc
// @Summary     Restore a photo
// @Description Charges one credit and restores the uploaded photo into a new project.
// @Description Without a bearer token the restoration starts speculatively and a claim token is returned instead.
// @Tags        pipeline
// @Accept      multipart/form-data
// @Produce     json
// @Param       file formData file true "Photo (jpeg, png, gif, webp)"
// @Success     200 {object} models.RestoreResponse
// @Success     202 {object} models.SpeculativeResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /restore [post]
func (h *UploadHandler) Restore(c *gin.Context) {
	upload, ok := h.readUpload(c)
	if !ok {
		return
	}

	userID, authenticated := middleware.UserID(c)
	if !authenticated {
		token, expiresAt, err := h.pipeline.StartSpeculative(c.Request.Context(), upload)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, models.SpeculativeResponse{Token: token, ExpiresAt: expiresAt})
		return
	}

	outcome, err := h.pipeline.Restore(c.Request.Context(), userID, upload)
	if err != nil {
		writeError(c, err)
		return
	}
	h.respondRestored(c, outcome)
}

// Claim godoc
// @Summary     Claim a speculative restoration
// @Description Links a restoration started before sign-in to the caller and charges one credit.
// @Tags        pipeline
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.ClaimRequest true "Claim token"
// @Success     200 {object} models.RestoreResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /restore/claim [post]
func (h *UploadHandler) Claim(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error(), Code: codeValidation})
		return
	}

	outcome, err := h.pipeline.ClaimSpeculative(c.Request.Context(), userID, req.Token)
	if err != nil {
		writeError(c, err)
		return
	}
	h.respondRestored(c, outcome)
}

func (h *UploadHandler) respondRestored(c *gin.Context, outcome *pipeline.RestoreOutcome) {
	language := models.LanguageEN
	if user, err := h.accounts.GetUser(c.Request.Context(), outcome.Project.UserID); err == nil {
		language = user.Language
	}
	c.JSON(http.StatusOK, models.RestoreResponse{
		Project:     projectResponse(outcome.Project, h.pipeline.PublicURL, language),
		CreditsLeft: outcome.CreditsLeft,
	})
}

// readUpload writes the 400 response itself when it returns false.
func (h *UploadHandler) readUpload(c *gin.Context) (pipeline.Upload, bool) {
	if h.maxFileSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+multipartOverhead)
	}
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "file too large",
				Message: fmt.Sprintf("maximum size is %d bytes", h.maxFileSize),
				Code:    codeValidation,
			})
			return pipeline.Upload{}, false
		}
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "failed to parse multipart form",
			Message: err.Error(),
			Code:    codeValidation,
		})
		return pipeline.Upload{}, false
	}

	var header *multipart.FileHeader
	for _, field := range uploadFields {
		if files := c.Request.MultipartForm.File[field]; len(files) > 0 {
			header = files[0]
			break
		}
	}
	if header == nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "no file uploaded",
			Message: fmt.Sprintf("please provide the photo in one of these fields: %v", uploadFields),
			Code:    codeValidation,
		})
		return pipeline.Upload{}, false
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "unsupported file type",
			Message: fmt.Sprintf("%q is not a jpeg, png, gif or webp image", header.Filename),
			Code:    codeValidation,
		})
		return pipeline.Upload{}, false
	}
	if h.maxFileSize > 0 && header.Size > h.maxFileSize {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "file too large",
			Message: fmt.Sprintf("maximum size is %d bytes", h.maxFileSize),
			Code:    codeValidation,
		})
		return pipeline.Upload{}, false
	}

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to open file", Message: err.Error(), Code: codeValidation})
		return pipeline.Upload{}, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to read file", Message: err.Error(), Code: codeValidation})
		return pipeline.Upload{}, false
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mime.TypeByExtension(ext)
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return pipeline.Upload{Data: data, Filename: header.Filename, MimeType: mimeType}, true
}
