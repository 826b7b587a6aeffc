package models

import "github.com/google/uuid"

type PromptsRequest struct {
	ProjectID string `json:"projectId" binding:"required"`
}

type VideoRequest struct {
	ProjectID       string   `json:"projectId" binding:"required"`
	SelectedPrompts []string `json:"selectedPrompts"`
}

type ClaimRequest struct {
	Token string `json:"token" binding:"required"`
}

type LikeRequest struct {
	// Liked sets the flag explicitly. When omitted the flag is toggled.
	Liked *bool `json:"liked,omitempty"`
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Language string `json:"language,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type CreditsWebhookRequest struct {
	UserID    uuid.UUID `json:"userId" binding:"required"`
	Credits   int       `json:"credits" binding:"required,gt=0"`
	Reference string    `json:"reference,omitempty"`
}

type ErrorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
	Code     string `json:"code,omitempty"`
	Refunded bool   `json:"refunded,omitempty"`

	// CreditsLeft is set on refunded failures.
	CreditsLeft *int `json:"creditsLeft,omitempty"`
}
