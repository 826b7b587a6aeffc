package models

import "time"

type ProjectResponse struct {
	ID               string            `json:"id"`
	OriginalRef      string            `json:"originalRef"`
	RestoredRef      string            `json:"restoredRef,omitempty"`
	VideoRef         string            `json:"videoRef,omitempty"`
	Prompts          []string          `json:"prompts,omitempty"`
	BilingualPrompts []BilingualPrompt `json:"bilingualPrompts,omitempty"`
	State            ProjectState      `json:"state"`
	IsLiked          bool              `json:"isLiked"`
	CreatedAt        time.Time         `json:"createdAt"`
}

type RestoreResponse struct {
	Project     ProjectResponse `json:"project"`
	CreditsLeft int             `json:"creditsLeft"`
}

type SpeculativeResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type PromptsResponse struct {
	Prompts          []string          `json:"prompts"`
	BilingualPrompts []BilingualPrompt `json:"bilingualPrompts"`
}

type VideoResponse struct {
	VideoURL    string `json:"videoUrl"`
	CreditsLeft int    `json:"creditsLeft"`
}

type ProjectListResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

type MediaItem struct {
	ProjectID string    `json:"projectId"`
	Kind      string    `json:"kind"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

type LikedMediaResponse struct {
	Media []MediaItem `json:"media"`
}

type StatusResponse struct {
	ProjectID string       `json:"projectId"`
	State     ProjectState `json:"state"`
	InFlight  bool         `json:"inFlight"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type UserResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Credits      int    `json:"credits"`
	Language     string `json:"language"`
	IsSubscribed bool   `json:"isSubscribed"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type CreditsResponse struct {
	UserID  string `json:"userId"`
	Credits int    `json:"credits"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
