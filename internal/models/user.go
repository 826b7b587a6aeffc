package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash sql.NullString
	Credits      int
	Language     string
	IsSubscribed bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Languages a user can pick for prompt display.
const (
	LanguageEN = "en"
	LanguageRU = "ru"
)
