package pipeline

import (
	"errors"
	"fmt"

	"retro-improver-backend/internal/ledger"
	"retro-improver-backend/internal/models"
)

var (
	ErrValidation = errors.New("validation failed")
	// ErrNotFound covers missing projects and projects owned by someone else.
	ErrNotFound          = models.ErrNotFound
	ErrConflict          = errors.New("a stage is already running for this project")
	ErrPromptsNotReady   = fmt.Errorf("%w: prompts have not been generated", ErrValidation)
	ErrRestoreNotReady   = fmt.Errorf("%w: project has no restored image", ErrNotFound)
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	// ErrSpeculationNotFound is returned for unknown, expired or already
	// claimed speculative restorations.
	ErrSpeculationNotFound = errors.New("speculative restoration not found")
)

type Stage string

const (
	StageRestore Stage = "restore"
	StagePrompts Stage = "prompts"
	StageVideo   Stage = "video"
)

// StageError is a failure of the external part of a stage. When Refunded is
// set the stage's debit has already been credited back and CreditsLeft holds
// the balance after the refund.
type StageError struct {
	Stage       Stage
	Err         error
	Refunded    bool
	CreditsLeft int
}

func (e *StageError) Error() string {
	if e.Refunded {
		return fmt.Sprintf("%s failed (credits refunded): %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
