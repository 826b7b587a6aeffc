// Package jobs runs calls to the external generation providers behind one
// submit/poll contract. Restoration and prompt writing complete inside
// Submit; video generation is started by Submit and driven to completion by
// Poll or Await.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"retro-improver-backend/internal/artifact"
	"retro-improver-backend/internal/models"
)

// Failure classes. Every failed Result wraps exactly one of these.
var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrMalformedResponse   = errors.New("malformed provider response")
	ErrTimeout             = errors.New("provider timed out")
	ErrCanceled            = errors.New("job canceled")
	// ErrInvalidRequest is returned by Submit; no job is started.
	ErrInvalidRequest = errors.New("invalid job request")
)

type Kind string

const (
	KindRestore Kind = "restore"
	KindPrompts Kind = "prompts"
	KindVideo   Kind = "video"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

type Request struct {
	Kind     Kind
	Image    []byte
	MimeType string
	// Prompt is the English animation prompt, video only.
	Prompt string
}

// Handle identifies a submitted job. Synchronous kinds come back already
// resolved.
type Handle struct {
	Kind      Kind
	Operation string
	resolved  *Result
}

// Resolved reports whether the job finished inside Submit.
func (h Handle) Resolved() bool {
	return h.resolved != nil
}

type Result struct {
	Status   Status
	Artifact *artifact.Payload
	Prompts  []models.BilingualPrompt
	Err      error
}

func done(res Result) Result {
	res.Status = StatusDone
	return res
}

func failed(err error) Result {
	return Result{Status: StatusFailed, Err: classify(err)}
}

// Restorer produces a restored image from a photo.
type Restorer interface {
	Restore(ctx context.Context, image []byte, mimeType string) (*artifact.Payload, error)
}

// PromptWriter proposes bilingual animation prompts for a restored photo.
type PromptWriter interface {
	WritePrompts(ctx context.Context, image []byte, mimeType string) ([]models.BilingualPrompt, error)
}

// VideoOperation is one observation of a long running video job.
type VideoOperation struct {
	Done  bool
	Video *artifact.Payload
	// Err is set when the provider reports the operation itself failed.
	Err error
}

// VideoGenerator starts image-to-video operations and reports on them.
type VideoGenerator interface {
	StartVideo(ctx context.Context, image []byte, mimeType, prompt string) (string, error)
	VideoStatus(ctx context.Context, operation string) (VideoOperation, error)
}

// SelectRestorer picks the restoration strategy registered under name.
func SelectRestorer(name string, available map[string]Restorer) (Restorer, error) {
	r, ok := available[name]
	if !ok || r == nil {
		return nil, fmt.Errorf("unknown restore provider %q", name)
	}
	return r, nil
}

// classify maps an arbitrary provider error onto a failure class.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrProviderUnavailable),
		errors.Is(err, ErrMalformedResponse),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrCanceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrCanceled, err)
	default:
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
}
