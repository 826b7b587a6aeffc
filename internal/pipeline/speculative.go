package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"retro-improver-backend/internal/artifact"
	"retro-improver-backend/internal/ledger"
	"retro-improver-backend/internal/models"
)

// speculation is a restoration started for a visitor who has not signed in
// yet. Nothing is charged and no project exists until it is claimed.
type speculation struct {
	token     string
	upload    Upload
	original  artifact.Reference
	expiresAt time.Time

	// Set once done is closed.
	restored artifact.Reference
	err      error
	done     chan struct{}

	claiming bool
}

type speculations struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*speculation
}

func newSpeculations(ttl time.Duration) *speculations {
	return &speculations{ttl: ttl, entries: make(map[string]*speculation)}
}

// StartSpeculative begins restoring the upload right away, before the
// visitor authenticates. The returned token is redeemed with
// ClaimSpeculative until it expires.
func (o *Orchestrator) StartSpeculative(ctx context.Context, upload Upload) (token string, expiresAt time.Time, err error) {
	if err := validateUpload(upload); err != nil {
		return "", time.Time{}, err
	}

	original, err := o.artifacts.SaveUpload(upload.Data, upload.Filename)
	if err != nil {
		return "", time.Time{}, err
	}

	s := &speculation{
		token:     uuid.NewString(),
		upload:    Upload{Filename: upload.Filename, MimeType: upload.MimeType},
		original:  original,
		expiresAt: time.Now().Add(o.speculations.ttl),
		done:      make(chan struct{}),
	}

	o.speculations.mu.Lock()
	o.speculations.entries[s.token] = s
	o.speculations.mu.Unlock()

	dctx := context.WithoutCancel(ctx)
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		restored, err := o.restore(dctx, upload)

		o.speculations.mu.Lock()
		s.restored, s.err = restored, err
		close(s.done)
		linked := o.speculations.entries[s.token] == s
		o.speculations.mu.Unlock()

		if err != nil {
			o.log.Warn("speculative restoration failed", "token", s.token, "err", err)
		}
		if !linked {
			// Swept while running.
			o.releaseAll(dctx, s.original, restored)
		}
	}()

	o.log.Info("speculative restoration started", "token", s.token, "expires_at", s.expiresAt)
	return s.token, s.expiresAt, nil
}

// ClaimSpeculative links a speculative restoration to userID, charging the
// restoration credit exactly once. It waits for the restoration if it is
// still running.
func (o *Orchestrator) ClaimSpeculative(ctx context.Context, userID uuid.UUID, token string) (*RestoreOutcome, error) {
	o.speculations.mu.Lock()
	s, ok := o.speculations.entries[token]
	if !ok || s.claiming || time.Now().After(s.expiresAt) {
		o.speculations.mu.Unlock()
		return nil, ErrSpeculationNotFound
	}
	s.claiming = true
	o.speculations.mu.Unlock()

	unclaim := func() {
		o.speculations.mu.Lock()
		s.claiming = false
		o.speculations.mu.Unlock()
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		unclaim()
		return nil, ctx.Err()
	}

	if s.err != nil {
		o.forget(s)
		o.releaseAll(ctx, s.original, s.restored)
		return nil, &StageError{Stage: StageRestore, Err: s.err}
	}

	projectID := uuid.New()
	balance, err := o.ledger.Debit(ctx, userID, ledger.RestoreCost, ledger.ReasonRestore, projectID)
	if err != nil {
		unclaim()
		return nil, err
	}
	o.log.Info("credits debited", "user_id", userID, "project_id", projectID, "amount", ledger.RestoreCost, "reason", ledger.ReasonRestore, "balance", balance, "token", token)

	return detach(ctx, &o.inflight, func(ctx context.Context) (*RestoreOutcome, error) {
		original := s.original
		if original.IsLocal() {
			original = o.artifacts.Publish(ctx, original.Location, "originals/"+filepath.Base(s.upload.Filename))
		}
		project := &models.Project{
			ID:          projectID,
			UserID:      userID,
			OriginalRef: original,
			RestoredRef: s.restored,
			State:       models.StateRestored,
		}
		if err := o.projects.CreateProject(ctx, project); err != nil {
			// Publishing may have consumed the local copy; keep whatever
			// now holds the original for a retry or the sweeper.
			o.speculations.mu.Lock()
			s.original = original
			s.claiming = false
			o.speculations.mu.Unlock()
			return nil, o.refund(ctx, userID, ledger.RestoreCost, projectID, StageRestore, err)
		}

		o.forget(s)
		o.publish(ctx, projectID, EventRestored, map[string]any{"restoredUrl": o.artifacts.PublicURL(s.restored)})
		return &RestoreOutcome{Project: project, CreditsLeft: balance}, nil
	})
}

// SweepSpeculative drops unclaimed speculations that expired before now and
// releases their artifacts. It returns the number dropped.
func (o *Orchestrator) SweepSpeculative(now time.Time) int {
	var finished []*speculation

	o.speculations.mu.Lock()
	dropped := 0
	for token, s := range o.speculations.entries {
		if s.claiming || !now.After(s.expiresAt) {
			continue
		}
		delete(o.speculations.entries, token)
		dropped++
		select {
		case <-s.done:
			finished = append(finished, s)
		default:
			// The running restoration releases its own artifacts.
		}
	}
	o.speculations.mu.Unlock()

	ctx := context.Background()
	for _, s := range finished {
		o.releaseAll(ctx, s.original, s.restored)
	}
	if dropped > 0 {
		o.log.Info("expired speculative restorations dropped", "count", dropped)
	}
	return dropped
}

// RunJanitor sweeps expired speculations until ctx is done.
func (o *Orchestrator) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(o.janitorEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.SweepSpeculative(now)
		}
	}
}

// PendingSpeculations returns the number of unclaimed speculations held.
func (o *Orchestrator) PendingSpeculations() int {
	o.speculations.mu.Lock()
	defer o.speculations.mu.Unlock()
	return len(o.speculations.entries)
}

func (o *Orchestrator) forget(s *speculation) {
	o.speculations.mu.Lock()
	if o.speculations.entries[s.token] == s {
		delete(o.speculations.entries, s.token)
	}
	o.speculations.mu.Unlock()
}
