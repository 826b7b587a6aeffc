package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"retro-improver-backend/internal/artifact"
	"retro-improver-backend/internal/models"
)

type Config struct {
	// SyncTimeout bounds restoration and prompt calls.
	SyncTimeout time.Duration
	// PollInterval is the fixed wait before each video poll.
	PollInterval time.Duration
	MaxAttempts  int
}

type Client struct {
	restorer    Restorer
	prompts     PromptWriter
	video       VideoGenerator
	syncTimeout time.Duration
	interval    time.Duration
	maxAttempts int
	log         *slog.Logger
}

func NewClient(cfg Config, restorer Restorer, prompts PromptWriter, video VideoGenerator, log *slog.Logger) *Client {
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 30
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{
		restorer:    restorer,
		prompts:     prompts,
		video:       video,
		syncTimeout: cfg.SyncTimeout,
		interval:    cfg.PollInterval,
		maxAttempts: cfg.MaxAttempts,
		log:         log,
	}
}

// Submit starts a job. Provider failures are reported through the handle's
// Result, the returned error is only set when the request itself is unusable.
func (c *Client) Submit(ctx context.Context, req Request) (Handle, error) {
	if len(req.Image) == 0 {
		return Handle{}, fmt.Errorf("%w: no image", ErrInvalidRequest)
	}

	switch req.Kind {
	case KindRestore:
		res := c.restore(ctx, req)
		return Handle{Kind: req.Kind, resolved: &res}, nil
	case KindPrompts:
		res := c.writePrompts(ctx, req)
		return Handle{Kind: req.Kind, resolved: &res}, nil
	case KindVideo:
		if strings.TrimSpace(req.Prompt) == "" {
			return Handle{}, fmt.Errorf("%w: empty video prompt", ErrInvalidRequest)
		}
		return c.startVideo(ctx, req), nil
	default:
		return Handle{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}
}

func (c *Client) restore(ctx context.Context, req Request) Result {
	ctx, cancel := context.WithTimeout(ctx, c.syncTimeout)
	defer cancel()

	payload, err := c.restorer.Restore(ctx, req.Image, req.MimeType)
	if err != nil {
		return failed(err)
	}
	if !hasPayload(payload) {
		return failed(fmt.Errorf("%w: restoration returned no image", ErrMalformedResponse))
	}
	return done(Result{Artifact: payload})
}

func (c *Client) writePrompts(ctx context.Context, req Request) Result {
	ctx, cancel := context.WithTimeout(ctx, c.syncTimeout)
	defer cancel()

	prompts, err := c.prompts.WritePrompts(ctx, req.Image, req.MimeType)
	if err != nil {
		return failed(err)
	}
	if err := validatePrompts(prompts); err != nil {
		return failed(err)
	}
	return done(Result{Prompts: prompts})
}

func (c *Client) startVideo(ctx context.Context, req Request) Handle {
	ctx, cancel := context.WithTimeout(ctx, c.syncTimeout)
	defer cancel()

	operation, err := c.video.StartVideo(ctx, req.Image, req.MimeType, req.Prompt)
	if err != nil {
		res := failed(err)
		return Handle{Kind: KindVideo, resolved: &res}
	}
	if operation == "" {
		res := failed(fmt.Errorf("%w: no operation name", ErrMalformedResponse))
		return Handle{Kind: KindVideo, resolved: &res}
	}

	c.log.Info("video job submitted", "operation", operation)
	return Handle{Kind: KindVideo, Operation: operation}
}

// Poll observes the job once. A non-nil error means the observation itself
// failed and the job state is unknown.
func (c *Client) Poll(ctx context.Context, h Handle) (Result, error) {
	if h.resolved != nil {
		return *h.resolved, nil
	}
	if h.Kind != KindVideo || h.Operation == "" {
		return Result{}, fmt.Errorf("%w: handle has no operation", ErrInvalidRequest)
	}

	pollCtx, cancel := context.WithTimeout(ctx, c.syncTimeout)
	defer cancel()

	op, err := c.video.VideoStatus(pollCtx, h.Operation)
	if err != nil {
		// A slow status call says nothing about the job itself.
		if ctx.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: status poll exceeded %s: %v", ErrProviderUnavailable, c.syncTimeout, err)
		}
		return Result{}, classify(err)
	}

	switch {
	case !op.Done:
		return Result{Status: StatusPending}, nil
	case op.Err != nil:
		return failed(op.Err), nil
	case !hasPayload(op.Video):
		return failed(fmt.Errorf("%w: video finished without a payload", ErrMalformedResponse)), nil
	default:
		return done(Result{Artifact: op.Video}), nil
	}
}

// Await polls until the job completes, fails, or MaxAttempts polls have been
// made, waiting PollInterval before every poll. A poll that fails with
// ErrProviderUnavailable counts as an attempt and is retried.
func (c *Client) Await(ctx context.Context, h Handle) Result {
	if h.resolved != nil {
		return *h.resolved
	}

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return failed(ctx.Err())
		case <-timer.C:
		}

		res, err := c.Poll(ctx, h)
		switch {
		case errors.Is(err, ErrProviderUnavailable):
			c.log.Warn("video poll failed, retrying", "operation", h.Operation, "attempt", attempt, "err", err)
		case err != nil:
			return failed(err)
		case res.Status != StatusPending:
			c.log.Info("video job finished", "operation", h.Operation, "status", res.Status, "attempts", attempt)
			return res
		default:
			c.log.Debug("video job pending", "operation", h.Operation, "attempt", attempt)
		}

		timer.Reset(c.interval)
	}

	return failed(fmt.Errorf("%w: video not ready after %d polls", ErrTimeout, c.maxAttempts))
}

func hasPayload(p *artifact.Payload) bool {
	return p != nil && (len(p.Data) > 0 || p.URI != "")
}

func validatePrompts(prompts []models.BilingualPrompt) error {
	if len(prompts) != models.PromptCount {
		return fmt.Errorf("%w: expected %d prompts, got %d", ErrMalformedResponse, models.PromptCount, len(prompts))
	}
	for i, p := range prompts {
		if strings.TrimSpace(p.EN) == "" || strings.TrimSpace(p.RU) == "" {
			return fmt.Errorf("%w: prompt %d is missing a phrasing", ErrMalformedResponse, i+1)
		}
	}
	return nil
}
