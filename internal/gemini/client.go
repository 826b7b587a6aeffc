// Package gemini talks to the Google Generative Language REST API: image
// restoration and prompt writing through generateContent, image-to-video
// through Veo long running operations.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"retro-improver-backend/internal/jobs"
)

type Config struct {
	BaseURL      string
	APIKey       string
	RestoreModel string
	PromptModel  string
	VideoModel   string
	Timeout      time.Duration
	// Backoffs are the waits between retries of a transient failure. The
	// number of entries is the number of retries.
	Backoffs []time.Duration
}

type Client struct {
	baseURL      string
	apiKey       string
	restoreModel string
	promptModel  string
	videoModel   string
	backoffs     []time.Duration
	httpClient   *http.Client
	log          *slog.Logger
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini api: status %d, body: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return jobs.ErrProviderUnavailable
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Backoffs == nil {
		cfg.Backoffs = []time.Duration{1 * time.Second, 2 * time.Second}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		restoreModel: cfg.RestoreModel,
		promptModel:  cfg.PromptModel,
		videoModel:   cfg.VideoModel,
		backoffs:     cfg.Backoffs,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

func (c *Client) modelURL(model, method string) string {
	return c.baseURL + "/models/" + model + ":" + method
}

// do sends body as JSON (or nothing when body is nil) and decodes the answer
// into out. Transient failures are retried with the configured backoffs.
func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	return c.retryWithBackoff(ctx, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("x-goog-api-key", c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: failed to execute request: %v", jobs.ErrProviderUnavailable, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: failed to read response body: %v", jobs.ErrProviderUnavailable, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", jobs.ErrMalformedResponse, err)
		}
		return nil
	})
}

// download fetches a generated file. Files served by the API need the key.
func (c *Client) download(ctx context.Context, uri string) ([]byte, string, error) {
	var (
		data        []byte
		contentType string
	)
	err := c.retryWithBackoff(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if strings.HasPrefix(uri, c.baseURL) || strings.Contains(uri, "generativelanguage.googleapis.com") {
			req.Header.Set("x-goog-api-key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: failed to download file: %v", jobs.ErrProviderUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: failed to read response body: %v", jobs.ErrProviderUnavailable, err)
		}
		contentType = resp.Header.Get("Content-Type")
		return nil
	})
	return data, contentType, err
}

// retryWithBackoff runs fn and retries it after each backoff while the
// failure is transient.
func (c *Client) retryWithBackoff(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= len(c.backoffs); attempt++ {
		if attempt > 0 {
			c.log.Warn("gemini request failed, retrying", "attempt", attempt, "err", lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(c.backoffs[attempt-1]):
			}
		}

		lastErr = fn()
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("failed after %d retries: %w", len(c.backoffs), lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return errors.Is(err, jobs.ErrProviderUnavailable)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
