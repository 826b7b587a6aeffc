package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RealtimeClient sends broadcast messages through the Supabase Realtime REST
// endpoint. A client built without a URL or key drops every event.
type RealtimeClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	r := &RealtimeClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	if supabaseURL != "" && apiKey != "" {
		r.endpoint = strings.TrimRight(supabaseURL, "/") + "/realtime/v1/api/broadcast"
	}
	return r
}

func (r *RealtimeClient) Enabled() bool {
	return r != nil && r.endpoint != ""
}

type broadcastMessage struct {
	Topic   string         `json:"topic"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

func (r *RealtimeClient) PublishEvent(ctx context.Context, channel string, event string, payload map[string]any) error {
	if !r.Enabled() {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"messages": []broadcastMessage{{Topic: channel, Event: event, Payload: payload}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("broadcast failed: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (r *RealtimeClient) PublishProjectEvent(ctx context.Context, projectID uuid.UUID, event string, payload map[string]any) error {
	channel := fmt.Sprintf("project:%s", projectID.String())
	return r.PublishEvent(ctx, channel, event, payload)
}

func (r *RealtimeClient) PublishUserEvent(ctx context.Context, userID uuid.UUID, event string, payload map[string]any) error {
	channel := fmt.Sprintf("user:%s", userID.String())
	return r.PublishEvent(ctx, channel, event, payload)
}
