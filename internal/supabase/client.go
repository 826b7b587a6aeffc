package supabase

import (
	"fmt"

	"github.com/supabase-community/supabase-go"
	"retro-improver-backend/internal/config"
)

type Client struct {
	Supabase *supabase.Client
	Config   *config.Config
}

func NewClient(cfg *config.Config) (*Client, error) {
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		Supabase: client,
		Config:   cfg,
	}, nil
}

// Storage returns an artifact object store backed by the client's storage API.
func (c *Client) Storage() *StorageClient {
	return NewStorageClient(c.Supabase.Storage, c.Config.SupabaseURL, c.Config.SupabaseStorageBucket)
}
