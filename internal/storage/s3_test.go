package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"retro-improver-backend/internal/storage"
)

func validConfig() storage.Config {
	return storage.Config{
		Endpoint:      "https://account.r2.cloudflarestorage.com",
		AccessKey:     "key",
		SecretKey:     "secret",
		Bucket:        "artifacts",
		PublicBaseURL: "https://cdn.example.com/",
	}
}

func TestNewS3Store_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*storage.Config)
	}{
		{name: "missing bucket", mutate: func(c *storage.Config) { c.Bucket = "" }},
		{name: "missing access key", mutate: func(c *storage.Config) { c.AccessKey = "" }},
		{name: "missing secret", mutate: func(c *storage.Config) { c.SecretKey = "" }},
		{name: "missing public url", mutate: func(c *storage.Config) { c.PublicBaseURL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			_, err := storage.NewS3Store(cfg)
			assert.Error(t, err)
		})
	}

	_, err := storage.NewS3Store(validConfig())
	assert.NoError(t, err)
}

func TestS3Store_KeyForURL(t *testing.T) {
	store, err := storage.NewS3Store(validConfig())
	require.NoError(t, err)

	key, ok := store.KeyForURL("https://cdn.example.com/videos/2026/10/14/a.mp4")
	assert.True(t, ok)
	assert.Equal(t, "videos/2026/10/14/a.mp4", key)

	_, ok = store.KeyForURL("https://other.example.com/videos/a.mp4")
	assert.False(t, ok)

	_, ok = store.KeyForURL("https://cdn.example.com/")
	assert.False(t, ok)
}
