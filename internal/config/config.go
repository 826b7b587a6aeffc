package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	StorageLocal    = "local"
	StorageS3       = "s3"
	StorageSupabase = "supabase"
)

type Config struct {
	// Gemini API
	GeminiAPIKey       string
	GeminiBaseURL      string
	GeminiRestoreModel string
	GeminiPromptModel  string
	GeminiVideoModel   string
	RestoreProvider    string
	RequestTimeout     time.Duration

	// Video polling
	VideoPollInterval    time.Duration
	VideoPollMaxAttempts int

	// Artifact storage
	UploadDir      string
	ScratchDir     string
	MaxFileSize    int64
	StorageBackend string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool

	// Supabase
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// Auth and credits
	JWTSecret           string
	TokenTTL            time.Duration
	SignupCredits       int
	CreditsWebhookToken string
	SpeculativeTTL      time.Duration

	// Database
	DatabaseURL string

	// Server
	Port        string
	Environment string
	BaseURL     string
	FrontendURL string
}

func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	cfg := &Config{
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiRestoreModel: getEnv("GEMINI_RESTORE_MODEL", "gemini-2.5-flash-image"),
		GeminiPromptModel:  getEnv("GEMINI_PROMPT_MODEL", "gemini-2.5-flash"),
		GeminiVideoModel:   getEnv("GEMINI_VIDEO_MODEL", "veo-3.1-fast-generate-preview"),
		RestoreProvider:    strings.ToLower(getEnv("RESTORE_PROVIDER", "gemini")),
		RequestTimeout:     time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),

		VideoPollInterval:    time.Second * time.Duration(getInt("VIDEO_POLL_INTERVAL_SECONDS", 10)),
		VideoPollMaxAttempts: getInt("VIDEO_POLL_MAX_ATTEMPTS", 30),

		UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
		ScratchDir:     getEnv("SCRATCH_DIR", ""),
		MaxFileSize:    int64(getInt("MAX_FILE_SIZE", 10<<20)),
		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", StorageLocal)),

		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        getEnv("S3_REGION", "auto"),
		S3AccessKey:     getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:     getEnv("S3_SECRET_KEY", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3PublicBaseURL: getEnv("S3_PUBLIC_BASE_URL", ""),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", false),

		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "artifacts"),

		JWTSecret:           getEnv("JWT_SECRET", ""),
		TokenTTL:            time.Hour * time.Duration(getInt("TOKEN_TTL_HOURS", 24*7)),
		SignupCredits:       getInt("SIGNUP_CREDITS", 3),
		CreditsWebhookToken: getEnv("CREDITS_WEBHOOK_TOKEN", ""),
		SpeculativeTTL:      time.Minute * time.Duration(getInt("SPECULATIVE_TTL_MINUTES", 30)),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		BaseURL:     strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
	}

	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(cfg.UploadDir, "tmp")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	switch c.StorageBackend {
	case StorageLocal, StorageS3, StorageSupabase:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of local, s3, supabase (got %q)", c.StorageBackend)
	}
	if filepath.Clean(c.ScratchDir) == filepath.Clean(c.UploadDir) {
		return fmt.Errorf("SCRATCH_DIR must differ from UPLOAD_DIR")
	}
	if c.VideoPollInterval <= 0 || c.VideoPollMaxAttempts <= 0 {
		return fmt.Errorf("video polling interval and attempts must be positive")
	}
	return nil
}

// RemoteStorageConfigured reports whether the selected remote backend has
// everything it needs. A false result means artifacts are served locally.
func (c *Config) RemoteStorageConfigured() bool {
	switch c.StorageBackend {
	case StorageS3:
		return c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.S3PublicBaseURL != ""
	case StorageSupabase:
		return c.SupabaseURL != "" && c.SupabaseServiceKey != "" && c.SupabaseStorageBucket != ""
	default:
		return false
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile loads the first .env found. A missing file is not an error,
// the process environment is used as is.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates, filepath.Join("configs", ".env"), ".env")

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
