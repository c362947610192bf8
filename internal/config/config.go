package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string // RELAYMUX_HTTP_ADDR (default ":8080")
	GRPCAddr    string // RELAYMUX_GRPC_ADDR (default ":9090")
	AuthToken   string // RELAYMUX_AUTH_TOKEN (optional, empty = auth disabled)
	DatabaseURL string // RELAYMUX_DATABASE_URL (optional, empty = no persistent tier)
	NATSURL     string // RELAYMUX_NATS_URL (optional, control bus for flag pushes)

	// Relay settings
	Relays            []string // RELAYMUX_RELAYS (default "nats://127.0.0.1:4222")
	SpecializedRelays []string // RELAYMUX_SPECIALIZED_RELAYS (metadata subset)
	MaxSubscriptions  int      // RELAYMUX_MAX_SUBSCRIPTIONS (default 100)
	RelaySubject      string   // RELAYMUX_RELAY_SUBJECT (default "relay.events")

	// Local state
	FlagsFile          string // RELAYMUX_FLAGS_FILE (optional TOML flags)
	StateFile          string // RELAYMUX_STATE_FILE (watermark file when no database)
	IndexCapacity      int    // RELAYMUX_INDEX_CAPACITY (default 10000)
	RejectEmptyFilters bool   // RELAYMUX_REJECT_EMPTY_FILTERS (default false)

	// Sync settings
	SyncInterval   time.Duration // RELAYMUX_SYNC_INTERVAL (default 0 = disabled)
	SyncS3Bucket   string        // RELAYMUX_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // RELAYMUX_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // RELAYMUX_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // RELAYMUX_SYNC_S3_KEY (default "relaymux/{date}/events.jsonl")
	SyncGitRepo    string        // RELAYMUX_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // RELAYMUX_SYNC_GIT_FILE (default "events.jsonl")
	SyncGitBranch  string        // RELAYMUX_SYNC_GIT_BRANCH (default "main")
	SyncGitPush    bool          // RELAYMUX_SYNC_GIT_PUSH (default true)
}

func Load() (*Config, error) {
	c := &Config{
		HTTPAddr:          envOrDefault("RELAYMUX_HTTP_ADDR", ":8080"),
		GRPCAddr:          envOrDefault("RELAYMUX_GRPC_ADDR", ":9090"),
		AuthToken:         os.Getenv("RELAYMUX_AUTH_TOKEN"),
		DatabaseURL:       os.Getenv("RELAYMUX_DATABASE_URL"),
		NATSURL:           os.Getenv("RELAYMUX_NATS_URL"),
		Relays:            splitList(envOrDefault("RELAYMUX_RELAYS", "nats://127.0.0.1:4222")),
		SpecializedRelays: splitList(os.Getenv("RELAYMUX_SPECIALIZED_RELAYS")),
		RelaySubject:      envOrDefault("RELAYMUX_RELAY_SUBJECT", "relay.events"),
		FlagsFile:         os.Getenv("RELAYMUX_FLAGS_FILE"),
		StateFile:         os.Getenv("RELAYMUX_STATE_FILE"),
		SyncS3Bucket:      os.Getenv("RELAYMUX_SYNC_S3_BUCKET"),
		SyncS3Endpoint:    os.Getenv("RELAYMUX_SYNC_S3_ENDPOINT"),
		SyncS3Region:      envOrDefault("RELAYMUX_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:         envOrDefault("RELAYMUX_SYNC_S3_KEY", "relaymux/{date}/events.jsonl"),
		SyncGitRepo:       os.Getenv("RELAYMUX_SYNC_GIT_REPO"),
		SyncGitFile:       envOrDefault("RELAYMUX_SYNC_GIT_FILE", "events.jsonl"),
		SyncGitBranch:     envOrDefault("RELAYMUX_SYNC_GIT_BRANCH", "main"),
	}
	if len(c.Relays) == 0 {
		return nil, fmt.Errorf("RELAYMUX_RELAYS: no relays listed")
	}

	var err error
	if c.MaxSubscriptions, err = envInt("RELAYMUX_MAX_SUBSCRIPTIONS", 100); err != nil {
		return nil, err
	}
	if c.IndexCapacity, err = envInt("RELAYMUX_INDEX_CAPACITY", 10000); err != nil {
		return nil, err
	}
	if c.RejectEmptyFilters, err = envBool("RELAYMUX_REJECT_EMPTY_FILTERS", false); err != nil {
		return nil, err
	}
	if c.SyncGitPush, err = envBool("RELAYMUX_SYNC_GIT_PUSH", true); err != nil {
		return nil, err
	}

	intervalStr := envOrDefault("RELAYMUX_SYNC_INTERVAL", "0")
	d, err := time.ParseDuration(intervalStr)
	if err != nil {
		return nil, fmt.Errorf("RELAYMUX_SYNC_INTERVAL: %w", err)
	}
	if d < 0 {
		return nil, fmt.Errorf("RELAYMUX_SYNC_INTERVAL: must not be negative")
	}
	c.SyncInterval = d

	return c, nil
}

// SyncEnabled reports whether a schedule and at least one destination are set.
func (c *Config) SyncEnabled() bool {
	return c.SyncInterval > 0 && c.DatabaseURL != "" && (c.SyncS3Bucket != "" || c.SyncGitRepo != "")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %d", key, n)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
