// Package config reads service settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Storage backends.
const (
	BackendTables   = "tables"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Change notification modes.
const (
	NotifyRedis = "redis"
	NotifyQueue = "queue"
)

type Config struct {
	Debug      bool
	ListenAddr string

	Backend           string
	StorageConnString string
	TasksTable        string
	ChangesQueue      string
	PostgresURL       string

	RedisConnString  string
	ChangesChannel   string
	NotifyMode       string
	SnapshotCacheTTL time.Duration
	DeduperTTL       time.Duration

	WorkspaceIdleTTL time.Duration
	AssistantScript  string

	AuthDomain     string
	AuthAudience   string
	AuthTestMode   bool
	TestJWTSecret  string
	JWKSCacheTTL   time.Duration
	RelayBatchSize int
	RelayInterval  time.Duration
}

// Load reads and validates the configuration of the board API.
func Load() (Config, error) {
	cfg, err := read()
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

// LoadRelay reads the configuration of the change relay, which only needs
// the queue and Redis settings.
func LoadRelay() (Config, error) {
	cfg, err := read()
	if err != nil {
		return cfg, err
	}
	if cfg.StorageConnString == "" {
		return cfg, errors.New("missing storage config: STORAGE_CONNECTION_STRING")
	}
	if cfg.RedisConnString == "" {
		return cfg, errors.New("missing redis config: REDIS_CONNECTION_STRING")
	}
	return cfg, nil
}

func read() (Config, error) {
	var err error
	cfg := Config{
		Debug:             envBool("DEBUG"),
		ListenAddr:        ":" + envString("LISTEN_PORT", "8080"),
		Backend:           envString("STORAGE_BACKEND", BackendTables),
		StorageConnString: os.Getenv("STORAGE_CONNECTION_STRING"),
		TasksTable:        envString("TASKS_TABLE", "tasks"),
		ChangesQueue:      envString("CHANGES_QUEUE", "task-changes"),
		PostgresURL:       os.Getenv("POSTGRES_URL"),
		RedisConnString:   os.Getenv("REDIS_CONNECTION_STRING"),
		ChangesChannel:    envString("CHANGES_CHANNEL", "task-changes"),
		NotifyMode:        envString("NOTIFY_MODE", NotifyRedis),
		AssistantScript:   os.Getenv("ASSISTANT_SCRIPT"),
		AuthDomain:        os.Getenv("AUTH0_DOMAIN"),
		AuthAudience:      os.Getenv("AUTH0_AUDIENCE"),
		AuthTestMode:      os.Getenv("AUTH0_TEST_MODE") == "1",
		TestJWTSecret:     os.Getenv("TEST_JWT_SECRET"),
	}
	if v, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		cfg.ListenAddr = ":" + v
	}
	if cfg.SnapshotCacheTTL, err = envDur("SNAPSHOT_CACHE_TTL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.DeduperTTL, err = envDur("DEDUPER_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.WorkspaceIdleTTL, err = envDur("WORKSPACE_IDLE_TTL", 10*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.JWKSCacheTTL, err = envDur("JWKS_CACHE_TTL", time.Hour); err != nil {
		return cfg, err
	}
	if cfg.RelayInterval, err = envDur("RELAY_INTERVAL", time.Second); err != nil {
		return cfg, err
	}
	if cfg.RelayBatchSize, err = envInt("RELAY_BATCH_SIZE", 16); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Backend {
	case BackendTables:
		if c.StorageConnString == "" {
			return errors.New("missing storage config: STORAGE_CONNECTION_STRING")
		}
	case BackendPostgres:
		if c.PostgresURL == "" {
			return errors.New("missing postgres config: POSTGRES_URL")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q", c.Backend)
	}
	switch c.NotifyMode {
	case NotifyRedis:
	case NotifyQueue:
		if c.StorageConnString == "" {
			return errors.New("missing storage config: NOTIFY_MODE=queue needs STORAGE_CONNECTION_STRING")
		}
	default:
		return fmt.Errorf("invalid NOTIFY_MODE %q", c.NotifyMode)
	}
	if c.AuthTestMode {
		if c.TestJWTSecret == "" {
			return errors.New("missing TEST_JWT_SECRET in auth test mode")
		}
	} else if c.AuthDomain == "" || c.AuthAudience == "" {
		return errors.New("missing Auth0 config")
	}
	return nil
}

// JWKSURL returns the key set endpoint of the Auth0 tenant.
func (c Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.AuthDomain)
}

// Issuer returns the expected token issuer.
func (c Config) Issuer() string {
	return "https://" + c.AuthDomain + "/"
}

// RedisOptions parses a redis URL or an Azure style connection string
// ("host:port,password=...,ssl=True").
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("missing redis config")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return n, nil
}

func envDur(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return d, nil
}
