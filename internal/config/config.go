package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Addr          string
	DatabaseDSN   string
	NATSURL       string
	NodeName      string
	LockTimeout   time.Duration
	RecencyWindow time.Duration
}

type JanitorConfig struct {
	DatabaseDSN string
	SweepEvery  time.Duration
	LockTimeout time.Duration
	Retention   time.Duration
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadServerFromEnv reads the server configuration. A .env file in the
// working directory is honored when present. NATS_URL empty means
// in-process broadcast only, DATABASE_URL empty means a local SQLite
// file.
func LoadServerFromEnv() ServerConfig {
	_ = godotenv.Load()

	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("SALESGAME_ADDR", ":8080")
	}

	host, _ := os.Hostname()
	return ServerConfig{
		Addr:          addr,
		DatabaseDSN:   databaseDSN(),
		NATSURL:       strings.TrimSpace(os.Getenv("NATS_URL")),
		NodeName:      envDefault("SALESGAME_NODE_NAME", host),
		LockTimeout:   envDurationDefault("SALESGAME_LOCK_TIMEOUT", 25*time.Second),
		RecencyWindow: envDurationDefault("SALESGAME_RECENCY_WINDOW", 4*time.Second),
	}
}

func LoadJanitorFromEnv() JanitorConfig {
	_ = godotenv.Load()
	return JanitorConfig{
		DatabaseDSN: databaseDSN(),
		SweepEvery:  envDurationDefault("SALESGAME_SWEEP_EVERY", time.Minute),
		LockTimeout: envDurationDefault("SALESGAME_LOCK_TIMEOUT", 25*time.Second),
		Retention:   envDurationDefault("SALESGAME_MATCH_RETENTION", 24*time.Hour),
	}
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("SALESGAME_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func databaseDSN() string {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		return dsn
	}
	return envDefault("SALESGAME_SQLITE_PATH", filepath.Join("tmp", "salesgame.sqlite"))
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
