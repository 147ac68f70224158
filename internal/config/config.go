// Package config loads relay settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config aggregates every setting the server needs
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Relay     RelayConfig
	JWTSecret string
	LogLevel  slog.Level
	// OTLPEndpoint enables metric export when set.
	OTLPEndpoint string
}

// ServerConfig describes the HTTP listener
type ServerConfig struct {
	Addr           string
	CORSOrigins    string
	SocketOrigins  []string
	HandshakeLimit int
	HandshakeEvery time.Duration
}

// StoreConfig selects the storage gateway
type StoreConfig struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
}

// RelayConfig tunes connection handling
type RelayConfig struct {
	PingInterval      time.Duration
	LivenessTimeout   time.Duration
	SweepInterval     time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
	NotificationLimit int
	PrimaryKind       string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	relay, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}

	level, err := parseLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:       server,
		Store:        loadStoreConfig(),
		Relay:        relay,
		JWTSecret:    os.Getenv("JWT_SECRET"),
		LogLevel:     level,
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}
	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}
	addr := port
	if !strings.Contains(port, ":") {
		addr = ":" + port
	}

	limit, err := intEnv("HANDSHAKE_RATE_LIMIT", 30)
	if err != nil {
		return ServerConfig{}, err
	}
	every, err := durationEnv("HANDSHAKE_RATE_WINDOW", time.Minute)
	if err != nil {
		return ServerConfig{}, err
	}

	return ServerConfig{
		Addr:           addr,
		CORSOrigins:    envOr("CORS_ORIGINS", "http://localhost:3000"),
		SocketOrigins:  splitList(envOr("WS_ORIGINS", "*")),
		HandshakeLimit: limit,
		HandshakeEvery: every,
	}, nil
}

func loadStoreConfig() StoreConfig {
	cfg := StoreConfig{
		Driver:      strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER"))),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  envOr("SQLITE_PATH", "pulse.db"),
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
		if cfg.DatabaseURL != "" {
			cfg.Driver = DriverPostgres
		}
	}
	return cfg
}

func loadRelayConfig() (RelayConfig, error) {
	var cfg RelayConfig
	var err error

	if cfg.PingInterval, err = durationEnv("PING_INTERVAL", 25*time.Second); err != nil {
		return cfg, err
	}
	if cfg.LivenessTimeout, err = durationEnv("LIVENESS_TIMEOUT", 60*time.Second); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", 15*time.Second); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = durationEnv("WRITE_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.SendBuffer, err = intEnv("SEND_BUFFER", 256); err != nil {
		return cfg, err
	}
	if cfg.NotificationLimit, err = intEnv("NOTIFICATION_LIMIT", 50); err != nil {
		return cfg, err
	}
	cfg.PrimaryKind = envOr("PRIMARY_CONNECTION_KIND", "global")

	if cfg.LivenessTimeout <= cfg.PingInterval {
		return cfg, fmt.Errorf("LIVENESS_TIMEOUT (%s) must exceed PING_INTERVAL (%s)", cfg.LivenessTimeout, cfg.PingInterval)
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s value: %q", key, raw)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s value: %q", key, raw)
	}
	return v, nil
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL value: %q", raw)
	}
	return level, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
