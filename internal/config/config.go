// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	App     AppConfig
	Logger  LoggerConfig
	Server  ServerConfig
	Backend BackendConfig
	Local   LocalConfig
	Auth    AuthConfig
	Visitor VisitorConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Name           string
	Port           string        // Server port (default: 8080)
	ReadTimeout    time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout   time.Duration // HTTP write timeout (default: 15s)
	IdleTimeout    time.Duration // HTTP idle timeout (default: 60s)
	AllowedOrigins []string      // CORS origins of the web client
}

// BackendConfig points at the hosted backend. Leaving URL or AnonKey empty
// runs the server in demo mode against the local backend.
type BackendConfig struct {
	URL     string
	AnonKey string
	// RequestsPerSecond caps outbound calls per visitor client.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// DemoMode reports whether the hosted backend is unconfigured.
func (b BackendConfig) DemoMode() bool {
	return b.URL == "" || b.AnonKey == ""
}

// LocalConfig holds demo-mode storage configuration.
type LocalConfig struct {
	DataPath string
	// SeedPath is an optional YAML catalog loaded when the books table is empty.
	SeedPath string
}

// AuthConfig holds demo-mode token configuration.
type AuthConfig struct {
	AccessTokenDuration  time.Duration // e.g., 15m
	RefreshTokenDuration time.Duration // e.g., 720h (30 days)
}

// VisitorConfig controls the per-browser state kept by the server.
type VisitorConfig struct {
	CookieName   string
	IdleTTL      time.Duration
	SecureCookie bool
}

// LoadConfig loads configuration from the process arguments.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load builds configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("shelfnotes", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	serverName := fs.String("server-name", "", "Name for the server")
	serverPort := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	allowedOrigins := fs.String("allowed-origins", "", "Comma-separated CORS origins")

	backendURL := fs.String("supabase-url", "", "Hosted backend URL (empty: demo mode)")
	backendKey := fs.String("supabase-anon-key", "", "Hosted backend anon key (empty: demo mode)")
	backendRPS := fs.String("backend-rps", "", "Outbound requests per second per visitor (default: 10)")
	backendTimeout := fs.String("backend-timeout", "", "Hosted backend request timeout (default: 10s)")

	dataPath := fs.String("data-path", "", "Demo-mode data directory")
	seedPath := fs.String("seed", "", "Demo-mode YAML catalog to seed an empty store")

	accessTokenDuration := fs.String("access-token-duration", "", "Demo access token lifetime (e.g., 15m)")
	refreshTokenDuration := fs.String("refresh-token-duration", "", "Demo refresh token lifetime (e.g., 720h)")

	cookieName := fs.String("visitor-cookie", "", "Visitor cookie name (default: shelfnotes_visitor)")
	visitorTTL := fs.String("visitor-ttl", "", "Idle visitor expiry (default: 30m)")
	secureCookie := fs.String("secure-cookie", "", "Mark the visitor cookie Secure (default: true in production)")

	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// godotenv.Load never overrides variables already present in the environment.
	_ = godotenv.Load(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Name:           getConfigValue(*serverName, "SERVER_NAME", "ShelfNotes"),
			Port:           getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			AllowedOrigins: splitList(getConfigValue(*allowedOrigins, "ALLOWED_ORIGINS", "http://localhost:5173")),
		},
		Backend: BackendConfig{
			URL:               strings.TrimRight(getConfigValue(*backendURL, "SUPABASE_URL", ""), "/"),
			AnonKey:           getConfigValue(*backendKey, "SUPABASE_ANON_KEY", ""),
			RequestsPerSecond: getFloatConfigValue(*backendRPS, "BACKEND_RPS", 10),
		},
		Local: LocalConfig{
			DataPath: getConfigValue(*dataPath, "DATA_PATH", ""),
			SeedPath: getConfigValue(*seedPath, "SEED_PATH", ""),
		},
		Visitor: VisitorConfig{
			CookieName: getConfigValue(*cookieName, "VISITOR_COOKIE", "shelfnotes_visitor"),
		},
	}
	cfg.Visitor.SecureCookie = getBoolConfigValue(*secureCookie, "SECURE_COOKIE", cfg.App.Environment == "production")

	durations := []struct {
		flagValue, envKey, def, name string
		dst                          *time.Duration
	}{
		{*readTimeout, "SERVER_READ_TIMEOUT", "15s", "read timeout", &cfg.Server.ReadTimeout},
		{*writeTimeout, "SERVER_WRITE_TIMEOUT", "15s", "write timeout", &cfg.Server.WriteTimeout},
		{*idleTimeout, "SERVER_IDLE_TIMEOUT", "60s", "idle timeout", &cfg.Server.IdleTimeout},
		{*backendTimeout, "BACKEND_TIMEOUT", "10s", "backend timeout", &cfg.Backend.Timeout},
		{*accessTokenDuration, "ACCESS_TOKEN_DURATION", "15m", "access token duration", &cfg.Auth.AccessTokenDuration},
		{*refreshTokenDuration, "REFRESH_TOKEN_DURATION", "720h", "refresh token duration", &cfg.Auth.RefreshTokenDuration},
		{*visitorTTL, "VISITOR_TTL", "30m", "visitor ttl", &cfg.Visitor.IdleTTL},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flagValue, d.envKey, d.def)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, raw, err)
		}
		*d.dst = parsed
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Backend.URL != "" {
		u, err := url.Parse(c.Backend.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid SUPABASE_URL: %q", c.Backend.URL)
		}
	}

	if c.Backend.RequestsPerSecond <= 0 {
		return errors.New("backend requests per second must be positive")
	}

	if c.Backend.DemoMode() && c.Local.DataPath == "" {
		return errors.New("data path cannot be empty in demo mode")
	}

	if c.Visitor.CookieName == "" {
		return errors.New("visitor cookie name cannot be empty")
	}

	if c.Visitor.IdleTTL <= 0 {
		return errors.New("visitor ttl must be positive")
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPath defaults the demo data directory to ~/ShelfNotes/data.
func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "ShelfNotes", "data")

	expanded, err := expandPath(c.Local.DataPath, defaultPath)
	if err != nil {
		return err
	}
	c.Local.DataPath = expanded

	if c.Local.SeedPath != "" {
		seed, err := expandPath(c.Local.SeedPath, "")
		if err != nil {
			return err
		}
		c.Local.SeedPath = seed
	}
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getFloatConfigValue returns a float from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result float64
	if _, err := fmt.Sscanf(strValue, "%g", &result); err != nil {
		return defaultValue
	}
	return result
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
