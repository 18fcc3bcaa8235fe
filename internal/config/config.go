// Package config handles loading and validation of service configuration.
// Supports both development (env vars, .env) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/joho/godotenv"

	"gtm-datalayer/internal/shopify"
)

// Config holds all service configuration.
// Environment determines whether the app secret loads from env vars (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// Public base URL of the app, used for the OAuth redirect
	AppURL string

	// GCP settings (required in production)
	GCPProject string
	SecretName string

	Shopify ShopifyConfig

	// Credential storage. Empty DatabaseURL keeps credentials in memory.
	DatabaseURL string
	RedisAddr   string

	// Accepted access token prefixes for operator requests
	TokenPrefixes []string

	// Require a Shopify session token on /api routes
	RequireSessionToken bool
}

// ShopifyConfig contains the app credentials issued by the partner dashboard.
type ShopifyConfig struct {
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Scopes     string `json:"scopes"`
	APIVersion string `json:"api_version,omitempty"`
}

const defaultScopes = "read_themes,write_themes,read_pixels,write_pixels,read_customer_events"

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → .env + ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	if os.Getenv("ENVIRONMENT") != "production" {
		if err := loadDotEnv(envOrDefault("DOTENV_FILE", ".env")); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", "8080"),
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		AppURL:      os.Getenv("APP_URL"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		SecretName:  envOrDefault("SHOPIFY_SECRET_NAME", "shopify-api-secret"),
		Shopify: ShopifyConfig{
			APIKey:     os.Getenv("SHOPIFY_API_KEY"),
			APISecret:  os.Getenv("SHOPIFY_API_SECRET"),
			Scopes:     envOrDefault("SHOPIFY_SCOPES", defaultScopes),
			APIVersion: envOrDefault("SHOPIFY_API_VERSION", shopify.DefaultAPIVersion),
		},
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		TokenPrefixes: splitList(os.Getenv("TOKEN_PREFIXES"), shopify.DefaultTokenPrefixes),
	}

	if v := os.Getenv("REQUIRE_SESSION_TOKEN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("parsing REQUIRE_SESSION_TOKEN: %w", err)
		}
		cfg.RequireSessionToken = b
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if err := cfg.loadFromSecretManager(ctx); err != nil {
			return nil, fmt.Errorf("loading app secret: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv reads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig struct {
		Port                string        `json:"port"`
		Environment         string        `json:"environment"`
		LogLevel            string        `json:"log_level"`
		AppURL              string        `json:"app_url"`
		Shopify             ShopifyConfig `json:"shopify"`
		DatabaseURL         string        `json:"database_url"`
		RedisAddr           string        `json:"redis_addr"`
		TokenPrefixes       []string      `json:"token_prefixes"`
		RequireSessionToken bool          `json:"require_session_token"`
	}
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:                withDefault(fileConfig.Port, "8080"),
		Environment:         withDefault(fileConfig.Environment, "development"),
		LogLevel:            withDefault(fileConfig.LogLevel, "info"),
		AppURL:              fileConfig.AppURL,
		Shopify:             fileConfig.Shopify,
		DatabaseURL:         fileConfig.DatabaseURL,
		RedisAddr:           fileConfig.RedisAddr,
		TokenPrefixes:       fileConfig.TokenPrefixes,
		RequireSessionToken: fileConfig.RequireSessionToken,
	}
	cfg.Shopify.Scopes = withDefault(cfg.Shopify.Scopes, defaultScopes)
	cfg.Shopify.APIVersion = withDefault(cfg.Shopify.APIVersion, shopify.DefaultAPIVersion)
	if len(cfg.TokenPrefixes) == 0 {
		cfg.TokenPrefixes = shopify.DefaultTokenPrefixes
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches the app secret from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secret}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", c.GCPProject, c.SecretName)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	c.Shopify.APISecret = strings.TrimSpace(string(result.Payload.Data))
	return nil
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.Shopify.APIKey == "" {
		return fmt.Errorf("shopify api_key is required")
	}
	if c.Shopify.APISecret == "" {
		return fmt.Errorf("shopify api_secret is required")
	}
	if c.AppURL != "" {
		u, err := url.Parse(c.AppURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid app_url: %q", c.AppURL)
		}
	}
	for _, p := range c.TokenPrefixes {
		if p == "" {
			return fmt.Errorf("token_prefixes must not contain empty entries")
		}
	}
	return nil
}

// RedirectURI returns the OAuth callback URL.
func (c *Config) RedirectURI() string {
	base := c.AppURL
	if base == "" {
		base = fmt.Sprintf("http://localhost:%s", c.Port)
	}
	return strings.TrimSuffix(base, "/") + "/auth/callback"
}

// splitList parses a comma separated list, falling back to def when empty.
func splitList(s string, def []string) []string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
