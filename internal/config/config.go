// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override, OPSDESK_* prefix)
//  2. Config file (~/.opsdesk/config.yaml or ./config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: provider, model, embedder, max tool-calling turns
//   - Storage: PostgreSQL connection for the knowledge/template index
//   - Search: retrieval modes and score thresholds
//   - Ticket: ticketing system endpoint and the closed category set
//   - Server: listen address, CORS, rate limiting
//
// Security: sensitive values (postgres password, ticket API key) are
// masked in MarshalJSON and String.
//
// Error Handling: validation returns sentinel errors checked with
// errors.Is(), wrapped with context via fmt.Errorf("%w: ...").
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidMaxTurns indicates the tool-calling turn limit is out of range.
	ErrInvalidMaxTurns = errors.New("invalid max turns")

	// ErrInvalidTemperature indicates the sampling temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidSearchConfig indicates the search settings are inconsistent.
	ErrInvalidSearchConfig = errors.New("invalid search configuration")

	// ErrInvalidTicketConfig indicates the ticketing settings are incomplete.
	ErrInvalidTicketConfig = errors.New("invalid ticket configuration")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// DefaultGeminiEmbedderModel is the default Gemini embedder model.
// gemini-embedding-001 supports truncation to 768 dimensions, matching
// the vector(768) columns created by the db migrations.
const DefaultGeminiEmbedderModel = "gemini-embedding-001"

// SearchConfig controls retrieval against the knowledge/template index.
//
// The text/vector toggles are independent: enabling both yields hybrid
// scoring. A document qualifies only when its relevance score and (when
// reranking is enabled) its reranker score both meet the minimums.
type SearchConfig struct {
	TopK             int     `mapstructure:"top_k" json:"top_k"`
	UseTextSearch    bool    `mapstructure:"use_text_search" json:"use_text_search"`
	UseVectorSearch  bool    `mapstructure:"use_vector_search" json:"use_vector_search"`
	UseReranker      bool    `mapstructure:"use_reranker" json:"use_reranker"`
	MinSearchScore   float64 `mapstructure:"min_search_score" json:"min_search_score"`
	MinRerankerScore float64 `mapstructure:"min_reranker_score" json:"min_reranker_score"`
}

// TicketConfig holds ticketing system settings.
//
// Categories is the closed set of ticket categories the assistant may
// use; anything outside it is rejected by conversational policy.
type TicketConfig struct {
	Endpoint   string   `mapstructure:"endpoint" json:"endpoint"`
	APIKey     string   `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	Categories []string `mapstructure:"categories" json:"categories"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"` // "gemini" (default) or "openai"
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float64 `mapstructure:"temperature" json:"temperature"` // Reply sampling; the classifier always runs at 0
	MaxTurns      int     `mapstructure:"max_turns" json:"max_turns"`
	PromptDir     string  `mapstructure:"prompt_dir" json:"prompt_dir"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Domain configuration
	Search SearchConfig `mapstructure:"search" json:"search"`
	Ticket TicketConfig `mapstructure:"ticket" json:"ticket"`
	Server ServerConfig `mapstructure:"server" json:"server"`

	// Observability (optional; empty disables trace export)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
}

// Load reads configuration from defaults, config file, and environment.
// The result is validated; a non-nil error means the process should not
// start.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".opsdesk")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	// OPSDESK_CONFIG points at an explicit config file; a missing
	// explicit file is an error, unlike the search paths above.
	if cfgFile := os.Getenv("OPSDESK_CONFIG"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("temperature", 1.0)
	viper.SetDefault("max_turns", 5)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "opsdesk")
	viper.SetDefault("postgres_password", "opsdesk_dev_password")
	viper.SetDefault("postgres_db_name", "opsdesk")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("search.top_k", 5)
	viper.SetDefault("search.use_text_search", true)
	viper.SetDefault("search.use_vector_search", true)
	viper.SetDefault("search.use_reranker", false)
	viper.SetDefault("search.min_search_score", 0.0)
	viper.SetDefault("search.min_reranker_score", 0.0)

	viper.SetDefault("ticket.endpoint", "http://localhost:9090")
	viper.SetDefault("ticket.categories", []string{"HARDWARE", "SOFTWARE", "NETWORK", "CLOUD", "ACCESS"})

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.rate_burst", 30)

	viper.SetDefault("service_name", "opsdesk")
}

// bindEnvVariables binds selected environment variables to config keys.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "OPSDESK_PROVIDER")
	mustBind("model_name", "OPSDESK_MODEL_NAME")
	mustBind("temperature", "OPSDESK_TEMPERATURE")
	mustBind("prompt_dir", "OPSDESK_PROMPT_DIR")
	mustBind("server.addr", "OPSDESK_ADDR")
	mustBind("server.cors_origins", "OPSDESK_CORS_ORIGINS")
	mustBind("ticket.endpoint", "OPSDESK_TICKET_ENDPOINT")
	mustBind("ticket.api_key", "OPSDESK_TICKET_API_KEY")
	mustBind("otlp_endpoint", "OPSDESK_OTLP_ENDPOINT")

	// NOTE: GEMINI_API_KEY / OPENAI_API_KEY are read directly by the
	// Genkit provider plugins, not via Viper. Validate() only checks
	// their presence for the selected provider.
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked to prevent
// substring matching; longer secrets keep the first and last 2 chars
// for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking. When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.Ticket.APIKey = maskSecret(a.Ticket.APIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	if c.Provider == ProviderOpenAI {
		return ProviderOpenAI + "/" + c.ModelName
	}
	return ProviderGoogleAI + "/" + c.ModelName
}

// PostgresConnectionString returns a keyword/value DSN for pgx.
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser,
		c.PostgresPassword, c.PostgresDBName, c.PostgresSSLMode,
	)
}

// PostgresURL returns a postgres:// URL (used by golang-migrate).
func (c *Config) PostgresURL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     c.PostgresDBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.PostgresSSLMode),
	}
	return u.String()
}

// parseDatabaseURL parses the DATABASE_URL environment variable and sets
// the PostgreSQL config fields. DATABASE_URL overrides individual
// postgres_* settings; this is the common cloud deployment shape.
func (c *Config) parseDatabaseURL() error {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil
	}

	parsed, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL format: %w", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://, got %q", parsed.Scheme)
	}

	c.PostgresHost = parsed.Hostname()
	if port := parsed.Port(); port != "" {
		if _, err := fmt.Sscanf(port, "%d", &c.PostgresPort); err != nil {
			return fmt.Errorf("invalid DATABASE_URL port %q: %w", port, err)
		}
	}
	if parsed.User != nil {
		c.PostgresUser = parsed.User.Username()
		if pw, ok := parsed.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	c.PostgresDBName = strings.TrimPrefix(parsed.Path, "/")
	if mode := parsed.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}
