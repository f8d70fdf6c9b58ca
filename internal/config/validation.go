package config

import (
	"fmt"
	"log/slog"
	"os"
)

// ErrInvalidPostgresPassword indicates the PostgreSQL password is unset
// or too weak.
var ErrInvalidPostgresPassword = fmt.Errorf("invalid PostgreSQL password")

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider and API key validation
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
		}
	default:
		return fmt.Errorf("%w: %q (expected %q or %q)",
			ErrInvalidProvider, c.Provider, ProviderGemini, ProviderOpenAI)
	}

	// 2. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: must be between 0 and 2, got %g", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTurns < 1 || c.MaxTurns > 20 {
		return fmt.Errorf("%w: must be between 1 and 20, got %d", ErrInvalidMaxTurns, c.MaxTurns)
	}

	// 3. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}
	if c.PostgresPassword == "opsdesk_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password for production deployments")
	}

	// 4. Search configuration validation
	if c.Search.TopK < 1 || c.Search.TopK > 50 {
		return fmt.Errorf("%w: top_k must be between 1 and 50, got %d",
			ErrInvalidSearchConfig, c.Search.TopK)
	}
	if !c.Search.UseTextSearch && !c.Search.UseVectorSearch {
		return fmt.Errorf("%w: at least one of use_text_search or use_vector_search must be enabled",
			ErrInvalidSearchConfig)
	}
	if c.Search.MinSearchScore < 0 || c.Search.MinRerankerScore < 0 {
		return fmt.Errorf("%w: score thresholds must be non-negative", ErrInvalidSearchConfig)
	}

	// 5. Ticket configuration validation
	if c.Ticket.Endpoint == "" {
		return fmt.Errorf("%w: endpoint cannot be empty", ErrInvalidTicketConfig)
	}
	if len(c.Ticket.Categories) == 0 {
		return fmt.Errorf("%w: at least one ticket category is required", ErrInvalidTicketConfig)
	}

	return nil
}
