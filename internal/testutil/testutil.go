// Package testutil provides shared testing utilities: a deterministic
// mock model and embedder, a pgvector-enabled PostgreSQL container, and
// an NDJSON stream reader.
package testutil

import (
	"context"
	"log/slog"
	"testing"

	"github.com/firebase/genkit/go/genkit"
)

// NewGenkit initializes a bare Genkit instance for tests. Register the
// mock model and embedder against it before use.
func NewGenkit(t *testing.T) *genkit.Genkit {
	t.Helper()
	g := genkit.Init(context.Background())
	if g == nil {
		t.Fatal("initializing genkit")
	}
	return g
}

// DiscardLogger returns a slog.Logger that discards all output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
