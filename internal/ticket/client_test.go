package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk-ai/opsdesk/internal/testutil"
)

// fakeTicketServer is a minimal in-memory ticketing API.
func fakeTicketServer(t *testing.T, wantAPIKey string) *httptest.Server {
	t.Helper()

	var counter atomic.Int64
	mux := http.NewServeMux()

	mux.HandleFunc("POST /incidents", func(w http.ResponseWriter, r *http.Request) {
		if wantAPIKey != "" && r.Header.Get("Authorization") != "Bearer "+wantAPIKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TemplateName == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Submission{
			TicketID: fmt.Sprintf("INC-%d", counter.Add(1)),
			Status:   StatusSuccess,
		})
	})

	mux.HandleFunc("GET /incidents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Status{
			TicketID: r.PathValue("id"),
			State:    "in_progress",
			Summary:  "printer on fire",
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCreate(t *testing.T) {
	srv := fakeTicketServer(t, "")
	c, err := New(srv.URL, "", testutil.DiscardLogger())
	require.NoError(t, err)

	first, err := c.Create(context.Background(), CreateRequest{
		TemplateName: "hardware-failure",
		Description:  "laptop will not boot",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, first.Status)
	assert.NotEmpty(t, first.TicketID)

	second, err := c.Create(context.Background(), CreateRequest{
		TemplateName: "hardware-failure",
		Description:  "same again",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.TicketID, second.TicketID)
}

func TestCreateAuth(t *testing.T) {
	srv := fakeTicketServer(t, "secret-key")

	t.Run("with key", func(t *testing.T) {
		c, err := New(srv.URL, "secret-key", testutil.DiscardLogger())
		require.NoError(t, err)

		sub, err := c.Create(context.Background(), CreateRequest{TemplateName: "x", Description: "y"})
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, sub.Status)
	})

	t.Run("wrong key reported in band", func(t *testing.T) {
		c, err := New(srv.URL, "wrong", testutil.DiscardLogger())
		require.NoError(t, err)

		sub, err := c.Create(context.Background(), CreateRequest{TemplateName: "x", Description: "y"})
		require.NoError(t, err)
		assert.Equal(t, StatusError, sub.Status)
		assert.Empty(t, sub.TicketID)
	})
}

func TestCreateTransportFailure(t *testing.T) {
	// Nothing listens on this address.
	c, err := New("http://127.0.0.1:1", "", testutil.DiscardLogger())
	require.NoError(t, err)

	sub, err := c.Create(context.Background(), CreateRequest{TemplateName: "x", Description: "y"})
	require.NoError(t, err)
	assert.Equal(t, StatusError, sub.Status)
	assert.Empty(t, sub.TicketID)
}

func TestGetStatus(t *testing.T) {
	srv := fakeTicketServer(t, "")
	c, err := New(srv.URL, "", testutil.DiscardLogger())
	require.NoError(t, err)

	status, err := c.GetStatus(context.Background(), "INC-42")
	require.NoError(t, err)
	assert.Equal(t, "INC-42", status.TicketID)
	assert.Equal(t, "in_progress", status.State)
}

func TestGetStatusErrors(t *testing.T) {
	srv := fakeTicketServer(t, "")
	c, err := New(srv.URL, "", testutil.DiscardLogger())
	require.NoError(t, err)

	t.Run("empty id", func(t *testing.T) {
		_, err := c.GetStatus(context.Background(), "")
		require.Error(t, err)
	})

	t.Run("transport failure surfaces", func(t *testing.T) {
		down, err := New("http://127.0.0.1:1", "", testutil.DiscardLogger())
		require.NoError(t, err)

		_, err = down.GetStatus(context.Background(), "INC-1")
		require.Error(t, err)
	})
}

func TestNewValidation(t *testing.T) {
	_, err := New("", "", testutil.DiscardLogger())
	require.Error(t, err)
}
