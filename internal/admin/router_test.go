package admin_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx-go/subagent/agentx/session"
	"github.com/agentx-go/subagent/internal/admin"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	return session.NewSession(session.Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
	})
}

func TestHealthz(t *testing.T) {
	router := admin.NewRouter(newTestSession(t), slog.Default())
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestGetSessionReportsDisconnectedBeforeRun(t *testing.T) {
	router := admin.NewRouter(newTestSession(t), slog.Default())
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/session")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		State                string `json:"state"`
		SessionID            uint32 `json:"session_id"`
		RegistrationFailures []any  `json:"registration_failures"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Disconnected", body.State)
	assert.Equal(t, uint32(0), body.SessionID)
	assert.Empty(t, body.RegistrationFailures)
}

func TestGetRegionsEmptyBeforeRegistration(t *testing.T) {
	router := admin.NewRouter(newTestSession(t), slog.Default())
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/regions")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var views []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	assert.Empty(t, views)
}

func TestGetSetTransactionsEmptyInitially(t *testing.T) {
	router := admin.NewRouter(newTestSession(t), slog.Default())
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/set-transactions")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var views []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	assert.Empty(t, views)
}
