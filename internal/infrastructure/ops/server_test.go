package ops

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"agentdesk/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSessions struct {
	info   domain.CallSession
	active bool
}

func (f *fakeSessions) Snapshot() (domain.CallSession, bool) { return f.info, f.active }

type fakePresence struct{ state domain.PresenceState }

func (f *fakePresence) Current() domain.PresenceState { return f.state }

func newTestServer(sessions *fakeSessions, presence *fakePresence) *Server {
	return NewServer(sessions, presence, prometheus.NewRegistry(), zap.NewNop().Sugar())
}

func get(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthIdle(t *testing.T) {
	server := newTestServer(&fakeSessions{}, &fakePresence{state: domain.PresenceReady})

	rec := get(t, server, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status   string `json:"status"`
		Presence string `json:"presence"`
		Session  struct {
			Active bool `json:"active"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "READY", body.Presence)
	assert.False(t, body.Session.Active)
}

func TestHealthWithActiveSession(t *testing.T) {
	sessions := &fakeSessions{
		info: domain.CallSession{
			RoomID: "room-7",
			Role:   domain.RoleCaller,
			State:  domain.NegotiationConnected,
			Muted:  true,
		},
		active: true,
	}
	server := newTestServer(sessions, &fakePresence{state: domain.PresenceOnCall})

	rec := get(t, server, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Presence string `json:"presence"`
		Session  struct {
			Active bool   `json:"active"`
			Room   string `json:"room"`
			Role   string `json:"role"`
			State  string `json:"state"`
			Muted  bool   `json:"muted"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ON_CALL", body.Presence)
	assert.True(t, body.Session.Active)
	assert.Equal(t, "room-7", body.Session.Room)
	assert.Equal(t, string(domain.RoleCaller), body.Session.Role)
	assert.Equal(t, string(domain.NegotiationConnected), body.Session.State)
	assert.True(t, body.Session.Muted)
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "agentdesk_test_total"})
	require.NoError(t, registry.Register(counter))
	counter.Inc()

	server := NewServer(&fakeSessions{}, &fakePresence{state: domain.PresenceReady}, registry, zap.NewNop().Sugar())

	rec := get(t, server, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agentdesk_test_total 1")
}
