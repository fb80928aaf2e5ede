package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"agentdesk/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoBackend upgrades signaling connections and echoes every message back,
// recording the room and token it saw.
type echoBackend struct {
	mu     sync.Mutex
	rooms  []string
	tokens []string
}

func (b *echoBackend) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "deny" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		b.mu.Lock()
		b.rooms = append(b.rooms, strings.TrimPrefix(r.URL.Path, "/ws/signaling/"))
		b.tokens = append(b.tokens, token)
		b.mu.Unlock()

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, data); err != nil {
				return
			}
		}
	}
}

func newTestDialer(t *testing.T, srv *httptest.Server) *Dialer {
	t.Helper()
	return NewDialer(DialerConfig{
		BaseURL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		PingInterval: 50 * time.Millisecond,
		PongTimeout:  time.Second,
		WriteTimeout: time.Second,
	}, zap.NewNop().Sugar())
}

func TestLinkEchoRoundTrip(t *testing.T) {
	backend := &echoBackend{}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	dialer := newTestDialer(t, srv)
	link, err := dialer.Connect(context.Background(), "room 7", "tok-1")
	require.NoError(t, err)
	defer link.Close()

	backend.mu.Lock()
	require.Equal(t, []string{"room 7"}, backend.rooms)
	require.Equal(t, []string{"tok-1"}, backend.tokens)
	backend.mu.Unlock()

	offer := domain.NewOffer("v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n")
	require.NoError(t, link.Send(offer))

	select {
	case got := <-link.Inbound():
		assert.Equal(t, offer, got)
	case <-time.After(2 * time.Second):
		t.Fatal("echoed message never arrived")
	}
}

func TestLinkDeliversInOrder(t *testing.T) {
	backend := &echoBackend{}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	link, err := newTestDialer(t, srv).Connect(context.Background(), "room-1", "tok")
	require.NoError(t, err)
	defer link.Close()

	mid := "0"
	sent := []domain.SignalMessage{
		domain.NewOffer("v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"),
		domain.NewICE(domain.ICECandidate{Candidate: "candidate:1 1 udp 1 10.0.0.4 50000 typ host", SDPMid: &mid}),
		domain.NewICE(domain.ICECandidate{Candidate: "candidate:2 1 udp 1 10.0.0.4 50001 typ host", SDPMid: &mid}),
		domain.NewAnswer("v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"),
	}
	for _, msg := range sent {
		require.NoError(t, link.Send(msg))
	}

	for i, want := range sent {
		select {
		case got := <-link.Inbound():
			assert.Equal(t, want, got, "message %d out of order", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d never arrived", i)
		}
	}
}

func TestLinkDropsMalformedInbound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not even json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"answer","sdp":"v=0\r\n"}`))
		// Hold the socket open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	link, err := newTestDialer(t, srv).Connect(context.Background(), "room-1", "tok")
	require.NoError(t, err)
	defer link.Close()

	select {
	case got := <-link.Inbound():
		assert.Equal(t, domain.SignalAnswer, got.Type, "malformed frames must be skipped, not fatal")
	case <-time.After(2 * time.Second):
		t.Fatal("valid message after malformed ones never arrived")
	}
}

func TestConnectRequiresToken(t *testing.T) {
	dialer := NewDialer(DialerConfig{BaseURL: "ws://127.0.0.1:1"}, zap.NewNop().Sugar())
	_, err := dialer.Connect(context.Background(), "room-1", "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestConnectRejectedCredential(t *testing.T) {
	backend := &echoBackend{}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	_, err := newTestDialer(t, srv).Connect(context.Background(), "room-1", "deny")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestConnectUnreachableBackend(t *testing.T) {
	dialer := NewDialer(DialerConfig{
		BaseURL:      "ws://127.0.0.1:1",
		PingInterval: time.Second,
		PongTimeout:  time.Second,
		WriteTimeout: time.Second,
	}, zap.NewNop().Sugar())

	_, err := dialer.Connect(context.Background(), "room-1", "tok")
	assert.ErrorIs(t, err, domain.ErrConnectFailed)
}

func TestLinkCloseIsIdempotentAndStopsSends(t *testing.T) {
	backend := &echoBackend{}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	link, err := newTestDialer(t, srv).Connect(context.Background(), "room-1", "tok")
	require.NoError(t, err)

	require.NoError(t, link.Close())
	require.NoError(t, link.Close())

	err = link.Send(domain.NewOffer("v=0\r\n"))
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestLinkInboundClosesWhenBackendHangsUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	link, err := newTestDialer(t, srv).Connect(context.Background(), "room-1", "tok")
	require.NoError(t, err)
	defer link.Close()

	select {
	case _, ok := <-link.Inbound():
		assert.False(t, ok, "inbound must close once delivery stops")
	case <-time.After(2 * time.Second):
		t.Fatal("inbound channel never closed")
	}
}
