package signal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"agentdesk/internal/core/domain"
	"agentdesk/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Dialer opens signaling links against the backend's room-scoped websocket
// endpoint. The room is part of the URI path and the bearer credential is
// passed as a connection parameter.
type Dialer struct {
	baseURL string

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	dialer *websocket.Dialer
	logger *zap.SugaredLogger
}

type DialerConfig struct {
	BaseURL      string
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
}

func NewDialer(cfg DialerConfig, logger *zap.SugaredLogger) *Dialer {
	return &Dialer{
		baseURL:      cfg.BaseURL,
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
		writeTimeout: cfg.WriteTimeout,
		dialer:       websocket.DefaultDialer,
		logger:       logger,
	}
}

// Connect opens the single logical channel for one room.
func (d *Dialer) Connect(ctx context.Context, room domain.RoomID, token string) (ports.SignalingLink, error) {
	if token == "" {
		return nil, domain.ErrUnauthenticated
	}

	endpoint := fmt.Sprintf("%s/ws/signaling/%s?token=%s",
		d.baseURL, url.PathEscape(string(room)), url.QueryEscape(token))

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: backend rejected credential (%d)", domain.ErrUnauthenticated, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectFailed, err)
	}

	l := &Link{
		conn:         conn,
		room:         room,
		inbound:      make(chan domain.SignalMessage, 16),
		closed:       make(chan struct{}),
		pingInterval: d.pingInterval,
		pongTimeout:  d.pongTimeout,
		writeTimeout: d.writeTimeout,
		logger:       d.logger,
	}
	go l.readLoop()
	go l.pingLoop()

	d.logger.Infow("signaling link opened", "room", room)
	return l, nil
}

// Link is one open signaling channel. Inbound messages are delivered in
// transport order on a channel that closes when delivery stops.
type Link struct {
	conn *websocket.Conn
	room domain.RoomID

	inbound chan domain.SignalMessage
	closed  chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

func (l *Link) readLoop() {
	defer close(l.inbound)

	l.conn.SetReadDeadline(time.Now().Add(l.pongTimeout))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(l.pongTimeout))
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.closed:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					l.logger.Warnw("signaling read failed", "room", l.room, "error", err)
				}
			}
			return
		}
		l.conn.SetReadDeadline(time.Now().Add(l.pongTimeout))

		msg, err := domain.ParseSignalMessage(data)
		if err != nil {
			l.logger.Warnw("dropping malformed signal message", "room", l.room, "error", err)
			continue
		}
		select {
		case l.inbound <- msg:
		case <-l.closed:
			return
		}
	}
}

func (l *Link) pingLoop() {
	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.closed:
			return
		case <-ticker.C:
			l.writeMu.Lock()
			l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
			err := l.conn.WriteMessage(websocket.PingMessage, nil)
			l.writeMu.Unlock()
			if err != nil {
				l.logger.Warnw("signaling ping failed", "room", l.room, "error", err)
				return
			}
		}
	}
}

// Send writes one message over the open channel, fire-and-forget. It fails
// with domain.ErrNotConnected once the link is closed; callers decide
// whether to retry, nothing is buffered here.
func (l *Link) Send(msg domain.SignalMessage) error {
	select {
	case <-l.closed:
		return domain.ErrNotConnected
	default:
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	if err := l.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotConnected, err)
	}
	return nil
}

func (l *Link) Inbound() <-chan domain.SignalMessage {
	return l.inbound
}

// Close terminates the link and inbound delivery. Idempotent.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.writeMu.Lock()
		l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
		l.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		l.writeMu.Unlock()
		l.conn.Close()
		l.logger.Infow("signaling link closed", "room", l.room)
	})
	return nil
}
