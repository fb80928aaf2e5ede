package ops

import (
	"context"
	"net/http"
	"time"

	"agentdesk/internal/core/domain"
	"agentdesk/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SessionReader exposes the coordinator's current session to read-only
// consumers.
type SessionReader interface {
	Snapshot() (domain.CallSession, bool)
}

// Server is the workstation's local ops endpoint: health (current session
// and presence, the read side of the UI boundary) and Prometheus metrics.
type Server struct {
	sessions SessionReader
	presence ports.PresenceReader
	registry *prometheus.Registry

	srv    *http.Server
	logger *zap.SugaredLogger
}

func NewServer(sessions SessionReader, presence ports.PresenceReader, registry *prometheus.Registry, logger *zap.SugaredLogger) *Server {
	s := &Server{
		sessions: sessions,
		presence: presence,
		registry: registry,
		logger:   logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	s.srv = &http.Server{Handler: router}
	return s
}

func (s *Server) health(c *gin.Context) {
	session := gin.H{"active": false}
	if info, active := s.sessions.Snapshot(); active {
		session = gin.H{
			"active": true,
			"room":   info.RoomID,
			"role":   info.Role,
			"state":  info.State,
			"muted":  info.Muted,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"presence":  s.presence.Current(),
		"session":   session,
	})
}

// Run serves until the listener fails or Shutdown runs.
func (s *Server) Run(addr string) error {
	s.srv.Addr = addr
	s.logger.Infow("ops server listening", "address", addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
