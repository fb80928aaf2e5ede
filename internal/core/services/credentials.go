package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"agentdesk/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

// AgentClaims are the claims carried by the workstation's bearer token.
// Policy evaluation happens in the backend; the workstation only tracks the
// credential's lifetime.
type AgentClaims struct {
	Account     string   `json:"account"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Credentials holds the agent's bearer token for the signaling link and the
// presence backend, and fires an expiry hook so an expired credential forces
// the agent back to DISABLED.
type Credentials struct {
	secret []byte

	mu       sync.Mutex
	token    string
	claims   *AgentClaims
	timer    *time.Timer
	onExpiry func()
}

func NewCredentials(secret string) *Credentials {
	return &Credentials{secret: []byte(secret)}
}

// OnExpiry registers the hook fired once when the held token expires.
func (c *Credentials) OnExpiry(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpiry = fn
}

// SetToken validates and stores a new bearer token, resetting the expiry
// watcher to the token's lifetime.
func (c *Credentials) SetToken(token string) error {
	claims := &AgentClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: token expired", domain.ErrUnauthenticated)
		}
		return fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if claims.ExpiresAt == nil {
		return fmt.Errorf("%w: token has no expiry", domain.ErrUnauthenticated)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.claims = claims
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(time.Until(claims.ExpiresAt.Time), c.expire)
	return nil
}

func (c *Credentials) expire() {
	c.mu.Lock()
	c.token = ""
	c.claims = nil
	hook := c.onExpiry
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// Token returns the current bearer token, or domain.ErrUnauthenticated when
// none is held or the held one has expired.
func (c *Credentials) Token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || c.claims == nil {
		return "", domain.ErrUnauthenticated
	}
	if time.Now().After(c.claims.ExpiresAt.Time) {
		return "", fmt.Errorf("%w: token expired", domain.ErrUnauthenticated)
	}
	return c.token, nil
}

// Claims returns the parsed claims of the current token.
func (c *Credentials) Claims() (*AgentClaims, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claims == nil {
		return nil, domain.ErrUnauthenticated
	}
	return c.claims, nil
}

// Clear drops the held token, as on sign-out.
func (c *Credentials) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.claims = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
