// Package session keeps an anonymous visitor id in a signed cookie. The id scopes anti-forgery tokens.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"formgate/internal/config"
)

const localsKey = "session_id"

const issuer = "formgate"

// ErrInvalidSession is returned when a cookie fails verification.
var ErrInvalidSession = errors.New("invalid session")

type claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session cookies.
type Manager struct {
	secret     []byte
	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time
}

// NewManager builds a Manager. An empty secret is replaced by a random one,
// which invalidates sessions on restart.
func NewManager(cfg config.SessionConfig) (*Manager, error) {
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	}
	name := cfg.CookieName
	if name == "" {
		name = "formgate_session"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Manager{secret: secret, cookieName: name, ttl: ttl, secure: cfg.Secure, now: time.Now}, nil
}

// Sign returns a signed cookie value carrying sid.
func (m *Manager) Sign(sid string) (string, error) {
	now := m.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	})
	return tok.SignedString(m.secret)
}

// Parse verifies a cookie value and returns its session id.
func (m *Manager) Parse(value string) (string, error) {
	var c claims
	_, err := jwt.ParseWithClaims(value, &c, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if c.SessionID == "" {
		return "", ErrInvalidSession
	}
	return c.SessionID, nil
}

// Middleware makes a session id available to every request, minting a new
// cookie when the request carries none or an invalid one.
func (m *Manager) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if sid, err := m.Parse(c.Cookies(m.cookieName)); err == nil {
			c.Locals(localsKey, sid)
			return c.Next()
		}
		sid, err := newSessionID()
		if err != nil {
			return err
		}
		value, err := m.Sign(sid)
		if err != nil {
			return err
		}
		c.Cookie(&fiber.Cookie{
			Name:     m.cookieName,
			Value:    value,
			Path:     "/",
			Expires:  m.now().Add(m.ttl),
			Secure:   m.secure,
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteStrictMode,
		})
		c.Locals(localsKey, sid)
		return c.Next()
	}
}

// ID returns the session id set by Middleware, or "".
func ID(c *fiber.Ctx) string {
	sid, _ := c.Locals(localsKey).(string)
	return sid
}

func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
