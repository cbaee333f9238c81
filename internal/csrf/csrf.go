// Package csrf issues and checks single-use anti-forgery tokens scoped to a session and an action.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultLifetime applies when the gate is built with a non-positive lifetime.
const DefaultLifetime = time.Hour

// ErrNoSession is returned by Issue when no session id is available.
var ErrNoSession = errors.New("csrf: missing session")

// Gate is the anti-forgery check run before any other submission processing.
type Gate struct {
	store    Store
	lifetime time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the logger used for store failures.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// NewGate constructs a Gate over store.
func NewGate(store Store, lifetime time.Duration, opts ...Option) *Gate {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	g := &Gate{store: store, lifetime: lifetime, now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Key is the store key of the token for session and action.
func Key(sessionID, action string) string {
	return "csrf:" + sessionID + ":" + action
}

// Issue returns the current token for (session, action), creating one when
// none exists or the previous one expired.
func (g *Gate) Issue(ctx context.Context, sessionID, action string) (string, error) {
	if sessionID == "" {
		return "", ErrNoSession
	}
	token, err := newToken()
	if err != nil {
		return "", err
	}
	now := g.now()
	rec, err := g.store.GetOrPut(ctx, Key(sessionID, action), Record{
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: now.Add(g.lifetime),
	})
	if err != nil {
		return "", err
	}
	return rec.Token, nil
}

// Validate reports whether supplied is the live token for (session, action) and
// consumes it. Any missing input, store failure or expiry yields false.
func (g *Gate) Validate(ctx context.Context, sessionID, action, supplied string) bool {
	if sessionID == "" || action == "" || supplied == "" {
		return false
	}
	key := Key(sessionID, action)
	rec, found, err := g.store.Get(ctx, key)
	if err != nil {
		g.log.Warn("csrf store lookup failed", zap.Error(err))
		return false
	}
	if !found || rec.Token == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(rec.Token), []byte(supplied)) != 1 {
		return false
	}
	if rec.expired(g.now()) {
		_, _ = g.store.CompareAndDelete(ctx, key, rec.Token)
		return false
	}
	consumed, err := g.store.CompareAndDelete(ctx, key, rec.Token)
	if err != nil {
		g.log.Warn("csrf store consume failed", zap.Error(err))
		return false
	}
	return consumed
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
