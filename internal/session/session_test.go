package session

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formgate/internal/config"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.SessionConfig{Secret: "test-secret", TTL: time.Hour})
	require.NoError(t, err)
	return m
}

func TestManager_SignParse(t *testing.T) {
	m := newManager(t)

	v, err := m.Sign("abc")
	require.NoError(t, err)
	sid, err := m.Parse(v)
	require.NoError(t, err)
	assert.Equal(t, "abc", sid)

	other, err := NewManager(config.SessionConfig{Secret: "other-secret"})
	require.NoError(t, err)
	_, err = other.Parse(v)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = m.Parse("")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestManager_Expired(t *testing.T) {
	m := newManager(t)
	start := time.Now()
	m.now = func() time.Time { return start }
	v, err := m.Sign("abc")
	require.NoError(t, err)

	m.now = func() time.Time { return start.Add(2 * time.Hour) }
	_, err = m.Parse(v)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestMiddleware(t *testing.T) {
	m := newManager(t)
	app := fiber.New()
	app.Use(m.Middleware())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(ID(c))
	})

	// first visit mints a cookie
	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	sid := string(body)
	assert.Len(t, sid, 32)

	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "formgate_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	// the same cookie yields the same id and no new cookie
	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(cookies[0])
	resp, err = app.Test(req)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	assert.Equal(t, sid, string(body))
	assert.Empty(t, resp.Cookies())

	// a tampered cookie is replaced
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Cookie", "formgate_session="+cookies[0].Value+"x")
	resp, err = app.Test(req)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	assert.NotEqual(t, sid, string(body))
	assert.Len(t, resp.Cookies(), 1)
}
