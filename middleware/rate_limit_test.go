package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the limiter's windows without sleeping
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLimiter(perMinute int) (*ImportLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)}
	l := NewImportLimiter(perMinute)
	l.now = clock.now
	return l, clock
}

func TestImportLimiterAllow(t *testing.T) {
	l, clock := newTestLimiter(2)

	ok, _ := l.Allow("10.0.0.1")
	assert.True(t, ok)
	clock.advance(20 * time.Second)
	ok, _ = l.Allow("10.0.0.1")
	assert.True(t, ok)

	ok, wait := l.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, wait, "window runs from the first import")

	ok, _ = l.Allow("10.0.0.2")
	assert.True(t, ok, "addresses are counted apart")

	clock.advance(40 * time.Second)
	ok, _ = l.Allow("10.0.0.1")
	assert.True(t, ok, "window reset")
	assert.Len(t, l.clients, 1, "expired windows are swept")
}

func TestImportLimiterDisabled(t *testing.T) {
	for _, perMinute := range []int{0, -1} {
		l, _ := newTestLimiter(perMinute)
		for i := 0; i < 50; i++ {
			ok, _ := l.Allow("10.0.0.1")
			require.True(t, ok)
		}
		assert.Empty(t, l.clients)
	}
}

func TestImportLimiterMiddleware(t *testing.T) {
	e := echo.New()
	l, clock := newTestLimiter(1)
	handler := l.Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	})

	importFrom := func(addr string) (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodPost, "/api/case-files/1/import", nil)
		req.Header.Set(echo.HeaderXRealIP, addr)
		rec := httptest.NewRecorder()
		return rec, handler(e.NewContext(req, rec))
	}

	rec, err := importFrom("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, rec.Code)

	clock.advance(59*time.Second + 600*time.Millisecond)
	rec, err = importFrom("10.0.0.1")
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusTooManyRequests, he.Code)
	assert.Contains(t, he.Message, "1 per minute")
	assert.Equal(t, "1", rec.Header().Get("Retry-After"), "never less than a second")

	rec, err = importFrom("10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, rec.Code)
}
