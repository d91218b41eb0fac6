package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// ImportLimiter caps how many imports one client address may start per
// fixed window
type ImportLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*importWindow
}

type importWindow struct {
	started int
	resetAt time.Time
}

// NewImportLimiter allows perMinute imports per client address. Zero or
// less disables the limit.
func NewImportLimiter(perMinute int) *ImportLimiter {
	return &ImportLimiter{
		limit:   perMinute,
		window:  time.Minute,
		now:     time.Now,
		clients: make(map[string]*importWindow),
	}
}

// Allow records an import attempt for addr. When the window is used up it
// returns false and the wait until it resets.
func (l *ImportLimiter) Allow(addr string) (bool, time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	w, ok := l.clients[addr]
	if !ok {
		l.clients[addr] = &importWindow{started: 1, resetAt: now.Add(l.window)}
		return true, 0
	}
	if w.started >= l.limit {
		return false, w.resetAt.Sub(now)
	}
	w.started++
	return true, 0
}

// sweep drops windows that have reset. Callers hold mu.
func (l *ImportLimiter) sweep(now time.Time) {
	for addr, w := range l.clients {
		if !now.Before(w.resetAt) {
			delete(l.clients, addr)
		}
	}
}

// Middleware rejects imports over the limit with 429 and Retry-After
func (l *ImportLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, wait := l.Allow(c.RealIP())
			if ok {
				return next(c)
			}
			secs := int(wait.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
			return echo.NewHTTPError(http.StatusTooManyRequests,
				fmt.Sprintf("Import limit of %d per minute reached; retry in %ds", l.limit, secs))
		}
	}
}
