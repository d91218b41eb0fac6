package middleware

import (
	"sync"

	"github.com/labstack/echo/v4"
)

// Serialize lets one request through the wrapped routes at a time. Import
// batches hold the database write lock for their whole transaction.
func Serialize() echo.MiddlewareFunc {
	var mu sync.Mutex
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			mu.Lock()
			defer mu.Unlock()
			return next(c)
		}
	}
}
