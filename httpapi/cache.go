package httpapi

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// CacheSearch serves repeated GET requests from Redis for the TTL window.
// Only 200 responses are stored; a nil client disables caching entirely.
func CacheSearch(rdb *redis.Client, ttl time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if rdb == nil || c.Request().Method != http.MethodGet {
				return next(c)
			}
			key := cacheKey(c)

			if body, err := rdb.Get(c.Request().Context(), key).Bytes(); err == nil {
				return c.JSONBlob(http.StatusOK, body)
			}

			rec := &recordingWriter{ResponseWriter: c.Response().Writer}
			c.Response().Writer = rec
			if err := next(c); err != nil {
				return err
			}
			if rec.status == http.StatusOK {
				if err := rdb.Set(c.Request().Context(), key, rec.buf.Bytes(), ttl).Err(); err != nil {
					c.Logger().Warnf("cache set %s: %v", key, err)
				}
			}
			return nil
		}
	}
}

func cacheKey(c echo.Context) string {
	sum := sha1.Sum([]byte(c.Path() + "?" + c.Request().URL.RawQuery))
	return fmt.Sprintf("rides:search:%x", sum)
}

type recordingWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *recordingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}
