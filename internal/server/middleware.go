package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	apperrors "github.com/farmpulse/farmpulse/internal/errors"
	"github.com/farmpulse/farmpulse/internal/logging"
)

// rateLimit enforces the per-user quota for one named endpoint. The caller's
// user id comes from the X-User-ID header stamped by the upstream gateway
// after authentication.
//
// Every response carries X-RateLimit-Limit/-Remaining/-Reset; a denied
// request gets 429 with Retry-After and a structured body so clients can
// back off deterministically.
func (s *Server) rateLimit(endpoint string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, err := strconv.ParseInt(c.Request().Header.Get("X-User-ID"), 10, 64)
			if err != nil || userID <= 0 {
				return apperrors.ValidationError("missing or invalid X-User-ID header")
			}

			start := s.clock.Now()
			result := s.limiter.Check(c.Request().Context(), userID, endpoint)

			header := c.Response().Header()
			header.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			header.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			header.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := result.RetryAfterSeconds(s.clock.Now())
				header.Set("Retry-After", strconv.Itoa(retryAfter))
				logging.WithUser(userID).Debug("request denied by rate limit",
					"endpoint", endpoint, "limit", result.Limit, "retry_after_seconds", retryAfter)
				s.limiter.RecordUsage(userID, endpoint, s.clock.Since(start), http.StatusTooManyRequests)
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error":             fmt.Sprintf("rate limit exceeded, retry in %d seconds", retryAfter),
					"retryAfterSeconds": retryAfter,
					"limit":             result.Limit,
					"resetAt":           result.ResetAt.UnixMilli(),
				})
			}

			c.Set("userID", userID)
			err = next(c)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
			}
			s.limiter.RecordUsage(userID, endpoint, s.clock.Since(start), status)
			return err
		}
	}
}
