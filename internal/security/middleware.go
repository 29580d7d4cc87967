// Package security holds the HTTP guards of the robot API: rate limiting,
// idempotent replays, request validation and webhook signatures.
package security

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Header names shared with handlers.
const (
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderRequestID      = "X-Request-ID"

	// LocalRequestID is the fiber Locals key holding the request ID.
	LocalRequestID = "requestID"
)

// MaxBodySize bounds request bodies.
const MaxBodySize = 1 << 20

// Middleware provides security middleware for Fiber
type Middleware struct {
	rateLimiter      *RateLimiter
	idempotencyStore *IdempotencyStore
}

// NewMiddleware creates a new security middleware
func NewMiddleware(rl *RateLimiter, is *IdempotencyStore) *Middleware {
	return &Middleware{
		rateLimiter:      rl,
		idempotencyStore: is,
	}
}

// ClientID identifies the caller for rate limiting, preferring an explicit
// user or API key header over the remote IP.
func ClientID(c *fiber.Ctx) string {
	if id := c.Get("X-User-ID"); id != "" {
		return "user:" + id
	}
	if key := c.Get("X-API-Key"); key != "" {
		return "key:" + key
	}
	return "ip:" + c.IP()
}

// RateLimitMiddleware returns a rate limiting middleware
func (m *Middleware) RateLimitMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := ClientID(c)
		allowed := m.rateLimiter.Allow(clientID)
		info := m.rateLimiter.GetInfo(clientID)

		c.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

		if !allowed {
			retryAfter := int64(time.Until(info.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			c.Set("Retry-After", strconv.FormatInt(retryAfter, 10))

			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":     false,
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
		}

		c.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		return c.Next()
	}
}

// IdempotencyKey scopes the client's idempotency header to the route, or
// returns "" when the request has none.
func IdempotencyKey(c *fiber.Ctx) string {
	key := c.Get(HeaderIdempotencyKey)
	if key == "" {
		return ""
	}
	return c.Method() + " " + c.Path() + " " + key
}

// IdempotencyMiddleware replays the stored response of a POST whose
// idempotency key was seen before. Handlers record responses with Remember.
func (m *Middleware) IdempotencyMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		key := IdempotencyKey(c)
		if key == "" {
			return c.Next()
		}

		if entry, exists := m.idempotencyStore.Check(key); exists {
			c.Set("X-Idempotency-Replayed", "true")
			return c.Status(entry.Status).JSON(entry.Response)
		}

		return c.Next()
	}
}

// Remember stores the response for the request's idempotency key, if any.
func (m *Middleware) Remember(c *fiber.Ctx, jobID string, status int, response interface{}) {
	if key := IdempotencyKey(c); key != "" {
		m.idempotencyStore.Store(key, jobID, status, response)
	}
}

// SecurityHeadersMiddleware adds security headers
func SecurityHeadersMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Content-Security-Policy", "default-src 'self'")

		requestID := c.Get(HeaderRequestID)
		if requestID == "" {
			requestID = GenerateRequestID()
		}
		c.Set(HeaderRequestID, requestID)
		c.Locals(LocalRequestID, requestID)

		return c.Next()
	}
}

// RequestValidationMiddleware validates incoming requests
func RequestValidationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut || c.Method() == fiber.MethodPatch {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" && !strings.HasPrefix(contentType, fiber.MIMEApplicationJSON) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"success": false,
					"error":   "Content-Type must be application/json",
				})
			}
		}

		if len(c.Body()) > MaxBodySize {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"success": false,
				"error":   "Request body too large",
			})
		}

		return c.Next()
	}
}

// IPWhitelistMiddleware creates an IP whitelist middleware. An empty list
// allows everyone.
func IPWhitelistMiddleware(allowedIPs []string) fiber.Handler {
	ipSet := make(map[string]bool, len(allowedIPs))
	for _, ip := range allowedIPs {
		ipSet[ip] = true
	}

	return func(c *fiber.Ctx) error {
		if len(ipSet) == 0 || ipSet[c.IP()] {
			return c.Next()
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   "Access denied",
		})
	}
}
