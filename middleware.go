package main

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"safe-route-server/metrics"
)

const requestIDHeader = "X-Request-ID"

// clientLimiter tracks one token bucket per client. Idle clients are
// forgotten after expiry.
type clientLimiter struct {
	limit      rate.Limit
	burst      int
	expiry     time.Duration
	maxClients int

	mu      sync.Mutex
	clients map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newClientLimiter allows requests per window with a full burst available
// to new clients.
func newClientLimiter(requests int, window time.Duration) *clientLimiter {
	return &clientLimiter{
		limit:      rate.Every(window / time.Duration(requests)),
		burst:      requests,
		expiry:     window,
		maxClients: 100000,
		clients:    make(map[string]*clientBucket),
	}
}

func (l *clientLimiter) allow(client string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[client]
	if !ok {
		if len(l.clients) >= l.maxClients {
			l.cleanupLocked(now)
			if len(l.clients) >= l.maxClients {
				return false
			}
		}
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *clientLimiter) cleanupLocked(now time.Time) {
	for id, b := range l.clients {
		if now.Sub(b.lastSeen) > l.expiry {
			delete(l.clients, id)
		}
	}
}

// rateLimitMiddleware answers 429 once a client IP exhausts its budget.
func rateLimitMiddleware(l *clientLimiter, m *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP(), time.Now()) {
			if m != nil {
				m.HTTPRateLimited.Inc()
			}
			c.Header("Retry-After", strconv.Itoa(int(l.expiry.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests, please try again later",
			})
			return
		}
		c.Next()
	}
}

// requestIDMiddleware propagates or assigns a request id.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// requestLogger logs each request and feeds the HTTP metrics.
func requestLogger(logger *slog.Logger, m *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		if m != nil {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()
		}

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		if m != nil {
			m.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(status), elapsed)
		}

		attrs := []any{
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", elapsed,
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request", attrs...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", attrs...)
		default:
			logger.Info("request", attrs...)
		}
	}
}
