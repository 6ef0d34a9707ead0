package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/badal-health/risk-server/internal/domain"
)

// LimitBodySize caps the request body. Reads past the limit fail with
// *http.MaxBytesError, which handlers report as 413.
func LimitBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// RateLimiter keeps one token bucket per client IP. The table is bounded;
// the least recently seen client is evicted first.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	clients  *lru.Cache[string, *rate.Limiter]
	mu       sync.Mutex
	rejected int64
}

// NewRateLimiter creates a limiter allowing rps requests per second per
// client with the given burst.
func NewRateLimiter(rps float64, burst, maxClients int) (*RateLimiter, error) {
	if maxClients <= 0 {
		maxClients = 10000
	}
	if burst <= 0 {
		burst = 1
	}
	clients, err := lru.New[string, *rate.Limiter](maxClients)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: clients,
	}, nil
}

// Allow reports whether the client may proceed now.
func (l *RateLimiter) Allow(clientID string) bool {
	l.mu.Lock()
	limiter, ok := l.clients.Get(clientID)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.clients.Add(clientID, limiter)
	}
	l.mu.Unlock()

	if limiter.Allow() {
		return true
	}
	l.mu.Lock()
	l.rejected++
	l.mu.Unlock()
	return false
}

// Rejected returns how many requests were refused.
func (l *RateLimiter) Rejected() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rejected
}

// Middleware rejects over-limit clients with 429.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.Allow(c.ClientIP()) {
			c.Next()
			return
		}

		retryAfter := time.Second
		if l.limit > 0 {
			retryAfter = time.Duration(float64(time.Second) / float64(l.limit))
		}
		c.Header("Retry-After", formatSeconds(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, domain.NewAPIError(
			domain.CodeRateLimit,
			"Too many requests",
			"",
			GetCorrelationID(c),
		))
	}
}

func formatSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
