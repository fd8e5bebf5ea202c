package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// client tracks one IP's limiter and when it was last seen.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter hands out a token-bucket limiter per client IP.
type ipLimiter struct {
	requests int
	duration time.Duration

	mu      sync.Mutex
	clients map[string]*client
}

// RateLimiter limits each client IP to requests per duration. Entries for
// idle IPs are dropped by a background janitor.
func RateLimiter(requests int, duration time.Duration) fiber.Handler {
	l := &ipLimiter{
		requests: requests,
		duration: duration,
		clients:  make(map[string]*client),
	}
	go l.janitor()

	return l.handle
}

func (l *ipLimiter) handle(c *fiber.Ctx) error {
	if !l.allow(c.IP()) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "Rate limit exceeded. Please try again later.",
		})
	}
	return c.Next()
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	cl, exists := l.clients[ip]
	if !exists {
		cl = &client{
			limiter: rate.NewLimiter(rate.Every(l.duration/time.Duration(l.requests)), l.requests),
		}
		l.clients[ip] = cl
	}
	cl.lastSeen = time.Now()
	l.mu.Unlock()

	return cl.limiter.Allow()
}

func (l *ipLimiter) janitor() {
	for {
		time.Sleep(5 * time.Minute)

		l.mu.Lock()
		for ip, cl := range l.clients {
			if time.Since(cl.lastSeen) > 10*time.Minute {
				delete(l.clients, ip)
			}
		}
		l.mu.Unlock()
	}
}
