package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// authConfig guards the admin routes. Either a static token or a basic-auth
// pair is accepted; with neither configured the routes are open.
type authConfig struct {
	adminUsername string
	adminPassword string
	adminToken    string
	enabled       bool
}

func loadAuthConfig() *authConfig {
	cfg := &authConfig{
		adminUsername: os.Getenv("ADMIN_USERNAME"),
		adminPassword: os.Getenv("ADMIN_PASSWORD"),
		adminToken:    os.Getenv("ADMIN_TOKEN"),
	}
	cfg.enabled = cfg.hasBasic() || cfg.adminToken != ""
	if !cfg.enabled {
		slog.Warn("admin endpoints are unprotected; set ADMIN_TOKEN or ADMIN_USERNAME+ADMIN_PASSWORD")
	}
	return cfg
}

func (c *authConfig) hasBasic() bool { return c.adminUsername != "" && c.adminPassword != "" }

func secureEqual(a, b string) bool { return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1 }

// authorized checks the X-Admin-Token header first, then basic auth.
func (c *authConfig) authorized(r *http.Request) bool {
	if !c.enabled {
		return true
	}
	if tok := r.Header.Get("X-Admin-Token"); c.adminToken != "" && tok != "" && secureEqual(tok, c.adminToken) {
		return true
	}
	if !c.hasBasic() {
		return false
	}
	user, pass, ok := r.BasicAuth()
	// Both comparisons always run.
	userOK := secureEqual(user, c.adminUsername)
	passOK := secureEqual(pass, c.adminPassword)
	return ok && userOK && passOK
}

func adminAuth(next http.Handler, cfg *authConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		slog.Warn("admin auth failed", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
		w.Header().Set("WWW-Authenticate", `Basic realm="live-herald admin"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

// rateLimiterConfig allows requestsPerIP requests per window, refilled evenly.
type rateLimiterConfig struct {
	enabled       bool
	requestsPerIP int
	window        time.Duration
}

func loadRateLimiterConfig() *rateLimiterConfig {
	cfg := &rateLimiterConfig{
		enabled:       os.Getenv("RATE_LIMIT_ENABLED") != "0",
		requestsPerIP: 10,
		window:        time.Minute,
	}
	if n := parseInt(os.Getenv("RATE_LIMIT_REQUESTS_PER_IP"), 0); n > 0 {
		cfg.requestsPerIP = n
	}
	if n := parseInt(os.Getenv("RATE_LIMIT_WINDOW_SECONDS"), 0); n > 0 {
		cfg.window = time.Duration(n) * time.Second
	}
	return cfg
}

// ipRateLimiter keeps one token bucket per client address.
type ipRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	cfg      *rateLimiterConfig
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newIPRateLimiter starts a janitor that runs until ctx is done.
func newIPRateLimiter(ctx context.Context, cfg *rateLimiterConfig) *ipRateLimiter {
	rl := &ipRateLimiter{visitors: make(map[string]*visitor), cfg: cfg}
	go rl.cleanupLoop(ctx)
	return rl
}

func (rl *ipRateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup drops buckets idle for two windows; by then they are full again.
func (rl *ipRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-2 * rl.cfg.window)
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

func (rl *ipRateLimiter) allow(ip string) bool {
	if !rl.cfg.enabled {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.visitors[ip]
	if !ok {
		every := rl.cfg.window / time.Duration(rl.cfg.requestsPerIP)
		v = &visitor{limiter: rate.NewLimiter(rate.Every(every), rl.cfg.requestsPerIP)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

func rateLimitMiddleware(next http.Handler, limiter *ipRateLimiter) http.Handler {
	retryAfter := strconv.Itoa(int(limiter.cfg.window.Seconds()))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !limiter.allow(ip) {
			slog.Warn("rate limit exceeded", slog.String("ip", ip), slog.String("path", r.URL.Path))
			w.Header().Set("Retry-After", retryAfter)
			http.Error(w, "Too Many Requests - rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the first X-Forwarded-For hop or the remote address, without port.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		ip = strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}

// parseInt returns def when s is not an integer.
func parseInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
