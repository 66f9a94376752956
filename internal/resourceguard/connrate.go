package resourceguard

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ConnectionRateLimiter gates new TCP connection acceptance with two token
// buckets: one global, one per remote IP, so a single noisy client can't
// flood the accept loop while distributed clients are still bounded overall.
type ConnectionRateLimiter struct {
	ipMu     sync.Mutex
	ipLimits map[string]*ipEntry
	ipRate   rate.Limit
	ipBurst  int
	ipTTL    time.Duration

	global *rate.Limiter

	logger zerolog.Logger

	stopCleanup chan struct{}
}

type ipEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ConnectionRateLimiterConfig configures both buckets. Zero values fall back
// to defaults suited to a single-node broker accepting long-lived
// connections rather than one-shot HTTP requests.
type ConnectionRateLimiterConfig struct {
	IPRate      float64
	IPBurst     int
	IPTTL       time.Duration
	GlobalRate  float64
	GlobalBurst int
}

// NewConnectionRateLimiter builds a limiter and starts its stale-IP cleanup loop.
func NewConnectionRateLimiter(cfg ConnectionRateLimiterConfig, logger zerolog.Logger) *ConnectionRateLimiter {
	if cfg.IPRate == 0 {
		cfg.IPRate = 5.0
	}
	if cfg.IPBurst == 0 {
		cfg.IPBurst = 20
	}
	if cfg.IPTTL == 0 {
		cfg.IPTTL = 5 * time.Minute
	}
	if cfg.GlobalRate == 0 {
		cfg.GlobalRate = 500.0
	}
	if cfg.GlobalBurst == 0 {
		cfg.GlobalBurst = 2000
	}

	l := &ConnectionRateLimiter{
		ipLimits:    make(map[string]*ipEntry),
		ipRate:      rate.Limit(cfg.IPRate),
		ipBurst:     cfg.IPBurst,
		ipTTL:       cfg.IPTTL,
		global:      rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		logger:      logger.With().Str("component", "connection_rate_limiter").Logger(),
		stopCleanup: make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a new connection from addr may proceed. The global
// bucket is checked first so it never requires a map lookup on the hot path.
func (l *ConnectionRateLimiter) Allow(addr net.Addr) bool {
	if !l.global.Allow() {
		l.logger.Debug().Msg("connection rejected: global rate limit exceeded")
		return false
	}
	ip := hostOf(addr)
	if !l.ipLimiter(ip).Allow() {
		l.logger.Debug().Str("ip", ip).Msg("connection rejected: per-IP rate limit exceeded")
		return false
	}
	return true
}

func (l *ConnectionRateLimiter) ipLimiter(ip string) *rate.Limiter {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()

	entry, ok := l.ipLimits[ip]
	if ok {
		entry.lastAccess = time.Now()
		return entry.limiter
	}
	entry = &ipEntry{limiter: rate.NewLimiter(l.ipRate, l.ipBurst), lastAccess: time.Now()}
	l.ipLimits[ip] = entry
	return entry.limiter
}

func (l *ConnectionRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *ConnectionRateLimiter) cleanup() {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	now := time.Now()
	for ip, entry := range l.ipLimits {
		if now.Sub(entry.lastAccess) > l.ipTTL {
			delete(l.ipLimits, ip)
		}
	}
}

// Stop ends the cleanup loop. Call on server shutdown.
func (l *ConnectionRateLimiter) Stop() { close(l.stopCleanup) }

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
