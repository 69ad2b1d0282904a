package limits

import (
	"sync"
	"time"

	"github.com/adred-codev/tcpframe/internal/shared/monitoring"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Rejection reasons reported by Admit.
const (
	RejectGlobal = "global"
	RejectPerIP  = "per_ip"
)

// AdmissionLimiter rate-limits newly accepted connections with two token
// buckets: one for the whole process and one per remote IP. The transport
// accepts everything; the daemon asks Admit from its connected callback and
// disconnects the ids it refuses.
type AdmissionLimiter struct {
	global *rate.Limiter

	mu      sync.Mutex
	perIP   map[string]*ipEntry
	ipRate  rate.Limit
	ipBurst int
	ipTTL   time.Duration

	logger zerolog.Logger
	stop   chan struct{}
	wg     sync.WaitGroup
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// AdmissionConfig configures an AdmissionLimiter. Zero values pick the
// defaults noted on each field.
type AdmissionConfig struct {
	IPBurst     int           // default 10
	IPRate      float64       // connections/sec per IP, default 1
	IPTTL       time.Duration // idle IPs are forgotten after this, default 5m
	GlobalBurst int           // default 300
	GlobalRate  float64       // connections/sec overall, default 50

	// How often idle IPs are swept. Default 1m.
	CleanupInterval time.Duration

	Logger zerolog.Logger
}

// NewAdmissionLimiter creates the limiter and starts its cleanup goroutine.
// Call Stop to end it.
func NewAdmissionLimiter(config AdmissionConfig) *AdmissionLimiter {
	if config.IPBurst == 0 {
		config.IPBurst = 10
	}
	if config.IPRate == 0 {
		config.IPRate = 1.0
	}
	if config.IPTTL == 0 {
		config.IPTTL = 5 * time.Minute
	}
	if config.GlobalBurst == 0 {
		config.GlobalBurst = 300
	}
	if config.GlobalRate == 0 {
		config.GlobalRate = 50.0
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}

	l := &AdmissionLimiter{
		global:  rate.NewLimiter(rate.Limit(config.GlobalRate), config.GlobalBurst),
		perIP:   make(map[string]*ipEntry),
		ipRate:  rate.Limit(config.IPRate),
		ipBurst: config.IPBurst,
		ipTTL:   config.IPTTL,
		logger:  config.Logger.With().Str("component", "admission_limiter").Logger(),
		stop:    make(chan struct{}),
	}

	l.wg.Add(1)
	go l.cleanupLoop(config.CleanupInterval)

	l.logger.Info().
		Int("ip_burst", config.IPBurst).
		Float64("ip_rate", config.IPRate).
		Dur("ip_ttl", config.IPTTL).
		Int("global_burst", config.GlobalBurst).
		Float64("global_rate", config.GlobalRate).
		Msg("AdmissionLimiter initialized")

	return l
}

// Admit reports whether a new connection from ip may stay. When it may not,
// reason is RejectGlobal or RejectPerIP.
//
// The global bucket is checked first so a distributed flood never grows the
// per-IP map.
func (l *AdmissionLimiter) Admit(ip string) (ok bool, reason string) {
	if !l.global.Allow() {
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected: global rate limit exceeded")
		monitoring.IncrementConnectionsRejected(RejectGlobal)
		return false, RejectGlobal
	}

	if !l.limiterFor(ip).Allow() {
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected: per-IP rate limit exceeded")
		monitoring.IncrementConnectionsRejected(RejectPerIP)
		return false, RejectPerIP
	}

	return true, ""
}

func (l *AdmissionLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.perIP[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(l.ipRate, l.ipBurst)}
		l.perIP[ip] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (l *AdmissionLimiter) cleanupLoop(interval time.Duration) {
	defer l.wg.Done()
	defer monitoring.RecoverPanic(l.logger, "admissionCleanup", nil)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep(time.Now())
		case <-l.stop:
			return
		}
	}
}

// sweep forgets IPs idle for longer than the TTL.
func (l *AdmissionLimiter) sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, e := range l.perIP {
		if now.Sub(e.lastSeen) > l.ipTTL {
			delete(l.perIP, ip)
			removed++
		}
	}

	if removed > 0 {
		l.logger.Debug().
			Int("removed", removed).
			Int("remaining", len(l.perIP)).
			Msg("Cleaned up idle IP limiters")
	}
	return removed
}

// TrackedIPs is the number of IPs currently holding a bucket.
func (l *AdmissionLimiter) TrackedIPs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perIP)
}

// Stop ends the cleanup goroutine.
func (l *AdmissionLimiter) Stop() {
	close(l.stop)
	l.wg.Wait()
}
