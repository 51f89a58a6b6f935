package server

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LimitReason describes why a websocket upgrade was refused.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// ConnectionLimits gates websocket admission before the upgrade happens:
// an instance-wide connection cap, a per-IP cap, and a per-IP token bucket
// on connection attempts. All three must pass for a socket to be accepted.
type ConnectionLimits struct {
	instanceCap int64
	instance    atomic.Int64

	ipCap int
	ipMu  sync.Mutex
	ips   map[string]int

	dialRate  rate.Limit
	dialBurst int
	dialMu    sync.Mutex
	dialers   map[string]*dialerEntry
	cleanupAt time.Time
}

type dialerEntry struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

const dialerCleanupInterval = 5 * time.Minute

// NewConnectionLimits creates the combined admission gate.
func NewConnectionLimits(instanceCap int64, ipCap int, dialsPerSecond float64, burst int) *ConnectionLimits {
	return &ConnectionLimits{
		instanceCap: instanceCap,
		ipCap:       ipCap,
		ips:         make(map[string]int),
		dialRate:    rate.Limit(dialsPerSecond),
		dialBurst:   burst,
		dialers:     make(map[string]*dialerEntry),
		cleanupAt:   time.Now().Add(dialerCleanupInterval),
	}
}

// Acquire claims an admission slot for ip. On refusal it reports which
// limit tripped; on success the caller must Release with the same ip once
// the connection closes.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.allowDial(ip) {
		return false, LimitReasonRate
	}
	if !l.acquireInstance() {
		return false, LimitReasonGlobal
	}
	if !l.acquireIP(ip) {
		l.instance.Add(-1)
		return false, LimitReasonPerIP
	}
	return true, ""
}

// Release returns the slots claimed by a successful Acquire.
func (l *ConnectionLimits) Release(ip string) {
	l.releaseIP(ip)
	l.instance.Add(-1)
}

// Active returns the current number of admitted connections on this instance.
func (l *ConnectionLimits) Active() int64 {
	return l.instance.Load()
}

func (l *ConnectionLimits) acquireInstance() bool {
	for {
		current := l.instance.Load()
		if current >= l.instanceCap {
			return false
		}
		if l.instance.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *ConnectionLimits) acquireIP(ip string) bool {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()

	if l.ips[ip] >= l.ipCap {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *ConnectionLimits) releaseIP(ip string) {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()

	if count := l.ips[ip]; count > 0 {
		l.ips[ip] = count - 1
		if l.ips[ip] == 0 {
			delete(l.ips, ip)
		}
	}
}

func (l *ConnectionLimits) allowDial(ip string) bool {
	l.dialMu.Lock()
	defer l.dialMu.Unlock()

	now := time.Now()
	if now.After(l.cleanupAt) {
		cutoff := now.Add(-2 * dialerCleanupInterval)
		for addr, entry := range l.dialers {
			if entry.lastSeen.Before(cutoff) {
				delete(l.dialers, addr)
			}
		}
		l.cleanupAt = now.Add(dialerCleanupInterval)
	}

	entry, ok := l.dialers[ip]
	if !ok {
		entry = &dialerEntry{bucket: rate.NewLimiter(l.dialRate, l.dialBurst)}
		l.dialers[ip] = entry
	}
	entry.lastSeen = now
	return entry.bucket.Allow()
}
