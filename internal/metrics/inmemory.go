package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	HTTPRequests      uint64
	LoginAttempts     map[string]uint64
	AuthResults       map[string]uint64
	AuthRejectReasons map[string]uint64
	KeySetRefreshes   map[string]uint64
	UsersMirrored     map[string]uint64
	PostsCreated      uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	httpRequests uint64
	postsCreated uint64

	mu                sync.Mutex
	loginAttempts     map[string]uint64
	authResults       map[string]uint64
	authRejectReasons map[string]uint64
	keySetRefreshes   map[string]uint64
	usersMirrored     map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		loginAttempts:     make(map[string]uint64),
		authResults:       make(map[string]uint64),
		authRejectReasons: make(map[string]uint64),
		keySetRefreshes:   make(map[string]uint64),
		usersMirrored:     make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		HTTPRequests:      atomic.LoadUint64(&m.httpRequests),
		LoginAttempts:     copyCounts(m.loginAttempts),
		AuthResults:       copyCounts(m.authResults),
		AuthRejectReasons: copyCounts(m.authRejectReasons),
		KeySetRefreshes:   copyCounts(m.keySetRefreshes),
		UsersMirrored:     copyCounts(m.usersMirrored),
		PostsCreated:      atomic.LoadUint64(&m.postsCreated),
	}
}

// ObserveHTTPRequest counts a served request.
func (m *InMemoryRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	atomic.AddUint64(&m.httpRequests, 1)
}

// IncLoginAttempt increments the login counter for outcome.
func (m *InMemoryRecorder) IncLoginAttempt(outcome string) {
	m.inc(m.loginAttempts, outcome)
}

// IncAuthResult increments the gate counter for result and, when rejected, reason.
func (m *InMemoryRecorder) IncAuthResult(result, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authResults[result]++
	if reason != "" {
		m.authRejectReasons[reason]++
	}
}

// IncKeySetRefresh increments the key-set refresh counter.
func (m *InMemoryRecorder) IncKeySetRefresh(status string) {
	m.inc(m.keySetRefreshes, status)
}

// IncUserMirrored increments the identity mirror counter.
func (m *InMemoryRecorder) IncUserMirrored(status string) {
	m.inc(m.usersMirrored, status)
}

// IncPostCreated increments post created counter.
func (m *InMemoryRecorder) IncPostCreated() {
	atomic.AddUint64(&m.postsCreated, 1)
}

func (m *InMemoryRecorder) inc(counts map[string]uint64, label string) {
	m.mu.Lock()
	counts[label]++
	m.mu.Unlock()
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
