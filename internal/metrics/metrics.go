// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Outcome labels shared by the recorders.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	LoginSuccess     = "success"
	LoginRejected    = "rejected"
	LoginInvalid     = "invalid_request"
	LoginRateLimited = "rate_limited"

	AuthAccepted = "accepted"
	AuthRejected = "rejected"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus or keep them in memory.
type Recorder interface {
	// HTTP metrics
	ObserveHTTPRequest(method, route string, status int, duration time.Duration)

	// Login proxy metrics; outcome is one of the Login* labels.
	IncLoginAttempt(outcome string)

	// Bearer-token gate metrics; reason is empty for accepted requests.
	IncAuthResult(result, reason string)

	// Key-set metrics; status is "success" or "error".
	IncKeySetRefresh(status string)

	// Identity mirror metrics; status is "success" or "error".
	IncUserMirrored(status string)

	// Resource metrics
	IncPostCreated()
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
