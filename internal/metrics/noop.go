package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// ObserveHTTPRequest is a no-op.
func (n *NoopRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {}

// IncLoginAttempt is a no-op.
func (n *NoopRecorder) IncLoginAttempt(outcome string) {}

// IncAuthResult is a no-op.
func (n *NoopRecorder) IncAuthResult(result, reason string) {}

// IncKeySetRefresh is a no-op.
func (n *NoopRecorder) IncKeySetRefresh(status string) {}

// IncUserMirrored is a no-op.
func (n *NoopRecorder) IncUserMirrored(status string) {}

// IncPostCreated is a no-op.
func (n *NoopRecorder) IncPostCreated() {}
