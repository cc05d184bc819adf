package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func mustTrustedProxies(t *testing.T, entries ...string) *TrustedProxies {
	t.Helper()
	tp, err := NewTrustedProxies(entries)
	if err != nil {
		t.Fatalf("NewTrustedProxies(%v): %v", entries, err)
	}
	return tp
}

func TestTrustedProxies_ClientIP(t *testing.T) {
	proxies := mustTrustedProxies(t, "10.0.0.1", "172.16.0.0/12")

	tests := []struct {
		name       string
		proxies    *TrustedProxies
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", nil, "192.0.2.1:1234", nil, "192.0.2.1"},
		{"no port", nil, "192.0.2.9", nil, "192.0.2.9"},
		{"forwarded for ignored without proxies", nil, "192.0.2.1:1", map[string]string{"X-Forwarded-For": "203.0.113.5"}, "192.0.2.1"},
		{"real ip ignored without proxies", nil, "192.0.2.1:1", map[string]string{"X-Real-IP": "198.51.100.7"}, "192.0.2.1"},
		{"forwarded for ignored from untrusted peer", proxies, "192.0.2.1:1", map[string]string{"X-Forwarded-For": "203.0.113.5"}, "192.0.2.1"},
		{"forwarded for from trusted proxy", proxies, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.5"}, "203.0.113.5"},
		{"rightmost untrusted hop wins", proxies, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "1.1.1.1, 203.0.113.5, 172.16.4.4"}, "203.0.113.5"},
		{"real ip from trusted proxy", proxies, "172.20.0.3:1", map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
		{"garbage header falls back to peer", proxies, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := tt.proxies.ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	if tp, err := NewTrustedProxies(nil); err != nil || tp != nil {
		t.Errorf("expected nil proxies for empty list, got %v, %v", tp, err)
	}
	if _, err := NewTrustedProxies([]string{"::1", "fd00::/8"}); err != nil {
		t.Errorf("expected IPv6 entries to parse, got %v", err)
	}
	for _, bad := range []string{"proxy.local", "10.0.0.0/33"} {
		if _, err := NewTrustedProxies([]string{bad}); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestRateLimitLogin_SpoofedForwardedForSharesBucket(t *testing.T) {
	limiter := &countingLimiter{seen: map[string]int{}}
	h := RateLimitLogin(RateLimitConfig{
		Logger:  discardLogger(),
		Limiter: limiter,
		RPS:     1,
		Burst:   2,
	})(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "192.0.2.50:40000"
		req.Header.Set("X-Forwarded-For", "203.0.113."+strconv.Itoa(i))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected rotating X-Forwarded-For to be limited, got %v", codes)
	}
	if len(limiter.seen) != 1 || limiter.seen["192.0.2.50"] != 3 {
		t.Errorf("expected one bucket keyed on the peer, got %v", limiter.seen)
	}
}
