package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedProxies decides when forwarding headers may be believed.
// A nil *TrustedProxies trusts nobody: the client IP is the connection's
// remote address.
type TrustedProxies struct {
	networks []*net.IPNet
}

// NewTrustedProxies parses a list of IPs and CIDRs. An empty list returns nil.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	tp := &TrustedProxies{}
	for _, entry := range entries {
		cidr := entry
		if !strings.Contains(cidr, "/") {
			ip := net.ParseIP(cidr)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			if ip.To4() != nil {
				cidr += "/32"
			} else {
				cidr += "/128"
			}
		}

		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		tp.networks = append(tp.networks, network)
	}
	return tp, nil
}

func (tp *TrustedProxies) trusts(host string) bool {
	if tp == nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range tp.networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the IP the request came from. Forwarding headers are read
// only when the direct peer is a trusted proxy; X-Forwarded-For is walked
// from the right and the first untrusted hop wins.
func (tp *TrustedProxies) ClientIP(r *http.Request) string {
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}

	if !tp.trusts(remote) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" || net.ParseIP(hop) == nil {
				break
			}
			if !tp.trusts(hop) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}

	return remote
}
