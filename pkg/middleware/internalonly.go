package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// InternalOnlyConfig guards endpoints that must only be reachable from peer
// services on the private network. Requests are admitted when the client IP
// falls inside one of the allowed CIDRs AND, if a shared secret is configured,
// the X-Internal-Token header matches it.
type InternalOnlyConfig struct {
	// AllowedCIDRs restricts callers by source address. Defaults to loopback
	// plus the RFC1918 private ranges when empty.
	AllowedCIDRs []string

	// SharedSecret, when non-empty, is additionally required in the
	// X-Internal-Token request header.
	SharedSecret string
}

// internalTokenHeader carries the optional shared secret between services.
const internalTokenHeader = "X-Internal-Token"

var defaultInternalCIDRs = []string{
	"127.0.0.0/8",
	"::1/128",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

// InternalOnly returns middleware enforcing the given InternalOnlyConfig.
// Invalid CIDR entries are ignored; if none parse, only the defaults apply.
func InternalOnly(cfg InternalOnlyConfig) func(http.Handler) http.Handler {
	cidrs := cfg.AllowedCIDRs
	if len(cidrs) == 0 {
		cidrs = defaultInternalCIDRs
	}

	var nets []*net.IPNet
	for _, c := range cidrs {
		if _, n, err := net.ParseCIDR(strings.TrimSpace(c)); err == nil {
			nets = append(nets, n)
		}
	}
	if len(nets) == 0 {
		for _, c := range defaultInternalCIDRs {
			_, n, _ := net.ParseCIDR(c)
			nets = append(nets, n)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			ip := net.ParseIP(host)
			if ip == nil || !ipAllowed(ip, nets) {
				writeInternalForbidden(w)
				return
			}

			if cfg.SharedSecret != "" {
				got := r.Header.Get(internalTokenHeader)
				if subtle.ConstantTimeCompare([]byte(got), []byte(cfg.SharedSecret)) != 1 {
					writeInternalForbidden(w)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func ipAllowed(ip net.IP, nets []*net.IPNet) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func writeInternalForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    "FORBIDDEN",
		"message": "internal endpoint",
	})
}
