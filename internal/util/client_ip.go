package util

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the caller IP used as the rate-limit key. The
// X-Forwarded-For header is consulted only when trustForwarded is set
// (i.e. the service sits behind a known proxy); otherwise the direct
// peer address wins.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if forwarded := firstForwardedIP(r.Header.Get("X-Forwarded-For")); forwarded != "" {
			return forwarded
		}
		if realIP := parseIP(r.Header.Get("X-Real-Ip")); realIP != nil {
			return realIP.String()
		}
	}
	if ip := parseRemoteIP(r.RemoteAddr); ip != nil {
		return ip.String()
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func firstForwardedIP(raw string) string {
	for _, part := range strings.Split(raw, ",") {
		if ip := parseIP(part); ip != nil {
			return ip.String()
		}
	}
	return ""
}

func parseRemoteIP(addr string) net.IP {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return parseIP(host)
	}
	return parseIP(addr)
}

func parseIP(raw string) net.IP {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return net.ParseIP(raw)
}
