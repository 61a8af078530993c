// Package principal identifies the caller of a request for rate limiting.
package principal

import (
	"net"
	"net/http"
	"strings"

	"github.com/vango-go/vai-forms/pkg/gateway/auth"
)

type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindIP     Kind = "ip"
	KindAnon   Kind = "anonymous"
)

type Resolved struct {
	Kind Kind
	// Key is safe to log and to use as a map key.
	Key string
}

// Resolve prefers the authenticated operator and falls back to the client
// address. Browser websocket clients carry no API key and resolve by IP.
func Resolve(r *http.Request, trustProxyHeaders bool) Resolved {
	if r == nil {
		return Resolved{Kind: KindAnon, Key: "anonymous"}
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok && p.KeyID != "" {
		return Resolved{Kind: KindAPIKey, Key: p.KeyID}
	}
	if ip := ClientIP(r, trustProxyHeaders); ip != "" {
		return Resolved{Kind: KindIP, Key: "ip_" + ip}
	}
	return Resolved{Kind: KindAnon, Key: "anonymous"}
}

func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if r == nil {
		return ""
	}

	if trustProxyHeaders {
		if ip := parseIP(r.Header.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if raw := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); raw != "" {
			// XFF can be "client, proxy1, proxy2". Take the left-most.
			if ip := parseIP(strings.Split(raw, ",")[0]); ip != "" {
				return ip
			}
		}
	}

	return parseIP(r.RemoteAddr)
}

func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// Some proxies include a port; accept "ip:port" as well.
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
