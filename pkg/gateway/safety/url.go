// Package safety guards outbound HTTP against server-side request forgery.
package safety

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const (
	MaxURLLength    = 8192
	MaxRedirectHops = 3
)

var ErrBlockedDestination = errors.New("destination ip is blocked")

var blockedCIDRs = mustParseCIDRs([]string{
	"0.0.0.0/8",
	"127.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::/128",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
})

// Policy controls which destinations a callback may reach. The zero value
// blocks loopback, private and link-local ranges.
type Policy struct {
	// AllowPrivate permits private and loopback destinations. Local
	// development and tests only.
	AllowPrivate bool
}

// CheckURL validates a callback URL's shape without resolving it. Used when
// form definitions are loaded.
func CheckURL(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if len(rawURL) > MaxURLLength {
		return nil, fmt.Errorf("url exceeds maximum length %d", MaxURLLength)
	}
	if _, err := unescapeFully(rawURL); err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.User != nil {
		return nil, fmt.Errorf("url credentials are not allowed")
	}
	host := strings.ToLower(strings.TrimSpace(u.Hostname()))
	if host == "" {
		return nil, fmt.Errorf("url host is required")
	}
	if !isASCII(host) || strings.Contains(host, "%") {
		return nil, fmt.Errorf("invalid url host")
	}
	port := u.Port()
	if port != "" {
		if p, err := strconv.Atoi(port); err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid port")
		}
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}
	return u, nil
}

// ValidateTarget checks shape and resolves the host, rejecting any address
// the policy blocks.
func (p Policy) ValidateTarget(ctx context.Context, rawURL string) (*url.URL, error) {
	u, err := CheckURL(rawURL)
	if err != nil {
		return nil, err
	}
	if _, err := p.resolve(ctx, u.Hostname()); err != nil {
		return nil, err
	}
	return u, nil
}

// resolve returns the first address for host after checking all of them.
func (p Policy) resolve(ctx context.Context, host string) (net.IP, error) {
	host = strings.TrimSpace(host)
	if host == "" || strings.Contains(host, "%") || !isASCII(host) {
		return nil, fmt.Errorf("invalid host")
	}
	if ip := net.ParseIP(host); ip != nil {
		if err := p.checkIP(ip); err != nil {
			return nil, err
		}
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns resolution failed: %w", err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("dns resolution returned no records")
	}
	for _, a := range addrs {
		if err := p.checkIP(a.IP); err != nil {
			return nil, err
		}
	}
	return addrs[0].IP, nil
}

func (p Policy) checkIP(ip net.IP) error {
	if ip == nil {
		return fmt.Errorf("invalid ip")
	}
	if p.AllowPrivate {
		return nil
	}
	if isIPv4MappedIPv6(ip) || ip.To4() != nil {
		ip = ip.To4()
	}
	if ip.IsMulticast() || ip.IsUnspecified() {
		return ErrBlockedDestination
	}
	for _, cidr := range blockedCIDRs {
		if cidr.Contains(ip) {
			return ErrBlockedDestination
		}
	}
	return nil
}

func mustParseCIDRs(values []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(values))
	for _, v := range values {
		_, cidr, err := net.ParseCIDR(v)
		if err != nil {
			panic(err)
		}
		out = append(out, cidr)
	}
	return out
}

// unescapeFully rejects URLs whose repeated percent-decoding is malformed.
func unescapeFully(raw string) (string, error) {
	decoded := raw
	for i := 0; i < 3; i++ {
		next, err := url.PathUnescape(decoded)
		if err != nil {
			return "", fmt.Errorf("invalid percent-encoding in url")
		}
		if next == decoded {
			break
		}
		decoded = next
	}
	return decoded, nil
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}

func isIPv4MappedIPv6(ip net.IP) bool {
	return len(ip) == net.IPv6len && bytes.Equal(ip[:12], []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff})
}
