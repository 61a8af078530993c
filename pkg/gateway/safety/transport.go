package safety

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"
)

// NewClient returns an HTTP client that re-validates every dialed address
// and redirect hop against the policy. Proxies are disabled so the dial
// check sees the real destination.
func (p Policy) NewClient(timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = nil
	tr.ProxyConnectHeader = nil
	tr.GetProxyConnectHeader = nil
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	tr.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		if _, err := strconv.Atoi(port); err != nil {
			return nil, fmt.Errorf("invalid port")
		}
		ip, err := p.resolve(ctx, host)
		if err != nil {
			return nil, err
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= MaxRedirectHops {
				return fmt.Errorf("redirect limit exceeded (max %d)", MaxRedirectHops)
			}
			if _, err := p.ValidateTarget(req.Context(), req.URL.String()); err != nil {
				return err
			}
			return nil
		},
	}
}

// ReadExcerpt reads at most limit bytes of the body and drains a bounded
// remainder so the connection can be reused. The excerpt never splits a
// UTF-8 sequence.
func ReadExcerpt(resp *http.Response, limit int) string {
	if resp == nil || resp.Body == nil || limit <= 0 {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, int64(limit)))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	for len(b) > 0 && !utf8.Valid(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}
