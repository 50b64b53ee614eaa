package hostfuncs

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flowhost-dev/flowhost/internal/infrastructure/build"
	"github.com/flowhost-dev/flowhost/wireformat"
)

const (
	// maxResponseBody caps how much of a response the host hands back to the
	// guest. Larger bodies are truncated and flagged, never failed.
	maxResponseBody = 10 * 1024 * 1024

	maxRedirects       = 10
	defaultHTTPTimeout = 30 * time.Second
)

// HTTPExecutor performs HTTP requests on behalf of guest code. The host owns
// the network stack so that SSRF guards, body limits, and redirect caps apply
// uniformly regardless of what the guest asks for.
type HTTPExecutor struct {
	userAgent string

	// AllowPrivate disables the private-address guard. Tests talking to
	// httptest servers on loopback need this; production never sets it.
	AllowPrivate bool
}

// NewHTTPExecutor creates an executor identifying itself with the build info.
func NewHTTPExecutor(info build.Info) *HTTPExecutor {
	return &HTTPExecutor{
		userAgent: fmt.Sprintf("Flowhost/%s (%s)", info.Version, info.Platform),
	}
}

// Do executes one wire-format request and always returns a wire-format
// response; failures are reported in the Error field rather than as Go
// errors, because the guest only ever sees the wire shape.
func (e *HTTPExecutor) Do(ctx context.Context, req wireformat.HTTPRequestWire) wireformat.HTTPResponseWire {
	timeout := defaultHTTPTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	httpCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return wireformat.HTTPResponseWire{Error: fmt.Sprintf("invalid request body encoding: %v", err)}
		}
		body = bytes.NewReader(decoded)
	}

	httpReq, err := http.NewRequestWithContext(httpCtx, req.Method, req.URL, body)
	if err != nil {
		return wireformat.HTTPResponseWire{Error: fmt.Sprintf("invalid request: %v", err)}
	}
	if httpReq.URL.Scheme != "http" && httpReq.URL.Scheme != "https" {
		return wireformat.HTTPResponseWire{Error: fmt.Sprintf("unsupported scheme %q", httpReq.URL.Scheme)}
	}

	httpReq.Header.Set("User-Agent", e.userAgent)
	for key, values := range req.Headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	client := &http.Client{
		Transport: e.transport(),
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		slog.Warn("guest HTTP request failed", "method", req.Method, "url", req.URL, "error", err)
		return wireformat.HTTPResponseWire{Error: fmt.Sprintf("request failed: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	// Read one byte past the cap to tell "exactly at the limit" from
	// "truncated".
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return wireformat.HTTPResponseWire{Error: fmt.Sprintf("failed to read response body: %v", err)}
	}
	truncated := false
	if len(raw) > maxResponseBody {
		raw = raw[:maxResponseBody]
		truncated = true
		slog.Warn("guest HTTP response truncated", "url", req.URL, "limit_bytes", maxResponseBody)
	}

	var encoded string
	if len(raw) > 0 {
		encoded = base64.StdEncoding.EncodeToString(raw)
	}

	headers := make(map[string][]string, len(resp.Header))
	for key, values := range resp.Header {
		headers[key] = values
	}

	return wireformat.HTTPResponseWire{
		StatusCode:    resp.StatusCode,
		Headers:       headers,
		Body:          encoded,
		BodyTruncated: truncated,
	}
}

// transport builds an http.Transport whose dialer re-validates the resolved
// address on every connection, including redirect targets. Validating at dial
// time rather than before the request closes the DNS rebinding window.
func (e *HTTPExecutor) transport() *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			for _, ip := range ips {
				if !e.AllowPrivate && isDisallowedAddr(ip.IP) {
					continue
				}
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
				if err == nil {
					return conn, nil
				}
			}
			return nil, fmt.Errorf("no permitted address for %s", host)
		},
	}
}

// isDisallowedAddr reports whether ip points inside the host's own network
// perimeter: loopback, RFC1918/ULA private ranges, link-local, and
// unspecified addresses are all off limits to guest traffic.
func isDisallowedAddr(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
