// Package transport provides the RoundTrippers used to reach live
// storefronts: a browser-like TLS client and a request pacer.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

// DefaultUserAgent is sent when a request carries no User-Agent.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Options configures NewStorefrontTransport.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	// RequestsPerSecond paces outbound requests; zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// NewStorefrontTransport returns the RoundTripper used to drive a storefront
// session: Chrome TLS fingerprint, a browser User-Agent and optional pacing.
// Storefront CDNs throttle clients with Go's default TLS fingerprint.
func NewStorefrontTransport(opts Options) http.RoundTripper {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	var rt http.RoundTripper = &userAgent{
		next:  NewChromeTransport(opts.Timeout),
		value: opts.UserAgent,
	}
	if opts.RequestsPerSecond > 0 {
		rt = Paced(rt, opts.RequestsPerSecond, opts.Burst)
	}
	return rt
}

// NewChromeTransport creates an http.RoundTripper presenting Chrome's TLS
// fingerprint. HTTP/2 is used when ALPN negotiates it, HTTP/1.1 otherwise.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialChromeTLS(ctx, dialer, network, addr)
	}

	return &chromeTransport{
		h2: &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dial(ctx, network, addr)
			},
		},
		h1: &http.Transport{
			DialTLSContext:        dial,
			Proxy:                 http.ProxyFromEnvironment,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			MaxIdleConnsPerHost:   4,
		},
	}
}

type chromeTransport struct {
	h2 *http2.Transport
	h1 *http.Transport
}

// RoundTrip tries HTTP/2 first. Plain-HTTP requests and requests whose body
// can be replayed fall back to HTTP/1.1 on failure.
func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}

	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}

	retry := req
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, err
		}
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return nil, err
		}
		retry = req.Clone(req.Context())
		retry.Body = body
	}
	return t.h1.RoundTrip(retry)
}

func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}

type userAgent struct {
	next  http.RoundTripper
	value string
}

func (u *userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return u.next.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", u.value)
	return u.next.RoundTrip(r)
}

// Paced wraps next with a token-bucket limiter. Requests wait for a token
// and fail only when their context ends first.
func Paced(next http.RoundTripper, perSecond float64, burst int) http.RoundTripper {
	if burst < 1 {
		burst = 1
	}
	return &paced{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

type paced struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func (p *paced) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := p.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return p.next.RoundTrip(req)
}
