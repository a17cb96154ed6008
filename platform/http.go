package platform

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/proxy"

	"github.com/whisper-darkly/sticky-watch/cookies"
)

// ClientOptions configures a per-channel HTTP client.
type ClientOptions struct {
	Headers     map[string]string
	Cookies     string        // "key=value; key2=value2"
	Proxy       string        // http://, https://, socks5:// or socks5h://
	Timeout     time.Duration // whole-request timeout for API calls
	IdleTimeout time.Duration // keep-alive expiry of pooled connections
	InsecureTLS bool
}

// Client wraps a pooled http.Client with default headers, cookies and proxy.
// A Client is owned by exactly one poll loop and is never shared.
type Client struct {
	api       *http.Client // bounded by Timeout
	stream    *http.Client // unbounded, callers pass a context deadline
	transport *http.Transport
	headers   map[string]string
	cookies   []*http.Cookie
	closed    atomic.Bool
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewClient creates a client. An invalid proxy URL is a configuration error.
func NewClient(opts ClientOptions) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxIdleConnsPerHost = 100
	if opts.IdleTimeout > 0 {
		transport.IdleConnTimeout = opts.IdleTimeout
	}
	if opts.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if opts.Proxy != "" {
		if err := setProxy(transport, opts.Proxy); err != nil {
			return nil, err
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		api:       &http.Client{Transport: transport, Timeout: timeout},
		stream:    &http.Client{Transport: transport},
		transport: transport,
		headers:   opts.Headers,
		cookies:   cookies.Parse(opts.Cookies),
	}, nil
}

func setProxy(t *http.Transport, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse proxy url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		t.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		d, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return fmt.Errorf("socks proxy: %w", err)
		}
		t.Proxy = nil
		if cd, ok := d.(proxy.ContextDialer); ok {
			t.DialContext = cd.DialContext
		} else {
			t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return d.Dial(network, addr)
			}
		}
	default:
		return fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	return nil
}

// Do sends a request and reads the whole body. Transport-level failures are
// returned as transient adapter errors; status codes are left to the caller.
func (c *Client) Do(ctx context.Context, method, rawURL string, header http.Header, body io.Reader) (*Response, error) {
	req, err := c.newRequest(ctx, method, rawURL, header, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, fmt.Errorf("read body: %w", err))
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

// Get fetches a URL and maps well-known block pages and status codes to
// sentinel errors: ErrCloudflareBlocked, ErrAgeVerification, ErrForbidden,
// ErrNotFound.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Do(ctx, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return nil, err
	}

	body := string(resp.Body)
	switch {
	case strings.Contains(body, "<title>Just a moment...</title>"):
		return nil, ErrCloudflareBlocked
	case strings.Contains(body, "Verify your age"):
		return nil, ErrAgeVerification
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return resp.Body, nil
}

// OpenStream issues a GET and returns the unread body. The caller closes it.
func (c *Client) OpenStream(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return resp.Body, nil
}

// Close drops pooled connections. The client must not be used afterwards.
func (c *Client) Close() {
	c.closed.Store(true)
	c.transport.CloseIdleConnections()
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool { return c.closed.Load() }

func (c *Client) newRequest(ctx context.Context, method, rawURL string, header http.Header, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, vs := range header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	return req, nil
}

// transportError keeps cancellation distinguishable from network failures.
func (c *Client) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	return TransientError("http", err)
}
