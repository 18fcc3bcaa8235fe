// Package shopify is the Admin API client used to install tracking into a
// store: theme assets, the app web pixel, and the OAuth install flow.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"gtm-datalayer/internal/model"
)

const (
	// DefaultAPIVersion is the Admin API version requested.
	DefaultAPIVersion = "2025-01"

	userAgent = "gtm-datalayer/1.0"
)

// Config configures a Platform.
type Config struct {
	APIKey     string
	APISecret  string
	Scopes     string
	APIVersion string

	// Endpoint replaces "https://<shop>" as the base URL. Used in tests.
	Endpoint   string
	HTTPClient *http.Client

	// Admin API pacing per shop.
	RequestsPerSecond float64
	Burst             int
}

// Platform hands out per-shop clients that share pacing and circuit state
// for the same shop.
type Platform struct {
	cfg  Config
	http *http.Client

	mu    sync.Mutex
	shops map[string]*shopState
}

type shopState struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// NewPlatform creates a Platform.
func NewPlatform(cfg Config) *Platform {
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 40
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Platform{cfg: cfg, http: httpClient, shops: make(map[string]*shopState)}
}

func (p *Platform) state(shop string) *shopState {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.shops[shop]; ok {
		return s
	}
	s := &shopState{
		limiter: rate.NewLimiter(rate.Limit(p.cfg.RequestsPerSecond), p.cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        shop,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// Caller mistakes must not open the circuit.
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, model.ErrUpstreamError)
			},
		}),
	}
	p.shops[shop] = s
	return s
}

func (p *Platform) baseURL(shop string) string {
	if p.cfg.Endpoint != "" {
		return p.cfg.Endpoint
	}
	return "https://" + shop
}

// Client returns an Admin API client for shop authenticated by token.
func (p *Platform) Client(shop, token string) *Client {
	return &Client{platform: p, shop: shop, token: token, state: p.state(shop)}
}

// Client calls the Admin API of one shop.
type Client struct {
	platform *Platform
	shop     string
	token    string
	state    *shopState
}

// Shop returns the shop domain the client is bound to.
func (c *Client) Shop() string { return c.shop }

func (c *Client) adminPath(path string) string {
	return "/admin/api/" + c.platform.cfg.APIVersion + path
}

// === Themes and assets ===

// MainTheme returns the published theme.
func (c *Client) MainTheme(ctx context.Context) (Theme, error) {
	var resp themesResponse
	if err := c.rest(ctx, "theme lookup", http.MethodGet, c.adminPath("/themes.json?role=main"), nil, &resp); err != nil {
		return Theme{}, err
	}
	for _, t := range resp.Themes {
		if t.Role == "main" {
			return t, nil
		}
	}
	return Theme{}, model.NewNotFoundError("main theme")
}

// GetAsset returns the content of a theme file, decoding attachments.
func (c *Client) GetAsset(ctx context.Context, themeID int64, key string) (string, error) {
	q := url.Values{}
	q.Set("asset[key]", key)
	path := c.adminPath("/themes/" + strconv.FormatInt(themeID, 10) + "/assets.json?" + q.Encode())

	var resp assetEnvelope
	if err := c.rest(ctx, "asset read", http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	body, err := resp.Asset.Body()
	if err != nil {
		return "", model.NewUpstreamError("asset read", err)
	}
	return body, nil
}

// PutAsset writes a theme file. Bodies above AttachmentThreshold are sent
// as a base64 attachment.
func (c *Client) PutAsset(ctx context.Context, themeID int64, key, body string) error {
	path := c.adminPath("/themes/" + strconv.FormatInt(themeID, 10) + "/assets.json")
	return c.rest(ctx, "asset write", http.MethodPut, path, assetEnvelope{Asset: NewAsset(key, body)}, nil)
}

// === HTTP helpers ===

func (c *Client) rest(ctx context.Context, operation, method, path string, body, result any) error {
	data, err := c.send(ctx, operation, method, path, body)
	if err != nil {
		return err
	}
	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return model.NewUpstreamError(operation, fmt.Errorf("parsing response: %w", err))
		}
	}
	return nil
}

// send paces, guards and executes one request, returning the response body.
func (c *Client) send(ctx context.Context, operation, method, path string, body any) ([]byte, error) {
	if err := c.state.limiter.Wait(ctx); err != nil {
		return nil, model.NewRateLimitError("Shopify")
	}

	data, err := c.state.breaker.Execute(func() ([]byte, error) {
		req, err := c.newRequest(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
		return c.platform.do(req, operation)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, model.NewUpstreamError(operation, fmt.Errorf("shop %s: %w", c.shop, err))
	}
	return data, err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.platform.baseURL(c.shop)+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Shopify-Access-Token", c.token)
	return req, nil
}

// do executes req and returns the body of a successful response.
func (p *Platform) do(req *http.Request, operation string) ([]byte, error) {
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, model.NewUpstreamError(operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewUpstreamError(operation, fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode >= 400 {
		return nil, parseError(operation, resp.StatusCode, body)
	}
	return body, nil
}

// parseError converts Admin API errors to model.APIError.
func parseError(operation string, statusCode int, body []byte) error {
	var apiErr ErrorResponse
	json.Unmarshal(body, &apiErr) // Best effort parse

	switch statusCode {
	case http.StatusUnauthorized:
		return model.NewUnauthorizedError("Shopify rejected the access token")
	case http.StatusForbidden:
		return model.NewUnauthorizedError("Shopify access denied: missing scope for " + operation)
	case http.StatusNotFound:
		return model.NewNotFoundError(operation + " target")
	case http.StatusTooManyRequests:
		return model.NewRateLimitError("Shopify")
	default:
		msg := apiErr.Message()
		if msg == "" {
			msg = http.StatusText(statusCode)
		}
		return model.NewUpstreamError(operation, fmt.Errorf("status %d: %s", statusCode, msg))
	}
}
