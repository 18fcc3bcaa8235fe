package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gtm-datalayer/internal/adapter"
	"gtm-datalayer/internal/inject"
	"gtm-datalayer/internal/middleware"
	"gtm-datalayer/internal/model"
	"gtm-datalayer/internal/scripts"
	"gtm-datalayer/internal/shopify"
	"gtm-datalayer/internal/store"
)

const (
	testShop   = "demo.myshopify.com"
	testToken  = "shpat_abc123"
	testKey    = "app-key"
	testSecret = "hush"
)

type testEnv struct {
	mux   *http.ServeMux
	creds *store.Memory
	admin *httptest.Server
}

func newTestEnv(t *testing.T, mock *adapter.Mock, requireSession bool) *testEnv {
	t.Helper()
	admin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/oauth/access_token" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"access_token":"shpat_installed","scope":"write_themes"}`))
	}))
	t.Cleanup(admin.Close)

	creds := store.NewMemory()
	platform := shopify.NewPlatform(shopify.Config{
		APIKey:     testKey,
		APISecret:  testSecret,
		Endpoint:   admin.URL,
		HTTPClient: admin.Client(),
	})
	h := New(Config{
		Installer:           mock,
		Credentials:         creds,
		Auth:                platform,
		APIKey:              testKey,
		APISecret:           testSecret,
		RedirectURI:         "https://tags.example.com/auth/callback",
		RequireSessionToken: requireSession,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &testEnv{mux: mux, creds: creds, admin: admin}
}

func (e *testEnv) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body not JSON: %s", w.Body.String())
	}
	return resp.Error.Code
}

// failingMock fails the test when any remote action is attempted.
func failingMock(t *testing.T) *adapter.Mock {
	fail := func() { t.Error("remote action attempted") }
	return &adapter.Mock{
		EnableTagManagerFunc: func(context.Context, string, string, scripts.Params) (*inject.Deployment, error) {
			fail()
			return nil, nil
		},
		EnableDataLayerFunc: func(context.Context, string, string, scripts.Params) (*inject.Deployment, error) {
			fail()
			return nil, nil
		},
		DisableDataLayerFunc: func(context.Context, string, string) (*inject.Deployment, error) {
			fail()
			return nil, nil
		},
		EnablePixelFunc: func(context.Context, string, string, scripts.Params) (*shopify.WebPixel, error) {
			fail()
			return nil, nil
		},
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, &adapter.Mock{}, false)
	for _, path := range []string{"/health", "/healthz"} {
		w := env.do("GET", path, nil, nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, w.Code)
		}
	}
}

func TestValidationBeforeNetwork(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		field  string
	}{
		{"shop without suffix", "POST", "/api/tag-manager", ActionRequest{Shop: "demo.example.com", AccessToken: testToken, ContainerID: "GTM-ABC123"}, "shop"},
		{"shop with scheme", "POST", "/api/datalayer", ActionRequest{Shop: "https://demo.myshopify.com", AccessToken: testToken, ContainerID: "GTM-ABC123"}, "shop"},
		{"token prefix", "POST", "/api/tag-manager", ActionRequest{Shop: testShop, AccessToken: "abc123", ContainerID: "GTM-ABC123"}, "access_token"},
		{"container id", "POST", "/api/tag-manager", ActionRequest{Shop: testShop, AccessToken: testToken, ContainerID: "UA-1234"}, "container_id"},
		{"container id missing", "POST", "/api/pixel", ActionRequest{Shop: testShop, AccessToken: testToken}, "container_id"},
		{"container id space", "POST", "/api/datalayer", ActionRequest{Shop: testShop, AccessToken: testToken, ContainerID: "GTM-AB C"}, "container_id"},
		{"item id format", "POST", "/api/datalayer", ActionRequest{Shop: testShop, AccessToken: testToken, ContainerID: "GTM-ABC123", ItemIDFormat: "sku"}, "script parameters"},
		{"disable bad shop", "DELETE", "/api/datalayer", ActionRequest{Shop: "demo"}, "shop"},
		{"not installed", "POST", "/api/tag-manager", ActionRequest{Shop: testShop, ContainerID: "GTM-ABC123"}, "access_token"},
		{"invalid json", "POST", "/api/tag-manager", json.RawMessage(`{"shop":`), "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, failingMock(t), false)
			w := env.do(tt.method, tt.path, tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Status = %d, want 400 (%s)", w.Code, w.Body.String())
			}
			if code := errorCode(t, w); code != "VALIDATION_ERROR" {
				t.Errorf("code = %s, want VALIDATION_ERROR", code)
			}
			if !strings.Contains(w.Body.String(), tt.field) {
				t.Errorf("message does not name %q: %s", tt.field, w.Body.String())
			}
		})
	}
}

func TestEnableTagManager(t *testing.T) {
	var gotShop, gotToken string
	var gotParams scripts.Params
	mock := &adapter.Mock{
		EnableTagManagerFunc: func(ctx context.Context, shop, token string, p scripts.Params) (*inject.Deployment, error) {
			gotShop, gotToken, gotParams = shop, token, p
			return &inject.Deployment{ThemeID: 9, Changed: true, Version: scripts.Version, Written: []string{inject.LayoutKey}}, nil
		},
	}
	env := newTestEnv(t, mock, false)

	w := env.do("POST", "/api/tag-manager", ActionRequest{
		Shop: testShop, AccessToken: testToken, ContainerID: "GTM-ABC123", EventPrefix: "dl_", SearchDelay: 500,
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if gotShop != testShop || gotToken != testToken {
		t.Errorf("called with %s / %s", gotShop, gotToken)
	}
	if gotParams.ContainerID != "GTM-ABC123" || gotParams.EventPrefix != "dl_" || gotParams.Debounce != 500*time.Millisecond {
		t.Errorf("params = %+v", gotParams)
	}

	var dep inject.Deployment
	json.NewDecoder(w.Body).Decode(&dep)
	if dep.ThemeID != 9 || !dep.Changed {
		t.Errorf("deployment = %+v", dep)
	}
}

func TestStoredTokenFallback(t *testing.T) {
	var gotToken string
	mock := &adapter.Mock{
		EnableDataLayerFunc: func(ctx context.Context, shop, token string, p scripts.Params) (*inject.Deployment, error) {
			gotToken = token
			return &inject.Deployment{}, nil
		},
	}
	env := newTestEnv(t, mock, false)
	env.creds.Save(context.Background(), &store.Credential{Shop: testShop, AccessToken: "shpat_stored"})

	w := env.do("POST", "/api/datalayer", ActionRequest{Shop: testShop, ContainerID: "GTM-ABC123"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if gotToken != "shpat_stored" {
		t.Errorf("token = %s, want stored token", gotToken)
	}
}

func TestRemoteFailureIsReported(t *testing.T) {
	mock := &adapter.Mock{
		EnableDataLayerFunc: func(ctx context.Context, shop, token string, p scripts.Params) (*inject.Deployment, error) {
			return nil, model.NewUpstreamError("asset write", errStatus)
		},
		EnablePixelFunc: func(ctx context.Context, shop, token string, p scripts.Params) (*shopify.WebPixel, error) {
			return nil, model.NewUnauthorizedError("Shopify access denied: missing scope for pixel lookup")
		},
	}
	env := newTestEnv(t, mock, false)
	req := ActionRequest{Shop: testShop, AccessToken: testToken, ContainerID: "GTM-ABC123"}

	w := env.do("POST", "/api/datalayer", req, nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("Status = %d, want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), "asset write failed") {
		t.Errorf("diagnostic missing: %s", w.Body.String())
	}

	w = env.do("POST", "/api/pixel", req, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", w.Code)
	}
}

var errStatus = &statusError{"status 422: value is too big"}

type statusError struct{ msg string }

func (e *statusError) Error() string { return e.msg }

func TestUnexpectedErrorIsHidden(t *testing.T) {
	mock := &adapter.Mock{
		DisableDataLayerFunc: func(ctx context.Context, shop, token string) (*inject.Deployment, error) {
			return nil, &statusError{"secret detail"}
		},
	}
	env := newTestEnv(t, mock, false)
	w := env.do("DELETE", "/api/datalayer", ActionRequest{Shop: testShop, AccessToken: testToken}, nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret detail") {
		t.Error("internal error detail leaked")
	}
}

func TestEnablePixel(t *testing.T) {
	mock := &adapter.Mock{
		EnablePixelFunc: func(ctx context.Context, shop, token string, p scripts.Params) (*shopify.WebPixel, error) {
			return &shopify.WebPixel{ID: "gid://shopify/WebPixel/1"}, nil
		},
	}
	env := newTestEnv(t, mock, false)
	w := env.do("POST", "/api/pixel", ActionRequest{Shop: testShop, AccessToken: testToken, ContainerID: "GTM-ABC123"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "gid://shopify/WebPixel/1") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestPixelSource(t *testing.T) {
	env := newTestEnv(t, failingMock(t), false)

	w := env.do("GET", "/api/pixel/source?container_id=GTM-ABC123&event_prefix=dl_", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %s", ct)
	}
	if body := w.Body.String(); !strings.Contains(body, "GTM-ABC123") || !strings.Contains(body, "analytics.subscribe") {
		t.Errorf("unexpected pixel body:\n%s", body)
	}

	w = env.do("GET", "/api/pixel/source?container_id=nope", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
}

func sessionHeader(t *testing.T, shop string) http.Header {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.SessionClaims{
		Dest: "https://" + shop,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{testKey},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return http.Header{"Authorization": {"Bearer " + token}}
}

func TestSessionTokenRequired(t *testing.T) {
	mock := &adapter.Mock{
		EnableTagManagerFunc: func(ctx context.Context, shop, token string, p scripts.Params) (*inject.Deployment, error) {
			return &inject.Deployment{}, nil
		},
	}
	env := newTestEnv(t, mock, true)
	req := ActionRequest{Shop: testShop, AccessToken: testToken, ContainerID: "GTM-ABC123"}

	if w := env.do("POST", "/api/tag-manager", req, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: Status = %d, want 401", w.Code)
	}
	if w := env.do("POST", "/api/tag-manager", req, sessionHeader(t, "other.myshopify.com")); w.Code != http.StatusUnauthorized {
		t.Errorf("other shop: Status = %d, want 401", w.Code)
	}
	if w := env.do("POST", "/api/tag-manager", req, sessionHeader(t, testShop)); w.Code != http.StatusOK {
		t.Errorf("matching shop: Status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if w := env.do("GET", "/health", nil, nil); w.Code != http.StatusOK {
		t.Errorf("health must stay public: Status = %d", w.Code)
	}
}

func TestAuthRedirect(t *testing.T) {
	env := newTestEnv(t, &adapter.Mock{}, false)

	w := env.do("GET", "/auth?shop="+testShop, nil, nil)
	if w.Code != http.StatusFound {
		t.Fatalf("Status = %d, want 302", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Path != "/admin/oauth/authorize" || loc.Query().Get("client_id") != testKey {
		t.Errorf("Location = %s", loc)
	}
	var state string
	for _, c := range w.Result().Cookies() {
		if c.Name == stateCookie {
			state = c.Value
		}
	}
	if state == "" || loc.Query().Get("state") != state {
		t.Errorf("state cookie %q does not match redirect state %q", state, loc.Query().Get("state"))
	}

	if w := env.do("GET", "/auth?shop=evil.com", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad shop: Status = %d, want 400", w.Code)
	}
}

func signedCallback(state string, tamper bool) string {
	q := url.Values{}
	q.Set("code", "authcode")
	q.Set("shop", testShop)
	q.Set("state", state)
	q.Set("timestamp", "1700000000")
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(q.Encode()))
	q.Set("hmac", hex.EncodeToString(mac.Sum(nil)))
	if tamper {
		q.Set("code", "other")
	}
	return "/auth/callback?" + q.Encode()
}

func TestAuthCallback(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		tamper     bool
		wantStatus int
		wantSaved  bool
	}{
		{"installs", "nonce-1", false, http.StatusFound, true},
		{"bad signature", "nonce-1", true, http.StatusUnauthorized, false},
		{"state mismatch", "nonce-2", false, http.StatusUnauthorized, false},
		{"no cookie", "", false, http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &adapter.Mock{}, false)
			req := httptest.NewRequest("GET", signedCallback("nonce-1", tt.tamper), nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: stateCookie, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			env.mux.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("Status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			cred, err := env.creds.Get(context.Background(), testShop)
			if tt.wantSaved {
				if err != nil || cred.AccessToken != "shpat_installed" {
					t.Errorf("credential = %+v, %v", cred, err)
				}
			} else if err == nil {
				t.Error("credential saved on rejected callback")
			}
		})
	}
}

func TestUninstalledWebhook(t *testing.T) {
	env := newTestEnv(t, &adapter.Mock{}, false)
	ctx := context.Background()
	env.creds.Save(ctx, &store.Credential{Shop: testShop, AccessToken: testToken})

	body := []byte(`{"id":1,"domain":"demo.myshopify.com"}`)
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	send := func(sig string) int {
		req := httptest.NewRequest("POST", "/webhooks/app/uninstalled", bytes.NewReader(body))
		req.Header.Set(hmacHeader, sig)
		req.Header.Set(shopHeader, testShop)
		w := httptest.NewRecorder()
		env.mux.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("bm9wZQ=="); code != http.StatusUnauthorized {
		t.Errorf("bad signature: Status = %d, want 401", code)
	}
	if _, err := env.creds.Get(ctx, testShop); err != nil {
		t.Fatal("credential deleted by unsigned webhook")
	}
	if code := send(sig); code != http.StatusOK {
		t.Errorf("Status = %d, want 200", code)
	}
	if _, err := env.creds.Get(ctx, testShop); err == nil {
		t.Error("credential kept after uninstall")
	}
}
