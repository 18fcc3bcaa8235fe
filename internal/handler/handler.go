// Package handler provides the HTTP and MCP surface for the operator
// actions, the OAuth install flow and platform webhooks.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"gtm-datalayer/internal/adapter"
	"gtm-datalayer/internal/middleware"
	"gtm-datalayer/internal/model"
	"gtm-datalayer/internal/shopify"
	"gtm-datalayer/internal/store"
)

// Authenticator is the OAuth and signature side of the platform.
type Authenticator interface {
	AuthorizeURL(shop, state, redirectURI string) string
	ExchangeCode(ctx context.Context, shop, code string) (*shopify.AccessToken, error)
	VerifyHMAC(query url.Values) bool
	VerifyWebhook(body []byte, header string) bool
}

// Config wires the handler dependencies.
type Config struct {
	Installer   adapter.Installer
	Credentials store.Store
	Auth        Authenticator

	APIKey      string
	APISecret   string
	RedirectURI string

	// Accepted access token prefixes; defaults to shopify.DefaultTokenPrefixes.
	TokenPrefixes []string

	// Require an embedded-admin session token on /api and /mcp.
	RequireSessionToken bool
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a new Handler.
func New(cfg Config, logger *slog.Logger) *Handler {
	if len(cfg.TokenPrefixes) == 0 {
		cfg.TokenPrefixes = shopify.DefaultTokenPrefixes
	}
	return &Handler{cfg: cfg, logger: logger}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	protect := func(next http.Handler) http.Handler { return next }
	if h.cfg.RequireSessionToken {
		protect = middleware.SessionToken(h.cfg.APIKey, h.cfg.APISecret, h.logger)
	}

	// Operator actions
	mux.Handle("POST /api/tag-manager", protect(http.HandlerFunc(h.handleEnableTagManager)))
	mux.Handle("POST /api/datalayer", protect(http.HandlerFunc(h.handleEnableDataLayer)))
	mux.Handle("DELETE /api/datalayer", protect(http.HandlerFunc(h.handleDisableDataLayer)))
	mux.Handle("POST /api/pixel", protect(http.HandlerFunc(h.handleEnablePixel)))
	mux.Handle("GET /api/pixel/source", protect(http.HandlerFunc(h.handlePixelSource)))

	// MCP transport - the same actions as tools
	mux.Handle("/mcp", protect(h.NewMCPHandler()))

	// Install flow and webhooks
	mux.HandleFunc("GET /auth", h.handleAuth)
	mux.HandleFunc("GET /auth/callback", h.handleAuthCallback)
	mux.HandleFunc("POST /webhooks/app/uninstalled", h.handleUninstalled)

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response. Errors outside the APIError taxonomy
// are logged and reported as INTERNAL_ERROR without detail.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apiErr := h.apiError(err)
	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:      string(apiErr.Code),
			Message:   apiErr.Message,
			Field:     apiErr.Field,
			Operation: apiErr.Operation,
			Retryable: apiErr.Retryable(),
		},
	})
}

// apiError resolves err to an APIError, hiding unexpected errors.
func (h *Handler) apiError(err error) *model.APIError {
	if apiErr, ok := model.AsAPIError(err); ok {
		return apiErr
	}
	h.logger.Error("internal error", slog.String("error", err.Error()))
	return model.NewInternalError(err)
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Operation string `json:"operation,omitempty"`
	Retryable bool   `json:"retryable"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}
