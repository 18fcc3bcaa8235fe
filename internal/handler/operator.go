package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gtm-datalayer/internal/inject"
	"gtm-datalayer/internal/middleware"
	"gtm-datalayer/internal/model"
	"gtm-datalayer/internal/scripts"
	"gtm-datalayer/internal/shopify"
	"gtm-datalayer/internal/tracker"
)

// ActionRequest is the body of every operator action.
type ActionRequest struct {
	Shop        string `json:"shop" jsonschema:"shop domain ending in .myshopify.com"`
	AccessToken string `json:"access_token,omitempty" jsonschema:"Admin API access token; omitted to use the stored install token"`
	ContainerID string `json:"container_id,omitempty" jsonschema:"tag manager container id, GTM-XXXX"`

	EventPrefix  string                `json:"event_prefix,omitempty" jsonschema:"prefix prepended to every event name"`
	ItemIDFormat tracker.ItemIDFormat  `json:"item_id_format,omitempty" jsonschema:"formatted or unformatted item ids"`
	CountryCode  string                `json:"country_code,omitempty" jsonschema:"country code used in formatted item ids"`
	Scope        string                `json:"scope,omitempty" jsonschema:"item id scope, defaults to shopify"`
	SearchDelay  int                   `json:"search_debounce_ms,omitempty" jsonschema:"search debounce in milliseconds"`
	Selectors    *tracker.BinderConfig `json:"selectors,omitempty" jsonschema:"selector overrides per action"`
	Debug        bool                  `json:"debug,omitempty" jsonschema:"mirror every storefront push to the browser console"`
}

func (req ActionRequest) params() scripts.Params {
	p := scripts.Params{
		ContainerID:  req.ContainerID,
		EventPrefix:  req.EventPrefix,
		ItemIDFormat: req.ItemIDFormat,
		Scope:        req.Scope,
		CountryCode:  req.CountryCode,
		Debounce:     time.Duration(req.SearchDelay) * time.Millisecond,
		Debug:        req.Debug,
	}
	if req.Selectors != nil {
		p.Selectors = *req.Selectors
	}
	return p
}

// validateShop checks the shop identity and, when given, the token format.
func (h *Handler) validateShop(shop, token string) error {
	if !shopify.ValidShop(shop) {
		return model.NewValidationError("shop", "must be a bare domain ending in "+shopify.ShopSuffix)
	}
	if token != "" && !shopify.ValidToken(token, h.cfg.TokenPrefixes) {
		return model.NewValidationError("access_token", "unexpected token format")
	}
	return nil
}

// prepare validates an action request and resolves the access token. No
// remote call is made before validation passes.
func (h *Handler) prepare(ctx context.Context, req ActionRequest, needContainer bool) (string, scripts.Params, error) {
	if err := h.validateShop(req.Shop, req.AccessToken); err != nil {
		return "", scripts.Params{}, err
	}
	p := req.params()
	if needContainer {
		if !scripts.ValidContainerID(req.ContainerID) {
			return "", p, model.NewValidationError("container_id", "must match GTM-[A-Za-z0-9_-]+")
		}
		if err := p.Validate(); err != nil {
			return "", p, model.NewValidationError("script parameters", err.Error())
		}
	}
	if sessionShop, ok := middleware.SessionShop(ctx); ok && sessionShop != req.Shop {
		return "", p, model.NewUnauthorizedError("session token was issued for another shop")
	}

	token, err := h.accessToken(ctx, req.Shop, req.AccessToken)
	return token, p, err
}

// accessToken returns the given token, or the stored install token.
func (h *Handler) accessToken(ctx context.Context, shop, token string) (string, error) {
	if token != "" {
		return token, nil
	}
	if h.cfg.Credentials == nil {
		return "", model.NewValidationError("access_token", "required")
	}
	cred, err := h.cfg.Credentials.Get(ctx, shop)
	if errors.Is(err, model.ErrNotFound) {
		return "", model.NewValidationError("access_token", "required: the app is not installed on "+shop)
	}
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

func (h *Handler) enableTagManager(ctx context.Context, req ActionRequest) (*inject.Deployment, error) {
	token, p, err := h.prepare(ctx, req, true)
	if err != nil {
		return nil, err
	}
	h.logger.InfoContext(ctx, "enabling tag manager",
		slog.String("shop", req.Shop),
		slog.String("container_id", req.ContainerID),
	)
	return h.cfg.Installer.EnableTagManager(ctx, req.Shop, token, p)
}

func (h *Handler) enableDataLayer(ctx context.Context, req ActionRequest) (*inject.Deployment, error) {
	token, p, err := h.prepare(ctx, req, true)
	if err != nil {
		return nil, err
	}
	h.logger.InfoContext(ctx, "enabling data layer",
		slog.String("shop", req.Shop),
		slog.String("container_id", req.ContainerID),
	)
	return h.cfg.Installer.EnableDataLayer(ctx, req.Shop, token, p)
}

func (h *Handler) disableDataLayer(ctx context.Context, req ActionRequest) (*inject.Deployment, error) {
	token, _, err := h.prepare(ctx, req, false)
	if err != nil {
		return nil, err
	}
	h.logger.InfoContext(ctx, "disabling data layer", slog.String("shop", req.Shop))
	return h.cfg.Installer.DisableDataLayer(ctx, req.Shop, token)
}

func (h *Handler) enablePixel(ctx context.Context, req ActionRequest) (*shopify.WebPixel, error) {
	token, p, err := h.prepare(ctx, req, true)
	if err != nil {
		return nil, err
	}
	h.logger.InfoContext(ctx, "enabling web pixel", slog.String("shop", req.Shop))
	return h.cfg.Installer.EnablePixel(ctx, req.Shop, token, p)
}

// pixelSource renders the installable pixel body. It needs no store access.
func pixelSource(req ActionRequest) (string, error) {
	if !scripts.ValidContainerID(req.ContainerID) {
		return "", model.NewValidationError("container_id", "must match GTM-[A-Za-z0-9_-]+")
	}
	p := req.params()
	if err := p.Validate(); err != nil {
		return "", model.NewValidationError("script parameters", err.Error())
	}
	src, err := scripts.Pixel(p)
	if err != nil {
		return "", model.NewInternalError(err)
	}
	return src, nil
}

// handleEnableTagManager installs the container blocks.
// POST /api/tag-manager
func (h *Handler) handleEnableTagManager(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	dep, err := h.enableTagManager(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dep)
}

// handleEnableDataLayer installs blocks, directive, snippet and asset.
// POST /api/datalayer
func (h *Handler) handleEnableDataLayer(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	dep, err := h.enableDataLayer(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dep)
}

// handleDisableDataLayer strips every installed block.
// DELETE /api/datalayer
func (h *Handler) handleDisableDataLayer(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	dep, err := h.disableDataLayer(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dep)
}

// handleEnablePixel creates or updates the web pixel.
// POST /api/pixel
func (h *Handler) handleEnablePixel(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	px, err := h.enablePixel(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, px)
}

// handlePixelSource returns the pixel body for manual installation.
// GET /api/pixel/source?container_id=GTM-XXXX[&event_prefix=...]
func (h *Handler) handlePixelSource(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	src, err := pixelSource(ActionRequest{
		ContainerID:  q.Get("container_id"),
		EventPrefix:  q.Get("event_prefix"),
		ItemIDFormat: tracker.ItemIDFormat(q.Get("item_id_format")),
		CountryCode:  q.Get("country_code"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(src))
}
