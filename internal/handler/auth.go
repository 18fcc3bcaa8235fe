package handler

import (
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"gtm-datalayer/internal/model"
	"gtm-datalayer/internal/shopify"
	"gtm-datalayer/internal/store"
)

const (
	stateCookie = "gtm_datalayer_oauth_state"

	// Webhook request headers.
	hmacHeader = "X-Shopify-Hmac-Sha256"
	shopHeader = "X-Shopify-Shop-Domain"
)

// handleAuth starts the install flow.
// GET /auth?shop=<shop>
func (h *Handler) handleAuth(w http.ResponseWriter, r *http.Request) {
	shop := r.URL.Query().Get("shop")
	if err := h.validateShop(shop, ""); err != nil {
		h.writeError(w, err)
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth/callback",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.InfoContext(r.Context(), "starting install", slog.String("shop", shop))
	http.Redirect(w, r, h.cfg.Auth.AuthorizeURL(shop, state, h.cfg.RedirectURI), http.StatusFound)
}

// handleAuthCallback completes the install flow and stores the token.
// GET /auth/callback?code=...&shop=...&state=...&hmac=...
func (h *Handler) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	shop := q.Get("shop")

	if err := h.validateShop(shop, ""); err != nil {
		h.writeError(w, err)
		return
	}
	if !h.cfg.Auth.VerifyHMAC(q) {
		h.writeError(w, model.NewUnauthorizedError("invalid request signature"))
		return
	}
	cookie, err := r.Cookie(stateCookie)
	if err != nil || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(q.Get("state"))) != 1 {
		h.writeError(w, model.NewUnauthorizedError("state mismatch"))
		return
	}
	code := q.Get("code")
	if code == "" {
		h.writeError(w, model.NewValidationError("code", "required"))
		return
	}

	token, err := h.cfg.Auth.ExchangeCode(ctx, shop, code)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.cfg.Credentials.Save(ctx, &store.Credential{
		Shop:        shop,
		AccessToken: token.AccessToken,
		Scope:       token.Scope,
	}); err != nil {
		h.writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/auth/callback", MaxAge: -1})
	h.logger.InfoContext(ctx, "app installed",
		slog.String("shop", shop),
		slog.String("scope", token.Scope),
	)
	http.Redirect(w, r, "https://"+shop+"/admin/apps/"+h.cfg.APIKey, http.StatusFound)
}

// handleUninstalled forgets the token of a shop that removed the app.
// POST /webhooks/app/uninstalled
func (h *Handler) handleUninstalled(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBodySize))
	if err != nil {
		h.writeError(w, model.NewValidationError("body", "unreadable"))
		return
	}
	if !h.cfg.Auth.VerifyWebhook(body, r.Header.Get(hmacHeader)) {
		h.writeError(w, model.NewUnauthorizedError("invalid webhook signature"))
		return
	}

	shop := r.Header.Get(shopHeader)
	if !shopify.ValidShop(shop) {
		h.writeError(w, model.NewValidationError("shop", "missing or malformed "+shopHeader))
		return
	}
	if err := h.cfg.Credentials.Delete(ctx, shop); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "app uninstalled", slog.String("shop", shop))
	w.WriteHeader(http.StatusOK)
}
