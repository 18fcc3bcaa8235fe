package shopify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"gtm-datalayer/internal/model"
)

// AuthorizeURL returns the install consent URL for shop.
func (p *Platform) AuthorizeURL(shop, state, redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", p.cfg.APIKey)
	q.Set("scope", p.cfg.Scopes)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	return p.baseURL(shop) + "/admin/oauth/authorize?" + q.Encode()
}

// ExchangeCode trades an authorization code for an offline access token.
func (p *Platform) ExchangeCode(ctx context.Context, shop, code string) (*AccessToken, error) {
	body := map[string]string{
		"client_id":     p.cfg.APIKey,
		"client_secret": p.cfg.APISecret,
		"code":          code,
	}
	c := p.Client(shop, "")

	var token AccessToken
	if err := c.rest(ctx, "token exchange", http.MethodPost, "/admin/oauth/access_token", body, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, model.NewUpstreamError("token exchange", errEmptyToken)
	}
	return &token, nil
}

var errEmptyToken = errors.New("empty access token")

// VerifyHMAC checks the hmac parameter of an OAuth redirect or app proxy
// query against the app secret.
func (p *Platform) VerifyHMAC(query url.Values) bool {
	given := query.Get("hmac")
	if given == "" || p.cfg.APISecret == "" {
		return false
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strings.Join(query[k], ","))
	}

	mac := hmac.New(sha256.New, []byte(p.cfg.APISecret))
	mac.Write([]byte(strings.Join(parts, "&")))
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.ToLower(given)))
}

// VerifyWebhook checks the X-Shopify-Hmac-Sha256 header of a webhook body.
func (p *Platform) VerifyWebhook(body []byte, header string) bool {
	if header == "" || p.cfg.APISecret == "" {
		return false
	}
	given, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(p.cfg.APISecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), given)
}
