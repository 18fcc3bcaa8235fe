package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gtm-datalayer/internal/model"
)

const (
	queryWebPixel = `query { webPixel { id settings } }`

	mutationCreatePixel = `mutation webPixelCreate($webPixel: WebPixelInput!) {
  webPixelCreate(webPixel: $webPixel) { webPixel { id settings } userErrors { field code message } }
}`

	mutationUpdatePixel = `mutation webPixelUpdate($id: ID!, $webPixel: WebPixelInput!) {
  webPixelUpdate(id: $id, webPixel: $webPixel) { webPixel { id settings } userErrors { field code message } }
}`
)

// ErrPixelTaken is reported by create when the pixel already exists.
var ErrPixelTaken = errors.New("web pixel already exists")

type pixelNode struct {
	ID       string `json:"id"`
	Settings string `json:"settings"`
}

func (n *pixelNode) toPixel() (*WebPixel, error) {
	if n == nil {
		return nil, nil
	}
	p := &WebPixel{ID: n.ID}
	if n.Settings != "" {
		if err := json.Unmarshal([]byte(n.Settings), &p.Settings); err != nil {
			return nil, fmt.Errorf("decoding pixel settings: %w", err)
		}
	}
	return p, nil
}

// WebPixel looks up the app pixel. It returns nil without error when no
// pixel exists yet, and an unauthorized error when the token lacks access.
func (c *Client) WebPixel(ctx context.Context) (*WebPixel, error) {
	var data struct {
		WebPixel *pixelNode `json:"webPixel"`
	}
	if err := c.graphQL(ctx, "pixel lookup", queryWebPixel, nil, &data); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return data.WebPixel.toPixel()
}

// CreateWebPixel registers the app pixel.
func (c *Client) CreateWebPixel(ctx context.Context, settings PixelSettings) (*WebPixel, error) {
	vars, err := pixelVariables(settings)
	if err != nil {
		return nil, err
	}
	var data struct {
		WebPixelCreate struct {
			WebPixel   *pixelNode  `json:"webPixel"`
			UserErrors []userError `json:"userErrors"`
		} `json:"webPixelCreate"`
	}
	if err := c.graphQL(ctx, "pixel create", mutationCreatePixel, vars, &data); err != nil {
		return nil, err
	}
	if err := userErrorsToError("pixel create", data.WebPixelCreate.UserErrors); err != nil {
		return nil, err
	}
	return data.WebPixelCreate.WebPixel.toPixel()
}

// UpdateWebPixel replaces the settings of the pixel with the given id.
func (c *Client) UpdateWebPixel(ctx context.Context, id string, settings PixelSettings) (*WebPixel, error) {
	vars, err := pixelVariables(settings)
	if err != nil {
		return nil, err
	}
	vars["id"] = id

	var data struct {
		WebPixelUpdate struct {
			WebPixel   *pixelNode  `json:"webPixel"`
			UserErrors []userError `json:"userErrors"`
		} `json:"webPixelUpdate"`
	}
	if err := c.graphQL(ctx, "pixel update", mutationUpdatePixel, vars, &data); err != nil {
		return nil, err
	}
	if err := userErrorsToError("pixel update", data.WebPixelUpdate.UserErrors); err != nil {
		return nil, err
	}
	return data.WebPixelUpdate.WebPixel.toPixel()
}

// InstallPixel checks access, then creates the pixel. When the name is
// already taken it updates the existing pixel of that name instead.
func (c *Client) InstallPixel(ctx context.Context, settings PixelSettings) (*WebPixel, error) {
	existing, err := c.WebPixel(ctx)
	if err != nil {
		return nil, err
	}

	created, err := c.CreateWebPixel(ctx, settings)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, ErrPixelTaken) {
		return nil, err
	}

	if existing == nil || (existing.Settings.Name != "" && existing.Settings.Name != settings.Name) {
		// Created concurrently since the lookup; look again.
		if existing, err = c.WebPixel(ctx); err != nil {
			return nil, err
		}
	}
	if existing == nil || (existing.Settings.Name != "" && existing.Settings.Name != settings.Name) {
		return nil, model.NewUpstreamError("pixel update", fmt.Errorf("no pixel named %q to update", settings.Name))
	}
	return c.UpdateWebPixel(ctx, existing.ID, settings)
}

func pixelVariables(settings PixelSettings) (map[string]any, error) {
	raw, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encoding pixel settings: %w", err)
	}
	return map[string]any{"webPixel": map[string]any{"settings": string(raw)}}, nil
}

func userErrorsToError(operation string, errs []userError) error {
	if len(errs) == 0 {
		return nil
	}
	for _, e := range errs {
		if e.Code == "TAKEN" {
			return fmt.Errorf("%s: %w", operation, ErrPixelTaken)
		}
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return model.NewUpstreamError(operation, errors.New(strings.Join(msgs, "; ")))
}

// graphQL runs one Admin GraphQL operation and decodes its data into out.
func (c *Client) graphQL(ctx context.Context, operation, query string, variables map[string]any, out any) error {
	body, err := c.send(ctx, operation, http.MethodPost, c.adminPath("/graphql.json"), graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return err
	}

	var resp struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.NewUpstreamError(operation, fmt.Errorf("parsing response: %w", err))
	}
	for _, e := range resp.Errors {
		switch {
		case e.Extensions.Code == "ACCESS_DENIED":
			return model.NewUnauthorizedError("Shopify access denied: " + e.Message)
		case e.Extensions.Code == "NOT_FOUND" || strings.Contains(strings.ToLower(e.Message), "no web pixel"):
			return model.NewNotFoundError("web pixel")
		}
	}
	if len(resp.Errors) > 0 {
		return model.NewUpstreamError(operation, errors.New(resp.Errors[0].Message))
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return model.NewUpstreamError(operation, fmt.Errorf("parsing data: %w", err))
		}
	}
	return nil
}
