// MCP transport for the operator actions using the official MCP Go SDK.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"gtm-datalayer/internal/inject"
	"gtm-datalayer/internal/model"
	"gtm-datalayer/internal/scripts"
	"gtm-datalayer/internal/shopify"
	"gtm-datalayer/internal/tracker"
)

// ShopInput names a store for actions that take no script parameters.
type ShopInput struct {
	Shop        string `json:"shop" jsonschema:"shop domain ending in .myshopify.com"`
	AccessToken string `json:"access_token,omitempty" jsonschema:"Admin API access token; omitted to use the stored install token"`
}

// PixelSourceInput selects the parameters baked into the pixel body.
type PixelSourceInput struct {
	ContainerID  string               `json:"container_id" jsonschema:"tag manager container id, GTM-XXXX"`
	EventPrefix  string               `json:"event_prefix,omitempty" jsonschema:"prefix prepended to every event name"`
	ItemIDFormat tracker.ItemIDFormat `json:"item_id_format,omitempty" jsonschema:"formatted or unformatted item ids"`
	CountryCode  string               `json:"country_code,omitempty" jsonschema:"country code used in formatted item ids"`
}

// PixelSourceOutput is the pixel body for manual installation.
type PixelSourceOutput struct {
	Source string `json:"source"`
}

// NewMCPServer creates an MCP server with the operator tools registered.
// The server exposes the same operations as the REST API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "gtm-datalayer",
			Version: scripts.Version,
		},
		&mcp.ServerOptions{
			Instructions: "Installs a tag manager container and an ecommerce data layer into a Shopify store. " +
				"Validation errors are reported before the store is contacted.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "enable_tag_manager",
		Description: "Install the tag manager container snippet into the main theme layout.",
	}, h.mcpEnableTagManager)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "enable_datalayer",
		Description: "Install the container snippet plus the ecommerce data layer script into the main theme.",
	}, h.mcpEnableDataLayer)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "disable_datalayer",
		Description: "Remove every installed block and render directive from the main theme layout.",
	}, h.mcpDisableDataLayer)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "enable_pixel",
		Description: "Create or update the checkout web pixel.",
	}, h.mcpEnablePixel)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fetch_pixel_source",
		Description: "Return the checkout pixel script body for manual installation.",
	}, h.mcpPixelSource)

	return server
}

// NewMCPHandler serves the operator tools over streamable HTTP.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

func (h *Handler) mcpEnableTagManager(ctx context.Context, req *mcp.CallToolRequest, input ActionRequest) (*mcp.CallToolResult, *inject.Deployment, error) {
	dep, err := h.enableTagManager(ctx, input)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, dep, nil
}

func (h *Handler) mcpEnableDataLayer(ctx context.Context, req *mcp.CallToolRequest, input ActionRequest) (*mcp.CallToolResult, *inject.Deployment, error) {
	dep, err := h.enableDataLayer(ctx, input)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, dep, nil
}

func (h *Handler) mcpDisableDataLayer(ctx context.Context, req *mcp.CallToolRequest, input ShopInput) (*mcp.CallToolResult, *inject.Deployment, error) {
	dep, err := h.disableDataLayer(ctx, ActionRequest{Shop: input.Shop, AccessToken: input.AccessToken})
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, dep, nil
}

func (h *Handler) mcpEnablePixel(ctx context.Context, req *mcp.CallToolRequest, input ActionRequest) (*mcp.CallToolResult, *shopify.WebPixel, error) {
	px, err := h.enablePixel(ctx, input)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, px, nil
}

func (h *Handler) mcpPixelSource(ctx context.Context, req *mcp.CallToolRequest, input PixelSourceInput) (*mcp.CallToolResult, *PixelSourceOutput, error) {
	src, err := pixelSource(ActionRequest{
		ContainerID:  input.ContainerID,
		EventPrefix:  input.EventPrefix,
		ItemIDFormat: input.ItemIDFormat,
		CountryCode:  input.CountryCode,
	})
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, &PixelSourceOutput{Source: src}, nil
}

// mcpError keeps typed errors readable for the agent and logs anything else.
func (h *Handler) mcpError(err error) error {
	if apiErr, ok := model.AsAPIError(err); ok && apiErr.Code != model.CodeInternal {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	h.logger.Error("mcp internal error", slog.String("error", err.Error()))
	return errors.New("internal error")
}
