// Package adapter runs the operator actions against a store's platform.
// Handlers validate input first; adapters only ever see well-formed shops,
// tokens and script parameters.
package adapter

import (
	"context"

	"gtm-datalayer/internal/inject"
	"gtm-datalayer/internal/scripts"
	"gtm-datalayer/internal/shopify"
)

// PixelName is the name the web pixel is registered under.
const PixelName = "gtm-datalayer"

// Installer abstracts the install actions behind the operator surface.
// Every method writes to the remote store and returns a platform error
// (model.APIError) on failure so the operator can retry or install manually.
type Installer interface {
	// EnableTagManager installs the container head and body blocks into the
	// main theme layout.
	EnableTagManager(ctx context.Context, shop, token string, p scripts.Params) (*inject.Deployment, error)

	// EnableDataLayer installs the blocks, the render directive, the theme
	// snippet and the run-time asset.
	EnableDataLayer(ctx context.Context, shop, token string, p scripts.Params) (*inject.Deployment, error)

	// DisableDataLayer strips every installed block and directive.
	DisableDataLayer(ctx context.Context, shop, token string) (*inject.Deployment, error)

	// EnablePixel creates or updates the app web pixel.
	EnablePixel(ctx context.Context, shop, token string, p scripts.Params) (*shopify.WebPixel, error)
}
