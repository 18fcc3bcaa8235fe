package adapter

import (
	"context"

	"gtm-datalayer/internal/inject"
	"gtm-datalayer/internal/model"
	"gtm-datalayer/internal/scripts"
	"gtm-datalayer/internal/shopify"
)

// Mock implements Installer for testing.
// Each method can be configured via function fields.
type Mock struct {
	EnableTagManagerFunc func(ctx context.Context, shop, token string, p scripts.Params) (*inject.Deployment, error)
	EnableDataLayerFunc  func(ctx context.Context, shop, token string, p scripts.Params) (*inject.Deployment, error)
	DisableDataLayerFunc func(ctx context.Context, shop, token string) (*inject.Deployment, error)
	EnablePixelFunc      func(ctx context.Context, shop, token string, p scripts.Params) (*shopify.WebPixel, error)
}

// EnableTagManager calls the configured EnableTagManagerFunc or returns an error.
func (m *Mock) EnableTagManager(ctx context.Context, shop, token string, p scripts.Params) (*inject.Deployment, error) {
	if m.EnableTagManagerFunc != nil {
		return m.EnableTagManagerFunc(ctx, shop, token, p)
	}
	return nil, model.NewInternalError(nil)
}

// EnableDataLayer calls the configured EnableDataLayerFunc or returns an error.
func (m *Mock) EnableDataLayer(ctx context.Context, shop, token string, p scripts.Params) (*inject.Deployment, error) {
	if m.EnableDataLayerFunc != nil {
		return m.EnableDataLayerFunc(ctx, shop, token, p)
	}
	return nil, model.NewInternalError(nil)
}

// DisableDataLayer calls the configured DisableDataLayerFunc or returns an error.
func (m *Mock) DisableDataLayer(ctx context.Context, shop, token string) (*inject.Deployment, error) {
	if m.DisableDataLayerFunc != nil {
		return m.DisableDataLayerFunc(ctx, shop, token)
	}
	return nil, model.NewInternalError(nil)
}

// EnablePixel calls the configured EnablePixelFunc or returns an error.
func (m *Mock) EnablePixel(ctx context.Context, shop, token string, p scripts.Params) (*shopify.WebPixel, error) {
	if m.EnablePixelFunc != nil {
		return m.EnablePixelFunc(ctx, shop, token, p)
	}
	return nil, model.NewInternalError(nil)
}

// Verify Mock implements Installer interface at compile time.
var _ Installer = (*Mock)(nil)
