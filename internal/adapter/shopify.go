package adapter

import (
	"context"
	"log/slog"

	"gtm-datalayer/internal/inject"
	"gtm-datalayer/internal/scripts"
	"gtm-datalayer/internal/shopify"
)

// Shopify implements Installer over the Admin API.
type Shopify struct {
	platform *shopify.Platform
	deployer *inject.Deployer
	logger   *slog.Logger
}

var _ Installer = (*Shopify)(nil)

// NewShopify creates a Shopify installer.
func NewShopify(platform *shopify.Platform, logger *slog.Logger) *Shopify {
	return &Shopify{platform: platform, deployer: inject.NewDeployer(logger), logger: logger}
}

func (s *Shopify) EnableTagManager(ctx context.Context, shop, token string, p scripts.Params) (*inject.Deployment, error) {
	return s.deployer.Deploy(ctx, s.platform.Client(shop, token), inject.Params{Script: p})
}

func (s *Shopify) EnableDataLayer(ctx context.Context, shop, token string, p scripts.Params) (*inject.Deployment, error) {
	return s.deployer.Deploy(ctx, s.platform.Client(shop, token), inject.Params{Script: p, Directive: true})
}

func (s *Shopify) DisableDataLayer(ctx context.Context, shop, token string) (*inject.Deployment, error) {
	return s.deployer.Remove(ctx, s.platform.Client(shop, token))
}

func (s *Shopify) EnablePixel(ctx context.Context, shop, token string, p scripts.Params) (*shopify.WebPixel, error) {
	px, err := s.platform.Client(shop, token).InstallPixel(ctx, shopify.PixelSettings{
		Name:        PixelName,
		ContainerID: p.ContainerID,
		EventPrefix: p.EventPrefix,
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "web pixel installed",
		slog.String("shop", shop),
		slog.String("pixel_id", px.ID),
	)
	return px, nil
}
