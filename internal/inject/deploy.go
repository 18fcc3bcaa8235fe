package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/mod/semver"

	"gtm-datalayer/internal/model"
	"gtm-datalayer/internal/scripts"
	"gtm-datalayer/internal/shopify"
)

// LayoutKey is the theme file the blocks are installed into.
const LayoutKey = "layout/theme.liquid"

// ThemeStore reads and writes theme files of one store.
type ThemeStore interface {
	MainTheme(ctx context.Context) (shopify.Theme, error)
	GetAsset(ctx context.Context, themeID int64, key string) (string, error)
	PutAsset(ctx context.Context, themeID int64, key, value string) error
}

// Deployment describes what a deploy did.
type Deployment struct {
	ThemeID          int64    `json:"theme_id"`
	Changed          bool     `json:"changed"`
	InstalledVersion string   `json:"installed_version,omitempty"`
	Version          string   `json:"version"`
	Written          []string `json:"written"`
}

// Deployer patches the main theme of a store. Concurrent deploys against
// the same store race; the later write wins.
type Deployer struct {
	logger *slog.Logger
}

// NewDeployer creates a deployer.
func NewDeployer(logger *slog.Logger) *Deployer {
	return &Deployer{logger: logger}
}

// Deploy installs the blocks into the main theme layout. With p.Directive
// the snippet and run-time asset are installed as well. A file is only
// written when its content differs from what the theme holds.
func (d *Deployer) Deploy(ctx context.Context, store ThemeStore, p Params) (*Deployment, error) {
	theme, err := store.MainTheme(ctx)
	if err != nil {
		return nil, err
	}

	layout, err := store.GetAsset(ctx, theme.ID, LayoutKey)
	if err != nil {
		return nil, err
	}

	result, err := Patch(layout, p)
	if err != nil {
		return nil, fmt.Errorf("patching %s: %w", LayoutKey, err)
	}
	d.logVersion(theme.ID, result.InstalledVersion)

	dep := &Deployment{
		ThemeID:          theme.ID,
		Changed:          result.Changed,
		InstalledVersion: result.InstalledVersion,
		Version:          scripts.Version,
		Written:          []string{},
	}

	if p.Directive {
		snippet, err := scripts.Snippet(p.Script)
		if err != nil {
			return nil, err
		}
		runtime, err := scripts.Runtime(p.Script)
		if err != nil {
			return nil, err
		}
		// Referenced files go first so the directive never points at a
		// missing snippet.
		for _, f := range []struct{ key, value string }{
			{scripts.SnippetKey, snippet},
			{scripts.AssetKey, runtime},
		} {
			written, err := putIfChanged(ctx, store, theme.ID, f.key, f.value)
			if err != nil {
				return nil, err
			}
			if written {
				dep.Written = append(dep.Written, f.key)
			}
		}
	}

	if result.Changed {
		if err := store.PutAsset(ctx, theme.ID, LayoutKey, result.Document); err != nil {
			return nil, err
		}
		dep.Written = append(dep.Written, LayoutKey)
	}

	d.logger.Info("theme deployed",
		slog.Int64("theme_id", theme.ID),
		slog.Bool("changed", result.Changed),
		slog.Any("written", dep.Written),
	)
	return dep, nil
}

// Remove strips every installed block and directive from the main theme
// layout. The snippet and asset files are left in place.
func (d *Deployer) Remove(ctx context.Context, store ThemeStore) (*Deployment, error) {
	theme, err := store.MainTheme(ctx)
	if err != nil {
		return nil, err
	}
	layout, err := store.GetAsset(ctx, theme.ID, LayoutKey)
	if err != nil {
		return nil, err
	}

	result, err := Strip(layout)
	if err != nil {
		return nil, fmt.Errorf("stripping %s: %w", LayoutKey, err)
	}

	dep := &Deployment{
		ThemeID:          theme.ID,
		Changed:          result.Changed,
		InstalledVersion: result.InstalledVersion,
		Written:          []string{},
	}
	if result.Changed {
		if err := store.PutAsset(ctx, theme.ID, LayoutKey, result.Document); err != nil {
			return nil, err
		}
		dep.Written = append(dep.Written, LayoutKey)
	}
	return dep, nil
}

// putIfChanged writes value under key unless the theme already holds it.
// A missing file counts as changed.
func putIfChanged(ctx context.Context, store ThemeStore, themeID int64, key, value string) (bool, error) {
	current, err := store.GetAsset(ctx, themeID, key)
	switch {
	case errors.Is(err, model.ErrNotFound):
	case err != nil:
		return false, err
	case current == value:
		return false, nil
	}
	if err := store.PutAsset(ctx, themeID, key, value); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Deployer) logVersion(themeID int64, installed string) {
	switch {
	case installed == "":
		d.logger.Info("installing blocks", slog.Int64("theme_id", themeID), slog.String("version", scripts.Version))
	case !semver.IsValid(installed):
		d.logger.Warn("installed blocks carry an unparseable version",
			slog.Int64("theme_id", themeID), slog.String("installed", installed))
	case semver.Compare(installed, scripts.Version) > 0:
		d.logger.Warn("downgrading installed blocks",
			slog.Int64("theme_id", themeID),
			slog.String("installed", installed),
			slog.String("version", scripts.Version),
		)
	case semver.Compare(installed, scripts.Version) < 0:
		d.logger.Info("upgrading installed blocks",
			slog.Int64("theme_id", themeID),
			slog.String("installed", installed),
			slog.String("version", scripts.Version),
		)
	}
}
