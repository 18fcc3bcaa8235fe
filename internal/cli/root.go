// Package cli implements the tagcheck command: offline and live checks of
// the data layer tracking.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"gtm-datalayer/internal/tracker"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for tagcheck.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tagcheck",
		Short: "Check data layer tracking for a store",
		Long:  "Drive storefront sessions, replay pixel notifications, patch theme layouts and verify live installs.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSessionCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewPatchCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))

	return cmd
}

// logger writes diagnostics to w; debug records only in verbose mode.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// TrackingOptions are the per-deployment normalizer settings.
type TrackingOptions struct {
	Scope        string
	CountryCode  string
	ItemIDFormat string
	EventPrefix  string
	Currency     string
}

func (t *TrackingOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.Scope, "scope", tracker.DefaultScope, "item id scope")
	cmd.Flags().StringVar(&t.CountryCode, "country", "", "item id country code")
	cmd.Flags().StringVar(&t.ItemIDFormat, "item-id-format", string(tracker.ItemIDFormatted), "item id format (formatted|unformatted)")
	cmd.Flags().StringVar(&t.EventPrefix, "event-prefix", "", "prefix for every event name")
	cmd.Flags().StringVar(&t.Currency, "currency", "", "currency when a payload carries none")
}

func (t *TrackingOptions) normalizer() (tracker.NormalizerConfig, error) {
	format := tracker.ItemIDFormat(t.ItemIDFormat)
	if format != tracker.ItemIDFormatted && format != tracker.ItemIDUnformatted {
		return tracker.NormalizerConfig{}, fmt.Errorf("invalid item id format %q", t.ItemIDFormat)
	}
	return tracker.NormalizerConfig{
		Scope:       t.Scope,
		CountryCode: t.CountryCode,
		Format:      format,
		EventPrefix: t.EventPrefix,
		Currency:    t.Currency,
	}, nil
}
