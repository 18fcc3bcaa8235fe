package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gtm-datalayer/internal/tracker"
	"gtm-datalayer/internal/transport"
)

// SessionOptions holds flags for the session command.
type SessionOptions struct {
	*RootOptions
	Tracking   TrackingOptions
	Selectors  string
	Store      string
	DebounceMS int
	// RequestsPerSecond paces storefront traffic.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// NewSessionCommand creates the session command.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "session <script.yaml>",
		Short: "Run a scripted storefront session and print the data layer",
		Long: `Drive a live storefront through a scripted session with the page runtime
attached, then print every data layer record it produced.

Steps run in order and each waits for the events it triggers before the next
starts. Clicks, pointerdowns and hovers are dispatched against the markup of
the script's page.

Examples:
  tagcheck session browse.yaml --country US
  tagcheck session browse.yaml --store https://staging.example.com --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), opts, cmd, args[0])
		},
	}

	opts.Tracking.register(cmd)
	cmd.Flags().StringVar(&opts.Selectors, "selectors", "", "selector override file (YAML)")
	cmd.Flags().StringVar(&opts.Store, "store", "", "override the script's store url")
	cmd.Flags().IntVar(&opts.DebounceMS, "search-debounce-ms", 0, "search debounce in milliseconds")
	cmd.Flags().Float64Var(&opts.RequestsPerSecond, "rps", 4, "storefront requests per second (0 disables pacing)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "overall session timeout")

	return cmd
}

// storefrontTransport is replaced in tests.
var storefrontTransport = func(requestsPerSecond float64) http.RoundTripper {
	return transport.NewStorefrontTransport(transport.Options{
		RequestsPerSecond: requestsPerSecond,
		Burst:             4,
	})
}

func runSession(ctx context.Context, opts *SessionOptions, cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read script", err)
	}
	script, err := ParseScript(data)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid script", err)
	}
	if opts.Store != "" {
		script.Store = opts.Store
	}

	norm, err := opts.Tracking.normalizer()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	}
	var binder tracker.BinderConfig
	if opts.Selectors != "" {
		raw, err := os.ReadFile(opts.Selectors)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read selectors", err)
		}
		if binder, err = tracker.ParseBinderConfig(raw); err != nil {
			return WrapExitError(ExitCommandError, "invalid selectors", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	logger := opts.logger(cmd.ErrOrStderr())
	layer := tracker.NewDataLayer()

	page, err := tracker.NewPage(ctx, tracker.PageConfig{
		StoreURL:   script.Store,
		Normalizer: norm,
		Binder:     binder,
		Debounce:   time.Duration(opts.DebounceMS) * time.Millisecond,
		Transport:  storefrontTransport(opts.RequestsPerSecond),
		Channel:    layer,
		Logger:     logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start page", err)
	}
	defer page.Close()

	r := &runner{page: page}
	if err := r.load(ctx, script.Page); err != nil {
		return WrapExitError(ExitCommandError, "failed to load page", err)
	}

	for i, step := range script.Steps {
		logger.Debug("session step", slog.Int("step", i+1), slog.String("action", step.describe()))
		if err := r.run(ctx, step); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("step %d (%s)", i+1, step.describe()), err)
		}
		page.Wait()
	}

	return writeEvents(cmd.OutOrStdout(), opts.Format, layer.Records())
}
