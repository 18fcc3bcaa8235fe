package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gtm-datalayer/internal/verify"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Chrome  string
	Click   []string
	Settle  time.Duration
	Timeout time.Duration
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <url>",
		Short: "Load a storefront in headless Chrome and check the install",
		Long: `Load a storefront page in headless Chrome and report whether the head block
is installed, which version it carries, and what the data layer holds.

Exit codes:
  0 - head block installed and configured
  1 - tracking missing or inactive
  2 - command error (Chrome not found, page did not load, etc.)

Examples:
  tagcheck verify https://demo.myshopify.com
  tagcheck verify https://demo.myshopify.com/products/tee --click "button[name=add]"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Chrome, "chrome", "", "Chrome executable (defaults to CHROME_PATH or a common install path)")
	cmd.Flags().StringArrayVar(&opts.Click, "click", nil, "selector to click after load (repeatable)")
	cmd.Flags().DurationVar(&opts.Settle, "settle", 2*time.Second, "wait after load and after each click")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 45*time.Second, "overall timeout")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command, url string) error {
	report, err := verify.DataLayer(cmd.Context(), url, verify.Options{
		ChromePath: opts.Chrome,
		Timeout:    opts.Timeout,
		Settle:     opts.Settle,
		Click:      opts.Click,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "verification failed", err)
	}

	if opts.Format == "json" {
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printReport(cmd, report)
	}

	if !report.OK() {
		return NewExitError(ExitFailure, "tracking not active on "+url)
	}
	return nil
}

func printReport(cmd *cobra.Command, r *verify.Report) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "url:        %s\n", r.URL)
	fmt.Fprintf(w, "head block: %s\n", yesNo(r.HeadBlock))
	if r.Version != "" {
		current := "current"
		if !r.Current {
			current = "outdated"
		}
		fmt.Fprintf(w, "version:    %s (%s)\n", r.Version, current)
	}
	fmt.Fprintf(w, "configured: %s\n", yesNo(r.Configured))
	fmt.Fprintf(w, "container:  %s (%d script requests)\n", yesNo(r.ContainerLoaded), len(r.ContainerRequests))
	fmt.Fprintf(w, "events:     %s\n", strings.Join(r.Events, ", "))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
