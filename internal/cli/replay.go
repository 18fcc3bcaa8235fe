package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gtm-datalayer/internal/tracker"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Tracking TrackingOptions
	// Strict fails on the first notification that cannot be mapped.
	Strict bool
}

// Notification is one line of a replay log.
type Notification struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [file]",
		Short: "Map recorded pixel notifications to data layer events",
		Long: `Replay a log of checkout pixel notifications through the same mapping the
pixel uses and print the resulting data layer.

The log holds one JSON object per line: {"name": "product_viewed", "data": {...}}.
Reads standard input when no file is given or the file is "-".

Examples:
  tagcheck replay events.jsonl --country US
  tagcheck replay --format json < events.jsonl`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to open log", err)
				}
				defer f.Close()
				in = f
			}
			return runReplay(opts, cmd, in)
		},
	}

	opts.Tracking.register(cmd)
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail on notifications that cannot be mapped")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command, in io.Reader) error {
	cfg, err := opts.Tracking.normalizer()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	}
	logger := opts.logger(cmd.ErrOrStderr())

	layer := tracker.NewDataLayer()
	norm := tracker.NewNormalizer(cfg, layer, logger)
	mapper := tracker.NewSourceMapper()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var n Notification
		if err := json.Unmarshal([]byte(text), &n); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("line %d", line), err)
		}

		mapped, err := mapper.Map(n.Name, n.Data)
		if err != nil {
			if opts.Strict {
				return WrapExitError(ExitFailure, fmt.Sprintf("line %d", line), err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "line %d: skipped: %v\n", line, err)
			continue
		}
		for _, m := range mapped {
			norm.Emit(m.Name, m.Payload)
		}
	}
	if err := scanner.Err(); err != nil {
		return WrapExitError(ExitCommandError, "failed to read log", err)
	}

	return writeEvents(cmd.OutOrStdout(), opts.Format, layer.Records())
}
