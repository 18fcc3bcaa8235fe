package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gtm-datalayer/internal/inject"
	"gtm-datalayer/internal/scripts"
	"gtm-datalayer/internal/tracker"
)

// PatchOptions holds flags for the patch command.
type PatchOptions struct {
	*RootOptions
	Tracking    TrackingOptions
	ContainerID string
	Selectors   string
	DebounceMS  int
	Directive   bool
	Debug       bool
	Strip       bool
	Write       bool
}

// PatchResult is the json output of the patch command.
type PatchResult struct {
	File             string `json:"file"`
	Changed          bool   `json:"changed"`
	InstalledVersion string `json:"installed_version,omitempty"`
	Version          string `json:"version,omitempty"`
	Written          bool   `json:"written"`
}

// NewPatchCommand creates the patch command.
func NewPatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "patch <layout>",
		Short: "Install or remove tracking blocks in a local theme layout",
		Long: `Patch a theme layout file the same way the app patches a live theme.

Without --write the patched document is printed and the file is left alone.
Patching is idempotent: a second run over its own output reports no change.

Examples:
  tagcheck patch layout/theme.liquid --container GTM-ABC123
  tagcheck patch layout/theme.liquid --container GTM-ABC123 --directive --write
  tagcheck patch layout/theme.liquid --strip --write`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatch(opts, cmd, args[0])
		},
	}

	opts.Tracking.register(cmd)
	cmd.Flags().StringVar(&opts.ContainerID, "container", "", "tag manager container id")
	cmd.Flags().StringVar(&opts.Selectors, "selectors", "", "selector override file (YAML)")
	cmd.Flags().IntVar(&opts.DebounceMS, "search-debounce-ms", 0, "search debounce in milliseconds")
	cmd.Flags().BoolVar(&opts.Directive, "directive", false, "also install the snippet render directive")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "mirror run-time pushes to the browser console")
	cmd.Flags().BoolVar(&opts.Strip, "strip", false, "remove installed blocks instead of installing")
	cmd.Flags().BoolVar(&opts.Write, "write", false, "write the result back to the file")

	return cmd
}

func runPatch(opts *PatchOptions, cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read layout", err)
	}
	doc := string(data)

	result := PatchResult{File: path, InstalledVersion: inject.InstalledVersion(doc)}
	var out inject.Result
	if opts.Strip {
		out, err = inject.Strip(doc)
	} else {
		var params scripts.Params
		params, err = opts.params()
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid flags", err)
		}
		result.Version = scripts.Version
		out, err = inject.Patch(doc, inject.Params{Script: params, Directive: opts.Directive})
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to patch "+path, err)
	}
	result.Changed = out.Changed

	if !opts.Write {
		if opts.Format == "json" {
			return writeJSON(cmd.OutOrStdout(), struct {
				PatchResult
				Document string `json:"document"`
			}{result, out.Document})
		}
		_, err := io.WriteString(cmd.OutOrStdout(), out.Document)
		return err
	}

	if out.Changed {
		info, err := os.Stat(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to stat layout", err)
		}
		if err := os.WriteFile(path, []byte(out.Document), info.Mode().Perm()); err != nil {
			return WrapExitError(ExitCommandError, "failed to write layout", err)
		}
		result.Written = true
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	switch {
	case !out.Changed:
		fmt.Fprintf(cmd.OutOrStdout(), "%s: unchanged\n", path)
	case opts.Strip:
		fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %s\n", path, versionOrNone(result.InstalledVersion))
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", path, versionOrNone(result.InstalledVersion), result.Version)
	}
	return nil
}

func (o *PatchOptions) params() (scripts.Params, error) {
	p := scripts.Params{
		ContainerID:  o.ContainerID,
		EventPrefix:  o.Tracking.EventPrefix,
		ItemIDFormat: tracker.ItemIDFormat(o.Tracking.ItemIDFormat),
		Scope:        o.Tracking.Scope,
		CountryCode:  o.Tracking.CountryCode,
		Debounce:     time.Duration(o.DebounceMS) * time.Millisecond,
		Debug:        o.Debug,
	}
	if o.Selectors != "" {
		data, err := os.ReadFile(o.Selectors)
		if err != nil {
			return p, err
		}
		if p.Selectors, err = tracker.ParseBinderConfig(data); err != nil {
			return p, err
		}
	}
	return p, p.Validate()
}

func versionOrNone(v string) string {
	if v == "" {
		return "(none)"
	}
	return v
}
