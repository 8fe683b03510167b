// Package cli implements the radifox-convert command surface.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/walkerbdev/radifox-convert/internal/config"
	"github.com/walkerbdev/radifox-convert/internal/convert"
)

// RootOptions holds global flags shared by all subcommands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	OutputRoot string
	ConfigPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the radifox-convert CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "radifox-convert",
		Short: "Convert imaging studies into pseudonymized project trees",
		Long: `radifox-convert drives an external conversion engine over DICOM or
PARREC sources, laying results out as {project}/{PROJECT-SUBJECT}/
{PROJECT-SUBJECT_session} trees.

Batch mode maps real patient identifiers to anonymous tokens in a SQLite
mapping database; deanonymize reverses a converted tree back to real
identifiers using those mappings.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitUsageError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			setupLogging(opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.OutputRoot, "output-root", "o", "", "output root directory")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default: radifox.yaml under the output root)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewConvertCommand(opts))
	cmd.AddCommand(NewBatchCommand(opts))
	cmd.AddCommand(NewDeanonymizeCommand(opts))
	cmd.AddCommand(NewSubjectsCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// setupLogging routes structured logs to stderr, at Warn by default and
// Debug with --verbose.
func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// loadProfile loads the config profile from the explicit --config path, or
// from the default file under the output root when one exists.
func (opts *RootOptions) loadProfile() (config.Profile, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultPath(opts.OutputRoot)
	}
	if path == "" {
		return config.Profile{}, nil
	}
	return config.Load(path)
}

// formatter builds the OutputFormatter for one command invocation.
func (opts *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// requireOutputRoot validates the shared --output-root flag.
func (opts *RootOptions) requireOutputRoot() error {
	if opts.OutputRoot == "" {
		return NewExitError(ExitUsageError, "--output-root is required")
	}
	return nil
}

// newConverter assembles the external converter from the profile, unless a
// test override is supplied.
func newConverter(profile config.Profile, override convert.Converter) convert.Converter {
	if override != nil {
		return override
	}
	return &convert.ExecConverter{
		Command: profile.Converter.Command,
		Args:    profile.Converter.Args,
		Timeout: time.Duration(profile.Converter.Timeout),
	}
}
