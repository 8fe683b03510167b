package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/walkerbdev/radifox-convert/internal/batch"
	"github.com/walkerbdev/radifox-convert/internal/convert"
	"github.com/walkerbdev/radifox-convert/internal/store"
)

// BatchOptions holds flags for the batch command.
type BatchOptions struct {
	*RootOptions
	ProjectID     string
	SiteID        string
	LUTFile       string
	AnonDB        string
	DateShiftDays int
	Force         bool
	Reckless      bool
	ForceDICOM    bool

	// Converter and Inspector override the external engine and DICOM
	// header reader in tests.
	Converter convert.Converter
	Inspector batch.Inspector
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	return newBatchCommand(&BatchOptions{RootOptions: rootOpts})
}

func newBatchCommand(opts *BatchOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <source>",
		Short: "Convert every subject directory under a source directory",
		Long: `Convert each subdirectory of the source directory as one subject.
Subject identifiers come from DICOM headers, falling back to directory
names. With --anon-db, real identifiers are swapped for anonymous tokens
recorded in the mapping database; mappings commit only after the
subject's conversion succeeds.

One failing subject never aborts the batch. The run fails outright only
when every subject fails.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.ProjectID, "project-id", "p", "", "project identifier")
	cmd.Flags().StringVar(&opts.SiteID, "site-id", "", "site identifier")
	cmd.Flags().StringVarP(&opts.LUTFile, "lut-file", "l", "", "naming lookup table file")
	cmd.Flags().StringVar(&opts.AnonDB, "anon-db", "", "mapping database file (enables anonymization)")
	cmd.Flags().IntVar(&opts.DateShiftDays, "date-shift-days", 0, "shift acquisition dates backward this many days")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "convert even when output exists")
	cmd.Flags().BoolVar(&opts.Reckless, "reckless", false, "remove existing output before converting")
	cmd.Flags().BoolVar(&opts.ForceDICOM, "force-dicom", false, "treat all source files as DICOM")

	return cmd
}

func runBatch(cmd *cobra.Command, opts *BatchOptions, source string) error {
	out := opts.formatter(cmd)

	if err := opts.requireOutputRoot(); err != nil {
		return err
	}

	profile, err := opts.loadProfile()
	if err != nil {
		return outputCommandError(out, ExitUsageError, ErrCodeConfig, "invalid config", err.Error())
	}
	if opts.ProjectID == "" {
		opts.ProjectID = profile.ProjectID
	}
	if opts.SiteID == "" {
		opts.SiteID = profile.SiteID
	}
	if opts.AnonDB == "" {
		opts.AnonDB = profile.AnonDB
	}
	if !cmd.Flags().Changed("date-shift-days") && profile.DateShiftDays != 0 {
		opts.DateShiftDays = profile.DateShiftDays
	}

	if opts.ProjectID == "" {
		return NewExitError(ExitUsageError, "--project-id is required")
	}
	if opts.DateShiftDays != 0 && opts.AnonDB == "" {
		return NewExitError(ExitUsageError, "--date-shift-days requires --anon-db")
	}

	runner := &batch.Runner{
		OutputRoot:    opts.OutputRoot,
		ProjectID:     opts.ProjectID,
		SiteID:        opts.SiteID,
		LUTFile:       opts.LUTFile,
		DateShiftDays: opts.DateShiftDays,
		Force:         opts.Force,
		Reckless:      opts.Reckless,
		ForceDICOM:    opts.ForceDICOM,
		Verbose:       opts.Verbose,
		Inspector:     opts.Inspector,
		Converter:     newConverter(profile, opts.Converter),
	}

	if opts.AnonDB != "" {
		st, err := store.Open(opts.AnonDB)
		if err != nil {
			return outputCommandError(out, ExitFailure, ErrCodeStore, "cannot open mapping database", err.Error())
		}
		defer func() {
			if cerr := st.Close(); cerr != nil {
				slog.Error("failed to close mapping database", "error", cerr)
			}
		}()
		runner.Store = st
	}

	report, err := runner.Run(cmd.Context(), source)
	if err != nil {
		return outputCommandError(out, ExitUsageError, ErrCodeUsage, err.Error(), nil)
	}

	if report.Processed == 0 && report.Failed > 0 {
		return outputCommandError(out, ExitFailure, ErrCodeConversion, "all subjects failed", failureDetails(report))
	}

	return outputBatchReport(out, report)
}

func outputBatchReport(formatter *OutputFormatter, report batch.Report) error {
	if formatter.Format == "json" {
		return formatter.Success(report)
	}
	fmt.Fprintf(formatter.Writer, "Processed: %d\n", report.Processed)
	fmt.Fprintf(formatter.Writer, "Failed:    %d\n", report.Failed)
	if len(report.Failures) > 0 {
		fmt.Fprintln(formatter.Writer, "Failed directories:")
		for _, f := range report.Failures {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n", f.Directory, f.Reason)
		}
	}
	return nil
}

func failureDetails(report batch.Report) string {
	lines := make([]string, 0, len(report.Failures))
	for _, f := range report.Failures {
		lines = append(lines, fmt.Sprintf("%s: %s", f.Directory, f.Reason))
	}
	return strings.Join(lines, "\n")
}
