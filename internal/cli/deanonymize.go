package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/walkerbdev/radifox-convert/internal/deanon"
	"github.com/walkerbdev/radifox-convert/internal/store"
)

// DeanonymizeOptions holds flags for the deanonymize command.
type DeanonymizeOptions struct {
	*RootOptions
	ProjectID string
	AnonDB    string
	Subject   string
}

// NewDeanonymizeCommand creates the deanonymize command.
func NewDeanonymizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeanonymizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deanonymize",
		Short: "Restore real identifiers in a converted project tree",
		Long: `Walk the project tree and reverse every mapping recorded in the
database: sidecars get their real subject ID, source path, study UID,
institution and unshifted dates back, and directories and files are
renamed from anonymous tokens to real identifiers.

Rename targets that already exist are reported as conflicts and left
untouched. Running twice is safe; the second pass finds nothing to do.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeanonymize(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ProjectID, "project-id", "p", "", "project identifier")
	cmd.Flags().StringVar(&opts.AnonDB, "anon-db", "", "mapping database file")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "restore only this patient ID")

	return cmd
}

func runDeanonymize(cmd *cobra.Command, opts *DeanonymizeOptions) error {
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
	if opts.AnonDB == "" {
		opts.AnonDB = profile.AnonDB
	}

	if opts.ProjectID == "" {
		return NewExitError(ExitUsageError, "--project-id is required")
	}
	if opts.AnonDB == "" {
		return NewExitError(ExitUsageError, "--anon-db is required")
	}

	projectID := strings.ToUpper(opts.ProjectID)
	projectDir := filepath.Join(opts.OutputRoot, strings.ToLower(projectID))
	if _, err := os.Stat(projectDir); err != nil {
		return outputCommandError(out, ExitUsageError, ErrCodeNotFound,
			fmt.Sprintf("project directory does not exist: %s", projectDir), nil)
	}

	st, err := store.Open(opts.AnonDB)
	if err != nil {
		return outputCommandError(out, ExitFailure, ErrCodeStore, "cannot open mapping database", err.Error())
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.Error("failed to close mapping database", "error", cerr)
		}
	}()

	engine := &deanon.Engine{}
	report, err := engine.Run(cmd.Context(), projectDir, projectID, st, opts.Subject)
	if err != nil {
		if errors.Is(err, deanon.ErrPatientNotFound) {
			return outputCommandError(out, ExitUsageError, ErrCodeNotFound, err.Error(), nil)
		}
		return outputCommandError(out, ExitFailure, ErrCodeStore, "deanonymization failed", err.Error())
	}

	return outputDeanonymizeReport(out, report)
}

func outputDeanonymizeReport(formatter *OutputFormatter, report deanon.Report) error {
	if formatter.Format == "json" {
		return formatter.Success(report)
	}
	fmt.Fprintf(formatter.Writer, "Reversed:  %d\n", report.Reversed)
	fmt.Fprintf(formatter.Writer, "Not found: %d\n", report.NotFound)
	fmt.Fprintf(formatter.Writer, "Conflicts: %d\n", report.Conflicts)
	for _, s := range report.Subjects {
		for _, c := range s.Conflicts {
			fmt.Fprintf(formatter.Writer, "  conflict in %s: %s -> %s already exists\n", c.Dir, c.Name, c.Target)
		}
	}
	return nil
}
