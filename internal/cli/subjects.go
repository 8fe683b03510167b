package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/walkerbdev/radifox-convert/internal/store"
)

// SubjectsOptions holds flags for the subjects command.
type SubjectsOptions struct {
	*RootOptions
	AnonDB string
}

type subjectRow struct {
	PatientID string `json:"patient_id"`
	AnonID    string `json:"anon_id"`
	Sessions  int    `json:"sessions"`
	CreatedAt string `json:"created_at"`
}

// NewSubjectsCommand creates the subjects command.
func NewSubjectsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubjectsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "subjects",
		Short:         "List identity mappings in the database",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubjects(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.AnonDB, "anon-db", "", "mapping database file")

	return cmd
}

func runSubjects(cmd *cobra.Command, opts *SubjectsOptions) error {
	out := opts.formatter(cmd)

	profile, err := opts.loadProfile()
	if err != nil {
		return outputCommandError(out, ExitUsageError, ErrCodeConfig, "invalid config", err.Error())
	}
	if opts.AnonDB == "" {
		opts.AnonDB = profile.AnonDB
	}
	if opts.AnonDB == "" {
		return NewExitError(ExitUsageError, "--anon-db is required")
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

	subjects, err := st.ListSubjects(cmd.Context())
	if err != nil {
		return outputCommandError(out, ExitFailure, ErrCodeStore, "cannot list subjects", err.Error())
	}

	rows := make([]subjectRow, 0, len(subjects))
	for _, s := range subjects {
		sessions, err := st.ListSessions(cmd.Context(), s.AnonID)
		if err != nil {
			return outputCommandError(out, ExitFailure, ErrCodeStore, "cannot list sessions", err.Error())
		}
		rows = append(rows, subjectRow{
			PatientID: s.PatientID,
			AnonID:    s.AnonID,
			Sessions:  len(sessions),
			CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return outputSubjects(out, rows)
}

func outputSubjects(formatter *OutputFormatter, rows []subjectRow) error {
	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"count":    len(rows),
			"subjects": rows,
		})
	}
	if len(rows) == 0 {
		fmt.Fprintln(formatter.Writer, "No subjects in database")
		return nil
	}
	fmt.Fprintf(formatter.Writer, "%-24s %-18s %8s  %s\n", "PATIENT ID", "ANON ID", "SESSIONS", "CREATED")
	for _, r := range rows {
		fmt.Fprintf(formatter.Writer, "%-24s %-18s %8d  %s\n", r.PatientID, r.AnonID, r.Sessions, r.CreatedAt)
	}
	return nil
}
