package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/walkerbdev/radifox-convert/internal/convert"
	"github.com/walkerbdev/radifox-convert/internal/naming"
)

// ConvertOptions holds flags for the convert command.
type ConvertOptions struct {
	*RootOptions
	ProjectID     string
	SubjectID     string
	SessionID     string
	SiteID        string
	LUTFile       string
	PARREC        bool
	Symlink       bool
	Hardlink      bool
	Institution   string
	FieldStrength int
	ForceDICOM    bool
	ForceDerived  bool
	Force         bool
	Reckless      bool

	// Converter overrides the external engine in tests.
	Converter convert.Converter
}

// NewConvertCommand creates the convert command.
func NewConvertCommand(rootOpts *RootOptions) *cobra.Command {
	return newConvertCommand(&ConvertOptions{RootOptions: rootOpts})
}

func newConvertCommand(opts *ConvertOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <source>",
		Short: "Convert a single imaging session",
		Long: `Convert one source directory into the project tree under the output
root. Project, subject and session identifiers name the output session
directory {project}/{PROJECT-SUBJECT}/{PROJECT-SUBJECT_session}.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.ProjectID, "project-id", "p", "", "project identifier")
	cmd.Flags().StringVarP(&opts.SubjectID, "subject-id", "s", "", "subject identifier")
	cmd.Flags().StringVarP(&opts.SessionID, "session-id", "e", "", "session identifier")
	cmd.Flags().StringVar(&opts.SiteID, "site-id", "", "site identifier")
	cmd.Flags().StringVarP(&opts.LUTFile, "lut-file", "l", "", "naming lookup table file")
	cmd.Flags().BoolVar(&opts.PARREC, "parrec", false, "source is PARREC instead of DICOM")
	cmd.Flags().BoolVar(&opts.Symlink, "symlink", false, "symlink source files instead of copying")
	cmd.Flags().BoolVar(&opts.Hardlink, "hardlink", false, "hardlink source files instead of copying")
	cmd.Flags().StringVar(&opts.Institution, "institution", "", "override institution name")
	cmd.Flags().IntVar(&opts.FieldStrength, "field-strength", 0, "override scanner field strength")
	cmd.Flags().BoolVar(&opts.ForceDICOM, "force-dicom", false, "treat all source files as DICOM")
	cmd.Flags().BoolVar(&opts.ForceDerived, "force-derived", false, "treat all source images as derived")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "convert even when output exists")
	cmd.Flags().BoolVar(&opts.Reckless, "reckless", false, "remove existing output before converting")

	return cmd
}

func runConvert(cmd *cobra.Command, opts *ConvertOptions, source string) error {
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

	required := []struct {
		flag  string
		value string
	}{
		{"--project-id", opts.ProjectID},
		{"--subject-id", opts.SubjectID},
		{"--session-id", opts.SessionID},
	}
	for _, r := range required {
		if r.value == "" {
			return NewExitError(ExitUsageError, fmt.Sprintf("%s is required", r.flag))
		}
	}
	if opts.Symlink && opts.Hardlink {
		return NewExitError(ExitUsageError, "only one of --symlink and --hardlink can be used")
	}

	meta := naming.Metadata{
		ProjectID: opts.ProjectID,
		SubjectID: opts.SubjectID,
		SessionID: opts.SessionID,
		SiteID:    opts.SiteID,
	}

	typeDir := "dcm"
	if opts.PARREC {
		typeDir = "parrec"
	}
	skip, err := convert.PrepareOutput(opts.OutputRoot, meta, typeDir, opts.Force, opts.Reckless)
	if err != nil {
		return outputCommandError(out, ExitFailure, ErrCodeConversion, err.Error(), nil)
	}
	if skip != "" {
		return outputCommandError(out, ExitFailure, ErrCodeConversion, skip, nil)
	}

	linking := ""
	switch {
	case opts.Symlink:
		linking = "symlink"
	case opts.Hardlink:
		linking = "hardlink"
	}

	req := convert.Request{
		Source:          source,
		OutputRoot:      opts.OutputRoot,
		Meta:            meta,
		LUTFile:         convert.ResolveLUTFile(opts.OutputRoot, meta, opts.LUTFile),
		ManualNamesFile: convert.ManualNamesFile(opts.OutputRoot, meta),
		Linking:         linking,
		Institution:     opts.Institution,
		FieldStrength:   opts.FieldStrength,
		PARREC:          opts.PARREC,
		ForceDICOM:      opts.ForceDICOM,
		ForceDerived:    opts.ForceDerived,
		Verbose:         opts.Verbose,
	}

	converter := newConverter(profile, opts.Converter)
	if err := converter.Convert(cmd.Context(), req); err != nil {
		return outputCommandError(out, ExitFailure, ErrCodeConversion, "conversion failed", err.Error())
	}

	return outputConvertSuccess(out, source, opts.OutputRoot, meta)
}

func outputConvertSuccess(formatter *OutputFormatter, source, outputRoot string, meta naming.Metadata) error {
	dest := filepath.Join(outputRoot, meta.RelPath())
	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"source":      source,
			"destination": dest,
			"project_id":  meta.ProjectID,
			"subject_id":  meta.SubjectID,
			"session_id":  meta.SessionID,
		})
	}
	fmt.Fprintf(formatter.Writer, "Converted %s -> %s\n", source, dest)
	return nil
}
