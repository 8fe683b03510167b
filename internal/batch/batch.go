// Package batch orchestrates subject-at-a-time conversion over a directory
// of subject subdirectories.
//
// Each subdirectory is one subject: a representative DICOM header supplies
// the natural patient identifier, the identity store (when configured)
// assigns the anonymous token and session number, and the converter runs
// once per subject. Store writes for a subject are committed only after its
// conversion succeeds; any failure rolls them back, so a committed session
// row never points at output that does not exist.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/walkerbdev/radifox-convert/internal/convert"
	"github.com/walkerbdev/radifox-convert/internal/inspect"
	"github.com/walkerbdev/radifox-convert/internal/naming"
	"github.com/walkerbdev/radifox-convert/internal/store"
)

// Mappings is the store surface the runner writes through. *store.Store
// satisfies this. A nil Mappings disables pseudonymization entirely.
type Mappings interface {
	GetOrCreateSubject(ctx context.Context, patientID string, demo store.Demographics) (string, error)
	AddSession(ctx context.Context, anonID, sourcePath, originalStudyUID, institutionName string) (string, error)
	Commit() error
	Rollback() error
}

// Inspector extracts patient-level attributes from a subject directory.
type Inspector interface {
	FirstDICOM(dir string) (inspect.PatientInfo, error)
}

// Failure records one subject directory that did not convert.
type Failure struct {
	Directory string `json:"directory"`
	Reason    string `json:"reason"`
}

// Report summarizes a batch run.
type Report struct {
	RunID     string    `json:"run_id"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Runner drives batch conversion. A nil Store means pass-through mode (raw
// patient identifiers, session "1", no database). A nil Inspector means the
// DICOM header inspector, a nil Converter the default external command, and
// a nil Logger slog.Default().
type Runner struct {
	OutputRoot string
	ProjectID  string
	SiteID     string
	LUTFile    string

	// DateShiftDays is stored on first encounter of each subject and
	// passed through to the converter. Only meaningful with a Store.
	DateShiftDays int

	Force      bool
	Reckless   bool
	ForceDICOM bool
	Verbose    bool

	Store     Mappings
	Inspector Inspector
	Converter convert.Converter
	Logger    *slog.Logger
}

// Run converts every subject subdirectory of source in lexical order. One
// subject's failure never halts the batch; failures are aggregated into the
// report. The returned error covers setup problems only.
func (r *Runner) Run(ctx context.Context, source string) (Report, error) {
	info, err := os.Stat(source)
	if err != nil || !info.IsDir() {
		return Report{}, fmt.Errorf("source must be a directory containing subject subdirectories: %s", source)
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return Report{}, fmt.Errorf("read source directory: %w", err)
	}
	var subdirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			subdirs = append(subdirs, entry.Name())
		}
	}
	if len(subdirs) == 0 {
		return Report{}, fmt.Errorf("no subdirectories found in source directory %s", source)
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return Report{}, fmt.Errorf("generate run id: %w", err)
	}

	report := Report{RunID: runID.String()}
	r.logger().Info("starting batch conversion",
		"run_id", report.RunID, "subjects", len(subdirs), "anonymize", r.Store != nil)

	for i, name := range subdirs {
		r.logger().Info("processing subject", "dir", name, "index", i+1, "total", len(subdirs))
		if err := r.processSubject(ctx, filepath.Join(source, name)); err != nil {
			r.logger().Warn("subject failed", "dir", name, "error", err)
			report.Failed++
			report.Failures = append(report.Failures, Failure{Directory: name, Reason: err.Error()})
			continue
		}
		report.Processed++
	}

	r.logger().Info("batch conversion complete",
		"processed", report.Processed, "failed", report.Failed)
	return report, nil
}

func (r *Runner) processSubject(ctx context.Context, dir string) error {
	info, err := r.inspector().FirstDICOM(dir)
	if err != nil {
		return err
	}

	// Headers missing a PatientID fall back to the directory name.
	patientID := info.PatientID
	if patientID == "" {
		patientID = filepath.Base(dir)
	}

	meta := naming.Metadata{
		ProjectID: r.ProjectID,
		SubjectID: patientID,
		SessionID: "1",
		SiteID:    r.SiteID,
	}

	anonymize := r.Store != nil
	if anonymize {
		anonID, err := r.Store.GetOrCreateSubject(ctx, patientID, store.Demographics{
			PatientName:      info.PatientName,
			PatientBirthDate: info.PatientBirthDate,
			PatientSex:       info.PatientSex,
			DateShiftDays:    r.DateShiftDays,
		})
		if err != nil {
			return err
		}
		sessionID, err := r.Store.AddSession(ctx, anonID, dir, info.StudyUID, info.InstitutionName)
		if err != nil {
			r.rollback()
			return err
		}
		meta.SubjectID = anonID
		meta.SessionID = sessionID
	}

	skip, err := convert.PrepareOutput(r.OutputRoot, meta, "dcm", r.Force, r.Reckless)
	if err != nil || skip != "" {
		if anonymize {
			r.rollback()
		}
		if err != nil {
			return err
		}
		return errors.New(skip)
	}

	req := convert.Request{
		Source:          dir,
		OutputRoot:      r.OutputRoot,
		Meta:            meta,
		LUTFile:         convert.ResolveLUTFile(r.OutputRoot, meta, r.LUTFile),
		ManualNamesFile: convert.ManualNamesFile(r.OutputRoot, meta),
		ForceDICOM:      r.ForceDICOM,
		Anonymize:       anonymize,
		DateShiftDays:   r.DateShiftDays,
		Verbose:         r.Verbose,
	}
	if err := r.converter().Convert(ctx, req); err != nil {
		if anonymize {
			r.rollback()
		}
		return err
	}

	if anonymize {
		if err := r.Store.Commit(); err != nil {
			return fmt.Errorf("commit mappings: %w", err)
		}
	}
	return nil
}

// rollback discards the subject's pending rows. Failures are logged only;
// the subject is already being reported as failed.
func (r *Runner) rollback() {
	if err := r.Store.Rollback(); err != nil {
		r.logger().Warn("rollback failed", "error", err)
	}
}

func (r *Runner) inspector() Inspector {
	if r.Inspector == nil {
		return inspect.HeaderInspector{}
	}
	return r.Inspector
}

func (r *Runner) converter() convert.Converter {
	if r.Converter == nil {
		return &convert.ExecConverter{}
	}
	return r.Converter
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
