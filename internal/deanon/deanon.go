// Package deanon reverses pseudonymization in a converted project tree.
//
// The engine walks subject directories named with anonymous tokens and
// restores real patient identifiers in three places: JSON sidecar content,
// artifact file names, and directory names. It consumes identity records
// from the mapping store and never touches the store itself.
package deanon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/walkerbdev/radifox-convert/internal/dateshift"
	"github.com/walkerbdev/radifox-convert/internal/naming"
	"github.com/walkerbdev/radifox-convert/internal/store"
)

// ErrPatientNotFound indicates a requested patient filter matched no stored
// subject.
var ErrPatientNotFound = errors.New("patient ID not found in database")

// DateShifter moves a date-bearing string by a signed number of days.
type DateShifter func(value string, days int) (string, error)

// Outcome classifies what happened to one subject.
type Outcome string

const (
	// OutcomeReversed means the subject directory was found and processed.
	OutcomeReversed Outcome = "reversed"

	// OutcomeNotFound means no anonymized directory exists for the subject.
	// Normal for partial trees and for reruns after a successful reversal.
	OutcomeNotFound Outcome = "not_found"
)

// Conflict records a rename that was skipped because its target exists.
type Conflict struct {
	Dir    string `json:"dir"`
	Name   string `json:"name"`
	Target string `json:"target"`
}

// SubjectResult reports the work done for one subject.
type SubjectResult struct {
	PatientID string     `json:"patient_id"`
	AnonID    string     `json:"anon_id"`
	Outcome   Outcome    `json:"outcome"`
	Patched   int        `json:"patched"`
	Renamed   int        `json:"renamed"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// Report aggregates a full deanonymization pass.
type Report struct {
	Reversed  int             `json:"reversed"`
	NotFound  int             `json:"not_found"`
	Conflicts int             `json:"conflicts"`
	Subjects  []SubjectResult `json:"subjects"`
}

// Mappings provides the identity records to reverse. *store.Store satisfies
// this.
type Mappings interface {
	ListSubjects(ctx context.Context) ([]store.Subject, error)
	ListSessions(ctx context.Context, anonID string) ([]store.Session, error)
}

// Engine performs the reversal. The zero value logs to slog.Default() and
// shifts dates with the dateshift package.
type Engine struct {
	// Logger receives per-file and per-subject actions. Nil means
	// slog.Default().
	Logger *slog.Logger

	// Shift moves acquisition timestamps. Nil means dateshift.Shift.
	Shift DateShifter
}

// Run reverses every stored subject under projectDir, or only the subject
// whose patient identifier equals patientID when it is non-empty. Returns
// ErrPatientNotFound (wrapped) when the filter matches nothing.
func (e *Engine) Run(ctx context.Context, projectDir, projectID string, mappings Mappings, patientID string) (Report, error) {
	subjects, err := mappings.ListSubjects(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("deanonymize: %w", err)
	}

	if patientID != "" {
		filtered := make([]store.Subject, 0, 1)
		for _, subject := range subjects {
			if subject.PatientID == patientID {
				filtered = append(filtered, subject)
			}
		}
		if len(filtered) == 0 {
			return Report{}, fmt.Errorf("%w: %q", ErrPatientNotFound, patientID)
		}
		subjects = filtered
	}

	report := Report{Subjects: make([]SubjectResult, 0, len(subjects))}
	for _, subject := range subjects {
		sessions, err := mappings.ListSessions(ctx, subject.AnonID)
		if err != nil {
			return report, fmt.Errorf("deanonymize %s: %w", subject.AnonID, err)
		}

		result, err := e.ReverseSubject(projectDir, projectID, subject, sessions)
		if err != nil {
			return report, err
		}

		switch result.Outcome {
		case OutcomeReversed:
			report.Reversed++
		case OutcomeNotFound:
			report.NotFound++
		}
		report.Conflicts += len(result.Conflicts)
		report.Subjects = append(report.Subjects, result)
	}
	return report, nil
}

// ReverseSubject restores one subject's real identifier in sidecar content,
// artifact names, session directory names, and finally the subject
// directory name. A missing subject directory is reported as not found, not
// an error, so reruns and partial trees are safe. Rename targets that
// already exist are skipped and reported as conflicts, never overwritten.
func (e *Engine) ReverseSubject(projectDir, projectID string, subject store.Subject, sessions []store.Session) (SubjectResult, error) {
	result := SubjectResult{PatientID: subject.PatientID, AnonID: subject.AnonID}

	anonDirName := naming.SubjectDirName(projectID, subject.AnonID)
	realDirName := naming.SubjectDirName(projectID, subject.PatientID)
	subjectDir := filepath.Join(projectDir, anonDirName)

	if _, err := os.Stat(subjectDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			e.logger().Info("skipping subject, directory not found", "dir", anonDirName)
			result.Outcome = OutcomeNotFound
			return result, nil
		}
		return result, fmt.Errorf("reverse subject %s: %w", subject.AnonID, err)
	}

	result.Outcome = OutcomeReversed
	e.logger().Info("reversing subject", "from", anonDirName, "to", realDirName)

	patientIDUpper := strings.ToUpper(subject.PatientID)

	for _, session := range sessions {
		anonPrefix := naming.SessionPrefix(projectID, subject.AnonID, session.SessionID)
		realPrefix := naming.SessionPrefix(projectID, subject.PatientID, session.SessionID)
		sessionDir := filepath.Join(subjectDir, anonPrefix)

		if _, err := os.Stat(sessionDir); err != nil {
			continue
		}

		result.Patched += e.patchSidecars(sessionDir, patientIDUpper, subject, session)

		renamed, conflicts := e.renameEntries(sessionDir, anonPrefix, realPrefix)
		result.Renamed += renamed
		result.Conflicts = append(result.Conflicts, conflicts...)

		niiDir := filepath.Join(sessionDir, "nii")
		if _, err := os.Stat(niiDir); err == nil {
			renamed, conflicts = e.renameEntries(niiDir, anonPrefix, realPrefix)
			result.Renamed += renamed
			result.Conflicts = append(result.Conflicts, conflicts...)
		}

		// The session directory itself carries the prefix as its name.
		if anonPrefix != realPrefix {
			target := filepath.Join(subjectDir, realPrefix)
			if _, err := os.Lstat(target); err == nil {
				e.logger().Warn("skipping session directory rename, target exists",
					"dir", anonPrefix, "target", realPrefix)
				result.Conflicts = append(result.Conflicts, Conflict{
					Dir:    subjectDir,
					Name:   anonPrefix,
					Target: realPrefix,
				})
				continue
			}
			if err := os.Rename(sessionDir, target); err != nil {
				return result, fmt.Errorf("rename session directory %s: %w", anonPrefix, err)
			}
			result.Renamed++
			e.logger().Info("renamed session directory", "from", anonPrefix, "to", realPrefix)
		}
	}

	// Subject directory last, so session paths stay valid above.
	if anonDirName != realDirName {
		target := filepath.Join(projectDir, realDirName)
		if _, err := os.Lstat(target); err == nil {
			e.logger().Warn("skipping subject directory rename, target exists",
				"dir", anonDirName, "target", realDirName)
			result.Conflicts = append(result.Conflicts, Conflict{
				Dir:    projectDir,
				Name:   anonDirName,
				Target: realDirName,
			})
			return result, nil
		}
		if err := os.Rename(subjectDir, target); err != nil {
			return result, fmt.Errorf("rename subject directory %s: %w", anonDirName, err)
		}
		result.Renamed++
		e.logger().Info("renamed subject directory", "from", anonDirName, "to", realDirName)
	}

	return result, nil
}

// renameEntries renames every entry of dir whose name begins with oldPrefix,
// substituting newPrefix for the first occurrence. Entries whose target name
// already exists are skipped and reported.
func (e *Engine) renameEntries(dir, oldPrefix, newPrefix string) (int, []Conflict) {
	if oldPrefix == newPrefix {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		e.logger().Warn("cannot read directory", "dir", dir, "error", err)
		return 0, nil
	}

	var renamed int
	var conflicts []Conflict
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, oldPrefix) {
			continue
		}
		newName := strings.Replace(name, oldPrefix, newPrefix, 1)
		target := filepath.Join(dir, newName)
		if _, err := os.Lstat(target); err == nil {
			e.logger().Warn("skipping rename, target exists", "file", name, "target", newName)
			conflicts = append(conflicts, Conflict{Dir: dir, Name: name, Target: newName})
			continue
		}
		if err := os.Rename(filepath.Join(dir, name), target); err != nil {
			e.logger().Error("rename failed", "file", name, "error", err)
			continue
		}
		renamed++
		e.logger().Info("renamed", "from", name, "to", newName)
	}
	return renamed, conflicts
}

// patchSidecars patches every JSON file directly in sessionDir. Returns the
// number of files rewritten. Unreadable or malformed sidecars are logged
// and left untouched.
func (e *Engine) patchSidecars(sessionDir, patientID string, subject store.Subject, session store.Session) int {
	matches, err := filepath.Glob(filepath.Join(sessionDir, "*.json"))
	if err != nil {
		return 0
	}

	var patched int
	for _, path := range matches {
		changed, err := e.patchSidecarFile(path, patientID, subject, session)
		if err != nil {
			e.logger().Warn("cannot patch sidecar", "file", filepath.Base(path), "error", err)
			continue
		}
		if changed {
			patched++
			e.logger().Info("patched sidecar", "file", filepath.Base(path))
		}
	}
	return patched
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Engine) shifter() DateShifter {
	if e.Shift == nil {
		return dateshift.Shift
	}
	return e.Shift
}
