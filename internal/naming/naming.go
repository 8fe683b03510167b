// Package naming implements the directory and file naming contract for
// converted project trees.
//
// A converted tree is laid out as:
//
//	{output-root}/{project-lower}/{PROJECT}-{SUBJECT}/{PROJECT}-{SUBJECT}_{SESSION}/
//
// where PROJECT and SUBJECT are uppercased for filesystem naming regardless
// of stored case. Session artifact files carry the session directory name as
// a prefix, e.g. STUDY-A1B2_1_T1.nii.
package naming

import (
	"path/filepath"
	"strings"
)

// Metadata identifies one conversion target within a project tree.
// SubjectID is either an anonymous token or a real patient identifier;
// the naming rules are the same for both.
type Metadata struct {
	ProjectID string
	SubjectID string
	SessionID string

	// SiteID is optional and passed through to the conversion engine.
	// It does not participate in path naming.
	SiteID string
}

// ProjectDir returns the project directory name (lowercase by policy).
func (m Metadata) ProjectDir() string {
	return strings.ToLower(m.ProjectID)
}

// SubjectDir returns the subject directory name, e.g. "STUDY-A1B2C3D4".
func (m Metadata) SubjectDir() string {
	return SubjectDirName(m.ProjectID, m.SubjectID)
}

// SessionDir returns the session directory name, e.g. "STUDY-A1B2C3D4_1".
func (m Metadata) SessionDir() string {
	return SessionPrefix(m.ProjectID, m.SubjectID, m.SessionID)
}

// Prefix returns the filename prefix for session artifacts.
// It is identical to the session directory name.
func (m Metadata) Prefix() string {
	return m.SessionDir()
}

// RelPath returns the session directory path relative to the output root.
func (m Metadata) RelPath() string {
	return filepath.Join(m.ProjectDir(), m.SubjectDir(), m.SessionDir())
}

// SubjectDirName builds a subject directory name from raw identifiers.
// Both components are uppercased for filesystem naming.
func SubjectDirName(projectID, subjectID string) string {
	return strings.ToUpper(projectID) + "-" + strings.ToUpper(subjectID)
}

// SessionPrefix builds a session directory name (and artifact filename
// prefix) from raw identifiers.
func SessionPrefix(projectID, subjectID, sessionID string) string {
	return SubjectDirName(projectID, subjectID) + "_" + sessionID
}
