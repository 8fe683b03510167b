package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ListSubjects returns snapshots of all subject records, ordered by
// patient_id for stable output.
//
// Returns an empty slice (not nil) if no subjects exist. Rows created in an
// open unit of work are visible to the caller that created them.
func (s *Store) ListSubjects(ctx context.Context) ([]Subject, error) {
	rows, err := s.reader().QueryContext(ctx, `
		SELECT anon_id, patient_id, patient_name, patient_birth_date, patient_sex, date_shift_days, created_at
		FROM subjects
		ORDER BY patient_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	var subjects []Subject
	for rows.Next() {
		sub, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}

	// Return empty slice instead of nil
	if subjects == nil {
		subjects = []Subject{}
	}

	return subjects, nil
}

// ListSessions returns snapshots of all session records for a subject,
// ordered by row id (which matches session numbering order).
//
// Returns an empty slice (not nil) if the subject has no sessions.
func (s *Store) ListSessions(ctx context.Context, anonID string) ([]Session, error) {
	rows, err := s.reader().QueryContext(ctx, `
		SELECT id, anon_id, session_id, source_path, original_study_uid, institution_name, converted_at
		FROM sessions
		WHERE anon_id = ?
		ORDER BY id ASC
	`, anonID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	if sessions == nil {
		sessions = []Session{}
	}

	return sessions, nil
}

// scanSubject scans a row into a Subject snapshot.
func scanSubject(rows *sql.Rows) (Subject, error) {
	var sub Subject
	var name, birthDate, sex, createdAt sql.NullString
	var shift sql.NullInt64

	if err := rows.Scan(
		&sub.AnonID, &sub.PatientID, &name, &birthDate, &sex, &shift, &createdAt,
	); err != nil {
		return Subject{}, fmt.Errorf("scan subject: %w", err)
	}

	sub.PatientName = name.String
	sub.PatientBirthDate = birthDate.String
	sub.PatientSex = sex.String
	sub.DateShiftDays = int(shift.Int64)

	created, err := parseTimestamp(createdAt)
	if err != nil {
		return Subject{}, fmt.Errorf("scan subject: %w", err)
	}
	sub.CreatedAt = created

	return sub, nil
}

// scanSession scans a row into a Session snapshot.
func scanSession(rows *sql.Rows) (Session, error) {
	var sess Session
	var sourcePath, studyUID, institution, convertedAt sql.NullString

	if err := rows.Scan(
		&sess.ID, &sess.AnonID, &sess.SessionID, &sourcePath, &studyUID, &institution, &convertedAt,
	); err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}

	sess.SourcePath = sourcePath.String
	sess.OriginalStudyUID = studyUID.String
	sess.InstitutionName = institution.String

	converted, err := parseTimestamp(convertedAt)
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.ConvertedAt = converted

	return sess, nil
}

// parseTimestamp parses an RFC 3339 text column, mapping NULL to zero time.
func parseTimestamp(v sql.NullString) (time.Time, error) {
	if !v.Valid || v.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v.String, err)
	}
	return t, nil
}
