package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// GetOrCreateSubject looks up a subject by patient identifier, creating one
// with a fresh anonymous token on first encounter. Returns the token.
//
// Safe to call repeatedly for the same patientID: the existing token is
// returned and the supplied demographics are ignored (first write wins).
//
// New tokens are re-queried against existing subjects before insert and
// redrawn on collision, so a token collision never surfaces to the caller.
func (s *Store) GetOrCreateSubject(ctx context.Context, patientID string, demo Demographics) (string, error) {
	tx, err := s.begin()
	if err != nil {
		return "", fmt.Errorf("get or create subject: %w", err)
	}

	var anonID string
	err = tx.QueryRowContext(ctx, `
		SELECT anon_id FROM subjects WHERE patient_id = ?
	`, patientID).Scan(&anonID)
	if err == nil {
		return anonID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("get or create subject: lookup: %w", err)
	}

	// Collision is extremely unlikely with 64 bits, but tokens are the
	// de-identified handles so a duplicate must never be inserted.
	for {
		token, err := s.gen.Generate()
		if err != nil {
			return "", fmt.Errorf("get or create subject: generate token: %w", err)
		}

		var count int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM subjects WHERE anon_id = ?
		`, token).Scan(&count)
		if err != nil {
			return "", fmt.Errorf("get or create subject: collision check: %w", err)
		}
		if count == 0 {
			anonID = token
			break
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subjects
		(anon_id, patient_id, patient_name, patient_birth_date, patient_sex, date_shift_days, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		anonID,
		patientID,
		nullString(demo.PatientName),
		nullString(demo.PatientBirthDate),
		nullString(demo.PatientSex),
		nullInt(demo.DateShiftDays),
		s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("get or create subject: insert: %w", err)
	}

	return anonID, nil
}

// AddSession records a new conversion session for a subject. The session_id
// is assigned as count+1 over the subject's existing sessions, so ids form
// the contiguous sequence "1", "2", "3", ... Returns the new session_id.
//
// The referenced subject must exist (foreign key constraint).
func (s *Store) AddSession(ctx context.Context, anonID, sourcePath, originalStudyUID, institutionName string) (string, error) {
	tx, err := s.begin()
	if err != nil {
		return "", fmt.Errorf("add session: %w", err)
	}

	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions WHERE anon_id = ?
	`, anonID).Scan(&count)
	if err != nil {
		return "", fmt.Errorf("add session: count: %w", err)
	}

	sessionID := strconv.Itoa(count + 1)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions
		(anon_id, session_id, source_path, original_study_uid, institution_name, converted_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		anonID,
		sessionID,
		nullString(sourcePath),
		nullString(originalStudyUID),
		nullString(institutionName),
		s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("add session: insert: %w", err)
	}

	return sessionID, nil
}

// nullString maps the empty string to NULL for nullable text columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullInt maps zero to NULL for nullable integer columns.
func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
