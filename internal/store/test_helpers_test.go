package store

import (
	"context"
	"path/filepath"
	"testing"
)

// openTestStore opens a store in a temp directory and closes it on cleanup.
func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "anon.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustGetOrCreate creates or looks up a subject, failing the test on error.
func mustGetOrCreate(t *testing.T, s *Store, patientID string, demo Demographics) string {
	t.Helper()

	anonID, err := s.GetOrCreateSubject(context.Background(), patientID, demo)
	if err != nil {
		t.Fatalf("GetOrCreateSubject(%q) failed: %v", patientID, err)
	}
	return anonID
}

// mustAddSession appends a session, failing the test on error.
func mustAddSession(t *testing.T, s *Store, anonID, sourcePath string) string {
	t.Helper()

	sessionID, err := s.AddSession(context.Background(), anonID, sourcePath, "", "")
	if err != nil {
		t.Fatalf("AddSession(%q) failed: %v", anonID, err)
	}
	return sessionID
}
