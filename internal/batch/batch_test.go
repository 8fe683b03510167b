package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walkerbdev/radifox-convert/internal/convert"
	"github.com/walkerbdev/radifox-convert/internal/inspect"
	"github.com/walkerbdev/radifox-convert/internal/store"
)

type stubInspector struct {
	infos map[string]inspect.PatientInfo
}

func (s stubInspector) FirstDICOM(dir string) (inspect.PatientInfo, error) {
	info, ok := s.infos[filepath.Base(dir)]
	if !ok {
		return inspect.PatientInfo{}, fmt.Errorf("scan %s: %w", dir, inspect.ErrNoDICOM)
	}
	return info, nil
}

type stubConverter struct {
	requests []convert.Request
	failOn   map[string]error
}

func (s *stubConverter) Convert(ctx context.Context, req convert.Request) error {
	s.requests = append(s.requests, req)
	return s.failOn[filepath.Base(req.Source)]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mkSubjectDirs(t *testing.T, names ...string) string {
	t.Helper()
	source := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.Mkdir(filepath.Join(source, name), 0o755))
	}
	return source
}

func openTestStore(t *testing.T, tokens ...string) *store.Store {
	t.Helper()
	var opts []store.Option
	if len(tokens) > 0 {
		opts = append(opts, store.WithTokenGenerator(store.NewFixedTokenGenerator(tokens...)))
	}
	s, err := store.Open(filepath.Join(t.TempDir(), "anon.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRun_SourceMustBeDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	r := &Runner{ProjectID: "Study", Converter: &stubConverter{}, Logger: quietLogger()}
	_, err := r.Run(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a directory")
}

func TestRun_EmptySourceFails(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, "loose-file.txt"), []byte("x"), 0o644))

	r := &Runner{ProjectID: "Study", Converter: &stubConverter{}, Logger: quietLogger()}
	_, err := r.Run(context.Background(), source)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no subdirectories")
}

func TestRun_PassThroughMode(t *testing.T) {
	source := mkSubjectDirs(t, "sub-a", "sub-b")
	insp := stubInspector{infos: map[string]inspect.PatientInfo{
		"sub-a": {PatientID: "MRN-A"},
		"sub-b": {}, // readable header, but no PatientID attribute
	}}
	conv := &stubConverter{}
	r := &Runner{
		OutputRoot: t.TempDir(),
		ProjectID:  "Study",
		Inspector:  insp,
		Converter:  conv,
		Logger:     quietLogger(),
	}

	report, err := r.Run(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Zero(t, report.Failed)
	_, err = uuid.Parse(report.RunID)
	assert.NoError(t, err)

	require.Len(t, conv.requests, 2)
	assert.Equal(t, "MRN-A", conv.requests[0].Meta.SubjectID)
	assert.Equal(t, "1", conv.requests[0].Meta.SessionID)
	assert.False(t, conv.requests[0].Anonymize)
	// Directory name stands in when the header carries no patient id.
	assert.Equal(t, "sub-b", conv.requests[1].Meta.SubjectID)
}

func TestRun_AnonymizeAssignsTokens(t *testing.T) {
	source := mkSubjectDirs(t, "sub-a", "sub-b")
	insp := stubInspector{infos: map[string]inspect.PatientInfo{
		"sub-a": {
			PatientID:       "MRN-A",
			PatientName:     "DOE^JANE",
			StudyUID:        "1.2.840.99999.1",
			InstitutionName: "General Hospital",
		},
		"sub-b": {PatientID: "MRN-B"},
	}}
	s := openTestStore(t, "aaaa0000aaaa0000", "bbbb1111bbbb1111")
	conv := &stubConverter{}
	r := &Runner{
		OutputRoot:    t.TempDir(),
		ProjectID:     "Study",
		DateShiftDays: 5,
		Store:         s,
		Inspector:     insp,
		Converter:     conv,
		Logger:        quietLogger(),
	}

	report, err := r.Run(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)

	require.Len(t, conv.requests, 2)
	assert.Equal(t, "aaaa0000aaaa0000", conv.requests[0].Meta.SubjectID)
	assert.Equal(t, "bbbb1111bbbb1111", conv.requests[1].Meta.SubjectID)
	assert.True(t, conv.requests[0].Anonymize)
	assert.Equal(t, 5, conv.requests[0].DateShiftDays)

	subjects, err := s.ListSubjects(context.Background())
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, "MRN-A", subjects[0].PatientID)
	assert.Equal(t, "aaaa0000aaaa0000", subjects[0].AnonID)
	assert.Equal(t, "DOE^JANE", subjects[0].PatientName)

	sessions, err := s.ListSessions(context.Background(), "aaaa0000aaaa0000")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, filepath.Join(source, "sub-a"), sessions[0].SourcePath)
	assert.Equal(t, "1.2.840.99999.1", sessions[0].OriginalStudyUID)
	assert.Equal(t, "General Hospital", sessions[0].InstitutionName)
}

func TestRun_ConversionFailureRollsBack(t *testing.T) {
	source := mkSubjectDirs(t, "sub-a")
	insp := stubInspector{infos: map[string]inspect.PatientInfo{
		"sub-a": {PatientID: "MRN-A"},
	}}
	s := openTestStore(t, "aaaa0000aaaa0000")
	conv := &stubConverter{failOn: map[string]error{"sub-a": errors.New("converter exploded")}}
	r := &Runner{
		OutputRoot: t.TempDir(),
		ProjectID:  "Study",
		Store:      s,
		Inspector:  insp,
		Converter:  conv,
		Logger:     quietLogger(),
	}

	report, err := r.Run(context.Background(), source)
	require.NoError(t, err)

	assert.Zero(t, report.Processed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "sub-a", report.Failures[0].Directory)
	assert.Contains(t, report.Failures[0].Reason, "converter exploded")

	// No committed rows point at output that was never produced.
	subjects, err := s.ListSubjects(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subjects)
}

func TestRun_FailureDoesNotHaltBatch(t *testing.T) {
	source := mkSubjectDirs(t, "sub-a", "sub-b")
	insp := stubInspector{infos: map[string]inspect.PatientInfo{
		"sub-a": {PatientID: "MRN-A"},
		"sub-b": {PatientID: "MRN-B"},
	}}
	s := openTestStore(t, "aaaa0000aaaa0000", "bbbb1111bbbb1111")
	conv := &stubConverter{failOn: map[string]error{"sub-a": errors.New("boom")}}
	r := &Runner{
		OutputRoot: t.TempDir(),
		ProjectID:  "Study",
		Store:      s,
		Inspector:  insp,
		Converter:  conv,
		Logger:     quietLogger(),
	}

	report, err := r.Run(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)

	// Only the successful subject was committed.
	subjects, err := s.ListSubjects(context.Background())
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, "MRN-B", subjects[0].PatientID)
}

func TestRun_ExistingOutputSkipsAndRollsBack(t *testing.T) {
	source := mkSubjectDirs(t, "sub-a")
	insp := stubInspector{infos: map[string]inspect.PatientInfo{
		"sub-a": {PatientID: "MRN-A"},
	}}
	s := openTestStore(t, "aaaa0000aaaa0000")

	outputRoot := t.TempDir()
	dcmDir := filepath.Join(outputRoot,
		"study", "STUDY-AAAA0000AAAA0000", "STUDY-AAAA0000AAAA0000_1", "dcm")
	require.NoError(t, os.MkdirAll(dcmDir, 0o755))

	conv := &stubConverter{}
	r := &Runner{
		OutputRoot: outputRoot,
		ProjectID:  "Study",
		Store:      s,
		Inspector:  insp,
		Converter:  conv,
		Logger:     quietLogger(),
	}

	report, err := r.Run(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Reason, "use --force or --reckless")
	assert.Empty(t, conv.requests)

	// The skip rolled the pending subject and session rows back.
	subjects, err := s.ListSubjects(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subjects)
}

func TestRun_RecklessReplacesExistingOutput(t *testing.T) {
	source := mkSubjectDirs(t, "sub-a")
	insp := stubInspector{infos: map[string]inspect.PatientInfo{
		"sub-a": {PatientID: "MRN-A"},
	}}
	s := openTestStore(t, "aaaa0000aaaa0000")

	outputRoot := t.TempDir()
	sessionDir := filepath.Join(outputRoot,
		"study", "STUDY-AAAA0000AAAA0000", "STUDY-AAAA0000AAAA0000_1")
	require.NoError(t, os.MkdirAll(filepath.Join(sessionDir, "dcm"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(sessionDir, "STUDY-AAAA0000AAAA0000_1.json"), []byte("{}"), 0o644))

	conv := &stubConverter{}
	r := &Runner{
		OutputRoot: outputRoot,
		ProjectID:  "Study",
		Reckless:   true,
		Store:      s,
		Inspector:  insp,
		Converter:  conv,
		Logger:     quietLogger(),
	}

	report, err := r.Run(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	require.Len(t, conv.requests, 1)
	assert.NoDirExists(t, filepath.Join(sessionDir, "dcm"))
	assert.NoFileExists(t, filepath.Join(sessionDir, "STUDY-AAAA0000AAAA0000_1.json"))
}

func TestRun_NoDICOMSubjectFails(t *testing.T) {
	source := mkSubjectDirs(t, "sub-a")
	s := openTestStore(t, "aaaa0000aaaa0000")
	conv := &stubConverter{}
	r := &Runner{
		OutputRoot: t.TempDir(),
		ProjectID:  "Study",
		Store:      s,
		Inspector:  stubInspector{infos: map[string]inspect.PatientInfo{}},
		Converter:  conv,
		Logger:     quietLogger(),
	}

	report, err := r.Run(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Failures[0].Reason, "no readable DICOM")
	assert.Empty(t, conv.requests)

	subjects, err := s.ListSubjects(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subjects)
}

func TestRun_RepeatPatientGetsNextSession(t *testing.T) {
	source := mkSubjectDirs(t, "sub-a", "sub-b")
	insp := stubInspector{infos: map[string]inspect.PatientInfo{
		"sub-a": {PatientID: "MRN-A"},
		"sub-b": {PatientID: "MRN-A"}, // same patient, second visit
	}}
	s := openTestStore(t, "aaaa0000aaaa0000")
	conv := &stubConverter{}
	r := &Runner{
		OutputRoot: t.TempDir(),
		ProjectID:  "Study",
		Store:      s,
		Inspector:  insp,
		Converter:  conv,
		Logger:     quietLogger(),
	}

	report, err := r.Run(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)

	require.Len(t, conv.requests, 2)
	assert.Equal(t, "aaaa0000aaaa0000", conv.requests[0].Meta.SubjectID)
	assert.Equal(t, "1", conv.requests[0].Meta.SessionID)
	assert.Equal(t, "aaaa0000aaaa0000", conv.requests[1].Meta.SubjectID)
	assert.Equal(t, "2", conv.requests[1].Meta.SessionID)

	subjects, err := s.ListSubjects(context.Background())
	require.NoError(t, err)
	assert.Len(t, subjects, 1)

	sessions, err := s.ListSessions(context.Background(), "aaaa0000aaaa0000")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}
