package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkerbdev/radifox-convert/internal/convert"
	"github.com/walkerbdev/radifox-convert/internal/inspect"
	"github.com/walkerbdev/radifox-convert/internal/store"
)

// stubConverter records requests instead of invoking the external engine.
type stubConverter struct {
	requests []convert.Request
	err      error
}

func (c *stubConverter) Convert(_ context.Context, req convert.Request) error {
	c.requests = append(c.requests, req)
	return c.err
}

// stubInspector serves canned header info keyed by source directory base name.
type stubInspector struct {
	infos map[string]inspect.PatientInfo
}

func (s stubInspector) FirstDICOM(dir string) (inspect.PatientInfo, error) {
	info, ok := s.infos[filepath.Base(dir)]
	if !ok {
		return inspect.PatientInfo{}, fmt.Errorf("%s: %w", dir, inspect.ErrNoDICOM)
	}
	return info, nil
}

// mkSubjectDirs creates a batch source directory with one subdirectory per
// name, each holding a placeholder file.
func mkSubjectDirs(t *testing.T, names ...string) string {
	t.Helper()
	source := t.TempDir()
	for _, name := range names {
		dir := filepath.Join(source, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "image.dcm"), []byte("dicom"), 0o644))
	}
	return source
}

// seedStore creates a mapping database at path with one subject per patient
// ID, each with a single recorded session.
func seedStore(t *testing.T, path string, tokens []string, patientIDs ...string) {
	t.Helper()
	st, err := store.Open(path, store.WithTokenGenerator(store.NewFixedTokenGenerator(tokens...)))
	require.NoError(t, err)
	defer func() { require.NoError(t, st.Close()) }()

	ctx := context.Background()
	for _, pid := range patientIDs {
		anonID, err := st.GetOrCreateSubject(ctx, pid, store.Demographics{DateShiftDays: 5})
		require.NoError(t, err)
		_, err = st.AddSession(ctx, anonID, "/data/incoming/"+pid, "1.2.840.99999.1", "General Hospital")
		require.NoError(t, err)
	}
	require.NoError(t, st.Commit())
}
