package convert

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/walkerbdev/radifox-convert/internal/naming"
)

// PrepareOutput enforces the existing-output policy for one conversion
// target. Returns a non-empty skip reason when output under typeDir (dcm or
// parrec) already exists and may not be replaced. With reckless set, the
// stale type directory, the nii directory, and session-level sidecars are
// removed instead and conversion may proceed. Force alone never removes
// anything here; it is reserved for consistency-checked reruns.
func PrepareOutput(outputRoot string, meta naming.Metadata, typeDir string, force, reckless bool) (string, error) {
	sessionDir := filepath.Join(outputRoot, meta.RelPath())
	target := filepath.Join(sessionDir, typeDir)

	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("check output %s: %w", target, err)
	}

	if reckless {
		if err := os.RemoveAll(target); err != nil {
			return "", fmt.Errorf("remove stale output: %w", err)
		}
		if err := os.RemoveAll(filepath.Join(sessionDir, "nii")); err != nil {
			return "", fmt.Errorf("remove stale output: %w", err)
		}
		sidecars, _ := filepath.Glob(filepath.Join(sessionDir, "*.json"))
		for _, sidecar := range sidecars {
			if err := os.Remove(sidecar); err != nil {
				return "", fmt.Errorf("remove stale sidecar: %w", err)
			}
		}
		return "", nil
	}

	if force {
		return "output exists, use --reckless to overwrite", nil
	}
	return "output exists, use --force or --reckless to overwrite", nil
}

// ResolveLUTFile returns the naming lookup-table path for a conversion
// target: the explicit path when given, otherwise the project-level default
// `{project}/{project}-lut.csv` under the output root when that file
// exists, otherwise empty.
func ResolveLUTFile(outputRoot string, meta naming.Metadata, explicit string) string {
	if explicit != "" {
		return explicit
	}
	path := filepath.Join(outputRoot, meta.ProjectDir(), meta.ProjectDir()+"-lut.csv")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// ManualNamesFile returns the session's manual-naming override file
// (`{prefix}_ManualNaming.json` in the session directory) when present,
// otherwise empty.
func ManualNamesFile(outputRoot string, meta naming.Metadata) string {
	path := filepath.Join(outputRoot, meta.RelPath(), meta.Prefix()+"_ManualNaming.json")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}
