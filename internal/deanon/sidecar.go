package deanon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/walkerbdev/radifox-convert/internal/store"
)

// patchSidecarFile reads one sidecar, restores identifiers, and rewrites it
// only when at least one field changed value. Returns whether the file was
// rewritten.
func (e *Engine) patchSidecarFile(path, patientID string, subject store.Subject, session store.Session) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, fmt.Errorf("parse: %w", err)
	}

	if !e.patchDocument(doc, patientID, subject, session) {
		return false, nil
	}

	out, err := marshalSidecar(doc)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// patchDocument restores identifiers in a decoded sidecar document. Unknown
// keys are preserved untouched; fields are only assigned when the new value
// differs, so patching an already-patched document reports no change.
//
// RemoveIdentifiers doubles as the patched marker: once it is false, the
// acquisition dates have already been shifted back and must not move again.
func (e *Engine) patchDocument(doc map[string]any, patientID string, subject store.Subject, session store.Session) bool {
	changed := false
	alreadyPatched := doc["RemoveIdentifiers"] == false

	if meta, ok := doc["Metadata"].(map[string]any); ok {
		if meta["SubjectID"] != patientID {
			meta["SubjectID"] = patientID
			changed = true
		}
		if doc["RemoveIdentifiers"] != false {
			doc["RemoveIdentifiers"] = false
			changed = true
		}
	}

	list, ok := doc["SeriesList"].([]any)
	if !ok {
		return changed
	}
	for _, item := range list {
		series, ok := item.(map[string]any)
		if !ok {
			continue
		}

		// Source path is informational; never clobber a recorded one.
		if session.SourcePath != "" && series["SourcePath"] == nil {
			series["SourcePath"] = session.SourcePath
			changed = true
		}
		if session.InstitutionName != "" && series["InstitutionName"] != session.InstitutionName {
			series["InstitutionName"] = session.InstitutionName
			changed = true
		}
		if session.OriginalStudyUID != "" && series["StudyUID"] != session.OriginalStudyUID {
			series["StudyUID"] = session.OriginalStudyUID
			changed = true
		}

		if subject.DateShiftDays != 0 && !alreadyPatched {
			acq, ok := series["AcqDateTime"].(string)
			if !ok || acq == "" {
				continue
			}
			shifted, err := e.shifter()(acq, -subject.DateShiftDays)
			if err != nil {
				e.logger().Warn("cannot shift acquisition date", "value", acq, "error", err)
				continue
			}
			if shifted != acq {
				series["AcqDateTime"] = shifted
				changed = true
			}
		}
	}
	return changed
}

// marshalSidecar renders a sidecar document deterministically: sorted keys,
// four-space indent, no HTML escaping, trailing newline. Byte-stable output
// is what makes rerunning the patch a no-op.
func marshalSidecar(doc map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
