// Package inspect reads patient-level attributes from DICOM scan headers.
package inspect

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/text/unicode/norm"
)

// ErrNoDICOM indicates a source directory contains no readable DICOM file.
var ErrNoDICOM = errors.New("no readable DICOM file found")

// PatientInfo carries the patient-level header attributes of a scan
// directory. Fields are empty when the attribute is absent from the header.
type PatientInfo struct {
	PatientID        string
	PatientName      string
	PatientBirthDate string
	PatientSex       string
	StudyUID         string
	InstitutionName  string
}

// HeaderInspector extracts PatientInfo from scan directories on disk.
//
// The zero value is ready to use.
type HeaderInspector struct{}

// FirstDICOM walks dir in lexical order and returns the attributes of the
// first file that parses as DICOM. Unreadable entries and non-DICOM files
// are skipped; pixel data is never loaded.
//
// One file is enough: patient-level attributes are constant across every
// series and file under a subject directory.
//
// Returns ErrNoDICOM when no file in the tree parses.
func (HeaderInspector) FirstDICOM(dir string) (PatientInfo, error) {
	var info PatientInfo
	found := false

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// Skip unreadable entries, keep walking.
			return nil
		}
		if d.IsDir() {
			return nil
		}
		dataset, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
		if err != nil {
			return nil
		}
		info = extractPatientInfo(&dataset)
		found = true
		return fs.SkipAll
	})
	if err != nil {
		return PatientInfo{}, fmt.Errorf("scan %s: %w", dir, err)
	}
	if !found {
		return PatientInfo{}, fmt.Errorf("scan %s: %w", dir, ErrNoDICOM)
	}
	return info, nil
}

func extractPatientInfo(ds *dicom.Dataset) PatientInfo {
	return PatientInfo{
		PatientID:        stringValue(ds, tag.PatientID),
		PatientName:      stringValue(ds, tag.PatientName),
		PatientBirthDate: stringValue(ds, tag.PatientBirthDate),
		PatientSex:       stringValue(ds, tag.PatientSex),
		StudyUID:         stringValue(ds, tag.StudyInstanceUID),
		InstitutionName:  stringValue(ds, tag.InstitutionName),
	}
}

// stringValue reads the first string of an element, stripped of DICOM
// padding and normalized to NFC so that equal names compare equal no matter
// how the scanner encoded them. Missing or non-string elements yield "".
func stringValue(ds *dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil {
		return ""
	}
	vals, ok := el.Value.GetValue().([]string)
	if !ok || len(vals) == 0 {
		return ""
	}
	s := strings.TrimRight(vals[0], "\x00")
	return norm.NFC.String(strings.TrimSpace(s))
}
