package inspect

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func TestFirstDICOM_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()

	_, err := HeaderInspector{}.FirstDICOM(dir)
	if !errors.Is(err, ErrNoDICOM) {
		t.Errorf("err = %v, want ErrNoDICOM", err)
	}
}

func TestFirstDICOM_NoParseableFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a scan")
	writeFile(t, filepath.Join(dir, "nested", "data.json"), `{"a":1}`)

	_, err := HeaderInspector{}.FirstDICOM(dir)
	if !errors.Is(err, ErrNoDICOM) {
		t.Errorf("err = %v, want ErrNoDICOM", err)
	}
}

func TestFirstDICOM_MissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does-not-exist")

	_, err := HeaderInspector{}.FirstDICOM(dir)
	if err == nil {
		t.Fatal("FirstDICOM() succeeded on missing directory")
	}
	if errors.Is(err, ErrNoDICOM) {
		t.Errorf("err = %v, want a walk error, not ErrNoDICOM", err)
	}
}

func TestFirstDICOM_ReadsHeader(t *testing.T) {
	dir := t.TempDir()
	writeTestDICOM(t, filepath.Join(dir, "scan.dcm"))

	info, err := HeaderInspector{}.FirstDICOM(dir)
	if err != nil {
		t.Fatalf("FirstDICOM() failed: %v", err)
	}

	if info.PatientID != "MRN-001" {
		t.Errorf("PatientID = %q, want %q", info.PatientID, "MRN-001")
	}
	if info.PatientName != "DOE^JANE" {
		t.Errorf("PatientName = %q, want %q", info.PatientName, "DOE^JANE")
	}
	if info.PatientBirthDate != "19800101" {
		t.Errorf("PatientBirthDate = %q, want %q", info.PatientBirthDate, "19800101")
	}
	if info.PatientSex != "F" {
		t.Errorf("PatientSex = %q, want %q", info.PatientSex, "F")
	}
	if info.StudyUID != "1.2.840.99999.1" {
		t.Errorf("StudyUID = %q, want %q", info.StudyUID, "1.2.840.99999.1")
	}
	if info.InstitutionName != "GENERAL HOSPITAL" {
		t.Errorf("InstitutionName = %q, want %q", info.InstitutionName, "GENERAL HOSPITAL")
	}
}

func TestFirstDICOM_SkipsNonDICOMSiblings(t *testing.T) {
	dir := t.TempDir()

	// Sorts before the scan but must be skipped, not fatal.
	writeFile(t, filepath.Join(dir, "0000-readme.txt"), "garbage")
	writeTestDICOM(t, filepath.Join(dir, "series", "scan.dcm"))

	info, err := HeaderInspector{}.FirstDICOM(dir)
	if err != nil {
		t.Fatalf("FirstDICOM() failed: %v", err)
	}
	if info.PatientID != "MRN-001" {
		t.Errorf("PatientID = %q, want %q", info.PatientID, "MRN-001")
	}
}

func TestStringValue_NormalizesToNFC(t *testing.T) {
	// "n" followed by a combining tilde; NFC composes it to a single rune.
	el := mustElement(t, tag.PatientName, []string{"MUñOZ^ANA  "})
	ds := &dicom.Dataset{Elements: []*dicom.Element{el}}

	got := stringValue(ds, tag.PatientName)
	want := "MUñOZ^ANA"
	if got != want {
		t.Errorf("stringValue() = %q, want %q", got, want)
	}
}

func TestStringValue_MissingElement(t *testing.T) {
	ds := &dicom.Dataset{}

	if got := stringValue(ds, tag.PatientID); got != "" {
		t.Errorf("stringValue() = %q, want empty", got)
	}
}

// writeTestDICOM writes a minimal valid DICOM file with fixed patient-level
// attributes.
func writeTestDICOM(t *testing.T, path string) {
	t.Helper()

	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.4"}),
		mustElement(t, tag.MediaStorageSOPInstanceUID, []string{"1.2.840.99999.1.1"}),
		mustElement(t, tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mustElement(t, tag.InstitutionName, []string{"GENERAL HOSPITAL"}),
		mustElement(t, tag.PatientName, []string{"DOE^JANE"}),
		mustElement(t, tag.PatientID, []string{"MRN-001"}),
		mustElement(t, tag.PatientBirthDate, []string{"19800101"}),
		mustElement(t, tag.PatientSex, []string{"F"}),
		mustElement(t, tag.StudyInstanceUID, []string{"1.2.840.99999.1"}),
	}}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s failed: %v", path, err)
	}
	defer f.Close()

	if err := dicom.Write(f, ds); err != nil {
		t.Fatalf("writing test DICOM failed: %v", err)
	}
}

func mustElement(t *testing.T, tg tag.Tag, value interface{}) *dicom.Element {
	t.Helper()

	el, err := dicom.NewElement(tg, value)
	if err != nil {
		t.Fatalf("NewElement(%v) failed: %v", tg, err)
	}
	return el
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s failed: %v", path, err)
	}
}
