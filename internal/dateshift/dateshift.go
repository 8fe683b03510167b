// Package dateshift applies day offsets to DICOM-style date strings.
package dateshift

import (
	"fmt"
	"time"
)

// dateLayout is the DICOM DA representation (YYYYMMDD).
const dateLayout = "20060102"

// Shift applies a day offset to a date or datetime string.
//
// The first 8 characters are interpreted as a YYYYMMDD date; anything after
// them (a DICOM DT time-of-day suffix such as "120000.000000") is preserved
// untouched. Negative offsets shift backward.
//
// Returns an error when the value is too short or the date portion does not
// parse; callers are expected to leave the original value in place in that
// case.
func Shift(value string, days int) (string, error) {
	if len(value) < len(dateLayout) {
		return "", fmt.Errorf("date value %q too short: want at least %d characters", value, len(dateLayout))
	}

	datePart := value[:len(dateLayout)]
	rest := value[len(dateLayout):]

	t, err := time.Parse(dateLayout, datePart)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", datePart, err)
	}

	shifted := t.AddDate(0, 0, days)
	return shifted.Format(dateLayout) + rest, nil
}
