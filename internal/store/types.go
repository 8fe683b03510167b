package store

import "time"

// Subject is one real patient mapped durably to exactly one anonymous token.
//
// Values returned by read operations are immutable snapshots: mutating a
// returned Subject has no effect on stored data. Empty strings represent
// NULL columns; a zero DateShiftDays means no shift was recorded.
type Subject struct {
	AnonID           string
	PatientID        string
	PatientName      string
	PatientBirthDate string
	PatientSex       string
	DateShiftDays    int
	CreatedAt        time.Time
}

// Session records one conversion run for a subject.
//
// SessionID is a per-subject sequence starting at "1", assigned by
// AddSession. Rows are never mutated or deleted.
type Session struct {
	ID               int64
	AnonID           string
	SessionID        string
	SourcePath       string
	OriginalStudyUID string
	InstitutionName  string
	ConvertedAt      time.Time
}

// Demographics carries the optional patient-level attributes captured on
// first encounter. Later calls for the same patient ignore them entirely.
type Demographics struct {
	PatientName      string
	PatientBirthDate string
	PatientSex       string
	DateShiftDays    int
}
