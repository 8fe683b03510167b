package store

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// OpenErrorCode categorizes fatal open failures.
type OpenErrorCode string

const (
	// ErrCodePermissionDenied indicates the database path is not accessible.
	ErrCodePermissionDenied OpenErrorCode = "PERMISSION_DENIED"

	// ErrCodeDiskFull indicates the filesystem has no space left.
	ErrCodeDiskFull OpenErrorCode = "DISK_FULL"

	// ErrCodeOpenFailed covers every other open or schema failure.
	ErrCodeOpenFailed OpenErrorCode = "OPEN_FAILED"
)

// OpenError reports a failure to open or create the mapping database.
//
// Open failures are fatal to the whole run: no partial processing is
// possible without a store. The Code distinguishes the actionable cases
// (fix permissions, free disk space) from generic storage faults.
type OpenError struct {
	// Code identifies the failure category.
	Code OpenErrorCode

	// Path is the database location that failed to open.
	Path string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	switch e.Code {
	case ErrCodePermissionDenied:
		return fmt.Sprintf("Permission denied: cannot access database at %s", e.Path)
	case ErrCodeDiskFull:
		return fmt.Sprintf("Disk full: cannot create database at %s", e.Path)
	}
	return fmt.Sprintf("Cannot open database at %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// IsPermissionDenied returns true if the error is a permission-denied open failure.
// Uses errors.As to handle wrapped errors.
func IsPermissionDenied(err error) bool {
	var oe *OpenError
	if errors.As(err, &oe) {
		return oe.Code == ErrCodePermissionDenied
	}
	return false
}

// IsDiskFull returns true if the error is a disk-full open failure.
// Uses errors.As to handle wrapped errors.
func IsDiskFull(err error) bool {
	var oe *OpenError
	if errors.As(err, &oe) {
		return oe.Code == ErrCodeDiskFull
	}
	return false
}

// classifyOpenError maps a low-level open failure to a typed OpenError.
func classifyOpenError(path string, err error) *OpenError {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return &OpenError{Code: ErrCodePermissionDenied, Path: path, Err: err}
	case errors.Is(err, syscall.ENOSPC):
		return &OpenError{Code: ErrCodeDiskFull, Path: path, Err: err}
	}
	return &OpenError{Code: ErrCodeOpenFailed, Path: path, Err: err}
}
