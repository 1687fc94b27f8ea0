package diagnosis

import "errors"

var (
	ErrDiagnosisNotFound = errors.New("diagnosis not found")
	ErrInvalidStatus     = errors.New("review status must be one of pending, approved, rejected")
)
