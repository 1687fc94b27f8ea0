package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/inference"
	"github.com/google/uuid"
)

var (
	ErrUploadRequired     = errors.New("an image upload is required")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountInactive    = errors.New("account is inactive")
)

// ValidationError is user-fixable input. Fields holds one message per offending field.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Fields = append(e.Fields, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// InferenceUnavailableError means the scorer could not produce a result. The caller may
// retry later with the same input.
type InferenceUnavailableError struct {
	Reason  inference.FailureReason
	Message string
}

func (e *InferenceUnavailableError) Error() string {
	return fmt.Sprintf("inference unavailable (%s): %s", e.Reason, e.Message)
}

// PersistenceError is a failed store write. It is never retried here. When the write
// followed a successful inference, Unsaved holds that analysis and PatientID its patient,
// so the caller can submit both to SaveDiagnosis instead of scoring the image again.
type PersistenceError struct {
	Op        string
	Err       error
	PatientID uuid.UUID
	Unsaved   *AnalysisResult
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// inferenceUnavailable translates any scorer failure into the service taxonomy so that
// transport errors never leak past the orchestrator.
func inferenceUnavailable(err error) error {
	var f *inference.Failure
	if errors.As(err, &f) {
		return &InferenceUnavailableError{Reason: f.Reason, Message: f.Message}
	}
	return &InferenceUnavailableError{Reason: inference.ReasonUnreachable, Message: err.Error()}
}
