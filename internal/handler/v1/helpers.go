package v1

import (
	"errors"
	"net/http"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/diagnosis"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/patient"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/handler/middleware"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/service"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/auth"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/imagestore"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Error codes carried in every error body.
const (
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeUploadRequired       = "UPLOAD_REQUIRED"
	CodeUploadTooLarge       = "UPLOAD_TOO_LARGE"
	CodeNotFound             = "NOT_FOUND"
	CodeInferenceUnavailable = "INFERENCE_UNAVAILABLE"
	CodePersistenceFailed    = "PERSISTENCE_FAILED"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeAccountInactive      = "ACCOUNT_INACTIVE"
	CodeInternal             = "INTERNAL"
)

// retryAfterSeconds is advertised on 503s; it matches the default breaker cooldown.
const retryAfterSeconds = "30"

type APIResponse[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Fields  []string          `json:"fields,omitempty"`
	Details map[string]string `json:"details,omitempty"`

	// Set only when a scored upload could not be written. The body then doubles as a
	// POST /diagnoses/save request.
	PatientID  string            `json:"patientId,omitempty"`
	AIAnalysis *analysisResponse `json:"aiAnalysis,omitempty"`
	ImageURL   string            `json:"imageUrl,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse[any]{Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse[any]{Data: data})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: message, Code: code})
}

// respondServiceError maps the service error taxonomy onto HTTP. Internal causes are
// logged, never echoed to the client.
func respondServiceError(c *gin.Context, log *zap.Logger, err error) {
	_ = c.Error(err)

	var validErr *service.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:  "validation failed",
			Code:   CodeValidationFailed,
			Fields: validErr.Fields,
		})
		return
	}

	var inferErr *service.InferenceUnavailableError
	if errors.As(err, &inferErr) {
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "image analysis is temporarily unavailable",
			Code:    CodeInferenceUnavailable,
			Details: map[string]string{"reason": string(inferErr.Reason)},
		})
		return
	}

	var persistErr *service.PersistenceError
	if errors.As(err, &persistErr) {
		log.Error("persistence failure",
			zap.String("op", persistErr.Op),
			zap.String("request_id", middleware.RequestIDFrom(c)),
			zap.Error(persistErr.Err),
		)
		body := ErrorResponse{
			Error: "the result could not be saved",
			Code:  CodePersistenceFailed,
		}
		if persistErr.Unsaved != nil {
			analysis := toAnalysisResponse(persistErr.Unsaved.Analysis)
			body.PatientID = persistErr.PatientID.String()
			body.AIAnalysis = &analysis
			body.ImageURL = persistErr.Unsaved.ImageURL
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}

	switch {
	case errors.Is(err, service.ErrUploadRequired):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeUploadRequired})

	case errors.Is(err, patient.ErrPatientNotFound),
		errors.Is(err, diagnosis.ErrDiagnosisNotFound),
		errors.Is(err, imagestore.ErrImageNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: CodeNotFound})

	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials", Code: CodeInvalidCredentials})

	case errors.Is(err, service.ErrAccountInactive):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "account is inactive", Code: CodeAccountInactive})

	default:
		log.Error("unhandled service error",
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.RequestIDFrom(c)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
	}
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request: " + err.Error(),
			Code:  CodeValidationFailed,
		})
		return false
	}
	return true
}

func parseUUID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid " + param + ": must be a valid UUID",
			Code:  CodeValidationFailed,
		})
		return uuid.Nil, false
	}
	return id, true
}

// actorFrom collects who is calling. DoctorID is nil when no clinician can be resolved.
func actorFrom(c *gin.Context, resolver *auth.DoctorResolver) service.Actor {
	return service.Actor{
		DoctorID:  resolver.Resolve(c.Request),
		IPAddress: c.ClientIP(),
		RequestID: middleware.RequestIDFrom(c),
	}
}
