package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/diagnosis"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/patient"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/inference"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/imagestore"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	resourceDiagnosis = "diagnosis"

	modeUpload = "upload"
	modeSave   = "save"
)

// AnalysisResult is an ephemeral analysis. ImageURL points at the stored upload so the
// caller can hand it back to SaveDiagnosis.
type AnalysisResult struct {
	Analysis diagnosis.AIAnalysis
	ImageURL string
	Timing   inference.Timing
}

// DiagnosisService drives uploads through the scorer and decides what gets persisted.
type DiagnosisService struct {
	diagnoses diagnosis.Repository
	patients  patient.Repository
	scorer    inference.Scorer
	images    imagestore.Store
	auditSvc  *AuditService
	metrics   *metrics.Collector
	tracer    trace.Tracer
	log       *zap.Logger
}

func NewDiagnosisService(
	diagnoses diagnosis.Repository,
	patients patient.Repository,
	scorer inference.Scorer,
	images imagestore.Store,
	auditSvc *AuditService,
	m *metrics.Collector,
	log *zap.Logger,
) *DiagnosisService {
	return &DiagnosisService{
		diagnoses: diagnoses,
		patients:  patients,
		scorer:    scorer,
		images:    images,
		auditSvc:  auditSvc,
		metrics:   m,
		tracer:    otel.Tracer("medvision/service/diagnosis"),
		log:       log,
	}
}

// AnalyzeOnly scores an upload and returns the result without writing a diagnosis.
func (s *DiagnosisService) AnalyzeOnly(ctx context.Context, actor Actor, cmd *diagnosis.AnalyzeCommand) (*AnalysisResult, error) {
	ctx, span := s.tracer.Start(ctx, "DiagnosisService.AnalyzeOnly")
	defer span.End()

	_, result, err := s.analyze(ctx, actor, cmd)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return result, nil
}

// CreateDiagnosis scores an upload and persists the outcome attributed to actor.DoctorID.
// If the write fails after inference succeeded, the returned *PersistenceError carries the
// analysis and image URL for resubmission through SaveDiagnosis.
func (s *DiagnosisService) CreateDiagnosis(ctx context.Context, actor Actor, cmd *diagnosis.AnalyzeCommand) (*diagnosis.Diagnosis, error) {
	ctx, span := s.tracer.Start(ctx, "DiagnosisService.CreateDiagnosis")
	defer span.End()

	p, result, err := s.analyze(ctx, actor, cmd)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	d, err := s.persist(ctx, actor, p.ID, result.Analysis, result.ImageURL, modeUpload)
	if err != nil {
		var perr *PersistenceError
		if errors.As(err, &perr) {
			perr.PatientID = p.ID
			perr.Unsaved = result
		}
		recordSpanError(span, err)
		return nil, err
	}
	return d, nil
}

// SaveDiagnosis persists an analysis computed earlier. The scorer is never called.
func (s *DiagnosisService) SaveDiagnosis(ctx context.Context, actor Actor, cmd *diagnosis.SaveDiagnosisCommand) (*diagnosis.Diagnosis, error) {
	ctx, span := s.tracer.Start(ctx, "DiagnosisService.SaveDiagnosis")
	defer span.End()

	verr := &ValidationError{}
	patientID := parsePatientRef(verr, cmd.PatientID)
	if cmd.Analysis == nil {
		verr.add("aiAnalysis is required")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	p, err := s.requirePatient(ctx, patientID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	d, err := s.persist(ctx, actor, p.ID, cmd.Analysis.Canonical(), strings.TrimSpace(cmd.ImageURL), modeSave)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return d, nil
}

// analyze is the shared upload pipeline: validate, store, score, normalize.
func (s *DiagnosisService) analyze(ctx context.Context, actor Actor, cmd *diagnosis.AnalyzeCommand) (*patient.Patient, *AnalysisResult, error) {
	verr := &ValidationError{}
	patientID := parsePatientRef(verr, cmd.PatientID)
	if err := verr.orNil(); err != nil {
		return nil, nil, err
	}
	if cmd.Image == nil || cmd.Image.Open == nil {
		return nil, nil, ErrUploadRequired
	}

	p, err := s.requirePatient(ctx, patientID)
	if err != nil {
		return nil, nil, err
	}

	stored, err := s.storeUpload(ctx, cmd.Image)
	if err != nil {
		return nil, nil, err
	}

	res, err := s.score(ctx, actor, p, cmd, stored)
	if err != nil {
		s.discardUpload(ctx, stored.Key)
		return nil, nil, err
	}

	return p, &AnalysisResult{
		Analysis: inference.Normalize(res.Payload),
		ImageURL: stored.URL,
		Timing:   res.Timing,
	}, nil
}

func (s *DiagnosisService) score(ctx context.Context, actor Actor, p *patient.Patient, cmd *diagnosis.AnalyzeCommand, stored *imagestore.StoredImage) (*inference.Result, error) {
	obj, err := s.images.Open(ctx, stored.Key)
	if err != nil {
		return nil, &PersistenceError{Op: "reopen image", Err: err}
	}
	defer obj.Close()

	res, err := s.scorer.Infer(ctx, &inference.Request{
		Image:       obj,
		FileName:    cmd.Image.FileName,
		ContentType: stored.ContentType,
		PatientID:   p.ID.String(),
		Notes:       cmd.Notes,
	})
	s.observeInference(actor, p.ID, res, err)
	if err != nil {
		var f *inference.Failure
		if errors.As(err, &f) && f.Reason == inference.ReasonEmptyImage {
			return nil, ErrUploadRequired
		}
		return nil, inferenceUnavailable(err)
	}
	return res, nil
}

// discardUpload removes an upload that no analysis will reference. It runs even when ctx
// is already done, which is the usual case after a scorer timeout.
func (s *DiagnosisService) discardUpload(ctx context.Context, key string) {
	if err := s.images.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.log.Warn("failed to discard unreferenced upload", zap.String("key", key), zap.Error(err))
	}
}

func (s *DiagnosisService) storeUpload(ctx context.Context, upload *diagnosis.ImageUpload) (*imagestore.StoredImage, error) {
	rc, err := upload.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	defer rc.Close()

	contentType := upload.ContentType
	if contentType == "" {
		contentType = "image/png"
	}

	stored, err := s.images.Save(ctx, upload.FileName, contentType, rc)
	if err != nil {
		return nil, &PersistenceError{Op: "store image", Err: err}
	}
	if stored.Size == 0 {
		s.discardUpload(ctx, stored.Key)
		return nil, ErrUploadRequired
	}
	return stored, nil
}

func (s *DiagnosisService) persist(ctx context.Context, actor Actor, patientID uuid.UUID, analysis diagnosis.AIAnalysis, imageURL, mode string) (*diagnosis.Diagnosis, error) {
	d := &diagnosis.Diagnosis{
		PatientID: patientID,
		DoctorID:  actor.DoctorID,
		Analysis:  analysis,
		Review:    diagnosis.Review{Status: diagnosis.ReviewPending},
	}
	if imageURL != "" {
		d.ImageURL = &imageURL
	}

	if err := s.diagnoses.Create(ctx, d); err != nil {
		s.log.Error("failed to persist diagnosis",
			zap.String("patient_id", patientID.String()),
			zap.String("mode", mode),
			zap.Error(err),
		)
		return nil, &PersistenceError{Op: "create diagnosis", Err: err}
	}

	s.metrics.DiagnosesCreated.WithLabelValues(mode).Inc()
	s.auditSvc.LogAsync(ctx, AuditEntry{
		Actor:        actor,
		Action:       domain.ActionCreate,
		ResourceType: resourceDiagnosis,
		ResourceID:   d.ID.String(),
		Changes: map[string]any{
			"mode":       mode,
			"patient_id": patientID.String(),
			"confidence": d.Analysis.Confidence,
		},
	})

	if actor.DoctorID == nil {
		s.log.Warn("diagnosis created without clinician attribution",
			zap.String("diagnosis_id", d.ID.String()),
			zap.String("request_id", actor.RequestID),
		)
	}
	s.log.Info("diagnosis created",
		zap.String("diagnosis_id", d.ID.String()),
		zap.String("patient_id", patientID.String()),
		zap.String("mode", mode),
	)
	return d, nil
}

// requirePatient returns patient.ErrPatientNotFound for unknown and soft-deleted patients.
func (s *DiagnosisService) requirePatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, patient.ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("loading patient %s: %w", id, err)
	}
	if p.IsDeleted() {
		return nil, patient.ErrPatientNotFound
	}
	return p, nil
}

// observeInference surfaces the scorer's timing metadata as metrics and log fields.
func (s *DiagnosisService) observeInference(actor Actor, patientID uuid.UUID, res *inference.Result, err error) {
	outcome := "ok"
	var timing inference.Timing
	if err != nil {
		var f *inference.Failure
		if errors.As(err, &f) {
			outcome = string(f.Reason)
			timing = f.Timing
		} else {
			outcome = "error"
		}
	} else {
		timing = res.Timing
	}

	s.metrics.InferenceCalls.WithLabelValues(outcome).Inc()
	if timing.Build > 0 {
		s.metrics.InferenceBuild.Observe(timing.Build.Seconds())
	}
	if timing.RoundTrip > 0 {
		s.metrics.InferenceRoundTrip.Observe(timing.RoundTrip.Seconds())
	}

	fields := []zap.Field{
		zap.String("patient_id", patientID.String()),
		zap.String("request_id", actor.RequestID),
		zap.String("outcome", outcome),
		zap.Duration("build", timing.Build),
		zap.Duration("round_trip", timing.RoundTrip),
	}
	if err != nil {
		s.log.Warn("inference failed", append(fields, zap.Error(err))...)
		return
	}
	if timing.RoundTrip > 10*time.Second {
		s.log.Warn("slow inference", fields...)
		return
	}
	s.log.Info("inference completed", fields...)
}

func parsePatientRef(verr *ValidationError, raw string) uuid.UUID {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		verr.add("patientId is required")
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		verr.add("patientId must be a valid UUID")
		return uuid.Nil
	}
	return id
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	var verr *ValidationError
	span.SetAttributes(attribute.Bool("error.user_fixable", errors.As(err, &verr)))
}
