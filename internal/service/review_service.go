package service

import (
	"context"
	"errors"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/diagnosis"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/metrics"
	"go.uber.org/zap"
)

// ReviewService applies clinician verdicts. Only the latest review snapshot is stored on
// the diagnosis; every transition is also written to the audit log with the prior status.
type ReviewService struct {
	diagnoses diagnosis.Repository
	auditSvc  *AuditService
	metrics   *metrics.Collector
	log       *zap.Logger
	now       func() time.Time
}

func NewReviewService(diagnoses diagnosis.Repository, auditSvc *AuditService, m *metrics.Collector, log *zap.Logger) *ReviewService {
	return &ReviewService{
		diagnoses: diagnoses,
		auditSvc:  auditSvc,
		metrics:   m,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Review sets the status from any current status and always re-stamps the review time.
func (s *ReviewService) Review(ctx context.Context, actor Actor, cmd *diagnosis.ReviewCommand) (*diagnosis.Diagnosis, error) {
	if !cmd.Status.IsValid() {
		return nil, &ValidationError{Fields: []string{diagnosis.ErrInvalidStatus.Error()}}
	}

	var previous diagnosis.ReviewStatus
	d, err := s.diagnoses.UpdateReview(ctx, cmd.DiagnosisID, func(r *diagnosis.Review) {
		previous = r.Status
		r.Apply(cmd.Status, cmd.Summary, cmd.Notes, actor.DoctorID, s.now())
	})
	if err != nil {
		if errors.Is(err, diagnosis.ErrDiagnosisNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "review diagnosis", Err: err}
	}

	s.metrics.ReviewsTotal.WithLabelValues(string(d.Review.Status)).Inc()
	s.auditSvc.LogAsync(ctx, AuditEntry{
		Actor:        actor,
		Action:       domain.ActionReview,
		ResourceType: resourceDiagnosis,
		ResourceID:   d.ID.String(),
		Changes: map[string]any{
			"from": previous,
			"to":   d.Review.Status,
		},
	})

	s.log.Info("diagnosis reviewed",
		zap.String("diagnosis_id", d.ID.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(d.Review.Status)),
		zap.Bool("attributed", actor.DoctorID != nil),
	)
	return d, nil
}
