package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/diagnosis"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/patient"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// ListFilter is the list query as the front end sends it. Every field is optional;
// confidence bounds are percentages.
type ListFilter struct {
	Status        string `form:"status"`
	DateFrom      string `form:"dateFrom"`
	DateTo        string `form:"dateTo"`
	MinConfidence string `form:"minConfidence"`
	MaxConfidence string `form:"maxConfidence"`
	PatientName   string `form:"patientName"`
}

// DiagnosisDetail is a diagnosis with its patient and doctor references resolved. Either is
// nil when the reference is unset or no longer resolves.
type DiagnosisDetail struct {
	*diagnosis.Diagnosis
	Patient *patient.Patient
	Doctor  *domain.User
}

type QueryService struct {
	diagnoses diagnosis.Repository
	patients  patient.Repository
	users     UserRepository
	auditSvc  *AuditService
	log       *zap.Logger
}

func NewQueryService(diagnoses diagnosis.Repository, patients patient.Repository, users UserRepository, auditSvc *AuditService, log *zap.Logger) *QueryService {
	return &QueryService{diagnoses: diagnoses, patients: patients, users: users, auditSvc: auditSvc, log: log}
}

// List returns diagnoses newest first. All filters are ANDed; patient name is applied
// after the patient reference is resolved.
func (s *QueryService) List(ctx context.Context, f ListFilter) ([]*DiagnosisDetail, error) {
	q, err := f.toQuery()
	if err != nil {
		return nil, err
	}

	list, err := s.diagnoses.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing diagnoses: %w", err)
	}

	refs, err := s.resolve(ctx, list)
	if err != nil {
		return nil, err
	}

	name := strings.ToLower(strings.TrimSpace(f.PatientName))
	out := make([]*DiagnosisDetail, 0, len(list))
	for _, d := range list {
		p := refs.patients[d.PatientID]
		if name != "" && (p == nil || !strings.Contains(strings.ToLower(p.Name), name)) {
			continue
		}
		out = append(out, refs.detail(d))
	}

	s.log.Debug("diagnoses listed", zap.Int("matched", len(list)), zap.Int("returned", len(out)))
	return out, nil
}

func (s *QueryService) Get(ctx context.Context, actor Actor, id uuid.UUID) (*DiagnosisDetail, error) {
	d, err := s.diagnoses.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	refs, err := s.resolve(ctx, []*diagnosis.Diagnosis{d})
	if err != nil {
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		Actor:        actor,
		Action:       domain.ActionRead,
		ResourceType: resourceDiagnosis,
		ResourceID:   d.ID.String(),
	})
	return refs.detail(d), nil
}

type references struct {
	patients map[uuid.UUID]*patient.Patient
	doctors  map[uuid.UUID]*domain.User
}

func (r references) detail(d *diagnosis.Diagnosis) *DiagnosisDetail {
	out := &DiagnosisDetail{Diagnosis: d, Patient: r.patients[d.PatientID]}
	if d.DoctorID != nil {
		out.Doctor = r.doctors[*d.DoctorID]
	}
	return out
}

// resolve loads the patients and doctors referenced by list, one batch each.
func (s *QueryService) resolve(ctx context.Context, list []*diagnosis.Diagnosis) (references, error) {
	var patientIDs, doctorIDs []uuid.UUID
	seenPatient := make(map[uuid.UUID]bool, len(list))
	seenDoctor := make(map[uuid.UUID]bool)
	for _, d := range list {
		if !seenPatient[d.PatientID] {
			seenPatient[d.PatientID] = true
			patientIDs = append(patientIDs, d.PatientID)
		}
		if d.DoctorID != nil && !seenDoctor[*d.DoctorID] {
			seenDoctor[*d.DoctorID] = true
			doctorIDs = append(doctorIDs, *d.DoctorID)
		}
	}

	refs := references{
		patients: map[uuid.UUID]*patient.Patient{},
		doctors:  map[uuid.UUID]*domain.User{},
	}
	if len(patientIDs) > 0 {
		patients, err := s.patients.GetByIDs(ctx, patientIDs)
		if err != nil {
			return references{}, fmt.Errorf("resolving patients: %w", err)
		}
		refs.patients = patients
	}
	if len(doctorIDs) > 0 {
		doctors, err := s.users.GetByIDs(ctx, doctorIDs)
		if err != nil {
			return references{}, fmt.Errorf("resolving doctors: %w", err)
		}
		refs.doctors = doctors
	}
	return refs, nil
}

func (f ListFilter) toQuery() (*diagnosis.ListDiagnosesQuery, error) {
	q := &diagnosis.ListDiagnosesQuery{}
	verr := &ValidationError{}

	switch status := strings.ToLower(strings.TrimSpace(f.Status)); status {
	case "", "all":
	default:
		st := diagnosis.ReviewStatus(status)
		if st.IsValid() {
			q.Status = &st
		} else {
			verr.add("status must be one of all, pending, approved, rejected")
		}
	}

	if from, ok := parseDate(verr, "dateFrom", f.DateFrom); ok {
		q.CreatedFrom = &from
	}
	if to, ok := parseDate(verr, "dateTo", f.DateTo); ok {
		end := endOfDay(to)
		q.CreatedTo = &end
	}
	if q.CreatedFrom != nil && q.CreatedTo != nil && q.CreatedFrom.After(*q.CreatedTo) {
		verr.add("dateFrom must not be after dateTo")
	}

	q.MinConfidence = parsePercent(verr, "minConfidence", f.MinConfidence)
	q.MaxConfidence = parsePercent(verr, "maxConfidence", f.MaxConfidence)
	if q.MinConfidence != nil && q.MaxConfidence != nil && *q.MinConfidence > *q.MaxConfidence {
		verr.add("minConfidence must not exceed maxConfidence")
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return q, nil
}

// parseDate accepts a calendar date (taken as UTC midnight) or an RFC 3339 timestamp.
func parseDate(verr *ValidationError, field, raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	verr.add("%s must be YYYY-MM-DD or RFC 3339", field)
	return time.Time{}, false
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}

// parsePercent reads a 0..100 bound and returns it on the unit interval.
func parsePercent(verr *ValidationError, field, raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 100 {
		verr.add("%s must be a number between 0 and 100", field)
		return nil
	}
	unit := v / 100
	return &unit
}
