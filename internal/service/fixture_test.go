package service

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/diagnosis"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/patient"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/inference/mocks"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/repository/memory"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/imagestore"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

type fixture struct {
	diagnoses *memory.DiagnosisRepository
	patients  *memory.PatientRepository
	users     *memory.UserRepository
	audits    *memory.AuditRepository
	images    *imagestore.MemoryStore
	scorer    *mocks.MockScorer
	metrics   *metrics.Collector
	audit     *AuditService

	orchestrator *DiagnosisService
	reviews      *ReviewService
	queries      *QueryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		diagnoses: memory.NewDiagnosisRepository(),
		patients:  memory.NewPatientRepository(),
		users:     memory.NewUserRepository(),
		audits:    memory.NewAuditRepository(),
		images:    imagestore.NewMemoryStore("/uploads"),
		scorer:    mocks.NewMockScorer(gomock.NewController(t)),
		metrics:   metrics.NewCollector("medvision_test", prometheus.NewRegistry()),
	}
	log := zap.NewNop()
	f.audit = NewAuditService(f.audits, f.metrics, log)
	t.Cleanup(f.audit.Shutdown)

	f.orchestrator = NewDiagnosisService(f.diagnoses, f.patients, f.scorer, f.images, f.audit, f.metrics, log)
	f.reviews = NewReviewService(f.diagnoses, f.audit, f.metrics, log)
	f.queries = NewQueryService(f.diagnoses, f.patients, f.users, f.audit, log)
	return f
}

func (f *fixture) addPatient(t *testing.T, name string) *patient.Patient {
	t.Helper()
	p := &patient.Patient{ID: uuid.New(), Name: name}
	if err := f.patients.Create(context.Background(), p); err != nil {
		t.Fatalf("creating patient: %v", err)
	}
	return p
}

func (f *fixture) addDoctor(t *testing.T, name, email string) *domain.User {
	t.Helper()
	u := &domain.User{Name: name, Email: email, Role: domain.RoleDoctor, IsActive: true}
	if err := f.users.Create(context.Background(), u); err != nil {
		t.Fatalf("creating doctor: %v", err)
	}
	return u
}

func (f *fixture) addDiagnosis(t *testing.T, patientID uuid.UUID, createdAt time.Time, confidence float64, status diagnosis.ReviewStatus) *diagnosis.Diagnosis {
	t.Helper()
	return f.addDiagnosisBy(t, nil, patientID, createdAt, confidence, status)
}

func (f *fixture) addDiagnosisBy(t *testing.T, doctorID *uuid.UUID, patientID uuid.UUID, createdAt time.Time, confidence float64, status diagnosis.ReviewStatus) *diagnosis.Diagnosis {
	t.Helper()
	d := &diagnosis.Diagnosis{
		DoctorID:  doctorID,
		PatientID: patientID,
		CreatedAt: createdAt,
		Analysis:  diagnosis.AIAnalysis{Confidence: confidence}.Canonical(),
		Review:    diagnosis.Review{Status: status},
	}
	if err := f.diagnoses.Create(context.Background(), d); err != nil {
		t.Fatalf("creating diagnosis: %v", err)
	}
	return d
}

// auditEntries drains the async audit queue and returns what was written.
func (f *fixture) auditEntries() []domain.AuditLog {
	f.audit.Shutdown()
	return f.audits.Entries()
}

func upload(data []byte) *diagnosis.ImageUpload {
	return &diagnosis.ImageUpload{
		FileName:    "chest.png",
		ContentType: "image/png",
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func doctorActor() Actor {
	id := uuid.New()
	return Actor{DoctorID: &id, IPAddress: "10.0.0.7", RequestID: "req-1"}
}
