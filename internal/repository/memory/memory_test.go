package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/diagnosis"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/patient"
	"github.com/google/uuid"
)

func TestDiagnosisRepository_ReturnsCopies(t *testing.T) {
	repo := NewDiagnosisRepository()
	ctx := context.Background()

	d := &diagnosis.Diagnosis{
		PatientID: uuid.New(),
		Analysis: diagnosis.AIAnalysis{
			Confidence: 0.8,
			Findings:   []diagnosis.Finding{{Condition: "COVID-19", Probability: 0.8}},
		},
	}
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d.ID == uuid.Nil || d.CreatedAt.IsZero() {
		t.Fatalf("Create did not assign id and timestamp: %+v", d)
	}

	d.Analysis.Findings[0].Condition = "mutated"
	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Analysis.Findings[0].Condition != "COVID-19" {
		t.Error("caller mutation leaked into the store")
	}

	got.Analysis.Confidence = 0.1
	again, _ := repo.GetByID(ctx, d.ID)
	if again.Analysis.Confidence != 0.8 {
		t.Error("returned value shares memory with the store")
	}
}

func TestDiagnosisRepository_ListNewestFirst(t *testing.T) {
	repo := NewDiagnosisRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		d := &diagnosis.Diagnosis{PatientID: uuid.New(), CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := repo.Create(ctx, d); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, d.ID)
	}

	list, err := repo.List(ctx, nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []uuid.UUID{ids[2], ids[1], ids[0]}
	for i := range want {
		if list[i].ID != want[i] {
			t.Errorf("position %d = %s, want %s", i, list[i].ID, want[i])
		}
	}
}

func TestDiagnosisRepository_UpdateReview(t *testing.T) {
	repo := NewDiagnosisRepository()
	ctx := context.Background()

	d := &diagnosis.Diagnosis{PatientID: uuid.New(), Review: diagnosis.Review{Status: diagnosis.ReviewPending}}
	if err := repo.Create(ctx, d); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	updated, err := repo.UpdateReview(ctx, d.ID, func(r *diagnosis.Review) {
		r.Apply(diagnosis.ReviewApproved, nil, nil, nil, now)
	})
	if err != nil {
		t.Fatalf("UpdateReview: %v", err)
	}
	if updated.Review.Status != diagnosis.ReviewApproved || updated.Review.UpdatedAt == nil || !updated.Review.UpdatedAt.Equal(now) {
		t.Errorf("review = %+v", updated.Review)
	}

	if _, err := repo.UpdateReview(ctx, uuid.New(), func(*diagnosis.Review) {}); !errors.Is(err, diagnosis.ErrDiagnosisNotFound) {
		t.Errorf("unknown id: error = %v", err)
	}
}

func TestPatientRepository_SoftDelete(t *testing.T) {
	repo := NewPatientRepository()
	ctx := context.Background()

	p := &patient.Patient{Name: "Asha Verma"}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := repo.SoftDelete(ctx, p.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	if _, err := repo.GetByID(ctx, p.ID); !errors.Is(err, patient.ErrPatientNotFound) {
		t.Errorf("GetByID after delete: error = %v", err)
	}
	// Existing diagnoses still resolve the name of a deleted patient.
	byID, err := repo.GetByIDs(ctx, []uuid.UUID{p.ID, uuid.New()})
	if err != nil {
		t.Fatal(err)
	}
	if len(byID) != 1 || byID[p.ID].Name != "Asha Verma" {
		t.Errorf("GetByIDs = %v", byID)
	}
}

func TestUserRepository_EmailIsUnique(t *testing.T) {
	repo := NewUserRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, &domain.User{Email: "meera@hospital.test"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, &domain.User{Email: "MEERA@hospital.test"}); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate email: error = %v", err)
	}

	u, err := repo.GetByEmail(ctx, "Meera@Hospital.test")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if err := repo.UpdateLastLogin(ctx, u.ID, at); err != nil {
		t.Fatalf("UpdateLastLogin: %v", err)
	}
	u, _ = repo.GetByEmail(ctx, "meera@hospital.test")
	if u.LastLoginAt == nil || !u.LastLoginAt.Equal(at) {
		t.Errorf("last login = %v", u.LastLoginAt)
	}

	if _, err := repo.GetByEmail(ctx, "nobody@hospital.test"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("unknown email: error = %v", err)
	}

	byID, err := repo.GetByIDs(ctx, []uuid.UUID{u.ID, uuid.New()})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(byID) != 1 || byID[u.ID].Email != "meera@hospital.test" {
		t.Errorf("GetByIDs = %v", byID)
	}
}
