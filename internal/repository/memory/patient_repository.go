package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/patient"
	"github.com/google/uuid"
)

type PatientRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]patient.Patient
}

func NewPatientRepository() *PatientRepository {
	return &PatientRepository{items: make(map[uuid.UUID]patient.Patient)}
}

func (r *PatientRepository) Create(ctx context.Context, p *patient.Patient) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = patient.StatusNormal
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[p.ID] = *p
	return nil
}

func (r *PatientRepository) GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.items[id]
	if !ok || p.IsDeleted() {
		return nil, patient.ErrPatientNotFound
	}
	return &p, nil
}

func (r *PatientRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*patient.Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[uuid.UUID]*patient.Patient, len(ids))
	for _, id := range ids {
		if p, ok := r.items[id]; ok {
			out[id] = &p
		}
	}
	return out, nil
}

// SoftDelete marks a patient deleted the way the patient registry does.
func (r *PatientRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[id]
	if !ok || p.IsDeleted() {
		return patient.ErrPatientNotFound
	}
	now := time.Now().UTC()
	p.DeletedAt = &now
	r.items[id] = p
	return nil
}
