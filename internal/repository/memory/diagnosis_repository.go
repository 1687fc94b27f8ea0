// Package memory holds thread-safe in-process repositories. They back DB_DRIVER=memory
// and the service and handler tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/diagnosis"
	"github.com/google/uuid"
)

type DiagnosisRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*diagnosis.Diagnosis
	now   func() time.Time
}

func NewDiagnosisRepository() *DiagnosisRepository {
	return &DiagnosisRepository{
		items: make(map[uuid.UUID]*diagnosis.Diagnosis),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *DiagnosisRepository) Create(ctx context.Context, d *diagnosis.Diagnosis) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.now()
	}
	d.UpdatedAt = d.CreatedAt

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[d.ID] = cloneDiagnosis(d)
	return nil
}

func (r *DiagnosisRepository) GetByID(ctx context.Context, id uuid.UUID) (*diagnosis.Diagnosis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.items[id]
	if !ok {
		return nil, diagnosis.ErrDiagnosisNotFound
	}
	return cloneDiagnosis(d), nil
}

func (r *DiagnosisRepository) List(ctx context.Context, q *diagnosis.ListDiagnosesQuery) ([]*diagnosis.Diagnosis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q == nil {
		q = &diagnosis.ListDiagnosesQuery{}
	}

	r.mu.RLock()
	out := make([]*diagnosis.Diagnosis, 0, len(r.items))
	for _, d := range r.items {
		if q.Matches(d) {
			out = append(out, cloneDiagnosis(d))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *DiagnosisRepository) UpdateReview(ctx context.Context, id uuid.UUID, apply func(rv *diagnosis.Review)) (*diagnosis.Diagnosis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.items[id]
	if !ok {
		return nil, diagnosis.ErrDiagnosisNotFound
	}

	apply(&d.Review)
	d.UpdatedAt = r.now()
	return cloneDiagnosis(d), nil
}

// Count reports how many diagnoses are stored.
func (r *DiagnosisRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// cloneDiagnosis deep-copies d so callers never share memory with the store.
func cloneDiagnosis(d *diagnosis.Diagnosis) *diagnosis.Diagnosis {
	c := *d
	c.DoctorID = clonePtr(d.DoctorID)
	c.ImageURL = clonePtr(d.ImageURL)

	c.Analysis.Findings = append([]diagnosis.Finding{}, d.Analysis.Findings...)
	c.Analysis.Recommendations = append([]string{}, d.Analysis.Recommendations...)
	c.Analysis.PredictedClass = clonePtr(d.Analysis.PredictedClass)
	c.Analysis.Overlays.GradCAM = clonePtr(d.Analysis.Overlays.GradCAM)
	c.Analysis.Overlays.GradCAMPlus = clonePtr(d.Analysis.Overlays.GradCAMPlus)
	c.Analysis.Overlays.LayerCAM = clonePtr(d.Analysis.Overlays.LayerCAM)

	c.Review.UpdatedAt = clonePtr(d.Review.UpdatedAt)
	c.Review.ReviewedBy = clonePtr(d.Review.ReviewedBy)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
