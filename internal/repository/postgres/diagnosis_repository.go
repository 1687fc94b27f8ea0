// Package postgres implements the repository contracts on gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/diagnosis"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DiagnosisRepository struct {
	db *gorm.DB
}

func NewDiagnosisRepository(db *gorm.DB) *DiagnosisRepository {
	return &DiagnosisRepository{db: db}
}

func (r *DiagnosisRepository) Create(ctx context.Context, d *diagnosis.Diagnosis) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("inserting diagnosis: %w", err)
	}
	return nil
}

func (r *DiagnosisRepository) GetByID(ctx context.Context, id uuid.UUID) (*diagnosis.Diagnosis, error) {
	var d diagnosis.Diagnosis
	err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, diagnosis.ErrDiagnosisNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading diagnosis: %w", err)
	}
	return &d, nil
}

func (r *DiagnosisRepository) List(ctx context.Context, q *diagnosis.ListDiagnosesQuery) ([]*diagnosis.Diagnosis, error) {
	tx := r.db.WithContext(ctx).Model(&diagnosis.Diagnosis{})

	if q != nil {
		if q.Status != nil {
			tx = tx.Where("review_status = ?", *q.Status)
		}
		if q.CreatedFrom != nil {
			tx = tx.Where("created_at >= ?", *q.CreatedFrom)
		}
		if q.CreatedTo != nil {
			tx = tx.Where("created_at <= ?", *q.CreatedTo)
		}
		if q.MinConfidence != nil {
			tx = tx.Where("ai_confidence >= ?", *q.MinConfidence)
		}
		if q.MaxConfidence != nil {
			tx = tx.Where("ai_confidence <= ?", *q.MaxConfidence)
		}
	}

	var out []*diagnosis.Diagnosis
	if err := tx.Order("created_at DESC").Order("id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing diagnoses: %w", err)
	}
	return out, nil
}

// UpdateReview locks the row, applies the change and writes back the review columns only.
// The analysis columns are never part of the UPDATE.
func (r *DiagnosisRepository) UpdateReview(ctx context.Context, id uuid.UUID, apply func(rv *diagnosis.Review)) (*diagnosis.Diagnosis, error) {
	var d diagnosis.Diagnosis

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&d, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return diagnosis.ErrDiagnosisNotFound
		}
		if err != nil {
			return err
		}

		apply(&d.Review)

		return tx.Model(&d).Updates(map[string]any{
			"review_summary":     d.Review.Summary,
			"review_notes":       d.Review.Notes,
			"review_status":      d.Review.Status,
			"review_updated_at":  d.Review.UpdatedAt,
			"review_reviewed_by": d.Review.ReviewedBy,
			"updated_at":         gorm.Expr("NOW()"),
		}).Error
	})
	if err != nil {
		if errors.Is(err, diagnosis.ErrDiagnosisNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("updating review: %w", err)
	}

	return r.GetByID(ctx, id)
}
