package postgres

import (
	"context"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain"
	"gorm.io/gorm"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends an entry. Audit rows are never updated or deleted.
func (r *AuditRepository) Create(ctx context.Context, entry *domain.AuditLog) error {
	// jsonb rejects the empty string
	if entry.Changes == "" {
		entry.Changes = "{}"
	}
	return r.db.WithContext(ctx).Create(entry).Error
}
