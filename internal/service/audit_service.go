package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

// Actor identifies who is acting on a request and from where. DoctorID is nil when the
// clinician could not be resolved.
type Actor struct {
	DoctorID  *uuid.UUID
	IPAddress string
	RequestID string
}

type AuditEntry struct {
	Actor        Actor
	Action       domain.AuditAction
	ResourceType string
	ResourceID   string
	Changes      map[string]any
}

type AuditService struct {
	repo    AuditRepository
	metrics *metrics.Collector
	log     *zap.Logger
	entries chan *domain.AuditLog
	done    chan struct{}
	stop    sync.Once
}

const auditBufferSize = 10_000

func NewAuditService(repo AuditRepository, m *metrics.Collector, log *zap.Logger) *AuditService {
	svc := &AuditService{
		repo:    repo,
		metrics: m,
		log:     log,
		entries: make(chan *domain.AuditLog, auditBufferSize),
		done:    make(chan struct{}),
	}
	go svc.worker()
	return svc
}

// LogAsync enqueues an audit entry for async persistence.
// If the buffer is full, the entry is dropped and a warning is emitted.
func (s *AuditService) LogAsync(_ context.Context, entry AuditEntry) {
	al := &domain.AuditLog{
		UserID:       entry.Actor.DoctorID,
		IPAddress:    entry.Actor.IPAddress,
		RequestID:    entry.Actor.RequestID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
	}
	if len(entry.Changes) > 0 {
		if raw, err := json.Marshal(entry.Changes); err == nil {
			al.Changes = string(raw)
		}
	}

	select {
	case s.entries <- al:
	default:
		s.metrics.AuditBufferDropped.Inc()
		s.log.Warn("audit log buffer full, dropping entry",
			zap.String("action", string(entry.Action)),
			zap.String("resource", entry.ResourceType),
		)
	}
}

// Shutdown drains queued entries. LogAsync must not be called afterwards.
// Calling it more than once is safe.
func (s *AuditService) Shutdown() {
	s.stop.Do(func() {
		close(s.entries)
		select {
		case <-s.done:
		case <-time.After(10 * time.Second):
			s.log.Warn("audit service shutdown timed out; some entries may be lost")
		}
	})
}

func (s *AuditService) worker() {
	defer close(s.done)
	for entry := range s.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.Create(ctx, entry); err != nil {
			s.log.Error("failed to persist audit log", zap.Error(err))
		} else {
			s.metrics.AuditEntriesTotal.Inc()
		}
		cancel()
	}
}
