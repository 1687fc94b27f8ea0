package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/config"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/diagnosis"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/patient"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/inference"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/repository/memory"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/repository/postgres"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/service"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/auth"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/database"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/imagestore"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// app is the wired object graph shared by serve and seed.
type app struct {
	patients patient.Repository
	images   imagestore.Store
	tokens   *auth.JWTManager
	metrics  *metrics.Collector
	audit    *service.AuditService

	auth      *service.AuthService
	diagnoses *service.DiagnosisService
	reviews   *service.ReviewService
	queries   *service.QueryService

	ready   func(ctx context.Context) error
	closers []func()
	log     *zap.Logger
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{log: log}

	var (
		diagnoses diagnosis.Repository
		users     service.UserRepository
		audits    service.AuditRepository
	)

	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := database.Connect(cfg.Database, log)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
		}
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		a.ready = sqlDB.PingContext

		diagnoses = postgres.NewDiagnosisRepository(db)
		a.patients = postgres.NewPatientRepository(db)
		users = postgres.NewUserRepository(db)
		audits = postgres.NewAuditRepository(db)

	case config.DriverMemory:
		log.Warn("using in-memory repositories; data is lost on restart")
		diagnoses = memory.NewDiagnosisRepository()
		a.patients = memory.NewPatientRepository()
		users = memory.NewUserRepository()
		audits = memory.NewAuditRepository()

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	images, err := imagestore.New(ctx, cfg.Storage)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening image store: %w", err)
	}
	a.images = images
	if c, ok := images.(io.Closer); ok {
		a.closers = append(a.closers, func() { _ = c.Close() })
	}

	a.metrics = metrics.NewCollector(cfg.App.Name, prometheus.DefaultRegisterer)
	a.tokens = auth.NewJWTManager(cfg.JWT)
	a.audit = service.NewAuditService(audits, a.metrics, log)
	// The audit queue drains before the database closes.
	a.closers = append(a.closers, a.audit.Shutdown)

	scorer := inference.NewClient(cfg.Inference)

	a.auth = service.NewAuthService(users, a.tokens, a.audit, log)
	a.diagnoses = service.NewDiagnosisService(diagnoses, a.patients, scorer, images, a.audit, a.metrics, log)
	a.reviews = service.NewReviewService(diagnoses, a.audit, a.metrics, log)
	a.queries = service.NewQueryService(diagnoses, a.patients, users, a.audit, log)

	return a, nil
}

// close runs closers in reverse registration order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
