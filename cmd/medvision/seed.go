package main

import (
	"context"
	"fmt"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/patient"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/service"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// demoSeed creates one clinician and one patient so a fresh install can be exercised
// end to end.
type demoSeed struct {
	enabled     bool
	email       string
	password    string
	patientName string
}

func (d *demoSeed) bindFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.email, "doctor-email", "demo.doctor@medvision.local", "demo clinician email")
	cmd.Flags().StringVar(&d.password, "doctor-password", "", "demo clinician password (at least 12 characters)")
	cmd.Flags().StringVar(&d.patientName, "patient-name", "Demo Patient", "demo patient name")
}

func (d *demoSeed) run(ctx context.Context, a *app) error {
	if d.password == "" {
		return fmt.Errorf("--doctor-password is required to seed a demo clinician")
	}

	doctor, err := a.auth.Register(ctx, &service.RegisterUserCommand{
		Name:       "Demo Doctor",
		Email:      d.email,
		Password:   d.password,
		Hospital:   "MedVision Demo Hospital",
		Department: "Radiology",
		Role:       domain.RoleDoctor,
	})
	if err != nil {
		return fmt.Errorf("seeding clinician: %w", err)
	}

	age := 54
	p := &patient.Patient{
		ID:                  uuid.New(),
		Name:                d.patientName,
		Age:                 &age,
		Gender:              patient.GenderOther,
		RoomNumber:          "R-101",
		MedicalRecordNumber: "MRN-" + uuid.NewString()[:8],
		Status:              patient.StatusPending,
		DoctorID:            &doctor.ID,
	}
	if err := a.patients.Create(ctx, p); err != nil {
		return fmt.Errorf("seeding patient: %w", err)
	}

	a.log.Info("demo data seeded",
		zap.String("doctor_id", doctor.ID.String()),
		zap.String("doctor_email", doctor.Email),
		zap.String("patient_id", p.ID.String()),
	)
	return nil
}
