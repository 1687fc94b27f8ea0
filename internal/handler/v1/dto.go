package v1

import (
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/diagnosis"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/patient"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/service"
	"github.com/google/uuid"
)

// analysisResponse is the AIAnalysis wire shape. Field names are the ones the front end
// already reads, so a response can be posted back verbatim to POST /diagnoses/save.
type analysisResponse struct {
	Confidence      float64             `json:"confidence"`
	Findings        []diagnosis.Finding `json:"findings"`
	Recommendations []string            `json:"recommendations"`
	AINotes         string              `json:"aiNotes"`
	PredictedClass  *string             `json:"predictedClass,omitempty"`
	GradcamPath     *string             `json:"gradcamPath,omitempty"`
	GradcamPlusPath *string             `json:"gradcamPlusPath,omitempty"`
	LayerCamPath    *string             `json:"layerCamPath,omitempty"`
}

func toAnalysisResponse(a diagnosis.AIAnalysis) analysisResponse {
	a = a.Canonical()
	return analysisResponse{
		Confidence:      a.Confidence,
		Findings:        a.Findings,
		Recommendations: a.Recommendations,
		AINotes:         a.Notes,
		PredictedClass:  a.PredictedClass,
		GradcamPath:     a.Overlays.GradCAM,
		GradcamPlusPath: a.Overlays.GradCAMPlus,
		LayerCamPath:    a.Overlays.LayerCAM,
	}
}

type timingResponse struct {
	BuildMs     float64 `json:"buildMs"`
	RoundTripMs float64 `json:"roundTripMs"`
}

// analyzeResponse is an ephemeral analysis; nothing was persisted.
type analyzeResponse struct {
	analysisResponse
	ImageURL string         `json:"imageUrl"`
	Timing   timingResponse `json:"timing"`
}

func toAnalyzeResponse(r *service.AnalysisResult) analyzeResponse {
	return analyzeResponse{
		analysisResponse: toAnalysisResponse(r.Analysis),
		ImageURL:         r.ImageURL,
		Timing: timingResponse{
			BuildMs:     float64(r.Timing.Build.Microseconds()) / 1000,
			RoundTripMs: float64(r.Timing.RoundTrip.Microseconds()) / 1000,
		},
	}
}

type reviewResponse struct {
	Status     diagnosis.ReviewStatus `json:"status"`
	Summary    string                 `json:"summary"`
	Notes      string                 `json:"notes"`
	UpdatedAt  *time.Time             `json:"updatedAt"`
	ReviewedBy *uuid.UUID             `json:"reviewedBy"`
}

type patientSummary struct {
	ID                  uuid.UUID      `json:"id"`
	Name                string         `json:"name"`
	Age                 *int           `json:"age,omitempty"`
	Gender              patient.Gender `json:"gender,omitempty"`
	RoomNumber          string         `json:"roomNumber,omitempty"`
	MedicalRecordNumber string         `json:"medicalRecordNumber,omitempty"`
}

func toPatientSummary(p *patient.Patient) *patientSummary {
	if p == nil {
		return nil
	}
	return &patientSummary{
		ID:                  p.ID,
		Name:                p.Name,
		Age:                 p.Age,
		Gender:              p.Gender,
		RoomNumber:          p.RoomNumber,
		MedicalRecordNumber: p.MedicalRecordNumber,
	}
}

// doctorSummary is the attributed clinician without account fields.
type doctorSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

func toDoctorSummary(u *domain.User) *doctorSummary {
	if u == nil {
		return nil
	}
	return &doctorSummary{ID: u.ID, Name: u.Name, Email: u.Email}
}

type diagnosisResponse struct {
	ID         uuid.UUID        `json:"id"`
	PatientID  uuid.UUID        `json:"patientId"`
	Patient    *patientSummary  `json:"patient,omitempty"`
	DoctorID   *uuid.UUID       `json:"doctorId"`
	Doctor     *doctorSummary   `json:"doctor"`
	ImageURL   *string          `json:"imageUrl"`
	AIAnalysis analysisResponse `json:"aiAnalysis"`
	Review     reviewResponse   `json:"review"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

func toDiagnosisResponse(d *diagnosis.Diagnosis, p *patient.Patient, doctor *domain.User) diagnosisResponse {
	return diagnosisResponse{
		ID:         d.ID,
		PatientID:  d.PatientID,
		Patient:    toPatientSummary(p),
		DoctorID:   d.DoctorID,
		Doctor:     toDoctorSummary(doctor),
		ImageURL:   d.ImageURL,
		AIAnalysis: toAnalysisResponse(d.Analysis),
		Review: reviewResponse{
			Status:     d.Review.Status,
			Summary:    d.Review.Summary,
			Notes:      d.Review.Notes,
			UpdatedAt:  d.Review.UpdatedAt,
			ReviewedBy: d.Review.ReviewedBy,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func toDiagnosisList(list []*service.DiagnosisDetail) []diagnosisResponse {
	out := make([]diagnosisResponse, 0, len(list))
	for _, d := range list {
		out = append(out, toDiagnosisResponse(d.Diagnosis, d.Patient, d.Doctor))
	}
	return out
}

// saveDiagnosisRequest carries an analysis computed by an earlier analyze-only call.
// AIAnalysis is kept loose and run back through the normalizer.
type saveDiagnosisRequest struct {
	PatientID  string         `json:"patientId"`
	AIAnalysis map[string]any `json:"aiAnalysis"`
	ImageURL   string         `json:"imageUrl"`
}

// reviewRequest leaves summary or notes untouched when they are omitted.
type reviewRequest struct {
	Status  string  `json:"status"`
	Summary *string `json:"summary"`
	Notes   *string `json:"notes"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}
