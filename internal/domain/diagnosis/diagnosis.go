package diagnosis

import (
	"io"
	"time"

	"github.com/google/uuid"
)

// ReviewStatus is the clinician verdict on an AI result.
//
//	pending → approved | rejected
//
// No transition table is enforced: any status may be set from any status, and
// re-setting the current status only re-stamps the review time.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

func (s ReviewStatus) IsValid() bool {
	switch s {
	case ReviewPending, ReviewApproved, ReviewRejected:
		return true
	}
	return false
}

// Review is the only mutable part of a Diagnosis.
type Review struct {
	Summary string       `gorm:"column:summary;type:text"`
	Notes   string       `gorm:"column:notes;type:text"`
	Status  ReviewStatus `gorm:"column:status;type:varchar(20);not null;default:'pending'"`
	// Stamped on every transition; nil until the first review.
	UpdatedAt  *time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
	ReviewedBy *uuid.UUID `gorm:"column:reviewed_by;type:uuid"`
}

// Apply sets the status, overwrites summary/notes only when given, and stamps the time.
// The stamp is forced strictly past the previous one so consecutive reviews are ordered
// even when the clock has not advanced at storage precision.
func (r *Review) Apply(status ReviewStatus, summary, notes *string, reviewedBy *uuid.UUID, now time.Time) {
	r.Status = status
	if summary != nil {
		r.Summary = *summary
	}
	if notes != nil {
		r.Notes = *notes
	}
	if r.UpdatedAt != nil && !now.After(*r.UpdatedAt) {
		now = r.UpdatedAt.Add(time.Microsecond)
	}
	r.UpdatedAt = &now
	r.ReviewedBy = reviewedBy
}

// Diagnosis is one persisted AI analysis of a patient image plus its review.
// The embedded analysis is written once at creation and never updated.
type Diagnosis struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	PatientID uuid.UUID  `gorm:"column:patient_id;type:uuid;not null;index"`
	DoctorID  *uuid.UUID `gorm:"column:doctor_id;type:uuid;index"`
	ImageURL  *string    `gorm:"column:image_url;type:text"`

	Analysis AIAnalysis `gorm:"embedded;embeddedPrefix:ai_"`
	Review   Review     `gorm:"embedded;embeddedPrefix:review_"`
}

func (Diagnosis) TableName() string {
	return "clinical.diagnoses"
}

// ImageUpload is an image received from a client. Open may be called more than once
// so the bytes can be streamed to storage and to the scorer without buffering.
type ImageUpload struct {
	FileName    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

type AnalyzeCommand struct {
	PatientID string
	Image     *ImageUpload
	Notes     string
}

type SaveDiagnosisCommand struct {
	PatientID string
	Analysis  *AIAnalysis
	ImageURL  string
}

// ReviewCommand carries a review transition. Nil Summary or Notes leave the stored value as is.
type ReviewCommand struct {
	DiagnosisID uuid.UUID
	Status      ReviewStatus
	Summary     *string
	Notes       *string
}

// ListDiagnosesQuery holds storage-level filters. Confidence bounds are on the unit interval
// and all bounds are inclusive. Patient name is not a Diagnosis property and is filtered
// by the caller after patients are resolved.
type ListDiagnosesQuery struct {
	Status        *ReviewStatus
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	MinConfidence *float64
	MaxConfidence *float64
}

// Matches reports whether d satisfies every filter in q.
func (q *ListDiagnosesQuery) Matches(d *Diagnosis) bool {
	if q.Status != nil && d.Review.Status != *q.Status {
		return false
	}
	if q.CreatedFrom != nil && d.CreatedAt.Before(*q.CreatedFrom) {
		return false
	}
	if q.CreatedTo != nil && d.CreatedAt.After(*q.CreatedTo) {
		return false
	}
	if q.MinConfidence != nil && d.Analysis.Confidence < *q.MinConfidence {
		return false
	}
	if q.MaxConfidence != nil && d.Analysis.Confidence > *q.MaxConfidence {
		return false
	}
	return true
}
