package patient

import (
	"time"

	"github.com/google/uuid"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

func (g Gender) IsValid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// Status is the triage state shown on the ward board.
type Status string

const (
	StatusNormal  Status = "normal"
	StatusPending Status = "pending"
	StatusUrgent  Status = "urgent"
)

// Patient is owned by the patient registry. Diagnoses only hold a reference to it
// and require that it exists and is not soft-deleted.
type Patient struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"` // Soft Delete

	Name                string `gorm:"column:name;type:varchar(100);not null;index"`
	Age                 *int   `gorm:"column:age"`
	Gender              Gender `gorm:"column:gender;type:varchar(20)"`
	RoomNumber          string `gorm:"column:room_number;type:varchar(20)"`
	MedicalRecordNumber string `gorm:"column:medical_record_number;type:varchar(50);index"`
	Status              Status `gorm:"column:status;type:varchar(20);default:'normal';index"`
	Symptoms            string `gorm:"column:symptoms;type:text"` // PHI

	DoctorID *uuid.UUID `gorm:"column:doctor_id;type:uuid;index"`
}

func (Patient) TableName() string {
	return "clinical.patients"
}

func (p *Patient) IsDeleted() bool {
	return p.DeletedAt != nil
}
