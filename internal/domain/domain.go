package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDoctor Role = "doctor"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleDoctor:
		return true
	}
	return false
}

// User is a clinician account. Diagnoses reference it through DoctorID.
type User struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"`

	Name          string `gorm:"column:name;type:varchar(100);not null"`
	Email         string `gorm:"column:email;type:varchar(255);uniqueIndex;not null"`
	PasswordHash  string `gorm:"column:password_hash;type:varchar(255);not null"`
	Hospital      string `gorm:"column:hospital;type:varchar(200)"`
	Department    string `gorm:"column:department;type:varchar(100)"`
	LicenseNumber string `gorm:"column:license_number;type:varchar(50)"`
	Role          Role   `gorm:"column:role;type:varchar(30);not null;default:'doctor';index"`

	IsActive    bool       `gorm:"column:is_active;default:true;index"`
	LastLoginAt *time.Time `gorm:"column:last_login_at"`
}

func (User) TableName() string {
	return "auth.users"
}

type AuditAction string

const (
	ActionCreate AuditAction = "create"
	ActionRead   AuditAction = "read"
	ActionReview AuditAction = "review"
	ActionLogin  AuditAction = "login"
)

type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OccurredAt time.Time `gorm:"autoCreateTime;index"`

	// Who. UserID is nil when attribution could not be resolved.
	UserID    *uuid.UUID `gorm:"column:user_id;type:uuid;index"`
	IPAddress string     `gorm:"column:ip_address;type:varchar(45)"` // Supports IPv6

	// What
	Action       AuditAction `gorm:"column:action;type:varchar(20);not null;index"`
	ResourceType string      `gorm:"column:resource_type;type:varchar(50);not null;index"`
	ResourceID   string      `gorm:"column:resource_id;type:varchar(50);index"`

	RequestID string `gorm:"column:request_id;type:varchar(50);index"`
	Changes   string `gorm:"column:changes;type:jsonb"`
}

func (AuditLog) TableName() string {
	return "audit.logs"
}

type TokenPair struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"` // Always "Bearer"
}

// Claims is the identity carried by an access token and attached to authenticated requests.
type Claims struct {
	UserID uuid.UUID `json:"sub"`
	Email  string    `json:"email"`
	Name   string    `json:"name"`
	Role   Role      `json:"role"`
}
