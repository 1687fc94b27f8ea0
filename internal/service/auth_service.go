package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 12

type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	// GetByEmail returns domain.ErrUserNotFound for unknown or deleted accounts.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	// GetByIDs resolves many users at once, deleted accounts included. Unknown IDs are absent.
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.User, error)
}

type RegisterUserCommand struct {
	Name          string
	Email         string
	Password      string
	Hospital      string
	Department    string
	LicenseNumber string
	Role          domain.Role
}

type AuthService struct {
	userRepo   UserRepository
	jwtManager *auth.JWTManager
	auditSvc   *AuditService
	log        *zap.Logger
	// dummyHash is compared against on unknown emails so both paths cost one bcrypt run.
	dummyHash []byte
}

func NewAuthService(userRepo UserRepository, jwtManager *auth.JWTManager, auditSvc *AuditService, log *zap.Logger) *AuthService {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("medvision-dummy-password"), bcrypt.DefaultCost)
	return &AuthService{
		userRepo:   userRepo,
		jwtManager: jwtManager,
		auditSvc:   auditSvc,
		log:        log,
		dummyHash:  dummy,
	}
}

// Register creates a clinician account. It backs the seed command; account management
// itself lives in the user registry.
func (s *AuthService) Register(ctx context.Context, cmd *RegisterUserCommand) (*domain.User, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(cmd.Name) == "" {
		verr.add("name is required")
	}
	if _, err := mail.ParseAddress(cmd.Email); err != nil {
		verr.add("email must be a valid address")
	}
	if len(cmd.Password) < minPasswordLength {
		verr.add("password must be at least %d characters", minPasswordLength)
	}
	role := cmd.Role
	if role == "" {
		role = domain.RoleDoctor
	}
	if !role.IsValid() {
		verr.add("role must be admin or doctor")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	u := &domain.User{
		ID:            uuid.New(),
		Name:          strings.TrimSpace(cmd.Name),
		Email:         strings.ToLower(strings.TrimSpace(cmd.Email)),
		PasswordHash:  string(hash),
		Hospital:      cmd.Hospital,
		Department:    cmd.Department,
		LicenseNumber: cmd.LicenseNumber,
		Role:          role,
		IsActive:      true,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		return nil, &PersistenceError{Op: "create user", Err: err}
	}

	s.log.Info("user registered", zap.String("user_id", u.ID.String()), zap.String("role", string(u.Role)))
	return u, nil
}

func (s *AuthService) Login(ctx context.Context, actor Actor, email, password string) (*domain.TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, &ValidationError{Fields: []string{"email and password are required"}}
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			s.log.Error("loading user for login", zap.Error(err))
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.log.Warn("failed login attempt",
			zap.String("user_id", user.ID.String()),
			zap.String("ip", actor.IPAddress),
		)
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	pair, err := s.jwtManager.GenerateAccessToken(&domain.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
	})
	if err != nil {
		s.log.Error("failed to generate access token", zap.Error(err))
		return nil, fmt.Errorf("generating token: %w", err)
	}

	if err := s.userRepo.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.log.Warn("recording last login", zap.Error(err))
	}

	id := user.ID
	actor.DoctorID = &id
	s.auditSvc.LogAsync(ctx, AuditEntry{
		Actor:        actor,
		Action:       domain.ActionLogin,
		ResourceType: "user",
		ResourceID:   user.ID.String(),
	})

	s.log.Info("user logged in",
		zap.String("user_id", user.ID.String()),
		zap.String("ip", actor.IPAddress),
	)

	return pair, nil
}
