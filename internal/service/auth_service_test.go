package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/config"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/repository/memory"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/auth"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct-horse-battery"

func newAuthFixture(t *testing.T) (*AuthService, *memory.UserRepository, *auth.JWTManager, *fixture) {
	t.Helper()
	f := newFixture(t)
	users := memory.NewUserRepository()
	tokens := auth.NewJWTManager(config.JWTConfig{
		Secret:         "test-secret-that-is-long-enough-1234",
		AccessTokenTTL: time.Hour,
		Issuer:         "medvision-test",
	})
	return NewAuthService(users, tokens, f.audit, zap.NewNop()), users, tokens, f
}

func TestAuthLogin_IssuesIdentityToken(t *testing.T) {
	svc, _, tokens, f := newAuthFixture(t)

	u, err := svc.Register(context.Background(), &RegisterUserCommand{
		Name:     "Dr. Meera Shah",
		Email:    "Meera.Shah@Hospital.test",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Role != domain.RoleDoctor {
		t.Errorf("role = %q, want doctor", u.Role)
	}

	pair, err := svc.Login(context.Background(), Actor{IPAddress: "10.0.0.7"}, " meera.shah@hospital.test ", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.TokenType != "Bearer" || pair.AccessToken == "" {
		t.Errorf("token pair = %+v", pair)
	}

	id, err := tokens.ParseIdentity(pair.AccessToken)
	if err != nil {
		t.Fatalf("ParseIdentity: %v", err)
	}
	if id != u.ID {
		t.Errorf("identity = %s, want %s", id, u.ID)
	}

	entries := f.auditEntries()
	if len(entries) != 1 || entries[0].Action != domain.ActionLogin || entries[0].UserID == nil || *entries[0].UserID != u.ID {
		t.Errorf("audit entries = %+v, want one login by %s", entries, u.ID)
	}
}

func TestAuthLogin_Failures(t *testing.T) {
	svc, users, _, _ := newAuthFixture(t)

	if _, err := svc.Register(context.Background(), &RegisterUserCommand{
		Name: "Dr. Meera Shah", Email: "meera@hospital.test", Password: testPassword,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	if err := users.Create(context.Background(), &domain.User{
		Name: "Dr. Former", Email: "former@hospital.test", PasswordHash: string(hash), Role: domain.RoleDoctor,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"wrong password", "meera@hospital.test", "not-the-password", ErrInvalidCredentials},
		{"unknown email", "nobody@hospital.test", testPassword, ErrInvalidCredentials},
		{"inactive account", "former@hospital.test", testPassword, ErrAccountInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), Actor{}, tt.email, tt.password)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	_, err = svc.Login(context.Background(), Actor{}, "", "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("empty credentials: error = %v, want *ValidationError", err)
	}
}

func TestAuthRegister_Validation(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t)

	_, err := svc.Register(context.Background(), &RegisterUserCommand{
		Name: " ", Email: "not-an-email", Password: "short", Role: "nurse",
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if len(verr.Fields) != 4 {
		t.Errorf("fields = %v, want 4 messages", verr.Fields)
	}
}
