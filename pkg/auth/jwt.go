package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/config"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired    = errors.New("token has expired")
	ErrTokenInvalid    = errors.New("token is invalid")
	ErrNoIdentityClaim = errors.New("token carries no usable identity claim")
)

// identityClaimNames lists where an identity may live, in lookup order. Tokens issued by
// older front ends carry userId or _id instead of id.
var identityClaimNames = []string{"id", "userId", "user_id", "_id", "sub"}

type medvisionClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role"`
}

type JWTManager struct {
	cfg config.JWTConfig
}

func NewJWTManager(cfg config.JWTConfig) *JWTManager {
	return &JWTManager{cfg: cfg}
}

func (m *JWTManager) GenerateAccessToken(claims *domain.Claims) (*domain.TokenPair, error) {
	now := time.Now()
	expiresAt := now.Add(m.cfg.AccessTokenTTL)

	jwtClaims := medvisionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   claims.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			// 10s of skew tolerance between API replicas
			NotBefore: jwt.NewNumericDate(now.Add(-10 * time.Second)),
		},
		UserID: claims.UserID.String(),
		Email:  claims.Email,
		Name:   claims.Name,
		Role:   string(claims.Role),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims)
	signed, err := token.SignedString([]byte(m.cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken: signed,
		ExpiresAt:   expiresAt,
		TokenType:   "Bearer",
	}, nil
}

// ValidateAccessToken checks a token this service issued and returns its full claims.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*domain.Claims, error) {
	claims := &medvisionClaims{}
	if err := m.parse(tokenString, claims, jwt.WithIssuer(m.cfg.Issuer)); err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	return &domain.Claims{
		UserID: userID,
		Email:  claims.Email,
		Name:   claims.Name,
		Role:   domain.Role(claims.Role),
	}, nil
}

// ParseIdentity verifies the signature and expiry of any token signed with our secret,
// whoever issued it, and extracts the first identity claim that holds a UUID.
func (m *JWTManager) ParseIdentity(tokenString string) (uuid.UUID, error) {
	claims := jwt.MapClaims{}
	if err := m.parse(tokenString, claims); err != nil {
		return uuid.Nil, err
	}

	for _, name := range identityClaimNames {
		raw, ok := claims[name].(string)
		if !ok || raw == "" {
			continue
		}
		if id, err := uuid.Parse(raw); err == nil && id != uuid.Nil {
			return id, nil
		}
	}
	return uuid.Nil, ErrNoIdentityClaim
}

func (m *JWTManager) parse(tokenString string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append(opts, jwt.WithExpirationRequired())
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(m.cfg.Secret), nil
		},
		opts...,
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}
	if !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}
