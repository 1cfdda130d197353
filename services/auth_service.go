package services

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 24 * time.Hour

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthService выдаёт JWT оператору. Аккаунты игроков живут во внешнем
// сервисе: движку расписания достаточно одного операторского входа.
type AuthService interface {
	Login(ctx context.Context, input LoginInput) (string, error)
}

type authService struct {
	adminEmail        string
	adminPasswordHash string
	jwtSecret         []byte
}

func NewAuthService(adminEmail, adminPasswordHash, jwtSecret string) AuthService {
	return &authService{
		adminEmail:        adminEmail,
		adminPasswordHash: adminPasswordHash,
		jwtSecret:         []byte(jwtSecret),
	}
}

func (s *authService) Login(_ context.Context, input LoginInput) (string, error) {
	if input.Email != s.adminEmail {
		return "", ErrAuthInvalidCredentials
	}

	err := bcrypt.CompareHashAndPassword([]byte(s.adminPasswordHash), []byte(input.Password))
	if err != nil {
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return "", ErrAuthInvalidCredentials
		}
		return "", fmt.Errorf("failed to compare password hash: %w", err)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  input.Email,
		"role": "operator",
		"iat":  now.Unix(),
		"exp":  now.Add(tokenTTL).Unix(),
	})

	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
