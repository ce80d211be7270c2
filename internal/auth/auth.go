package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

type Credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type Claims struct {
	Username string `json:"username"`
	jwt.StandardClaims
}

// Authenticator issues and checks session tokens. Handlers depend on this
// interface so the ticket services never see credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (string, error)
	Validate(token string) (*Claims, error)
}

// StaticAuthenticator checks a single operator account from configuration.
type StaticAuthenticator struct {
	username     string
	passwordHash []byte
	secret       []byte
	lifespan     time.Duration
	now          func() time.Time
}

func NewStaticAuthenticator(username, passwordHash, secret string, lifespan time.Duration) (*StaticAuthenticator, error) {
	if username == "" || passwordHash == "" {
		return nil, errors.New("auth username and password hash are required")
	}
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if lifespan <= 0 {
		lifespan = 12 * time.Hour
	}
	return &StaticAuthenticator{
		username:     username,
		passwordHash: []byte(passwordHash),
		secret:       []byte(secret),
		lifespan:     lifespan,
		now:          time.Now,
	}, nil
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, creds Credentials) (string, error) {
	if creds.Username != a.username {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(creds.Password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := a.now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Username: creds.Username,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: now.Add(a.lifespan).Unix(),
			IssuedAt:  now.Unix(),
		},
	})
	token, err := t.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (a *StaticAuthenticator) Validate(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashPassword produces the bcrypt hash stored in AUTH_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
