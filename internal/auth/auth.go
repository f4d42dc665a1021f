// Package auth guards the administrative surface.
//
// Accounts carry bcrypt password hashes; a successful login mints a
// short-lived bearer token — base64 JSON claims plus an HMAC-SHA256
// signature over them. Tokens are stateless: revocation is disabling
// the account and waiting out the expiry, which for a household admin
// surface with hour-scale tokens is the right trade.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Sentinel errors returned by the service.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrUserDisabled       = errors.New("auth: user disabled")
	ErrWeakPassword       = errors.New("auth: password must be at least 8 characters")
)

const (
	defaultTokenDuration = time.Hour
	minPasswordLen       = 8
)

// Claims is the signed payload inside an access token.
type Claims struct {
	UserID    string `json:"uid"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// Config tunes the auth service.
type Config struct {
	// Secret keys the token HMAC. Required.
	Secret string

	// TokenDuration is the access token lifetime. Defaults to one hour.
	TokenDuration time.Duration

	// BcryptCost overrides the password hash cost. Defaults to
	// bcrypt.DefaultCost.
	BcryptCost int
}

// Service mints and validates bearer tokens against a user store.
type Service struct {
	store    Store
	secret   []byte
	duration time.Duration
	cost     int
	now      func() time.Time
}

// NewService constructs a Service. The secret must be non-empty.
func NewService(store Store, cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	duration := cfg.TokenDuration
	if duration <= 0 {
		duration = defaultTokenDuration
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		store:    store,
		secret:   []byte(cfg.Secret),
		duration: duration,
		cost:     cost,
		now:      time.Now,
	}, nil
}

// Register creates an account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, name, password, role string) (*User, error) {
	if len(password) < minPasswordLen {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	user := &User{
		Name:         name,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies the password and returns a signed bearer token with its
// expiry. Unknown users and wrong passwords are indistinguishable to the
// caller.
func (s *Service) Login(ctx context.Context, name, password string) (string, time.Time, error) {
	user, err := s.store.GetUserByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", time.Time{}, ErrInvalidCredentials
		}
		return "", time.Time{}, err
	}
	if !user.Active {
		return "", time.Time{}, ErrUserDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := s.now()
	expires := now.Add(s.duration)
	token, err := s.signToken(Claims{
		UserID:    user.ID,
		Name:      user.Name,
		Role:      user.Role,
		IssuedAt:  now.Unix(),
		ExpiresAt: expires.Unix(),
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// ValidateToken checks signature and expiry and returns the claims.
func (s *Service) ValidateToken(token string) (*Claims, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > claims.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

// signToken encodes claims as payload.signature.
func (s *Service) signToken(claims Claims) (string, error) {
	data, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("auth: encode claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(data)
	return payload + "." + s.sign(payload), nil
}

func (s *Service) parseToken(token string) (*Claims, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(payload))) {
		return nil, ErrInvalidToken
	}
	data, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// sign computes the HMAC-SHA256 signature of data under the service key.
func (s *Service) sign(data string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
