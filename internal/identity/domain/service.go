package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidEmail       = errors.New("invalid_email")
	ErrWeakPassword       = errors.New("weak_password")
	ErrUserExists         = errors.New("user_exists")
	ErrUserNotFound       = errors.New("user_not_found")
	ErrAccountInactive    = errors.New("account_inactive")
	ErrInvalidToken       = errors.New("invalid_token")
)

type RegisterRequest struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
}

type LoginRequest struct {
	Email    string
	Password string
}

type LoginResult struct {
	User      *User
	Token     string
	ExpiresAt time.Time
}

type UpdateProfileRequest struct {
	FirstName *string
	LastName  *string
	Password  *string
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	// Authenticate resolves a bearer token to an active user.
	Authenticate(ctx context.Context, token string) (*User, error)
	GetByID(ctx context.Context, id snowflake.ID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateProfile(ctx context.Context, id snowflake.ID, req UpdateProfileRequest) (*User, error)
}
