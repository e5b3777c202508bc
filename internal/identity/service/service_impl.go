package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/keystone/internal/clock"
	"github.com/smallbiznis/keystone/internal/config"
	"github.com/smallbiznis/keystone/internal/identity/domain"
	"github.com/smallbiznis/keystone/internal/identity/password"
	"github.com/smallbiznis/keystone/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	tokenTTL          = 30 * 24 * time.Hour
	minPasswordLength = 8
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Cfg   config.Config
	Repo  domain.Repository
	GenID *snowflake.Node
	Clock clock.Clock
}

type service struct {
	log    *zap.Logger
	repo   domain.Repository
	genID  *snowflake.Node
	clock  clock.Clock
	secret []byte
}

func NewService(p Params) domain.Service {
	return &service{
		log:    p.Log.Named("identity.service"),
		repo:   p.Repo,
		genID:  p.GenID,
		clock:  p.Clock,
		secret: []byte(p.Cfg.AuthJWTSecret),
	}
}

func (s *service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	if len(strings.TrimSpace(req.Password)) < minPasswordLength {
		return nil, domain.ErrWeakPassword
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, domain.ErrUserExists
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	user := &domain.User{
		ID:           s.genID.Generate(),
		Email:        email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: hashed,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrUserExists
		}
		return nil, err
	}

	return user, nil
}

func (s *service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if strings.TrimSpace(req.Password) == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if !password.Verify(req.Password, user.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, domain.ErrAccountInactive
	}

	now := s.clock.Now()
	user.LastLoginAt = &now
	user.UpdatedAt = now
	if err := s.repo.Update(ctx, user); err != nil {
		s.log.Warn("failed to record last login", zap.String("user_id", user.ID.String()), zap.Error(err))
	}

	expiresAt := now.Add(tokenTTL)
	token, err := s.signToken(user.ID, now, expiresAt)
	if err != nil {
		return nil, err
	}

	return &domain.LoginResult{
		User:      user,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *service) Authenticate(ctx context.Context, raw string) (*domain.User, error) {
	parsed, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil || !parsed.Valid {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return nil, domain.ErrInvalidToken
	}

	userID, err := snowflake.ParseString(claims.Subject)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, domain.ErrAccountInactive
	}

	return user, nil
}

func (s *service) GetByID(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	return s.repo.GetByEmail(ctx, normalized)
}

func (s *service) UpdateProfile(ctx context.Context, id snowflake.ID, req domain.UpdateProfileRequest) (*domain.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.FirstName != nil {
		user.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		user.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Password != nil {
		if len(strings.TrimSpace(*req.Password)) < minPasswordLength {
			return nil, domain.ErrWeakPassword
		}
		hashed, err := password.Hash(*req.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hashed
	}
	user.UpdatedAt = s.clock.Now()

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *service) signToken(userID snowflake.ID, issuedAt, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    "keystone",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", domain.ErrInvalidEmail
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", domain.ErrInvalidEmail
	}
	return email, nil
}
