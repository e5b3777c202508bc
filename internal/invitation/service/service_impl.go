package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/keystone/internal/audit/domain"
	"github.com/smallbiznis/keystone/internal/authorization"
	"github.com/smallbiznis/keystone/internal/clock"
	"github.com/smallbiznis/keystone/internal/config"
	identitydomain "github.com/smallbiznis/keystone/internal/identity/domain"
	"github.com/smallbiznis/keystone/internal/invitation/domain"
	orgdomain "github.com/smallbiznis/keystone/internal/organization/domain"
	"github.com/smallbiznis/keystone/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tokenBytes = 32

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.Repository
	Orgs    orgdomain.Service
	OrgRepo orgdomain.Repository
	Users   identitydomain.Repository
	GenID   *snowflake.Node
	Clock   clock.Clock
	Audit   auditdomain.Service
	Authz   authorization.Service
	Tenancy *config.TenancyConfigHolder
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	orgs    orgdomain.Service
	orgRepo orgdomain.Repository
	users   identitydomain.Repository
	genID   *snowflake.Node
	clock   clock.Clock
	audit   auditdomain.Service
	authz   authorization.Service
	tenancy *config.TenancyConfigHolder
}

func NewService(p Params) domain.Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("invitation.service"),
		repo:    p.Repo,
		orgs:    p.Orgs,
		orgRepo: p.OrgRepo,
		users:   p.Users,
		genID:   p.GenID,
		clock:   p.Clock,
		audit:   p.Audit,
		authz:   p.Authz,
		tenancy: p.Tenancy,
	}
}

func (s *service) Send(ctx context.Context, orgID, actorID snowflake.ID, req domain.SendRequest) (*domain.SendResult, error) {
	if err := s.authz.Require(ctx, actorID, orgID, authorization.PermInvitationsSend); err != nil {
		return nil, err
	}
	if !orgdomain.ValidRole(req.Role) || req.Role == orgdomain.RoleOwner {
		return nil, orgdomain.ErrInvalidRole
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, identitydomain.ErrInvalidEmail
	}

	org, err := s.orgRepo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !org.IsActive {
		return nil, orgdomain.ErrOrganizationNotFound
	}
	if !org.AllowInvitations {
		return nil, domain.ErrInvitationsClosed
	}

	// An existing active account for this email must not already belong to
	// the organization.
	if user, err := s.users.GetByEmail(ctx, email); err == nil {
		if _, err := s.orgRepo.GetMembership(ctx, orgID, user.ID); err == nil {
			return nil, orgdomain.ErrAlreadyMember
		} else if !errors.Is(err, orgdomain.ErrMemberNotFound) {
			return nil, err
		}
	} else if !errors.Is(err, identitydomain.ErrUserNotFound) {
		return nil, err
	}

	pending, err := s.repo.PendingExists(ctx, orgID, email)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, domain.ErrAlreadyPending
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	ttl := time.Duration(s.tenancy.Get().InvitationTTLDays) * 24 * time.Hour
	inv := &domain.Invitation{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		Email:       email,
		Role:        req.Role,
		Permissions: orgdomain.PermissionsMap(req.Permissions),
		Token:       token,
		Status:      domain.StatusPending,
		InvitedBy:   actorID,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, inv); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyPending
		}
		return nil, err
	}

	s.audit.Record(ctx, auditdomain.Entry{
		ActorID:      actorID,
		OrgID:        &orgID,
		Action:       auditdomain.ActionInvitationSent,
		ResourceType: auditdomain.ResourceInvitation,
		ResourceID:   strPtr(inv.ID.String()),
		Details: map[string]any{
			"email": email,
			"role":  inv.Role,
		},
	})

	return &domain.SendResult{Invitation: inv, Token: token}, nil
}

// Accept consumes the invitation and attaches the caller to the organization
// in a single transaction. A consumed token is indistinguishable from an
// unknown one; only a stored expired status reveals more.
func (s *service) Accept(ctx context.Context, token string, userID snowflake.ID) (*domain.Invitation, error) {
	if strings.TrimSpace(token) == "" {
		return nil, domain.ErrInvitationNotFound
	}

	inv, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case domain.StatusPending:
	case domain.StatusExpired:
		return nil, domain.ErrExpired
	default:
		return nil, domain.ErrInvitationNotFound
	}

	now := s.clock.Now()
	if inv.Expired(now) {
		s.expire(ctx, inv, now)
		return nil, domain.ErrExpired
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(user.Email, inv.Email) {
		return nil, domain.ErrEmailMismatch
	}

	perms := make(map[string]bool, len(inv.Permissions))
	for name := range inv.Permissions {
		perms[name] = orgdomain.PermissionGranted(inv.Permissions, name)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.orgs.Attach(ctx, tx, orgdomain.MembershipSpec{
			OrgID:       inv.OrgID,
			UserID:      userID,
			Role:        inv.Role,
			Permissions: perms,
			InvitedBy:   &inv.InvitedBy,
		}); err != nil {
			return err
		}

		inv.Status = domain.StatusAccepted
		inv.AcceptedBy = &userID
		inv.AcceptedAt = &now
		inv.UpdatedAt = now
		return s.repo.WithTx(tx).Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, auditdomain.Entry{
		ActorID:      userID,
		OrgID:        &inv.OrgID,
		Action:       auditdomain.ActionInvitationAccepted,
		ResourceType: auditdomain.ResourceInvitation,
		ResourceID:   strPtr(inv.ID.String()),
		Details: map[string]any{
			"email": inv.Email,
			"role":  inv.Role,
		},
	})

	return inv, nil
}

func (s *service) Revoke(ctx context.Context, orgID, actorID, inviteID snowflake.ID) error {
	if err := s.authz.Require(ctx, actorID, orgID, authorization.PermInvitationsSend); err != nil {
		return err
	}

	inv, err := s.repo.GetByID(ctx, inviteID)
	if err != nil {
		return err
	}
	if inv.OrgID != orgID {
		return domain.ErrInvitationNotFound
	}
	if inv.Status != domain.StatusPending {
		return domain.ErrNotPending
	}

	now := s.clock.Now()
	inv.Status = domain.StatusRevoked
	inv.UpdatedAt = now
	if err := s.repo.Update(ctx, inv); err != nil {
		return err
	}

	s.audit.Record(ctx, auditdomain.Entry{
		ActorID:      actorID,
		OrgID:        &orgID,
		Action:       auditdomain.ActionInvitationRevoked,
		ResourceType: auditdomain.ResourceInvitation,
		ResourceID:   strPtr(inv.ID.String()),
		Details: map[string]any{
			"email": inv.Email,
		},
	})
	return nil
}

func (s *service) List(ctx context.Context, orgID, actorID snowflake.ID, status string) ([]domain.ListItem, error) {
	if err := s.authz.Require(ctx, actorID, orgID, authorization.PermInvitationsSend); err != nil {
		return nil, err
	}

	invs, err := s.repo.ListByOrg(ctx, orgID, status)
	if err != nil {
		return nil, err
	}

	items := make([]domain.ListItem, 0, len(invs))
	for _, inv := range invs {
		items = append(items, domain.ListItem{
			ID:        inv.ID.String(),
			Email:     inv.Email,
			Role:      inv.Role,
			Status:    inv.Status,
			InvitedBy: inv.InvitedBy.String(),
			ExpiresAt: inv.ExpiresAt,
			CreatedAt: inv.CreatedAt,
		})
	}
	return items, nil
}

func (s *service) ReapExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpirePending(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired pending invitations", zap.Int64("count", n))
	}
	return n, nil
}

func (s *service) expire(ctx context.Context, inv *domain.Invitation, now time.Time) {
	inv.Status = domain.StatusExpired
	inv.UpdatedAt = now
	if err := s.repo.Update(ctx, inv); err != nil {
		s.log.Warn("failed to mark invitation expired",
			zap.String("invitation_id", inv.ID.String()),
			zap.Error(err),
		)
	}
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", errors.New("empty email")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", err
	}
	return email, nil
}

func strPtr(v string) *string { return &v }
