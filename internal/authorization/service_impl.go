// Package authorization resolves effective access rights for a
// (user, organization) pair from the membership role plus per-membership
// permission overrides.
package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/keystone/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Well-known permission capabilities. The stored override map stays open for
// forward compatibility; these are the names Keystone itself consults.
const (
	PermMembersManage   = "members.manage"
	PermInvitationsSend = "invitations.send"
	PermAuditView       = "audit.view"
)

type Service interface {
	// Can reports whether the user holds the permission in the organization.
	// It performs no mutation and never raises authorization errors itself.
	Can(ctx context.Context, userID, orgID snowflake.ID, permission string) (bool, error)
	// Require turns a negative Can into ErrForbidden for callers gating a
	// mutation.
	Require(ctx context.Context, userID, orgID snowflake.ID, permission string) error
}

var Module = fx.Module("authorization.service",
	fx.Provide(NewService),
)

type service struct {
	log         *zap.Logger
	memberships orgdomain.Repository
}

func NewService(log *zap.Logger, memberships orgdomain.Repository) Service {
	return &service{
		log:         log.Named("authorization.service"),
		memberships: memberships,
	}
}

func (s *service) Can(ctx context.Context, userID, orgID snowflake.ID, permission string) (bool, error) {
	if userID == 0 || orgID == 0 || permission == "" {
		return false, nil
	}

	m, err := s.memberships.GetMembership(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, orgdomain.ErrMemberNotFound) {
			return false, nil
		}
		return false, err
	}

	// No implicit access for suspended memberships.
	if m.Status != orgdomain.MemberStatusActive {
		return false, nil
	}

	// Role supersedes overrides.
	if m.Role == orgdomain.RoleOwner || m.Role == orgdomain.RoleAdmin {
		return true, nil
	}

	return orgdomain.PermissionGranted(m.Permissions, permission), nil
}

func (s *service) Require(ctx context.Context, userID, orgID snowflake.ID, permission string) error {
	allowed, err := s.Can(ctx, userID, orgID, permission)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("permission denied",
			zap.String("user_id", userID.String()),
			zap.String("org_id", orgID.String()),
			zap.String("permission", permission),
		)
		return orgdomain.ErrForbidden
	}
	return nil
}
