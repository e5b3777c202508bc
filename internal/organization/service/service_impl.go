package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/keystone/internal/audit/domain"
	"github.com/smallbiznis/keystone/internal/authorization"
	"github.com/smallbiznis/keystone/internal/clock"
	"github.com/smallbiznis/keystone/internal/config"
	identitydomain "github.com/smallbiznis/keystone/internal/identity/domain"
	"github.com/smallbiznis/keystone/internal/identity/password"
	"github.com/smallbiznis/keystone/internal/organization/domain"
	"github.com/smallbiznis/keystone/pkg/db"
	"github.com/smallbiznis/keystone/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const minPasswordLength = 8

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.Repository
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
		log:     p.Log.Named("organization.service"),
		repo:    p.Repo,
		users:   p.Users,
		genID:   p.GenID,
		clock:   p.Clock,
		audit:   p.Audit,
		authz:   p.Authz,
		tenancy: p.Tenancy,
	}
}

// Create provisions the owner account, the organization and the owner
// membership in one transaction.
func (s *service) Create(ctx context.Context, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	email, err := normalizeEmail(req.OwnerEmail)
	if err != nil {
		return nil, identitydomain.ErrInvalidEmail
	}
	if len(strings.TrimSpace(req.OwnerPassword)) < minPasswordLength {
		return nil, identitydomain.ErrWeakPassword
	}

	orgSlug := slug.Make(name)
	taken, err := s.repo.SlugExists(ctx, orgSlug)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, domain.ErrSlugTaken
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, identitydomain.ErrUserExists
	} else if !errors.Is(err, identitydomain.ErrUserNotFound) {
		return nil, err
	}

	hashed, err := password.Hash(req.OwnerPassword)
	if err != nil {
		return nil, err
	}

	defaults := s.tenancy.Get()
	now := s.clock.Now()
	owner := &identitydomain.User{
		ID:           s.genID.Generate(),
		Email:        email,
		FirstName:    strings.TrimSpace(req.OwnerFirstName),
		LastName:     strings.TrimSpace(req.OwnerLastName),
		PasswordHash: hashed,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	org := &domain.Organization{
		ID:               s.genID.Generate(),
		Name:             name,
		Slug:             orgSlug,
		Description:      strings.TrimSpace(req.Description),
		OwnerID:          owner.ID,
		AllowInvitations: defaults.AllowInvitations,
		MaxMembers:       defaults.MaxMembers,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.users.WithTx(tx).Create(ctx, owner); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return identitydomain.ErrUserExists
			}
			return err
		}

		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrganization(ctx, org); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrSlugTaken
			}
			return err
		}

		membership := &domain.Membership{
			ID:          s.genID.Generate(),
			OrgID:       org.ID,
			UserID:      owner.ID,
			Role:        domain.RoleOwner,
			Permissions: domain.PermissionsMap(nil),
			Status:      domain.MemberStatusActive,
			JoinedAt:    now,
		}
		return repo.InsertMembership(ctx, membership)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, auditdomain.Entry{
		ActorID:      owner.ID,
		OrgID:        &org.ID,
		Action:       auditdomain.ActionOrganizationCreated,
		ResourceType: auditdomain.ResourceOrganization,
		ResourceID:   strPtr(org.ID.String()),
		Details: map[string]any{
			"name": org.Name,
			"slug": org.Slug,
		},
	})

	return orgResponse(org), nil
}

func (s *service) GetByID(ctx context.Context, orgID snowflake.ID) (*domain.OrganizationResponse, error) {
	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return orgResponse(org), nil
}

func (s *service) ListByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	rows, err := s.repo.ListOrganizationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	items := make([]domain.OrganizationListItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.OrganizationListItem{
			ID:        row.ID.String(),
			Name:      row.Name,
			Slug:      row.Slug,
			Role:      row.Role,
			CreatedAt: row.CreatedAt,
		})
	}
	return items, nil
}

// AddMember attaches an existing or newly provisioned user to the
// organization. When no account exists for the email, one is created with a
// random temporary credential.
func (s *service) AddMember(ctx context.Context, orgID, actorID snowflake.ID, req domain.AddMemberRequest) (*domain.AddMemberResult, error) {
	if err := s.authz.Require(ctx, actorID, orgID, authorization.PermMembersManage); err != nil {
		return nil, err
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, identitydomain.ErrInvalidEmail
	}

	result := &domain.AddMemberResult{}
	now := s.clock.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)

		user, err := users.GetByEmail(ctx, email)
		switch {
		case err == nil:
		case errors.Is(err, identitydomain.ErrUserNotFound):
			temp, err := password.Temporary()
			if err != nil {
				return err
			}
			hashed, err := password.Hash(temp)
			if err != nil {
				return err
			}
			user = &identitydomain.User{
				ID:           s.genID.Generate(),
				Email:        email,
				FirstName:    strings.TrimSpace(req.FirstName),
				LastName:     strings.TrimSpace(req.LastName),
				PasswordHash: hashed,
				IsActive:     true,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := users.Create(ctx, user); err != nil {
				if db.IsDuplicateKeyErr(err) {
					return domain.ErrAlreadyMember
				}
				return err
			}
			result.UserCreated = true
			result.TempPassword = temp
		default:
			return err
		}

		membership, err := s.Attach(ctx, tx, domain.MembershipSpec{
			OrgID:       orgID,
			UserID:      user.ID,
			Role:        req.Role,
			Permissions: req.Permissions,
			InvitedBy:   &actorID,
		})
		if err != nil {
			return err
		}
		result.Membership = membership
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, auditdomain.Entry{
		ActorID:      actorID,
		OrgID:        &orgID,
		Action:       auditdomain.ActionMemberAdded,
		ResourceType: auditdomain.ResourceMembership,
		ResourceID:   strPtr(result.Membership.UserID.String()),
		Details: map[string]any{
			"email":        email,
			"role":         result.Membership.Role,
			"user_created": result.UserCreated,
		},
	})

	return result, nil
}

// Attach is the single invariant-preserving write path for new memberships.
// It must run inside the caller's transaction.
func (s *service) Attach(ctx context.Context, tx *gorm.DB, spec domain.MembershipSpec) (*domain.Membership, error) {
	if !domain.ValidRole(spec.Role) || spec.Role == domain.RoleOwner {
		return nil, domain.ErrInvalidRole
	}

	repo := s.repo.WithTx(tx)

	org, err := repo.GetOrganization(ctx, spec.OrgID)
	if err != nil {
		return nil, err
	}
	if !org.IsActive {
		return nil, domain.ErrOrganizationNotFound
	}

	if _, err := repo.GetMembership(ctx, spec.OrgID, spec.UserID); err == nil {
		return nil, domain.ErrAlreadyMember
	} else if !errors.Is(err, domain.ErrMemberNotFound) {
		return nil, err
	}

	count, err := repo.CountMembers(ctx, spec.OrgID, "")
	if err != nil {
		return nil, err
	}
	if org.MaxMembers > 0 && count >= int64(org.MaxMembers) {
		return nil, domain.ErrMemberLimitReached
	}

	membership := &domain.Membership{
		ID:          s.genID.Generate(),
		OrgID:       spec.OrgID,
		UserID:      spec.UserID,
		Role:        spec.Role,
		Permissions: domain.PermissionsMap(spec.Permissions),
		Status:      domain.MemberStatusActive,
		InvitedBy:   spec.InvitedBy,
		JoinedAt:    s.clock.Now(),
	}
	if err := repo.InsertMembership(ctx, membership); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyMember
		}
		return nil, err
	}
	return membership, nil
}

func (s *service) UpdateMemberRole(ctx context.Context, orgID, actorID, userID snowflake.ID, req domain.UpdateMemberRoleRequest) error {
	if err := s.authz.Require(ctx, actorID, orgID, authorization.PermMembersManage); err != nil {
		return err
	}
	if !domain.ValidRole(req.Role) || req.Role == domain.RoleOwner {
		return domain.ErrInvalidRole
	}

	var updated *domain.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		m, err := repo.GetMembership(ctx, orgID, userID)
		if err != nil {
			return err
		}
		if m.Role == domain.RoleOwner {
			return domain.ErrOwnerImmutable
		}

		m.Role = req.Role
		if req.Permissions != nil {
			m.Permissions = domain.PermissionsMap(req.Permissions)
		}
		if err := repo.UpdateMembership(ctx, m); err != nil {
			return err
		}
		updated = m
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.Record(ctx, auditdomain.Entry{
		ActorID:      actorID,
		OrgID:        &orgID,
		Action:       auditdomain.ActionMemberRoleUpdated,
		ResourceType: auditdomain.ResourceMembership,
		ResourceID:   strPtr(userID.String()),
		Details: map[string]any{
			"role": updated.Role,
		},
	})
	return nil
}

// RemoveMember deletes the membership. Removing a non-member is a no-op.
func (s *service) RemoveMember(ctx context.Context, orgID, actorID, userID snowflake.ID) error {
	if err := s.authz.Require(ctx, actorID, orgID, authorization.PermMembersManage); err != nil {
		return err
	}

	m, err := s.repo.GetMembership(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrMemberNotFound) {
			return nil
		}
		return err
	}
	if m.Role == domain.RoleOwner {
		return domain.ErrOwnerImmutable
	}

	removed, err := s.repo.DeleteMembership(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	s.audit.Record(ctx, auditdomain.Entry{
		ActorID:      actorID,
		OrgID:        &orgID,
		Action:       auditdomain.ActionMemberRemoved,
		ResourceType: auditdomain.ResourceMembership,
		ResourceID:   strPtr(userID.String()),
		Details: map[string]any{
			"role": m.Role,
		},
	})
	return nil
}

func (s *service) ListMembers(ctx context.Context, orgID snowflake.ID, page pagination.Page) (*domain.MemberPage, error) {
	if _, err := s.repo.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	page = page.Normalize()

	total, err := s.repo.CountMembers(ctx, orgID, domain.MemberStatusActive)
	if err != nil {
		return nil, err
	}

	rows, err := s.repo.ListMembers(ctx, orgID, domain.MemberStatusActive, page.Offset(), page.PageSize)
	if err != nil {
		return nil, err
	}

	members := make([]domain.MemberView, 0, len(rows))
	for _, row := range rows {
		perms := make(map[string]bool, len(row.Permissions))
		for name := range row.Permissions {
			perms[name] = domain.PermissionGranted(row.Permissions, name)
		}
		name := strings.TrimSpace(row.FirstName + " " + row.LastName)
		members = append(members, domain.MemberView{
			UserID:      row.UserID,
			Email:       row.Email,
			Name:        name,
			Role:        row.Role,
			Permissions: perms,
			Status:      row.Status,
			JoinedAt:    row.JoinedAt,
		})
	}

	return &domain.MemberPage{
		Members:    members,
		TotalCount: total,
		Page:       page.Page,
		PageSize:   page.PageSize,
	}, nil
}

func orgResponse(org *domain.Organization) *domain.OrganizationResponse {
	return &domain.OrganizationResponse{
		ID:          org.ID.String(),
		Name:        org.Name,
		Slug:        org.Slug,
		Description: org.Description,
		OwnerID:     org.OwnerID.String(),
	}
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
