package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/keystone/internal/audit/domain"
	auditrepository "github.com/smallbiznis/keystone/internal/audit/repository"
	auditservice "github.com/smallbiznis/keystone/internal/audit/service"
	"github.com/smallbiznis/keystone/internal/authorization"
	"github.com/smallbiznis/keystone/internal/clock"
	"github.com/smallbiznis/keystone/internal/config"
	identitydomain "github.com/smallbiznis/keystone/internal/identity/domain"
	identityrepository "github.com/smallbiznis/keystone/internal/identity/repository"
	invitationdomain "github.com/smallbiznis/keystone/internal/invitation/domain"
	"github.com/smallbiznis/keystone/internal/organization/domain"
	orgrepository "github.com/smallbiznis/keystone/internal/organization/repository"
	"github.com/smallbiznis/keystone/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	svc   domain.Service
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	users identitydomain.Repository
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithTenancy(t, config.TenancyConfig{
		AllowInvitations:  true,
		MaxMembers:        100,
		InvitationTTLDays: 7,
	})
}

func newFixtureWithTenancy(t *testing.T, tenancy config.TenancyConfig) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&identitydomain.User{},
		&domain.Organization{},
		&domain.Membership{},
		&invitationdomain.Invitation{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	log := zaptest.NewLogger(t)

	orgRepo := orgrepository.NewRepository(db)
	users := identityrepository.NewRepository(db)

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  auditrepository.Provide(),
	})

	svc := NewService(Params{
		DB:      db,
		Log:     log,
		Repo:    orgRepo,
		Users:   users,
		GenID:   node,
		Clock:   fake,
		Audit:   auditSvc,
		Authz:   authorization.NewService(log, orgRepo),
		Tenancy: config.NewStaticTenancyConfigHolder(tenancy),
	})

	return &fixture{svc: svc, db: db, node: node, clock: fake, users: users}
}

func createAcme(t *testing.T, f *fixture) (*domain.OrganizationResponse, *identitydomain.User) {
	t.Helper()

	org, err := f.svc.Create(context.Background(), domain.CreateOrganizationRequest{
		Name:           "Acme Corp",
		Description:    "widgets",
		OwnerEmail:     "alice@acme.test",
		OwnerFirstName: "Alice",
		OwnerLastName:  "Anders",
		OwnerPassword:  "password123",
	})
	assert.NoError(t, err)

	alice, err := f.users.GetByEmail(context.Background(), "alice@acme.test")
	assert.NoError(t, err)
	return org, alice
}

func orgID(t *testing.T, org *domain.OrganizationResponse) snowflake.ID {
	t.Helper()
	id, err := snowflake.ParseString(org.ID)
	assert.NoError(t, err)
	return id
}

func TestCreateOrganization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org, alice := createAcme(t, f)
	assert.Equal(t, "Acme Corp", org.Name)
	assert.Equal(t, "acme-corp", org.Slug)
	assert.Equal(t, alice.ID.String(), org.OwnerID)

	// The owner membership exists and carries the owner role.
	page, err := f.svc.ListMembers(ctx, orgID(t, org), pagination.Page{Page: 1, PageSize: 10})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), page.TotalCount)
	assert.Equal(t, domain.RoleOwner, page.Members[0].Role)
	assert.Equal(t, "alice@acme.test", page.Members[0].Email)

	// Creation is audited.
	var count int64
	assert.NoError(t, f.db.Model(&auditdomain.AuditLog{}).
		Where("action = ?", auditdomain.ActionOrganizationCreated).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateOrganizationConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	createAcme(t, f)

	t.Run("slug taken", func(t *testing.T) {
		_, err := f.svc.Create(ctx, domain.CreateOrganizationRequest{
			Name:          "Acme Corp",
			OwnerEmail:    "other@acme.test",
			OwnerPassword: "password123",
		})
		assert.ErrorIs(t, err, domain.ErrSlugTaken)
	})

	t.Run("owner email taken", func(t *testing.T) {
		_, err := f.svc.Create(ctx, domain.CreateOrganizationRequest{
			Name:          "Acme Two",
			OwnerEmail:    "alice@acme.test",
			OwnerPassword: "password123",
		})
		assert.ErrorIs(t, err, identitydomain.ErrUserExists)
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := f.svc.Create(ctx, domain.CreateOrganizationRequest{
			Name:          "  ",
			OwnerEmail:    "new@acme.test",
			OwnerPassword: "password123",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidName)
	})
}

func TestAddMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org, alice := createAcme(t, f)
	id := orgID(t, org)

	result, err := f.svc.AddMember(ctx, id, alice.ID, domain.AddMemberRequest{
		Email:     "bob@acme.test",
		FirstName: "Bob",
		Role:      domain.RoleMember,
		Permissions: map[string]bool{
			authorization.PermInvitationsSend: true,
		},
	})
	assert.NoError(t, err)
	assert.True(t, result.UserCreated)
	assert.NotEmpty(t, result.TempPassword)
	assert.Equal(t, domain.RoleMember, result.Membership.Role)

	t.Run("adding the same user again conflicts", func(t *testing.T) {
		_, err := f.svc.AddMember(ctx, id, alice.ID, domain.AddMemberRequest{
			Email: "bob@acme.test",
			Role:  domain.RoleViewer,
		})
		assert.ErrorIs(t, err, domain.ErrAlreadyMember)
	})

	t.Run("existing account is reused", func(t *testing.T) {
		_, err := f.users.GetByEmail(ctx, "bob@acme.test")
		assert.NoError(t, err)

		other, err := f.svc.Create(ctx, domain.CreateOrganizationRequest{
			Name:          "Beta Inc",
			OwnerEmail:    "carol@beta.test",
			OwnerPassword: "password123",
		})
		assert.NoError(t, err)
		carol, err := f.users.GetByEmail(ctx, "carol@beta.test")
		assert.NoError(t, err)

		added, err := f.svc.AddMember(ctx, orgID(t, other), carol.ID, domain.AddMemberRequest{
			Email: "bob@acme.test",
			Role:  domain.RoleViewer,
		})
		assert.NoError(t, err)
		assert.False(t, added.UserCreated)
		assert.Empty(t, added.TempPassword)
	})

	t.Run("owner role cannot be assigned", func(t *testing.T) {
		_, err := f.svc.AddMember(ctx, id, alice.ID, domain.AddMemberRequest{
			Email: "eve@acme.test",
			Role:  domain.RoleOwner,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidRole)
	})

	t.Run("non-manager cannot add members", func(t *testing.T) {
		bob, err := f.users.GetByEmail(ctx, "bob@acme.test")
		assert.NoError(t, err)

		_, err = f.svc.AddMember(ctx, id, bob.ID, domain.AddMemberRequest{
			Email: "mallory@acme.test",
			Role:  domain.RoleMember,
		})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestAddMemberSuspendedElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org, alice := createAcme(t, f)
	id := orgID(t, org)

	result, err := f.svc.AddMember(ctx, id, alice.ID, domain.AddMemberRequest{
		Email: "bob@acme.test",
		Role:  domain.RoleMember,
	})
	assert.NoError(t, err)
	bobID := result.Membership.UserID

	err = f.db.Model(&domain.Membership{}).
		Where("org_id = ? AND user_id = ?", id, bobID).
		Update("status", domain.MemberStatusSuspended).Error
	assert.NoError(t, err)

	other, err := f.svc.Create(ctx, domain.CreateOrganizationRequest{
		Name:          "Beta Inc",
		OwnerEmail:    "carol@beta.test",
		OwnerPassword: "password123",
	})
	assert.NoError(t, err)
	carol, err := f.users.GetByEmail(ctx, "carol@beta.test")
	assert.NoError(t, err)

	// A suspension is scoped to its organization.
	added, err := f.svc.AddMember(ctx, orgID(t, other), carol.ID, domain.AddMemberRequest{
		Email: "bob@acme.test",
		Role:  domain.RoleViewer,
	})
	assert.NoError(t, err)
	assert.False(t, added.UserCreated)
	assert.Equal(t, domain.MemberStatusActive, added.Membership.Status)
}

func TestMemberLimit(t *testing.T) {
	f := newFixtureWithTenancy(t, config.TenancyConfig{
		AllowInvitations:  true,
		MaxMembers:        2,
		InvitationTTLDays: 7,
	})
	ctx := context.Background()

	org, alice := createAcme(t, f)
	id := orgID(t, org)

	_, err := f.svc.AddMember(ctx, id, alice.ID, domain.AddMemberRequest{
		Email: "bob@acme.test",
		Role:  domain.RoleMember,
	})
	assert.NoError(t, err)

	_, err = f.svc.AddMember(ctx, id, alice.ID, domain.AddMemberRequest{
		Email: "carol@acme.test",
		Role:  domain.RoleMember,
	})
	assert.ErrorIs(t, err, domain.ErrMemberLimitReached)
}

func TestUpdateMemberRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org, alice := createAcme(t, f)
	id := orgID(t, org)

	result, err := f.svc.AddMember(ctx, id, alice.ID, domain.AddMemberRequest{
		Email: "bob@acme.test",
		Role:  domain.RoleMember,
	})
	assert.NoError(t, err)
	bobID := result.Membership.UserID

	err = f.svc.UpdateMemberRole(ctx, id, alice.ID, bobID, domain.UpdateMemberRoleRequest{
		Role: domain.RoleAdmin,
	})
	assert.NoError(t, err)

	page, err := f.svc.ListMembers(ctx, id, pagination.Page{Page: 1, PageSize: 10})
	assert.NoError(t, err)
	for _, m := range page.Members {
		if m.UserID == bobID {
			assert.Equal(t, domain.RoleAdmin, m.Role)
		}
	}

	t.Run("owner cannot be demoted", func(t *testing.T) {
		err := f.svc.UpdateMemberRole(ctx, id, alice.ID, alice.ID, domain.UpdateMemberRoleRequest{
			Role: domain.RoleMember,
		})
		assert.ErrorIs(t, err, domain.ErrOwnerImmutable)
	})

	t.Run("unknown member", func(t *testing.T) {
		err := f.svc.UpdateMemberRole(ctx, id, alice.ID, f.node.Generate(), domain.UpdateMemberRoleRequest{
			Role: domain.RoleViewer,
		})
		assert.ErrorIs(t, err, domain.ErrMemberNotFound)
	})
}

func TestRemoveMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org, alice := createAcme(t, f)
	id := orgID(t, org)

	result, err := f.svc.AddMember(ctx, id, alice.ID, domain.AddMemberRequest{
		Email: "bob@acme.test",
		Role:  domain.RoleMember,
	})
	assert.NoError(t, err)
	bobID := result.Membership.UserID

	assert.NoError(t, f.svc.RemoveMember(ctx, id, alice.ID, bobID))

	// Removal excludes the user from listings and counts immediately.
	page, err := f.svc.ListMembers(ctx, id, pagination.Page{Page: 1, PageSize: 10})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), page.TotalCount)
	for _, m := range page.Members {
		assert.NotEqual(t, bobID, m.UserID)
	}

	t.Run("removing a non-member is a no-op", func(t *testing.T) {
		assert.NoError(t, f.svc.RemoveMember(ctx, id, alice.ID, bobID))
	})

	t.Run("owner cannot be removed", func(t *testing.T) {
		err := f.svc.RemoveMember(ctx, id, alice.ID, alice.ID)
		assert.ErrorIs(t, err, domain.ErrOwnerImmutable)
	})

	t.Run("removed member can rejoin", func(t *testing.T) {
		added, err := f.svc.AddMember(ctx, id, alice.ID, domain.AddMemberRequest{
			Email: "bob@acme.test",
			Role:  domain.RoleViewer,
		})
		assert.NoError(t, err)
		assert.False(t, added.UserCreated)
	})
}

func TestListMembersPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org, alice := createAcme(t, f)
	id := orgID(t, org)

	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Minute)
		_, err := f.svc.AddMember(ctx, id, alice.ID, domain.AddMemberRequest{
			Email: fmt.Sprintf("user%d@acme.test", i),
			Role:  domain.RoleMember,
		})
		assert.NoError(t, err)
	}

	first, err := f.svc.ListMembers(ctx, id, pagination.Page{Page: 1, PageSize: 4})
	assert.NoError(t, err)
	assert.Equal(t, int64(6), first.TotalCount)
	assert.Len(t, first.Members, 4)

	second, err := f.svc.ListMembers(ctx, id, pagination.Page{Page: 2, PageSize: 4})
	assert.NoError(t, err)
	assert.Len(t, second.Members, 2)

	// Stable join order, owner first.
	assert.Equal(t, domain.RoleOwner, first.Members[0].Role)

	t.Run("zero page normalizes to defaults", func(t *testing.T) {
		page, err := f.svc.ListMembers(ctx, id, pagination.Page{})
		assert.NoError(t, err)
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, 20, page.PageSize)
		assert.Len(t, page.Members, 6)
	})

	t.Run("unknown organization", func(t *testing.T) {
		_, err := f.svc.ListMembers(ctx, f.node.Generate(), pagination.Page{Page: 1, PageSize: 10})
		assert.ErrorIs(t, err, domain.ErrOrganizationNotFound)
	})
}

func TestListByUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org, alice := createAcme(t, f)

	other, err := f.svc.Create(ctx, domain.CreateOrganizationRequest{
		Name:          "Beta Inc",
		OwnerEmail:    "carol@beta.test",
		OwnerPassword: "password123",
	})
	assert.NoError(t, err)
	carol, err := f.users.GetByEmail(ctx, "carol@beta.test")
	assert.NoError(t, err)

	_, err = f.svc.AddMember(ctx, orgID(t, other), carol.ID, domain.AddMemberRequest{
		Email: "alice@acme.test",
		Role:  domain.RoleViewer,
	})
	assert.NoError(t, err)

	items, err := f.svc.ListByUser(ctx, alice.ID)
	assert.NoError(t, err)
	assert.Len(t, items, 2)

	roles := map[string]string{}
	for _, item := range items {
		roles[item.Slug] = item.Role
	}
	assert.Equal(t, domain.RoleOwner, roles[org.Slug])
	assert.Equal(t, domain.RoleViewer, roles["beta-inc"])
}
