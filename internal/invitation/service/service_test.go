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
	identityservice "github.com/smallbiznis/keystone/internal/identity/service"
	"github.com/smallbiznis/keystone/internal/invitation/domain"
	invitationrepository "github.com/smallbiznis/keystone/internal/invitation/repository"
	orgdomain "github.com/smallbiznis/keystone/internal/organization/domain"
	orgrepository "github.com/smallbiznis/keystone/internal/organization/repository"
	orgservice "github.com/smallbiznis/keystone/internal/organization/service"
	"github.com/smallbiznis/keystone/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	svc      domain.Service
	orgs     orgdomain.Service
	identity identitydomain.Service
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock

	orgID snowflake.ID
	owner *identitydomain.User
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
		&orgdomain.Organization{},
		&orgdomain.Membership{},
		&domain.Invitation{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	log := zaptest.NewLogger(t)

	orgRepo := orgrepository.NewRepository(db)
	users := identityrepository.NewRepository(db)
	holder := config.NewStaticTenancyConfigHolder(tenancy)
	authz := authorization.NewService(log, orgRepo)

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  auditrepository.Provide(),
	})

	orgs := orgservice.NewService(orgservice.Params{
		DB:      db,
		Log:     log,
		Repo:    orgRepo,
		Users:   users,
		GenID:   node,
		Clock:   fake,
		Audit:   auditSvc,
		Authz:   authz,
		Tenancy: holder,
	})

	identitySvc := identityservice.NewService(identityservice.Params{
		Log:   log,
		Cfg:   config.Config{AuthJWTSecret: "test-secret"},
		Repo:  users,
		GenID: node,
		Clock: fake,
	})

	svc := NewService(Params{
		DB:      db,
		Log:     log,
		Repo:    invitationrepository.NewRepository(db),
		Orgs:    orgs,
		OrgRepo: orgRepo,
		Users:   users,
		GenID:   node,
		Clock:   fake,
		Audit:   auditSvc,
		Authz:   authz,
		Tenancy: holder,
	})

	f := &fixture{
		svc:      svc,
		orgs:     orgs,
		identity: identitySvc,
		db:       db,
		node:     node,
		clock:    fake,
	}

	org, err := orgs.Create(context.Background(), orgdomain.CreateOrganizationRequest{
		Name:          "Acme Corp",
		OwnerEmail:    "alice@acme.test",
		OwnerPassword: "password123",
	})
	assert.NoError(t, err)

	id, err := snowflake.ParseString(org.ID)
	assert.NoError(t, err)
	f.orgID = id

	owner, err := users.GetByEmail(context.Background(), "alice@acme.test")
	assert.NoError(t, err)
	f.owner = owner

	return f
}

func (f *fixture) registerUser(t *testing.T, email string) *identitydomain.User {
	t.Helper()

	user, err := f.identity.Register(context.Background(), identitydomain.RegisterRequest{
		Email:    email,
		Password: "password123",
	})
	assert.NoError(t, err)
	return user
}

func TestSendInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Send(ctx, f.orgID, f.owner.ID, domain.SendRequest{
		Email: "bob@acme.test",
		Role:  orgdomain.RoleMember,
	})
	assert.NoError(t, err)
	assert.Len(t, result.Token, 64)
	assert.Equal(t, domain.StatusPending, result.Invitation.Status)
	assert.Equal(t, "bob@acme.test", result.Invitation.Email)
	assert.Equal(t, f.clock.Now().Add(7*24*time.Hour), result.Invitation.ExpiresAt)

	t.Run("duplicate pending invite conflicts", func(t *testing.T) {
		_, err := f.svc.Send(ctx, f.orgID, f.owner.ID, domain.SendRequest{
			Email: "bob@acme.test",
			Role:  orgdomain.RoleViewer,
		})
		assert.ErrorIs(t, err, domain.ErrAlreadyPending)
	})

	t.Run("owner role is never invitable", func(t *testing.T) {
		_, err := f.svc.Send(ctx, f.orgID, f.owner.ID, domain.SendRequest{
			Email: "eve@acme.test",
			Role:  orgdomain.RoleOwner,
		})
		assert.ErrorIs(t, err, orgdomain.ErrInvalidRole)
	})

	t.Run("existing member cannot be invited", func(t *testing.T) {
		_, err := f.orgs.AddMember(ctx, f.orgID, f.owner.ID, orgdomain.AddMemberRequest{
			Email: "carol@acme.test",
			Role:  orgdomain.RoleMember,
		})
		assert.NoError(t, err)

		_, err = f.svc.Send(ctx, f.orgID, f.owner.ID, domain.SendRequest{
			Email: "carol@acme.test",
			Role:  orgdomain.RoleViewer,
		})
		assert.ErrorIs(t, err, orgdomain.ErrAlreadyMember)
	})

	t.Run("non-privileged member cannot send", func(t *testing.T) {
		carol, err := f.identity.GetByEmail(ctx, "carol@acme.test")
		assert.NoError(t, err)

		_, err = f.svc.Send(ctx, f.orgID, carol.ID, domain.SendRequest{
			Email: "dan@acme.test",
			Role:  orgdomain.RoleMember,
		})
		assert.ErrorIs(t, err, orgdomain.ErrForbidden)
	})
}

func TestSendInvitationsClosed(t *testing.T) {
	f := newFixtureWithTenancy(t, config.TenancyConfig{
		AllowInvitations:  false,
		MaxMembers:        100,
		InvitationTTLDays: 7,
	})

	_, err := f.svc.Send(context.Background(), f.orgID, f.owner.ID, domain.SendRequest{
		Email: "bob@acme.test",
		Role:  orgdomain.RoleMember,
	})
	assert.ErrorIs(t, err, domain.ErrInvitationsClosed)
}

func TestAcceptInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sent, err := f.svc.Send(ctx, f.orgID, f.owner.ID, domain.SendRequest{
		Email: "bob@acme.test",
		Role:  orgdomain.RoleMember,
		Permissions: map[string]bool{
			authorization.PermAuditView: true,
		},
	})
	assert.NoError(t, err)

	bob := f.registerUser(t, "bob@acme.test")

	inv, err := f.svc.Accept(ctx, sent.Token, bob.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, inv.Status)

	// The membership exists with the invited role and overrides applied.
	page, err := f.orgs.ListMembers(ctx, f.orgID, pagination.Page{Page: 1, PageSize: 10})
	assert.NoError(t, err)
	assert.Equal(t, int64(2), page.TotalCount)
	var found bool
	for _, m := range page.Members {
		if m.UserID == bob.ID {
			found = true
			assert.Equal(t, orgdomain.RoleMember, m.Role)
			assert.True(t, m.Permissions[authorization.PermAuditView])
		}
	}
	assert.True(t, found)

	t.Run("consumed token looks unknown", func(t *testing.T) {
		_, err := f.svc.Accept(ctx, sent.Token, bob.ID)
		assert.ErrorIs(t, err, domain.ErrInvitationNotFound)
	})
}

func TestAcceptFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sent, err := f.svc.Send(ctx, f.orgID, f.owner.ID, domain.SendRequest{
		Email: "bob@acme.test",
		Role:  orgdomain.RoleMember,
	})
	assert.NoError(t, err)

	bob := f.registerUser(t, "bob@acme.test")

	t.Run("unknown token", func(t *testing.T) {
		_, err := f.svc.Accept(ctx, "deadbeef", bob.ID)
		assert.ErrorIs(t, err, domain.ErrInvitationNotFound)
	})

	t.Run("email mismatch", func(t *testing.T) {
		mallory := f.registerUser(t, "mallory@evil.test")
		_, err := f.svc.Accept(ctx, sent.Token, mallory.ID)
		assert.ErrorIs(t, err, domain.ErrEmailMismatch)
	})

	t.Run("expired invitation", func(t *testing.T) {
		f.clock.Advance(8 * 24 * time.Hour)
		_, err := f.svc.Accept(ctx, sent.Token, bob.ID)
		assert.ErrorIs(t, err, domain.ErrExpired)

		// The stored status flipped as a side effect, and later attempts
		// still report expiry rather than an unknown token.
		stored, err := f.svc.List(ctx, f.orgID, f.owner.ID, domain.StatusExpired)
		assert.NoError(t, err)
		assert.Len(t, stored, 1)

		_, err = f.svc.Accept(ctx, sent.Token, bob.ID)
		assert.ErrorIs(t, err, domain.ErrExpired)
	})
}

func TestRevokeInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sent, err := f.svc.Send(ctx, f.orgID, f.owner.ID, domain.SendRequest{
		Email: "bob@acme.test",
		Role:  orgdomain.RoleMember,
	})
	assert.NoError(t, err)

	assert.NoError(t, f.svc.Revoke(ctx, f.orgID, f.owner.ID, sent.Invitation.ID))

	t.Run("revoked invitation cannot be accepted", func(t *testing.T) {
		bob := f.registerUser(t, "bob@acme.test")
		_, err := f.svc.Accept(ctx, sent.Token, bob.ID)
		assert.ErrorIs(t, err, domain.ErrInvitationNotFound)
	})

	t.Run("revoking twice fails", func(t *testing.T) {
		err := f.svc.Revoke(ctx, f.orgID, f.owner.ID, sent.Invitation.ID)
		assert.ErrorIs(t, err, domain.ErrNotPending)
	})

	t.Run("wrong organization", func(t *testing.T) {
		err := f.svc.Revoke(ctx, f.node.Generate(), f.owner.ID, sent.Invitation.ID)
		assert.ErrorIs(t, err, orgdomain.ErrForbidden)
	})

	t.Run("a fresh invite can be sent after revocation", func(t *testing.T) {
		_, err := f.svc.Send(ctx, f.orgID, f.owner.ID, domain.SendRequest{
			Email: "bob@acme.test",
			Role:  orgdomain.RoleViewer,
		})
		assert.NoError(t, err)
	})
}

func TestReapExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, f.orgID, f.owner.ID, domain.SendRequest{
		Email: "bob@acme.test",
		Role:  orgdomain.RoleMember,
	})
	assert.NoError(t, err)
	_, err = f.svc.Send(ctx, f.orgID, f.owner.ID, domain.SendRequest{
		Email: "carol@acme.test",
		Role:  orgdomain.RoleMember,
	})
	assert.NoError(t, err)

	f.clock.Advance(8 * 24 * time.Hour)

	fresh, err := f.svc.Send(ctx, f.orgID, f.owner.ID, domain.SendRequest{
		Email: "dan@acme.test",
		Role:  orgdomain.RoleMember,
	})
	assert.NoError(t, err)

	n, err := f.svc.ReapExpired(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)

	pending, err := f.svc.List(ctx, f.orgID, f.owner.ID, domain.StatusPending)
	assert.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, fresh.Invitation.ID.String(), pending[0].ID)

	// Re-running is a no-op.
	n, err = f.svc.ReapExpired(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
