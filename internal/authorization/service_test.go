package authorization

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	identitydomain "github.com/smallbiznis/keystone/internal/identity/domain"
	orgdomain "github.com/smallbiznis/keystone/internal/organization/domain"
	orgrepository "github.com/smallbiznis/keystone/internal/organization/repository"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type authzFixture struct {
	svc   Service
	db    *gorm.DB
	node  *snowflake.Node
	orgID snowflake.ID
}

func newAuthzFixture(t *testing.T) *authzFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&identitydomain.User{},
		&orgdomain.Organization{},
		&orgdomain.Membership{},
	))

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	f := &authzFixture{
		svc:   NewService(zaptest.NewLogger(t), orgrepository.NewRepository(db)),
		db:    db,
		node:  node,
		orgID: node.Generate(),
	}
	return f
}

func (f *authzFixture) addMembership(t *testing.T, role, status string, perms map[string]bool) snowflake.ID {
	t.Helper()

	userID := f.node.Generate()
	m := orgdomain.Membership{
		ID:          f.node.Generate(),
		OrgID:       f.orgID,
		UserID:      userID,
		Role:        role,
		Permissions: orgdomain.PermissionsMap(perms),
		Status:      status,
		JoinedAt:    time.Now().UTC(),
	}
	assert.NoError(t, f.db.Create(&m).Error)
	return userID
}

func TestCanRoleMatrix(t *testing.T) {
	f := newAuthzFixture(t)
	ctx := context.Background()

	owner := f.addMembership(t, orgdomain.RoleOwner, orgdomain.MemberStatusActive, nil)
	admin := f.addMembership(t, orgdomain.RoleAdmin, orgdomain.MemberStatusActive, nil)
	memberGranted := f.addMembership(t, orgdomain.RoleMember, orgdomain.MemberStatusActive, map[string]bool{
		PermInvitationsSend: true,
	})
	memberDenied := f.addMembership(t, orgdomain.RoleMember, orgdomain.MemberStatusActive, map[string]bool{
		PermInvitationsSend: false,
	})
	viewer := f.addMembership(t, orgdomain.RoleViewer, orgdomain.MemberStatusActive, nil)

	cases := []struct {
		name       string
		userID     snowflake.ID
		permission string
		want       bool
	}{
		{"owner has every permission", owner, PermMembersManage, true},
		{"admin has every permission", admin, PermAuditView, true},
		{"member with granted override", memberGranted, PermInvitationsSend, true},
		{"member with explicit deny", memberDenied, PermInvitationsSend, false},
		{"member without override", memberGranted, PermMembersManage, false},
		{"viewer without override", viewer, PermAuditView, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.svc.Can(ctx, tc.userID, f.orgID, tc.permission)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanDeniesNonMembers(t *testing.T) {
	f := newAuthzFixture(t)
	ctx := context.Background()

	stranger := f.node.Generate()
	allowed, err := f.svc.Can(ctx, stranger, f.orgID, PermMembersManage)
	assert.NoError(t, err)
	assert.False(t, allowed)
}

func TestCanDeniesSuspendedMembers(t *testing.T) {
	f := newAuthzFixture(t)
	ctx := context.Background()

	suspended := f.addMembership(t, orgdomain.RoleAdmin, orgdomain.MemberStatusSuspended, nil)
	allowed, err := f.svc.Can(ctx, suspended, f.orgID, PermMembersManage)
	assert.NoError(t, err)
	assert.False(t, allowed)
}

func TestCanZeroArguments(t *testing.T) {
	f := newAuthzFixture(t)
	ctx := context.Background()

	allowed, err := f.svc.Can(ctx, 0, f.orgID, PermMembersManage)
	assert.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = f.svc.Can(ctx, f.node.Generate(), f.orgID, "")
	assert.NoError(t, err)
	assert.False(t, allowed)
}

func TestRequireMapsDenialToForbidden(t *testing.T) {
	f := newAuthzFixture(t)
	ctx := context.Background()

	viewer := f.addMembership(t, orgdomain.RoleViewer, orgdomain.MemberStatusActive, nil)
	err := f.svc.Require(ctx, viewer, f.orgID, PermMembersManage)
	assert.ErrorIs(t, err, orgdomain.ErrForbidden)

	owner := f.addMembership(t, orgdomain.RoleOwner, orgdomain.MemberStatusActive, nil)
	assert.NoError(t, f.svc.Require(ctx, owner, f.orgID, PermMembersManage))
}
