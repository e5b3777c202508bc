package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/smallbiznis/keystone/internal/identity/domain"
	"github.com/smallbiznis/keystone/internal/identity/password"
	orgdomain "github.com/smallbiznis/keystone/internal/organization/domain"
	"gorm.io/gorm"
)

const (
	defaultOrgName       = "Main"
	defaultOrgSlug       = "main"
	defaultAdminEmail    = "admin@keystone.local"
	defaultAdminPassword = "admin"
)

// EnsureDefaultOrgAndAdmin seeds the default organization, an admin account
// and its owner membership for self-hosted bootstrap. It is idempotent.
func EnsureDefaultOrgAndAdmin(db *gorm.DB, node *snowflake.Node) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if node == nil {
		return errors.New("seed id generator is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		admin, err := ensureAdminTx(ctx, tx, node)
		if err != nil {
			return err
		}
		org, err := ensureOrgTx(ctx, tx, node, admin.ID)
		if err != nil {
			return err
		}
		return ensureOwnerMembershipTx(ctx, tx, node, org, admin)
	})
}

func ensureAdminTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (*identitydomain.User, error) {
	var user identitydomain.User
	err := tx.WithContext(ctx).First(&user, "email = ?", defaultAdminEmail).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := password.Hash(defaultAdminPassword)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user = identitydomain.User{
		ID:           node.Generate(),
		Email:        defaultAdminEmail,
		FirstName:    "Keystone",
		LastName:     "Admin",
		PasswordHash: hashed,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func ensureOrgTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, ownerID snowflake.ID) (*orgdomain.Organization, error) {
	var org orgdomain.Organization
	err := tx.WithContext(ctx).First(&org, "slug = ?", defaultOrgSlug).Error
	if err == nil {
		return &org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	org = orgdomain.Organization{
		ID:               node.Generate(),
		Name:             defaultOrgName,
		Slug:             defaultOrgSlug,
		OwnerID:          ownerID,
		AllowInvitations: true,
		MaxMembers:       100,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

func ensureOwnerMembershipTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, org *orgdomain.Organization, admin *identitydomain.User) error {
	var m orgdomain.Membership
	err := tx.WithContext(ctx).
		First(&m, "org_id = ? AND user_id = ?", org.ID, admin.ID).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	m = orgdomain.Membership{
		ID:          node.Generate(),
		OrgID:       org.ID,
		UserID:      admin.ID,
		Role:        orgdomain.RoleOwner,
		Permissions: orgdomain.PermissionsMap(nil),
		Status:      orgdomain.MemberStatusActive,
		JoinedAt:    time.Now().UTC(),
	}
	return tx.WithContext(ctx).Create(&m).Error
}
