package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MemberRow is the joined view of a membership and its user record.
type MemberRow struct {
	ID          snowflake.ID
	OrgID       snowflake.ID
	UserID      snowflake.ID
	Role        string
	Permissions datatypes.JSONMap
	Status      string
	InvitedBy   *snowflake.ID
	JoinedAt    time.Time
	Email       string
	FirstName   string
	LastName    string
}

type OrganizationRow struct {
	ID        snowflake.ID
	Name      string
	Slug      string
	Role      string
	CreatedAt time.Time
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, orgID snowflake.ID) (*Organization, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationRow, error)

	InsertMembership(ctx context.Context, m *Membership) error
	GetMembership(ctx context.Context, orgID, userID snowflake.ID) (*Membership, error)
	UpdateMembership(ctx context.Context, m *Membership) error
	DeleteMembership(ctx context.Context, orgID, userID snowflake.ID) (bool, error)
	CountMembers(ctx context.Context, orgID snowflake.ID, status string) (int64, error)
	ListMembers(ctx context.Context, orgID snowflake.ID, status string, offset, limit int) ([]MemberRow, error)
}
