package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/keystone/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidRole          = errors.New("invalid_role")
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrSlugTaken            = errors.New("slug_taken")
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrAlreadyMember        = errors.New("already_member")
	ErrMemberNotFound       = errors.New("member_not_found")
	ErrMemberLimitReached   = errors.New("member_limit_reached")
	ErrOwnerImmutable       = errors.New("owner_immutable")
	ErrForbidden            = errors.New("forbidden")
)

type CreateOrganizationRequest struct {
	Name        string
	Description string

	OwnerEmail     string
	OwnerFirstName string
	OwnerLastName  string
	OwnerPassword  string
}

type AddMemberRequest struct {
	Email       string
	FirstName   string
	LastName    string
	Role        string
	Permissions map[string]bool
}

// AddMemberResult reports the membership created and whether a new user
// account had to be provisioned for the email.
type AddMemberResult struct {
	Membership  *Membership
	UserCreated bool
	// TempPassword is set only when UserCreated is true. The caller is
	// responsible for out-of-band delivery.
	TempPassword string
}

type UpdateMemberRoleRequest struct {
	Role        string
	Permissions map[string]bool
}

type OrganizationResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	OwnerID     string `json:"owner_id"`
}

type MemberView struct {
	UserID      snowflake.ID    `json:"user_id"`
	Email       string          `json:"email"`
	Name        string          `json:"name"`
	Role        string          `json:"role"`
	Permissions map[string]bool `json:"permissions"`
	Status      string          `json:"status"`
	JoinedAt    time.Time       `json:"joined_at"`
}

type MemberPage struct {
	Members    []MemberView `json:"members"`
	TotalCount int64        `json:"total_count"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
}

type OrganizationListItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// MembershipSpec is the invariant-preserving attach path shared by direct
// member adds and invitation acceptance.
type MembershipSpec struct {
	OrgID       snowflake.ID
	UserID      snowflake.ID
	Role        string
	Permissions map[string]bool
	InvitedBy   *snowflake.ID
}

type Service interface {
	Create(ctx context.Context, req CreateOrganizationRequest) (*OrganizationResponse, error)
	GetByID(ctx context.Context, orgID snowflake.ID) (*OrganizationResponse, error)
	ListByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListItem, error)

	AddMember(ctx context.Context, orgID, actorID snowflake.ID, req AddMemberRequest) (*AddMemberResult, error)
	UpdateMemberRole(ctx context.Context, orgID, actorID, userID snowflake.ID, req UpdateMemberRoleRequest) error
	RemoveMember(ctx context.Context, orgID, actorID, userID snowflake.ID) error
	ListMembers(ctx context.Context, orgID snowflake.ID, page pagination.Page) (*MemberPage, error)

	// Attach inserts a membership inside a caller-owned transaction. It is
	// the only write path for the memberships table besides the Service's
	// own operations; the invitation workflow joins through it.
	Attach(ctx context.Context, tx *gorm.DB, spec MembershipSpec) (*Membership, error)
}
