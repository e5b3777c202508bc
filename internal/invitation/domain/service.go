package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvitationNotFound = errors.New("invitation_not_found")
	ErrAlreadyPending     = errors.New("invitation_already_pending")
	ErrExpired            = errors.New("invitation_expired")
	ErrNotPending         = errors.New("invitation_not_pending")
	ErrEmailMismatch      = errors.New("invitation_email_mismatch")
	ErrInvitationsClosed  = errors.New("invitations_closed")
)

type SendRequest struct {
	Email       string
	Role        string
	Permissions map[string]bool
}

// SendResult carries the raw token exactly once; it is never readable again
// through the API.
type SendResult struct {
	Invitation *Invitation
	Token      string
}

type ListItem struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	InvitedBy string    `json:"invited_by"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type Service interface {
	Send(ctx context.Context, orgID, actorID snowflake.ID, req SendRequest) (*SendResult, error)
	Accept(ctx context.Context, token string, userID snowflake.ID) (*Invitation, error)
	Revoke(ctx context.Context, orgID, actorID, inviteID snowflake.ID) error
	List(ctx context.Context, orgID, actorID snowflake.ID, status string) ([]ListItem, error)

	// ReapExpired flips pending invitations whose deadline passed to the
	// expired status and reports how many were flipped.
	ReapExpired(ctx context.Context) (int64, error)
}
