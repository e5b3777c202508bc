package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Insert(ctx context.Context, inv *Invitation) error
	GetByID(ctx context.Context, id snowflake.ID) (*Invitation, error)
	GetByToken(ctx context.Context, token string) (*Invitation, error)
	PendingExists(ctx context.Context, orgID snowflake.ID, email string) (bool, error)
	Update(ctx context.Context, inv *Invitation) error
	ListByOrg(ctx context.Context, orgID snowflake.ID, status string) ([]*Invitation, error)

	// ExpirePending marks every pending invitation past its deadline as
	// expired and returns the number of rows changed.
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}
