package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/keystone/internal/invitation/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, inv *domain.Invitation) error {
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *repository) GetByID(ctx context.Context, id snowflake.ID) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := r.db.WithContext(ctx).First(&inv, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInvitationNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (r *repository) GetByToken(ctx context.Context, token string) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := r.db.WithContext(ctx).First(&inv, "token = ?", token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInvitationNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (r *repository) PendingExists(ctx context.Context, orgID snowflake.ID, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Invitation{}).
		Where("org_id = ? AND email = ? AND status = ?", orgID, email, domain.StatusPending).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) Update(ctx context.Context, inv *domain.Invitation) error {
	return r.db.WithContext(ctx).
		Model(&domain.Invitation{}).
		Where("id = ?", inv.ID).
		Updates(map[string]any{
			"status":      inv.Status,
			"accepted_by": inv.AcceptedBy,
			"accepted_at": inv.AcceptedAt,
			"updated_at":  inv.UpdatedAt,
		}).Error
}

func (r *repository) ListByOrg(ctx context.Context, orgID snowflake.ID, status string) ([]*domain.Invitation, error) {
	var invs []*domain.Invitation
	stmt := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at DESC")
	if status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	if err := stmt.Find(&invs).Error; err != nil {
		return nil, err
	}
	return invs, nil
}

func (r *repository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Invitation{}).
		Where("status = ? AND expires_at < ?", domain.StatusPending, now).
		Updates(map[string]any{
			"status":     domain.StatusExpired,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}
