package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/keystone/internal/organization/domain"
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

func (r *repository) CreateOrganization(ctx context.Context, org *domain.Organization) error {
	return r.db.WithContext(ctx).Create(org).Error
}

func (r *repository) GetOrganization(ctx context.Context, orgID snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).First(&org, "id = ?", orgID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrganizationNotFound
		}
		return nil, err
	}
	return &org, nil
}

func (r *repository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Organization{}).
		Where("slug = ?", slug).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationRow, error) {
	var rows []domain.OrganizationRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT o.id, o.name, o.slug, m.role, o.created_at
		 FROM organizations o
		 JOIN memberships m ON m.org_id = o.id
		 WHERE m.user_id = ? AND m.status = ?
		 ORDER BY o.created_at ASC`,
		userID,
		domain.MemberStatusActive,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) InsertMembership(ctx context.Context, m *domain.Membership) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *repository) GetMembership(ctx context.Context, orgID, userID snowflake.ID) (*domain.Membership, error) {
	var m domain.Membership
	err := r.db.WithContext(ctx).
		First(&m, "org_id = ? AND user_id = ?", orgID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMemberNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *repository) UpdateMembership(ctx context.Context, m *domain.Membership) error {
	return r.db.WithContext(ctx).
		Model(&domain.Membership{}).
		Where("id = ?", m.ID).
		Updates(map[string]any{
			"role":        m.Role,
			"permissions": m.Permissions,
			"status":      m.Status,
		}).Error
}

func (r *repository) DeleteMembership(ctx context.Context, orgID, userID snowflake.ID) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("org_id = ? AND user_id = ?", orgID, userID).
		Delete(&domain.Membership{})
	return result.RowsAffected > 0, result.Error
}

func (r *repository) CountMembers(ctx context.Context, orgID snowflake.ID, status string) (int64, error) {
	var count int64
	stmt := r.db.WithContext(ctx).Model(&domain.Membership{}).
		Where("org_id = ?", orgID)
	if status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	err := stmt.Count(&count).Error
	return count, err
}

func (r *repository) ListMembers(ctx context.Context, orgID snowflake.ID, status string, offset, limit int) ([]domain.MemberRow, error) {
	var rows []domain.MemberRow
	stmt := r.db.WithContext(ctx).Raw(
		`SELECT m.id, m.org_id, m.user_id, m.role, m.permissions, m.status,
		        m.invited_by, m.joined_at, u.email, u.first_name, u.last_name
		 FROM memberships m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.org_id = ? AND m.status = ?
		 ORDER BY m.joined_at ASC, m.id ASC
		 LIMIT ? OFFSET ?`,
		orgID,
		status,
		limit,
		offset,
	)
	if err := stmt.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
