package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/keystone/internal/audit/domain"
	"github.com/smallbiznis/keystone/internal/clock"
	"github.com/smallbiznis/keystone/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, e auditdomain.Entry) {
	action := strings.TrimSpace(e.Action)
	if action == "" || e.ActorID == 0 {
		s.log.Warn("dropping audit entry with missing required fields",
			zap.String("action", action),
		)
		return
	}

	resourceType := strings.TrimSpace(e.ResourceType)
	if resourceType == "" {
		resourceType = "unknown"
	}

	details := datatypes.JSONMap{}
	for key, value := range e.Details {
		if key == "" {
			continue
		}
		details[key] = value
	}

	entry := auditdomain.AuditLog{
		ID:           s.genID.Generate(),
		ActorID:      e.ActorID,
		OrgID:        e.OrgID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   e.ResourceID,
		Details:      details,
		CreatedAt:    s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("actor_id", e.ActorID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	if req.OrgID == 0 {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidOrganization
	}
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var cursor *auditdomain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor, err = parseCursor(decoded)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
	}

	limit := req.PageSize
	if limit < 1 {
		limit = 10
	}
	if limit > 250 {
		limit = 250
	}

	logs, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		OrgID:        req.OrgID,
		Action:       req.Action,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		StartAt:      req.StartAt,
		EndAt:        req.EndAt,
		Cursor:       cursor,
		Limit:        limit,
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	pageInfo, logs := pagination.BuildCursorPageInfo(logs, limit, func(entry *auditdomain.AuditLog) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        entry.ID.String(),
			CreatedAt: strconv.FormatInt(entry.CreatedAt.UnixNano(), 10),
		})
		if err != nil {
			return ""
		}
		return token
	})

	return auditdomain.ListResponse{
		PageInfo:  *pageInfo,
		AuditLogs: logs,
	}, nil
}

func parseCursor(decoded *pagination.Cursor) (*auditdomain.Cursor, error) {
	id, err := snowflake.ParseString(decoded.ID)
	if err != nil {
		return nil, err
	}
	nanos, err := strconv.ParseInt(decoded.CreatedAt, 10, 64)
	if err != nil {
		return nil, err
	}
	return &auditdomain.Cursor{
		ID:        id,
		CreatedAt: time.Unix(0, nanos).UTC(),
	}, nil
}
