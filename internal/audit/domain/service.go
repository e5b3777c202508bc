package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/keystone/pkg/db/pagination"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrInvalidTimeRange    = errors.New("invalid_time_range")
	ErrInvalidAction       = errors.New("invalid_action")
)

// Entry describes one action to record.
type Entry struct {
	ActorID      snowflake.ID
	OrgID        *snowflake.ID
	Action       string
	ResourceType string
	ResourceID   *string
	Details      map[string]any
}

type ListRequest struct {
	pagination.Pagination
	OrgID        snowflake.ID
	Action       string
	ResourceType string
	ResourceID   string
	StartAt      *time.Time
	EndAt        *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	AuditLogs []*AuditLog `json:"audit_logs"`
}

type Service interface {
	// Record appends an entry. It is best-effort: failures are logged and
	// never propagated to the mutation that triggered the entry.
	Record(ctx context.Context, entry Entry)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}
