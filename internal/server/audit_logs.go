package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/keystone/internal/audit/domain"
	"github.com/smallbiznis/keystone/internal/authorization"
	orgdomain "github.com/smallbiznis/keystone/internal/organization/domain"
	"github.com/smallbiznis/keystone/pkg/db/pagination"
)

type listAuditLogsQuery struct {
	PageToken    string `form:"page_token"`
	PageSize     int    `form:"page_size"`
	Action       string `form:"action"`
	ResourceType string `form:"resource_type"`
	ResourceID   string `form:"resource_id"`
	StartAt      string `form:"start_at"`
	EndAt        string `form:"end_at"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	orgID, ok := parseID(c.Param("id"))
	if !ok {
		AbortWithError(c, orgdomain.ErrInvalidOrganization)
		return
	}

	if err := s.authzSvc.Require(c.Request.Context(), user.ID, orgID, authorization.PermAuditView); err != nil {
		AbortWithError(c, err)
		return
	}

	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var startAt *time.Time
	if value := strings.TrimSpace(query.StartAt); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			AbortWithError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
			return
		}
		startAt = &parsed
	}

	var endAt *time.Time
	if value := strings.TrimSpace(query.EndAt); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			AbortWithError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
			return
		}
		endAt = &parsed
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		OrgID:        orgID,
		Action:       strings.TrimSpace(query.Action),
		ResourceType: strings.TrimSpace(query.ResourceType),
		ResourceID:   strings.TrimSpace(query.ResourceID),
		StartAt:      startAt,
		EndAt:        endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
