package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	orgdomain "github.com/smallbiznis/keystone/internal/organization/domain"
	"github.com/smallbiznis/keystone/pkg/db/pagination"
)

type addMemberRequest struct {
	Email       string          `json:"email"`
	FirstName   string          `json:"first_name"`
	LastName    string          `json:"last_name"`
	Role        string          `json:"role"`
	Permissions map[string]bool `json:"permissions"`
}

type addMemberResponse struct {
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
	Status       string `json:"status"`
	UserCreated  bool   `json:"user_created"`
	TempPassword string `json:"temp_password,omitempty"`
}

type updateMemberRoleRequest struct {
	Role        string          `json:"role"`
	Permissions map[string]bool `json:"permissions"`
}

func (s *Server) ListMembers(c *gin.Context) {
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

	if err := s.requireMember(c, orgID, user.ID); err != nil {
		AbortWithError(c, err)
		return
	}

	var page pagination.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.orgSvc.ListMembers(c.Request.Context(), orgID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) AddMember(c *gin.Context) {
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

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.orgSvc.AddMember(c.Request.Context(), orgID, user.ID, orgdomain.AddMemberRequest{
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Role:        req.Role,
		Permissions: req.Permissions,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, addMemberResponse{
		UserID:       result.Membership.UserID.String(),
		Role:         result.Membership.Role,
		Status:       result.Membership.Status,
		UserCreated:  result.UserCreated,
		TempPassword: result.TempPassword,
	})
}

func (s *Server) UpdateMemberRole(c *gin.Context) {
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
	memberID, ok := parseID(c.Param("userId"))
	if !ok {
		AbortWithError(c, orgdomain.ErrInvalidUser)
		return
	}

	var req updateMemberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.orgSvc.UpdateMemberRole(c.Request.Context(), orgID, user.ID, memberID, orgdomain.UpdateMemberRoleRequest{
		Role:        req.Role,
		Permissions: req.Permissions,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) RemoveMember(c *gin.Context) {
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
	memberID, ok := parseID(c.Param("userId"))
	if !ok {
		AbortWithError(c, orgdomain.ErrInvalidUser)
		return
	}

	if err := s.orgSvc.RemoveMember(c.Request.Context(), orgID, user.ID, memberID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
