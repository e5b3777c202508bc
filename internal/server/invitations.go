package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	invitationdomain "github.com/smallbiznis/keystone/internal/invitation/domain"
	orgdomain "github.com/smallbiznis/keystone/internal/organization/domain"
)

type sendInvitationRequest struct {
	Email       string          `json:"email"`
	Role        string          `json:"role"`
	Permissions map[string]bool `json:"permissions"`
}

type sendInvitationResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

func (s *Server) SendInvitation(c *gin.Context) {
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

	var req sendInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.invitationSvc.Send(c.Request.Context(), orgID, user.ID, invitationdomain.SendRequest{
		Email:       req.Email,
		Role:        req.Role,
		Permissions: req.Permissions,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// The raw token is returned once for out-of-band delivery.
	c.JSON(http.StatusCreated, sendInvitationResponse{
		ID:        result.Invitation.ID.String(),
		Email:     result.Invitation.Email,
		Role:      result.Invitation.Role,
		Status:    result.Invitation.Status,
		Token:     result.Token,
		ExpiresAt: result.Invitation.ExpiresAt.Format(time.RFC3339),
	})
}

func (s *Server) ListInvitations(c *gin.Context) {
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

	items, err := s.invitationSvc.List(c.Request.Context(), orgID, user.ID, c.Query("status"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invitations": items})
}

func (s *Server) RevokeInvitation(c *gin.Context) {
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
	inviteID, ok := parseID(c.Param("inviteId"))
	if !ok {
		AbortWithError(c, invitationdomain.ErrInvitationNotFound)
		return
	}

	if err := s.invitationSvc.Revoke(c.Request.Context(), orgID, user.ID, inviteID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) AcceptInvitation(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req acceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	inv, err := s.invitationSvc.Accept(c.Request.Context(), req.Token, user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"org_id": inv.OrgID.String(),
		"role":   inv.Role,
		"status": inv.Status,
	})
}
