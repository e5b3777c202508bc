package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	orgdomain "github.com/smallbiznis/keystone/internal/organization/domain"
)

type signupRequest struct {
	OrganizationName string `json:"organization_name"`
	Description      string `json:"description"`
	Email            string `json:"email"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Password         string `json:"password"`
}

// Signup provisions the owner account and the organization in one step.
func (s *Server) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	org, err := s.orgSvc.Create(c.Request.Context(), orgdomain.CreateOrganizationRequest{
		Name:           req.OrganizationName,
		Description:    req.Description,
		OwnerEmail:     req.Email,
		OwnerFirstName: req.FirstName,
		OwnerLastName:  req.LastName,
		OwnerPassword:  req.Password,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, org)
}

func (s *Server) ListOrganizations(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	items, err := s.orgSvc.ListByUser(c.Request.Context(), user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"organizations": items})
}

func (s *Server) GetOrganization(c *gin.Context) {
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

	org, err := s.orgSvc.GetByID(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, org)
}
