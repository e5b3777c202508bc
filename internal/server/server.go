package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/keystone/internal/audit"
	auditdomain "github.com/smallbiznis/keystone/internal/audit/domain"
	"github.com/smallbiznis/keystone/internal/authorization"
	"github.com/smallbiznis/keystone/internal/config"
	"github.com/smallbiznis/keystone/internal/identity"
	identitydomain "github.com/smallbiznis/keystone/internal/identity/domain"
	"github.com/smallbiznis/keystone/internal/invitation"
	invitationdomain "github.com/smallbiznis/keystone/internal/invitation/domain"
	"github.com/smallbiznis/keystone/internal/observability"
	obslogger "github.com/smallbiznis/keystone/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/keystone/internal/observability/metrics"
	"github.com/smallbiznis/keystone/internal/organization"
	orgdomain "github.com/smallbiznis/keystone/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	observability.Module,
	authorization.Module,
	audit.Module,
	identity.Module,
	organization.Module,
	invitation.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	identitySvc   identitydomain.Service
	orgSvc        orgdomain.Service
	memberships   orgdomain.Repository
	invitationSvc invitationdomain.Service
	auditSvc      auditdomain.Service
	authzSvc      authorization.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	IdentitySvc   identitydomain.Service
	OrgSvc        orgdomain.Service
	Memberships   orgdomain.Repository
	InvitationSvc invitationdomain.Service
	AuditSvc      auditdomain.Service
	AuthzSvc      authorization.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		identitySvc:   p.IdentitySvc,
		orgSvc:        p.OrgSvc,
		memberships:   p.Memberships,
		invitationSvc: p.InvitationSvc,
		auditSvc:      p.AuditSvc,
		authzSvc:      p.AuthzSvc,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/register", s.Register)
	auth.POST("/login", s.Login)
	auth.GET("/me", s.AuthRequired(), s.Me)
	auth.PATCH("/me", s.AuthRequired(), s.UpdateProfile)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.POST("/signup", s.Signup)

	authed := api.Group("", s.AuthRequired())

	authed.GET("/organizations", s.ListOrganizations)
	authed.GET("/organizations/:id", s.GetOrganization)

	authed.GET("/organizations/:id/members", s.ListMembers)
	authed.POST("/organizations/:id/members", s.AddMember)
	authed.PATCH("/organizations/:id/members/:userId", s.UpdateMemberRole)
	authed.DELETE("/organizations/:id/members/:userId", s.RemoveMember)

	authed.GET("/organizations/:id/invitations", s.ListInvitations)
	authed.POST("/organizations/:id/invitations", s.SendInvitation)
	authed.DELETE("/organizations/:id/invitations/:inviteId", s.RevokeInvitation)
	authed.POST("/invitations/accept", s.AcceptInvitation)

	authed.GET("/organizations/:id/audit-logs", s.ListAuditLogs)
}

// requireMember verifies the caller holds an active membership before
// exposing organization-scoped reads.
func (s *Server) requireMember(c *gin.Context, orgID, userID snowflake.ID) error {
	m, err := s.memberships.GetMembership(c.Request.Context(), orgID, userID)
	if err != nil {
		return orgdomain.ErrForbidden
	}
	if m.Status != orgdomain.MemberStatusActive {
		return orgdomain.ErrForbidden
	}
	return nil
}
