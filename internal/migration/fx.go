package migration

import (
	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/keystone/internal/audit/domain"
	"github.com/smallbiznis/keystone/internal/config"
	identitydomain "github.com/smallbiznis/keystone/internal/identity/domain"
	invitationdomain "github.com/smallbiznis/keystone/internal/invitation/domain"
	orgdomain "github.com/smallbiznis/keystone/internal/organization/domain"
	"github.com/smallbiznis/keystone/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, node *snowflake.Node) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// SQLite and MySQL development setups derive the schema from the
			// models instead of the versioned Postgres migrations.
			if err := conn.AutoMigrate(
				&identitydomain.User{},
				&orgdomain.Organization{},
				&orgdomain.Membership{},
				&invitationdomain.Invitation{},
				&auditdomain.AuditLog{},
			); err != nil {
				return err
			}
		}

		if cfg.SeedDefaultAdmin {
			return seed.EnsureDefaultOrgAndAdmin(conn, node)
		}
		return nil
	}),
)
