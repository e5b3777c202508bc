package organization

import (
	"github.com/smallbiznis/keystone/internal/organization/repository"
	"github.com/smallbiznis/keystone/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(
		repository.NewRepository,
		service.NewService,
	),
)
