package invitation

import (
	"github.com/smallbiznis/keystone/internal/invitation/repository"
	"github.com/smallbiznis/keystone/internal/invitation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invitation.service",
	fx.Provide(
		repository.NewRepository,
		service.NewService,
		service.NewReaper,
	),
	fx.Invoke(service.RegisterReaper),
)
