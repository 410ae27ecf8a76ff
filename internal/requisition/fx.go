package requisition

import (
	"github.com/smallbiznis/pavetrack/internal/requisition/repository"
	"github.com/smallbiznis/pavetrack/internal/requisition/service"
	"go.uber.org/fx"
)

var Module = fx.Module("requisition.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
