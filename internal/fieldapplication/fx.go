package fieldapplication

import (
	"github.com/smallbiznis/pavetrack/internal/fieldapplication/repository"
	"github.com/smallbiznis/pavetrack/internal/fieldapplication/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fieldapplication.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
