package audit

import (
	"github.com/smallbiznis/pavetrack/internal/audit/repository"
	"github.com/smallbiznis/pavetrack/internal/audit/service"
	"go.uber.org/fx"
)

// Module provides the audit trail shared by cancellation, application and authorization flows.
var Module = fx.Module("audit",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
