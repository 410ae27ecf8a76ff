package authorization

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pavetrack/internal/clock"
	"github.com/smallbiznis/pavetrack/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("authorization.service",
	fx.Provide(NewEnforcer),
	fx.Provide(provideRoleCache),
	fx.Provide(provideRoleProvider),
	fx.Provide(NewService),
)

type roleCacheParams struct {
	fx.In

	Redis *redis.Client `optional:"true"`
	Clock clock.Clock   `optional:"true"`
}

func provideRoleCache(p roleCacheParams) RoleCache {
	if p.Redis != nil {
		return NewRedisRoleCache(p.Redis)
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return NewMemoryRoleCache(clk)
}

func provideRoleProvider(db *gorm.DB, log *zap.Logger, cache RoleCache, cfg config.Config) RoleProvider {
	return NewRoleProvider(db, log, cache, cfg.RoleCacheTTL)
}
