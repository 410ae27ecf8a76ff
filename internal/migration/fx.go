package migration

import (
	"strings"

	"github.com/smallbiznis/pavetrack/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(migrateLedgerSchema),
)

func migrateLedgerSchema(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migrations")
	if !cfg.DBAutoMigrate {
		return nil
	}
	if !strings.EqualFold(cfg.DBType, "postgres") {
		log.Warn("skipping embedded migrations for non-postgres database", zap.String("type", cfg.DBType))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	schema, err := RunMigrations(sqlDB)
	if err != nil {
		return err
	}
	if latest, err := LatestVersion(); err == nil && schema.Version != latest {
		log.Warn("ledger schema behind embedded migrations",
			zap.Uint("version", schema.Version),
			zap.Uint("latest", latest),
		)
	}
	log.Info("ledger schema ready",
		zap.Uint("version", schema.Version),
		zap.Bool("changed", schema.Changed),
		zap.Bool("dirty", schema.Dirty),
	)
	return nil
}
