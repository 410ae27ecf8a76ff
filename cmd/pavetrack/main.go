package main

import (
	"github.com/smallbiznis/pavetrack/internal/clock"
	"github.com/smallbiznis/pavetrack/internal/config"
	"github.com/smallbiznis/pavetrack/internal/metricspush"
	"github.com/smallbiznis/pavetrack/internal/migration"
	"github.com/smallbiznis/pavetrack/internal/observability"
	"github.com/smallbiznis/pavetrack/internal/scheduler"
	"github.com/smallbiznis/pavetrack/internal/server"
	"github.com/smallbiznis/pavetrack/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
		scheduler.Module,
		metricspush.Module,
	)
	app.Run()
}
