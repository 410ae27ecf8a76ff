// Package ledgertest provides an in-memory SQLite ledger schema for package tests.
package ledgertest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE requisitions (
		id INTEGER PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		cost_center_ref TEXT NOT NULL DEFAULT '',
		allocation_version INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE requisition_line_items (
		id INTEGER PRIMARY KEY,
		requisition_id INTEGER NOT NULL,
		street TEXT NOT NULL DEFAULT '',
		mass_kg NUMERIC NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE delivery_commitments (
		id INTEGER PRIMARY KEY,
		requisition_id INTEGER NOT NULL,
		mass_tons NUMERIC NOT NULL,
		status TEXT NOT NULL,
		truck_ref TEXT NOT NULL DEFAULT '',
		crew_ref TEXT NOT NULL DEFAULT '',
		street TEXT NOT NULL DEFAULT '',
		delivery_date DATETIME,
		created_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE load_tickets (
		id INTEGER PRIMARY KEY,
		commitment_id INTEGER NOT NULL UNIQUE,
		out_weight_kg NUMERIC NOT NULL,
		in_weight_kg NUMERIC,
		loaded_at DATETIME NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE application_records (
		id INTEGER PRIMARY KEY,
		commitment_id INTEGER NOT NULL,
		sequence INTEGER NOT NULL,
		mass_tons NUMERIC NOT NULL,
		street TEXT NOT NULL DEFAULT '',
		applied_at DATETIME NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		UNIQUE (commitment_id, sequence)
	)`,
	`CREATE TABLE delivery_status_history (
		id INTEGER PRIMARY KEY,
		commitment_id INTEGER NOT NULL,
		previous_status TEXT NOT NULL DEFAULT '',
		new_status TEXT NOT NULL,
		applied_pct NUMERIC NOT NULL DEFAULT 0,
		remaining_tons NUMERIC NOT NULL DEFAULT 0,
		changed_by TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		changed_at DATETIME NOT NULL
	)`,
	`CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		correlation_id TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE profiles (
		user_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		roles TEXT NOT NULL DEFAULT '{}',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// NewDB opens an isolated in-memory database with the ledger tables.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// NewNode returns a snowflake generator for fixtures.
func NewNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}
