// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and schema migrations.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/pstavrou/go-llm-chat-backend/internal/domain"
)

// OpenSQLite opens (or creates) a SQLite database, applies PRAGMAs, tunes the
// connection pool, and installs the OpenTelemetry tracing plugin so that
// transcript reads/writes show up as spans under the request trace.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if the parent directory does not exist (instead of the
	// sqlite "out of memory (14)" error it degenerates into on some platforms).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	// DB-level tracing (metrics disabled; Prometheus covers HTTP and the
	// orchestrator separately).
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates or updates the transcript schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.ChatTurn{})
}
