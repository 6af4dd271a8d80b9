package database

import (
	"context"
	"fmt"

	"github.com/sagarc03/sitehost"
	"github.com/sagarc03/sitehost/database/postgres"
	"github.com/sagarc03/sitehost/database/sqlite"
)

// Config holds the configuration for connecting to a registry backend.
type Config struct {
	// Type specifies the database type: "sqlite" or "postgres"
	Type string `mapstructure:"type" validate:"required,oneof=sqlite postgres"`
	// DSN is the data source name (connection string)
	DSN string `mapstructure:"dsn" validate:"required"`
	// AutoMigrate creates missing tables on Open
	AutoMigrate bool `mapstructure:"auto_migrate"`
	// Tables holds the table names
	Tables sitehost.Tables `mapstructure:"tables"`
}

// Database is a connected registry backend.
type Database interface {
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Validate(ctx context.Context) error
	GetRepo() sitehost.SiteRepo
	Close() error
}

// Connect opens the configured backend. It does not migrate; callers choose
// between Migrate and Validate depending on whether the schema is managed
// by sitehost.
func Connect(ctx context.Context, cfg Config) (Database, error) {
	if err := cfg.Tables.Validate(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	switch cfg.Type {
	case "sqlite":
		db, err := sqlite.Connect(ctx, cfg.DSN, cfg.Tables)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.DSN, cfg.Tables)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// Open connects and prepares the schema: it migrates when cfg.AutoMigrate
// is set and validates in every case. The returned Database is ready to
// serve.
func Open(ctx context.Context, cfg Config) (Database, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open database: %w", err)
		}
	}

	if err := db.Validate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	return db, nil
}
