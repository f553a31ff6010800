// internal/database/migrate.go
package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrator applies the embedded schema migrations.
type Migrator struct {
	pool *pgxpool.Pool
}

func NewMigrator(pool *pgxpool.Pool) (*Migrator, error) {
	if pool == nil {
		return nil, errors.New("nil pgx pool")
	}
	return &Migrator{pool: pool}, nil
}

func (m *Migrator) Up() error {
	return m.run(func(mg *migrate.Migrate) error { return mg.Up() })
}

func (m *Migrator) Down() error {
	return m.run(func(mg *migrate.Migrate) error { return mg.Down() })
}

func (m *Migrator) run(step func(*migrate.Migrate) error) error {
	driver, err := migratepgx.WithInstance(sql.OpenDB(stdlib.GetPoolConnector(m.pool)), &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	mg, err := migrate.NewWithInstance("iofs", src, "pgx", driver)
	if err != nil {
		return err
	}
	if err := step(mg); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
