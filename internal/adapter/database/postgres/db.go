package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"

	"github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Querier is the subset of *pgxpool.Pool the repositories use.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type DB struct {
	Pool         Querier
	QueryBuilder *squirrel.StatementBuilderType
	close        func()
}

func NewDB(ctx context.Context, url string) (*DB, error) {
	if url == "" {
		return nil, oops.Code("DATABASE_URL_MISSING").Errorf("DATABASE_URL is not set")
	}

	pool, err := pgxpool.New(ctx, url)

	if err != nil {
		return nil, oops.Code("DB_OPEN_FAILED").Wrap(err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_PING_FAILED").Wrap(err)
	}

	if err := RunMigrations(url); err != nil {
		pool.Close()
		return nil, err
	}

	db := WithQuerier(pool)
	db.close = pool.Close

	return db, nil
}

// WithQuerier wraps an already open pool, or a pgxmock pool in tests.
func WithQuerier(q Querier) *DB {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	return &DB{
		Pool:         q,
		QueryBuilder: &psql,
	}
}

func (db *DB) Close() {
	if db.close != nil {
		db.close()
	}
}

func RunMigrations(url string) error {
	sqlDB, err := sql.Open("pgx", url)

	if err != nil {
		return oops.Code("MIGRATION_DB_FAILED").Wrap(err)
	}

	source, err := iofs.New(migrations, "migrations")

	if err != nil {
		sqlDB.Close()
		return oops.Code("MIGRATION_SOURCE_FAILED").Wrap(err)
	}

	driver, err := pgxmigrate.WithInstance(sqlDB, &pgxmigrate.Config{})

	if err != nil {
		sqlDB.Close()
		return oops.Code("MIGRATION_DRIVER_FAILED").Wrap(err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)

	if err != nil {
		sqlDB.Close()
		return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}

	// Closes the migration connection and sqlDB with it.
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_FAILED").Wrap(err)
	}

	return nil
}
