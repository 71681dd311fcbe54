package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"io"
	"os"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/samber/oops"

	_ "github.com/mattn/go-sqlite3"
	sqldblogger "github.com/simukti/sqldb-logger"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"go.opentelemetry.io/otel"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/rs/zerolog"
	"github.com/simukti/sqldb-logger/logadapter/zerologadapter"
)

//go:embed migrations/*.sql
var migrations embed.FS

type DB struct {
	*sql.DB
	QueryBuilder *squirrel.StatementBuilderType
}

type Options struct {
	// Path is a file path or a sqlite DSN such as file:x?mode=memory&cache=shared.
	Path     string
	LogLevel string
	LogOut   io.Writer
}

func New(opts Options) (*sql.DB, error) {
	if opts.Path == "" {
		opts.Path = "accounts.db"
	}

	sqlDB, err := otelsql.Open("sqlite3", opts.Path,
		otelsql.WithDBSystem("sqlite"),
		otelsql.WithDBName("accounts"),
		otelsql.WithTracerProvider(otel.GetTracerProvider()),
	)

	if err != nil {
		return nil, oops.Code("DB_OPEN_FAILED").With("path", opts.Path).Wrap(err)
	}

	out := opts.LogOut
	if out == nil {
		out = os.Stdout
	}

	level, err := zerolog.ParseLevel(opts.LogLevel)
	if err != nil || opts.LogLevel == "" {
		level = zerolog.WarnLevel
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()

	db := sqldblogger.OpenDriver(opts.Path, sqlDB.Driver(), zerologadapter.New(logger),
		sqldblogger.WithLogArguments(false),
		sqldblogger.WithMinimumLevel(sqldblogger.LevelDebug),
	)

	// sqlite serializes writers; one connection keeps in-memory databases shared
	// and turns SQLITE_BUSY into queueing.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func NewDB(opts Options) (*DB, error) {
	sqlDB, err := New(opts)

	if err != nil {
		return nil, err
	}

	queryBuilder := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

	return &DB{
		DB:           sqlDB,
		QueryBuilder: &queryBuilder,
	}, nil
}

// RunMigrations applies the embedded migrations. The migrate instance is not
// closed because closing it would close db as well.
func RunMigrations(db *sql.DB) error {
	source, err := iofs.New(migrations, "migrations")

	if err != nil {
		return oops.Code("MIGRATION_SOURCE_FAILED").Wrap(err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})

	if err != nil {
		return oops.Code("MIGRATION_DRIVER_FAILED").Wrap(err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)

	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_FAILED").Wrap(err)
	}

	return nil
}
