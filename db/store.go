package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"github.com/wpmeta/wpmeta/cfg"
)

// Table names without the WordPress prefix
const (
	TablePosts     = "posts"
	TablePostmeta  = "postmeta"
	TableOptions   = "options"
	TableRevisions = "wpmeta_revisions"
	TableLogs      = "wpmeta_logs"
)

func init() {
	goqu.SetDefaultPrepared(true)
}

// Querier is the query-building surface shared by *goqu.Database and
// *goqu.TxDatabase, so the same code runs inside and outside a transaction.
type Querier interface {
	From(from ...interface{}) *goqu.SelectDataset
	Insert(table interface{}) *goqu.InsertDataset
	Update(table interface{}) *goqu.UpdateDataset
	Delete(table interface{}) *goqu.DeleteDataset
}

// Store wraps the WordPress database connection
type Store struct {
	sqlDB  *sql.DB
	db     *goqu.Database
	driver cfg.DatabaseDriver
	prefix string
}

// queryLogger forwards goqu's SQL trace to zerolog at debug level
type queryLogger struct{}

func (queryLogger) Printf(format string, v ...interface{}) {
	log.Debug().Msgf(format, v...)
}

// Open connects to the configured database and verifies the connection
func Open(c cfg.DatabaseConfiguration) (*Store, error) {
	driverName := "mysql"
	dsn := c.DSN
	if c.Driver == cfg.DriverSQLite {
		driverName = SQLiteDriverName
	} else {
		var err error
		if dsn, err = normalizeDSN(dsn); err != nil {
			return nil, err
		}
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	sqlDB.SetMaxIdleConns(c.MaxIdleConns)
	if c.MaxLifetimeSeconds > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(c.MaxLifetimeSeconds) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Str("driver", string(c.Driver)).Str("prefix", c.TablePrefix).Msg("Database connected")
	return New(sqlDB, c.Driver, c.TablePrefix), nil
}

// normalizeDSN forces DATETIME columns to scan as UTC time.Time values,
// whatever the configured DSN says
func normalizeDSN(dsn string) (string, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN(), nil
}

// New wraps an open connection
func New(sqlDB *sql.DB, driver cfg.DatabaseDriver, prefix string) *Store {
	dialect := "mysql"
	if driver == cfg.DriverSQLite {
		dialect = "sqlite3"
	}

	gdb := goqu.New(dialect, sqlDB)
	if cfg.Config.Logging.Verbose {
		gdb.Logger(queryLogger{})
	}

	return &Store{sqlDB: sqlDB, db: gdb, driver: driver, prefix: prefix}
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// SQL returns the raw connection pool
func (s *Store) SQL() *sql.DB {
	return s.sqlDB
}

// Q returns the non-transactional querier
func (s *Store) Q() Querier {
	return s.db
}

// Driver returns the configured database driver
func (s *Store) Driver() cfg.DatabaseDriver {
	return s.driver
}

// Table returns the prefixed table name
func (s *Store) Table(name string) string {
	return s.prefix + name
}

// WithTx runs fn in a transaction. The transaction commits when fn returns
// nil and rolls back otherwise (or on panic).
func (s *Store) WithTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx.Wrap(func() error {
		return fn(tx)
	})
}

// or returns q, falling back to the store's pool
func (s *Store) or(q Querier) Querier {
	if q == nil {
		return s.db
	}
	return q
}
