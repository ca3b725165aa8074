package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Common errors
var (
	// ErrNotFound is returned when a row is not found
	ErrNotFound = errors.New("not found")

	// ErrCheckpointRegression is returned when a checkpoint update would lower a height
	ErrCheckpointRegression = errors.New("checkpoint regression")

	// ErrConflict is returned when a guarded update matched no row because a
	// concurrent transaction changed it first. The transaction is retryable.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrInvalidDriver is returned for an unknown database driver
	ErrInvalidDriver = errors.New("invalid database driver")
)

// Postgres error codes worth retrying a transaction for
const (
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
	pgErrConnectionFailure    = "08006"
	pgErrConnectionException  = "08000"
	pgErrTooManyConnections   = "53300"
	pgErrCannotConnectNow     = "57P03"
)

// Config holds storage configuration
type Config struct {
	// Driver is "postgres" or "sqlite"
	Driver string

	// DSN is the driver specific data source name
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// AutoMigrate creates or updates the schema on Open
	AutoMigrate bool

	// Logger receives slow query and error logs; nil disables them
	Logger *zap.Logger
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Driver != "postgres" && c.Driver != "sqlite" {
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.Driver)
	}
	if c.DSN == "" {
		return errors.New("dsn cannot be empty")
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return errors.New("pool sizes cannot be negative")
	}
	return nil
}

// Open connects to the configured database and optionally migrates the schema
func Open(cfg *Config) (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	}

	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if cfg.Logger != nil {
		gormConfig.Logger = gormlogger.New(zapWriter{cfg.Logger.Sugar()}, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// sqlite allows a single writer; one connection also keeps :memory: alive
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	if cfg.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}

	return db, nil
}

// Migrate creates or updates the four indexer tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Checkpoint{}, &Stake{}, &Claim{}, &Validator{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

type zapWriter struct {
	logger *zap.SugaredLogger
}

func (w zapWriter) Printf(format string, args ...interface{}) {
	w.logger.Warnf(format, args...)
}

// Repository is the base for entity repositories. Writes issued with a
// context returned by Transaction join that transaction.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a base repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type txKey struct{}

// DB returns the transaction bound to ctx, or the root connection
func (r *Repository) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Transaction runs fn in a database transaction. Nested calls reuse the
// outer transaction.
func (r *Repository) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// TransactionWithRetry retries Transaction on serialization failures,
// deadlocks and dropped connections
func (r *Repository) TransactionWithRetry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i <= maxRetries; i++ {
		err = r.Transaction(ctx, fn)
		if err == nil || !IsRetryableError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<uint(i)) * 100 * time.Millisecond):
		}
	}
	return err
}

// IsRetryableError reports whether err is a transient postgres failure or
// a lost guarded update
func IsRetryableError(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgErrSerializationFailure, pgErrDeadlockDetected,
		pgErrConnectionFailure, pgErrConnectionException,
		pgErrTooManyConnections, pgErrCannotConnectNow:
		return true
	}
	return false
}

// Store bundles the typed repositories over one connection
type Store struct {
	*Repository
	Checkpoints CheckpointRepository
	Stakes      StakeRepository
	Claims      ClaimRepository
	Validators  ValidatorRepository
}

// NewStore creates the repositories for db
func NewStore(db *gorm.DB) *Store {
	base := NewRepository(db)
	return &Store{
		Repository:  base,
		Checkpoints: &checkpointRepository{base},
		Stakes:      &stakeRepository{base},
		Claims:      &claimRepository{base},
		Validators:  &validatorRepository{base},
	}
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
