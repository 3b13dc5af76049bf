package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/canopy-network/validatorx/pkg/retry"
	"github.com/canopy-network/validatorx/pkg/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Executor is an interface that both *pgxpool.Pool and pgx.Tx implement.
// This allows methods to work with either a connection pool or a transaction.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Client wraps a PostgreSQL connection pool and provides helper methods
type Client struct {
	Logger *zap.Logger
	Pool   *pgxpool.Pool
}

// PoolConfig defines connection pool settings
type PoolConfig struct {
	MinConns        int32
	MaxConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// Refresh queries can scan whole tables; a statement timeout keeps a stuck query from
	// outliving the refresh lock.
	StatementTimeout time.Duration
	Component        string // For logging/debugging
}

// DefaultPoolConfig returns pool settings for the read-mostly query service.
// POSTGRES_MAX_CONNS and POSTGRES_STATEMENT_TIMEOUT override the defaults.
func DefaultPoolConfig(component string) *PoolConfig {
	return &PoolConfig{
		MinConns:         2,
		MaxConns:         int32(utils.EnvInt("POSTGRES_MAX_CONNS", 10)),
		ConnMaxLifetime:  time.Hour,
		ConnMaxIdleTime:  30 * time.Minute,
		StatementTimeout: utils.EnvDuration("POSTGRES_STATEMENT_TIMEOUT", 5*time.Minute),
		Component:        component,
	}
}

// New connects to the database at dbURL and verifies the connection, retrying with backoff
// while the database comes up. A nil poolConfig uses DefaultPoolConfig.
func New(ctx context.Context, logger *zap.Logger, dbURL string, poolConfig *PoolConfig) (client Client, err error) {
	connCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	client.Logger = logger

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return Client{}, fmt.Errorf("failed to parse POSTGRES_URL: %w", err)
	}

	poolConf := poolConfig
	if poolConf == nil {
		poolConf = DefaultPoolConfig("unknown")
	}

	config.MinConns = poolConf.MinConns
	config.MaxConns = poolConf.MaxConns
	config.MaxConnLifetime = poolConf.ConnMaxLifetime
	config.MaxConnIdleTime = poolConf.ConnMaxIdleTime
	if poolConf.StatementTimeout > 0 {
		config.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", poolConf.StatementTimeout.Milliseconds())
	}
	config.ConnConfig.RuntimeParams["application_name"] = "validatorx-" + poolConf.Component

	retryErr := retry.WithBackoff(connCtx, retry.DefaultConfig(), logger, "postgres_connection", func() error {
		pool, openErr := pgxpool.NewWithConfig(connCtx, config)
		if openErr != nil {
			return fmt.Errorf("failed to create postgres connection pool: %w", openErr)
		}

		if pingErr := pool.Ping(connCtx); pingErr != nil {
			pool.Close()
			var pgErr *pgconn.PgError
			// 28xxx: invalid authorization, 3D000: unknown database. Waiting won't fix either.
			if errors.As(pingErr, &pgErr) && (strings.HasPrefix(pgErr.Code, "28") || pgErr.Code == "3D000") {
				return retry.Permanent(fmt.Errorf("failed to ping postgres: %w", pingErr))
			}
			return fmt.Errorf("failed to ping postgres: %w", pingErr)
		}

		client.Pool = pool

		logger.Info("PostgreSQL connection pool configured",
			zap.String("component", poolConf.Component),
			zap.Int32("min_conns", poolConf.MinConns),
			zap.Int32("max_conns", poolConf.MaxConns),
			zap.Duration("statement_timeout", poolConf.StatementTimeout),
		)
		return nil
	})
	if retryErr != nil {
		return Client{}, retryErr
	}

	return client, nil
}

// Ping checks the pool can still reach the database.
func (c *Client) Ping(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

// BeginFunc executes a function within a transaction
// If the function returns an error, the transaction is rolled back
// Otherwise, the transaction is committed
func (c *Client) BeginFunc(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, c.Pool, fn)
}

// ctxKey is the type used for context keys to avoid collisions
type ctxKey string

// txKey is the context key for storing the transaction
const txKey ctxKey = "pgx_tx"

// WithTx returns a new context with the transaction embedded
// This allows methods to automatically use the transaction when present
func (c *Client) WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// GetExecutor returns an Executor from the context
// If a transaction is present in the context, it returns the transaction
// Otherwise, it returns the connection pool for non-transactional operations
func (c *Client) GetExecutor(ctx context.Context) Executor {
	if tx, ok := ctx.Value(txKey).(pgx.Tx); ok {
		return tx
	}
	return c.Pool
}

// Close closes the connection pool
func (c *Client) Close() error {
	c.Pool.Close()
	return nil
}

// IsNoRows checks if the error is a "no rows" error
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// SelectAll runs query and scans every row into T by column name.
func SelectAll[T any](ctx context.Context, exec Executor, query string, args ...any) ([]T, error) {
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[T])
}

// ExecuteBatch sends batch and checks every queued statement, reporting the first failure by index.
func ExecuteBatch(ctx context.Context, exec Executor, batch *pgx.Batch) error {
	br := exec.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch statement %d failed: %w", i, err)
		}
	}

	return nil
}
