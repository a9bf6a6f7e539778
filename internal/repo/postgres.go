package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/miradorstack/mirador-analytics/internal/config"
)

// PostgresStore executes statements on a pgx connection pool.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  *slog.Logger
}

// NewPostgresStore wraps an existing pool. timeout bounds each Execute call when positive.
func NewPostgresStore(pool *pgxpool.Pool, timeout time.Duration, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, timeout: timeout, logger: logger}
}

// Execute runs stmt and returns every row as raw column values.
func (s *PostgresStore) Execute(ctx context.Context, stmt Statement) ([]Row, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("postgres store not configured")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", stmt.Kind, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", stmt.Kind, err)
		}
		out = append(out, Row(values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", stmt.Kind, err)
	}

	s.logger.Debug("statement executed",
		slog.String("kind", stmt.Kind),
		slog.Int("rows", len(out)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// NewPostgresPool opens and pings a pool for the configured database.
func NewPostgresPool(ctx context.Context, cfg config.StoreConfig) (*pgxpool.Pool, error) {
	dsn, err := buildPostgresURL(cfg)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

func buildPostgresURL(cfg config.StoreConfig) (string, error) {
	if cfg.DatabaseURL != "" {
		return cfg.DatabaseURL, nil
	}
	if cfg.User == "" || cfg.Database == "" {
		return "", errors.New("missing store settings: databaseURL or user/database")
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == "" {
		port = "5432"
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   cfg.Database,
	}
	if cfg.Password == "" {
		u.User = url.User(cfg.User)
	} else {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
