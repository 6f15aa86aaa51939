package postgres

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sifan077/PowerPush/config"
)

const defaultDialTimeout = 5 * time.Second

// NewPool creates a pgx connection pool using the provided config and verifies connectivity.
// The pool backs readiness probes; push data goes through GORM.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	setDuration(&poolCfg.MaxConnLifetime, cfg.MaxConnLifetime)
	setDuration(&poolCfg.MaxConnIdleTime, cfg.MaxConnIdleTime)
	setDuration(&poolCfg.HealthCheckPeriod, cfg.HealthCheckPeriod)

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := Probe(pool)(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// Probe returns a readiness check that pings the pool with a bounded timeout.
func Probe(pool *pgxpool.Pool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			return fmt.Errorf("postgres: ping: %w", err)
		}
		return nil
	}
}

func setDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

// ConnString renders a postgres:// URL, filling in local defaults.
func ConnString(cfg config.PostgresConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", valueOr(cfg.Host, "localhost"), portOr(cfg.Port, 5432)),
		Path:     "/" + cfg.Database,
		RawQuery: url.Values{"sslmode": {valueOr(cfg.SSLMode, "disable")}}.Encode(),
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	return u.String()
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func portOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
