// Package persistence connects to the PostgreSQL indicator store and
// reports on its health.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"analytics-hub-backend/internal/infrastructure/observability"
	appErrors "analytics-hub-backend/pkg/errors"
)

// Pool gauges recorded by RecordPoolStats.
const (
	MetricPoolTotal     = "db_pool_connections"
	MetricPoolAcquired  = "db_pool_acquired_connections"
	MetricPoolIdle      = "db_pool_idle_connections"
	MetricPoolMax       = "db_pool_max_connections"
	MetricPoolExhausted = "db_pool_exhausted"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolStats is a point-in-time view of connection pool usage.
type PoolStats struct {
	Total        int32
	Acquired     int32
	Idle         int32
	Max          int32
	EmptyAcquire int64
}

// StatsSource reports pool usage.
type StatsSource interface {
	PoolStats() PoolStats
}

// Postgres wraps a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect parses url and creates a pool. Connections are established
// lazily, so an unreachable server surfaces through the health probe
// rather than failing startup.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, appErrors.NewValidation("invalid database url", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, appErrors.NewUnavailable("failed to create connection pool", err)
	}
	logger.Info("Database pool created",
		zap.String("host", cfg.ConnConfig.Host),
		zap.String("database", cfg.ConnConfig.Database),
		zap.Int32("max_conns", cfg.MaxConns),
	)
	return &Postgres{pool: pool}, nil
}

// Ping checks that a connection can be acquired and used.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// PoolStats implements StatsSource.
func (p *Postgres) PoolStats() PoolStats {
	s := p.pool.Stat()
	return PoolStats{
		Total:        s.TotalConns(),
		Acquired:     s.AcquiredConns(),
		Idle:         s.IdleConns(),
		Max:          s.MaxConns(),
		EmptyAcquire: s.EmptyAcquireCount(),
	}
}

// Close releases every connection.
func (p *Postgres) Close() {
	p.pool.Close()
}

// PingProbe reports the database healthy when a ping succeeds within
// timeout. Pool usage is attached as details when stats is non-nil.
func PingProbe(db Pinger, stats StatsSource, timeout time.Duration) observability.ProbeFunc {
	return func(ctx context.Context) (observability.HealthCheckResult, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := db.Ping(ctx); err != nil {
			return observability.HealthCheckResult{}, fmt.Errorf("database ping failed: %w", err)
		}

		res := observability.HealthCheckResult{Healthy: true, Message: "Database connection OK"}
		if stats != nil {
			s := stats.PoolStats()
			res.Details = map[string]any{
				"total_conns":    s.Total,
				"acquired_conns": s.Acquired,
				"idle_conns":     s.Idle,
				"max_conns":      s.Max,
			}
		}
		return res, nil
	}
}

// RecordPoolStats publishes pool usage as gauges. db_pool_exhausted counts
// acquisitions that had to wait because every connection was in use.
func RecordPoolStats(stats StatsSource, collector *observability.Collector) {
	s := stats.PoolStats()
	collector.SetGauge(MetricPoolTotal, float64(s.Total), nil)
	collector.SetGauge(MetricPoolAcquired, float64(s.Acquired), nil)
	collector.SetGauge(MetricPoolIdle, float64(s.Idle), nil)
	collector.SetGauge(MetricPoolMax, float64(s.Max), nil)
	collector.SetGauge(MetricPoolExhausted, float64(s.EmptyAcquire), nil)
}
