package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// PendingCount returns how many embedded migrations are not yet applied.
func (m *Migrator) PendingCount(ctx context.Context) (int, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range statuses {
		if !s.Applied {
			n++
		}
	}
	return n, nil
}

// HealthCheck is what the /health/db endpoint probes.
type HealthCheck struct {
	Ping    func(ctx context.Context) error
	Stats   func() *PoolStats
	Pending func(ctx context.Context) (int, error)
	Schema  string
}

// NewHealthCheck probes pool and reports the migration state of m.
func NewHealthCheck(pool *pgxpool.Pool, m *Migrator) HealthCheck {
	return HealthCheck{
		Ping:    pool.Ping,
		Stats:   func() *PoolStats { return GetPoolStats(pool) },
		Pending: m.PendingCount,
		Schema:  m.schema,
	}
}

// HealthHandler returns a handler for the database health check endpoint.
// A database behind on migrations reports "degraded" with 503.
func HealthHandler(hc HealthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		stats := hc.Stats()
		if err := hc.Ping(ctx); err != nil {
			stats.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   stats,
			})
		}

		pending, err := hc.Pending(ctx)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   stats,
			})
		}
		body := map[string]interface{}{
			"status":             "healthy",
			"schema":             hc.Schema,
			"pending_migrations": pending,
			"pool":               stats,
		}
		if pending > 0 {
			body["status"] = "degraded"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	}
}
