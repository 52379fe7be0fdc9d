package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the pool section of the health response.
type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	AcquireWait   string `json:"acquire_wait"`
}

func GetPoolStats(pool *pgxpool.Pool) PoolStats {
	stat := pool.Stat()
	return PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		AcquireWait:   stat.AcquireDuration().String(),
	}
}

// Saturated reports whether every connection in the pool is checked out. A
// saturated pool during a run usually means WORKERS is set too high.
func (s PoolStats) Saturated() bool {
	return s.MaxConns > 0 && s.AcquiredConns >= s.MaxConns
}

// Health is the body served by HealthHandler.
type Health struct {
	Status            string    `json:"status"`
	Error             string    `json:"error,omitempty"`
	Saturated         bool      `json:"saturated"`
	PendingMigrations *int      `json:"pending_migrations,omitempty"`
	Pool              PoolStats `json:"pool"`
}

// pendingMigrations counts migration files not yet recorded in schema. It only
// reads, so a missing schema_migrations table yields an error, not a table.
func pendingMigrations(ctx context.Context, m *Migrator, schema string) (int, error) {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}
	applied, err := m.AppliedVersions(ctx, schema)
	if err != nil {
		return 0, err
	}
	pending := 0
	for _, s := range mergeStatus(migrations, applied) {
		if !s.Applied {
			pending++
		}
	}
	return pending, nil
}

// HealthHandler pings the database and, when migrator is set, reports how far
// schema lags behind the migrations directory. A lagging schema is "degraded"
// and still answers 200 so that read endpoints stay routable.
func HealthHandler(pool *pgxpool.Pool, migrator *Migrator, schema string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		h := Health{Status: "healthy", Pool: GetPoolStats(pool)}
		h.Saturated = h.Pool.Saturated()

		if err := pool.Ping(ctx); err != nil {
			h.Status = "unhealthy"
			h.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, h)
		}

		if migrator != nil {
			pending, err := pendingMigrations(ctx, migrator, schema)
			switch {
			case err != nil:
				h.Status = "degraded"
				h.Error = err.Error()
			case pending > 0:
				h.Status = "degraded"
				h.PendingMigrations = &pending
			default:
				h.PendingMigrations = &pending
			}
		}
		return c.JSON(http.StatusOK, h)
	}
}
