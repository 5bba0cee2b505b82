package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CollectPoolStats periodically copies pgx pool statistics into the db
// gauges until the context is cancelled.
func CollectPoolStats(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()
			DBConnectionsTotal.Set(float64(stat.TotalConns()))
			DBConnectionsIdle.Set(float64(stat.IdleConns()))
			DBConnectionsAcquired.Set(float64(stat.AcquiredConns()))
		}
	}
}
