package metric

import (
	"context"
	"time"

	"ganapp/src-server/model"
	"ganapp/src-server/utils"
)

// Latency of a query that matches nothing.
func database(ctx context.Context, as *utils.AppState) (time.Duration, error) {
	start := time.Now()
	if _, err := as.BunDB.NewSelect().
		Model((*model.Event)(nil)).
		Where("id = ?", "").
		Exists(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
