package synth

import (
	"context"
	"fmt"
	"sort"

	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/pkg/logger"
)

const defaultBatch = 500

// Appender accepts raw points for a sensor.
type Appender interface {
	Append(ctx context.Context, sensorID string, points ...model.Point) error
}

// Seed writes every point of ds into store in batches and returns the number written.
func Seed(ctx context.Context, store Appender, ds Dataset, batch int) (int, error) {
	if batch <= 0 {
		batch = defaultBatch
	}
	ids := make([]string, 0, len(ds.Points))
	for id := range ds.Points {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	written := 0
	for _, id := range ids {
		pts := ds.Points[id]
		for lo := 0; lo < len(pts); lo += batch {
			if err := ctx.Err(); err != nil {
				return written, err
			}
			hi := min(lo+batch, len(pts))
			if err := store.Append(ctx, id, pts[lo:hi]...); err != nil {
				return written, fmt.Errorf("seed %s: %w", id, err)
			}
			written += hi - lo
		}
	}
	logger.Get().Named("synth").Info(ctx, "seeded store",
		logger.String("runID", ds.RunID), logger.Int("sensors", len(ids)), logger.Int("points", written))
	return written, nil
}
