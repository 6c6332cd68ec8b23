package poll

import (
	"context"
	"fmt"
	"time"

	"enviroflow/internal/database"
	"enviroflow/internal/sensor"
)

// cacheLookback caps how many recent rows the degradation path inspects.
// Twenty rows comfortably covers one full reading set from the richest
// supported controller.
const cacheLookback = 20

// cached is a reduced snapshot of a controller's most recent readings,
// one entry per (sensor type, port), all marked stale.
type cached struct {
	readings []database.Reading
	tier     Tier
	age      time.Duration
}

// readCache loads the controller's most recent readings and reduces them to
// the latest value per (type, port). The tier is classified from the OLDEST
// sensor in the reduced set, so a single lagging probe degrades the whole
// snapshot rather than hiding behind fresher neighbours.
func (p *Poller) readCache(ctx context.Context, controllerID string) (cached, error) {
	rows, err := p.store.RecentReadings(ctx, controllerID, cacheLookback)
	if err != nil {
		return cached{}, fmt.Errorf("read cached readings: %w", err)
	}
	if len(rows) == 0 {
		return cached{}, nil
	}

	// Rows arrive newest first, so the first hit per key is the latest.
	type key struct {
		typ  sensor.Type
		port int
	}
	seen := make(map[key]bool, len(rows))
	var latest []database.Reading
	oldest := rows[0].RecordedAt
	for _, row := range rows {
		k := key{typ: row.Type, port: row.Port}
		if seen[k] {
			continue
		}
		seen[k] = true
		row.Stale = true
		latest = append(latest, row)
		if row.RecordedAt.Before(oldest) {
			oldest = row.RecordedAt
		}
	}

	age := p.now().Sub(oldest)
	return cached{
		readings: latest,
		tier:     classifyAge(age),
		age:      age,
	}, nil
}
