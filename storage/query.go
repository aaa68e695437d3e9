package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/pkg/timestamp"
	"github.com/joyautomation/mantle/types"
)

// DefaultSamples is the target point count when the caller supplies
// neither an interval nor a sample count.
const DefaultSamples = 100

// valueCoalesce folds the three numeric-capable columns into one
// value. String-only samples yield NULL and are skipped.
const valueCoalesce = "COALESCE(float_value, int_value::real, bool_value::int::real)"

// QueryOptions tunes QueryWindow. The zero value means bucketed mode
// with an auto-derived interval targeting DefaultSamples points and
// left-edge fill on.
type QueryOptions struct {
	// IntervalSeconds is the explicit bucket width. Zero derives it
	// from Samples.
	IntervalSeconds int
	// Samples is the target point count for the auto interval.
	Samples int
	// Raw skips bucketing and returns every sample.
	Raw bool
	// DisableLeftEdge suppresses the synthetic point at window start.
	DisableLeftEdge bool
}

// Point is one time/value pair. TS is ms since epoch.
type Point struct {
	TS    int64   `json:"ts"`
	Value float64 `json:"value"`
}

// Series holds the window result for one requested identity.
type Series struct {
	Identity types.Identity `json:"identity"`
	Points   []Point        `json:"points"`
}

// autoInterval derives the bucket width in seconds from the window and
// the target sample count. Never below one second.
func autoInterval(startMs, endMs int64, samples int) int {
	if samples <= 0 {
		samples = DefaultSamples
	}
	iv := (endMs - startMs) / (1000 * int64(samples))
	if iv < 1 {
		return 1
	}
	return int(iv)
}

// QueryWindow returns one Series per requested identity, preserving
// request order, each holding time-ascending points within
// [startMs, endMs]. In bucketed mode values are per-bucket averages;
// unless disabled, the most recent sample strictly before the window
// is synthesised as a point exactly at startMs.
func (s *Store) QueryWindow(ctx context.Context, ids []types.Identity, startMs, endMs int64, opts QueryOptions) ([]Series, error) {
	if endMs < startMs {
		return nil, errors.WrapInvalid(errors.ErrInvalidQuery, "storage", "QueryWindow", "window end before start")
	}

	interval := opts.IntervalSeconds
	if !opts.Raw && interval <= 0 {
		interval = autoInterval(startMs, endMs, opts.Samples)
	}

	series := make([]Series, 0, len(ids))
	for _, id := range ids {
		var (
			points []Point
			err    error
		)
		if opts.Raw {
			points, err = s.queryRaw(ctx, id, startMs, endMs)
		} else {
			points, err = s.queryBucketed(ctx, id, startMs, endMs, interval)
		}
		if err != nil {
			return nil, err
		}

		if !opts.DisableLeftEdge {
			points, err = s.fillLeftEdge(ctx, id, startMs, points)
			if err != nil {
				return nil, err
			}
		}
		series = append(series, Series{Identity: id, Points: points})
	}
	return series, nil
}

func (s *Store) queryBucketed(ctx context.Context, id types.Identity, startMs, endMs int64, intervalSec int) ([]Point, error) {
	rows, err := s.pool.Query(ctx, `
SELECT time_bucket(make_interval(secs => $5), ts) AS bucket,
       AVG(`+valueCoalesce+`) AS value
FROM history
WHERE group_id = $1 AND node_id = $2 AND device_id = $3 AND metric_id = $4
  AND ts >= $6 AND ts <= $7
GROUP BY bucket
ORDER BY bucket ASC`,
		id.Group, id.Node, id.Device, id.Metric,
		intervalSec, timestamp.FromUnixMs(startMs), timestamp.FromUnixMs(endMs))
	if err != nil {
		return nil, errors.Wrap(err, "storage", "QueryWindow", "bucketed query")
	}
	defer rows.Close()

	points, err := scanPoints(rows)
	if err != nil {
		return nil, errors.Wrap(err, "storage", "QueryWindow", "bucketed scan")
	}
	// The first bucket's anchor can precede the window when the start
	// is not bucket-aligned; clamp so no point falls outside it.
	if len(points) > 0 && points[0].TS < startMs {
		points[0].TS = startMs
	}
	return points, nil
}

func (s *Store) queryRaw(ctx context.Context, id types.Identity, startMs, endMs int64) ([]Point, error) {
	rows, err := s.pool.Query(ctx, `
SELECT ts, `+valueCoalesce+` AS value
FROM history
WHERE group_id = $1 AND node_id = $2 AND device_id = $3 AND metric_id = $4
  AND ts >= $5 AND ts <= $6
ORDER BY ts ASC`,
		id.Group, id.Node, id.Device, id.Metric,
		timestamp.FromUnixMs(startMs), timestamp.FromUnixMs(endMs))
	if err != nil {
		return nil, errors.Wrap(err, "storage", "QueryWindow", "raw query")
	}
	defer rows.Close()

	points, err := scanPoints(rows)
	if err != nil {
		return nil, errors.Wrap(err, "storage", "QueryWindow", "raw scan")
	}
	return points, nil
}

func scanPoints(rows pgx.Rows) ([]Point, error) {
	var points []Point
	for rows.Next() {
		var (
			ts    time.Time
			value *float64
		)
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, err
		}
		if value == nil {
			continue
		}
		points = append(points, Point{TS: timestamp.ToUnixMs(ts), Value: *value})
	}
	return points, rows.Err()
}

// fillLeftEdge synthesises a point at exactly startMs from the most
// recent numeric sample strictly before the window, unless the series
// already has a point there.
func (s *Store) fillLeftEdge(ctx context.Context, id types.Identity, startMs int64, points []Point) ([]Point, error) {
	if len(points) > 0 && points[0].TS == startMs {
		return points, nil
	}

	var value float64
	err := s.pool.QueryRow(ctx, `
SELECT `+valueCoalesce+` AS value
FROM history
WHERE group_id = $1 AND node_id = $2 AND device_id = $3 AND metric_id = $4
  AND ts < $5 AND `+valueCoalesce+` IS NOT NULL
ORDER BY ts DESC
LIMIT 1`,
		id.Group, id.Node, id.Device, id.Metric, timestamp.FromUnixMs(startMs)).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return points, nil
		}
		return nil, errors.Wrap(err, "storage", "QueryWindow", "left-edge lookup")
	}

	return append([]Point{{TS: startMs, Value: value}}, points...), nil
}
