package storage

import (
	"context"
	"sort"
	"time"

	"github.com/joyautomation/mantle/errors"
)

// MonthUsage is the approximate row count for one calendar month of
// history data.
type MonthUsage struct {
	Year  int   `json:"year"`
	Month int   `json:"month"`
	Rows  int64 `json:"rows"`
}

// UsageReport summarises how much history has accumulated.
type UsageReport struct {
	TotalRows int64        `json:"totalRows"`
	PerMonth  []MonthUsage `json:"perMonth"`
}

// TableStats is the on-disk footprint of one table, chunks included
// for hypertables.
type TableStats struct {
	Table      string `json:"table"`
	TotalBytes int64  `json:"totalBytes"`
}

// StorageStats reports per-table sizes and the history compression
// ratio (uncompressed bytes over compressed, 0 when compression has
// not run).
type StorageStats struct {
	Tables           []TableStats `json:"tables"`
	CompressionRatio float64      `json:"compressionRatio"`
}

// Usage reports the approximate history row count and a per-month
// breakdown. Counts come from planner estimates, not table scans; the
// monthly breakdown is empty when the TimescaleDB catalog views are
// unavailable.
func (s *Store) Usage(ctx context.Context) (UsageReport, error) {
	report := UsageReport{PerMonth: []MonthUsage{}}

	total, err := s.approxRows(ctx, "history")
	if err != nil {
		return report, errors.Wrap(err, "storage", "Usage", "row count")
	}
	report.TotalRows = total

	perMonth, err := s.monthlyRows(ctx)
	if err != nil {
		// Plain PostgreSQL has no chunk catalog; the total still stands.
		s.log.Debug("monthly usage unavailable", "error", err)
		return report, nil
	}
	report.PerMonth = perMonth
	return report, nil
}

// approxRows prefers TimescaleDB's approximate_row_count and falls
// back to count(*) when the extension is absent.
func (s *Store) approxRows(ctx context.Context, table string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT approximate_row_count($1::regclass)", table).Scan(&count)
	if err == nil {
		return count, nil
	}
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// monthlyRows folds per-chunk planner estimates into calendar months
// keyed by each chunk's range start.
func (s *Store) monthlyRows(ctx context.Context) ([]MonthUsage, error) {
	rows, err := s.pool.Query(ctx, `
SELECT c.range_start, cl.reltuples::bigint
FROM timescaledb_information.chunks c
JOIN pg_class cl ON cl.relname = c.chunk_name
WHERE c.hypertable_name = 'history'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type monthKey struct {
		year  int
		month int
	}
	byMonth := map[monthKey]int64{}
	for rows.Next() {
		var (
			rangeStart time.Time
			tuples     int64
		)
		if err := rows.Scan(&rangeStart, &tuples); err != nil {
			return nil, err
		}
		if tuples < 0 {
			// reltuples is -1 before the first analyze.
			tuples = 0
		}
		key := monthKey{year: rangeStart.UTC().Year(), month: int(rangeStart.UTC().Month())}
		byMonth[key] += tuples
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	perMonth := make([]MonthUsage, 0, len(byMonth))
	for key, count := range byMonth {
		perMonth = append(perMonth, MonthUsage{Year: key.year, Month: key.month, Rows: count})
	}
	sort.Slice(perMonth, func(i, j int) bool {
		if perMonth[i].Year != perMonth[j].Year {
			return perMonth[i].Year > perMonth[j].Year
		}
		return perMonth[i].Month > perMonth[j].Month
	})
	return perMonth, nil
}

// statsTables is every table the stats report covers.
var statsTables = []string{
	"history",
	"history_properties",
	"metric_properties",
	"hidden_items",
	"alarm_rules",
	"alarm_state",
	"alarm_history",
}

// Stats reports per-table disk usage and the history compression
// ratio.
func (s *Store) Stats(ctx context.Context) (StorageStats, error) {
	stats := StorageStats{Tables: make([]TableStats, 0, len(statsTables))}
	for _, table := range statsTables {
		size, err := s.tableSize(ctx, table)
		if err != nil {
			return stats, errors.Wrap(err, "storage", "Stats", "size of "+table)
		}
		stats.Tables = append(stats.Tables, TableStats{Table: table, TotalBytes: size})
	}

	// Compression stats only exist once the policy has compressed at
	// least one chunk; treat every failure mode as "no compression yet".
	var before, after *int64
	err := s.pool.QueryRow(ctx, `
SELECT sum(before_compression_total_bytes)::bigint,
       sum(after_compression_total_bytes)::bigint
FROM hypertable_compression_stats('history')`).Scan(&before, &after)
	if err == nil && before != nil && after != nil && *after > 0 {
		stats.CompressionRatio = float64(*before) / float64(*after)
	}
	return stats, nil
}

// tableSize prefers hypertable_size, which includes chunk storage, and
// falls back to pg_total_relation_size for regular tables.
func (s *Store) tableSize(ctx context.Context, table string) (int64, error) {
	var size int64
	err := s.pool.QueryRow(ctx, "SELECT hypertable_size($1::regclass)", table).Scan(&size)
	if err == nil {
		return size, nil
	}
	if err := s.pool.QueryRow(ctx, "SELECT pg_total_relation_size($1::regclass)", table).Scan(&size); err != nil {
		return 0, err
	}
	return size, nil
}
