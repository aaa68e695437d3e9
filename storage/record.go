package storage

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/pkg/timestamp"
	"github.com/joyautomation/mantle/sparkplug"
	"github.com/joyautomation/mantle/types"
)

// Sample is one metric sample ready for the history table. Type is the
// metric's declared Sparkplug type name and selects the value column.
type Sample struct {
	Identity types.Identity
	TS       int64
	Type     string
	Value    types.Value
}

// PropertySample is one property sample for the history_properties table.
type PropertySample struct {
	Identity   types.Identity
	PropertyID string
	TS         int64
	Type       string
	Value      types.Value
}

// IsUniqueViolation reports whether err is a PostgreSQL unique
// constraint violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// columnValues routes a value into exactly one of the four nullable
// history columns based on the classified kind. Values that cannot be
// represented in their routed column degrade: oversized integers keep
// numeric fidelity in the float column, anything unparseable lands in
// the string column.
func columnValues(kind types.ValueKind, v types.Value) (iv *int64, fv *float64, sv *string, bv *bool) {
	switch kind {
	case types.ValueInt:
		if i, ok := v.Int64(); ok {
			return &i, nil, nil, nil
		}
		if f, ok := v.Numeric(); ok {
			return nil, &f, nil, nil
		}
	case types.ValueFloat:
		if f, ok := v.Numeric(); ok {
			return nil, &f, nil, nil
		}
	case types.ValueBool:
		if b, ok := v.Bool(); ok {
			return nil, nil, nil, &b
		}
		if f, ok := v.Numeric(); ok {
			b := f != 0
			return nil, nil, nil, &b
		}
	}
	s := v.String()
	return nil, nil, &s, nil
}

// RecordSample inserts one history row. Null values are skipped: they
// update topology and alarms but never produce a row. Duplicate
// (identity, ts) inserts are swallowed as already-recorded payloads.
func (s *Store) RecordSample(ctx context.Context, sample Sample) error {
	if sample.Value.IsNull() {
		return nil
	}

	iv, fv, sv, bv := columnValues(sparkplug.KindForType(sample.Type), sample.Value)
	_, err := s.pool.Exec(ctx, `
INSERT INTO history (group_id, node_id, device_id, metric_id, ts, int_value, float_value, string_value, bool_value)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sample.Identity.Group, sample.Identity.Node, sample.Identity.Device, sample.Identity.Metric,
		timestamp.FromUnixMs(sample.TS), iv, fv, sv, bv)
	if err != nil {
		if IsUniqueViolation(err) {
			s.metrics.recordConflict()
			return nil
		}
		return errors.Wrap(err, "storage", "RecordSample", "history insert")
	}
	s.metrics.recordInsert()
	return nil
}

// RecordProperty inserts one history_properties row. Same routing and
// duplicate posture as RecordSample.
func (s *Store) RecordProperty(ctx context.Context, p PropertySample) error {
	if p.Value.IsNull() {
		return nil
	}

	iv, fv, sv, bv := columnValues(sparkplug.KindForType(p.Type), p.Value)
	_, err := s.pool.Exec(ctx, `
INSERT INTO history_properties (group_id, node_id, device_id, metric_id, property_id, ts, int_value, float_value, string_value, bool_value)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.Identity.Group, p.Identity.Node, p.Identity.Device, p.Identity.Metric,
		p.PropertyID, timestamp.FromUnixMs(p.TS), iv, fv, sv, bv)
	if err != nil {
		if IsUniqueViolation(err) {
			s.metrics.recordConflict()
			return nil
		}
		return errors.Wrap(err, "storage", "RecordProperty", "property history insert")
	}
	s.metrics.recordInsert()
	return nil
}

// UpsertProperties shallow-merges entries into the identity's JSONB
// document: incoming keys overwrite, absent keys survive. Idempotent.
func (s *Store) UpsertProperties(ctx context.Context, id types.Identity, entries types.PropertyMap) error {
	if len(entries) == 0 {
		return nil
	}
	doc, err := json.Marshal(entries)
	if err != nil {
		return errors.WrapInvalid(err, "storage", "UpsertProperties", "property encoding")
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO metric_properties (group_id, node_id, device_id, metric_id, properties, updated_at)
VALUES ($1, $2, $3, $4, $5::jsonb, now())
ON CONFLICT (group_id, node_id, device_id, metric_id)
DO UPDATE SET properties = metric_properties.properties || EXCLUDED.properties, updated_at = now()`,
		id.Group, id.Node, id.Device, id.Metric, string(doc))
	if err != nil {
		return errors.Wrap(err, "storage", "UpsertProperties", "property upsert")
	}
	return nil
}

// Properties loads the merged property document for one identity.
// Missing identities return an empty map.
func (s *Store) Properties(ctx context.Context, id types.Identity) (types.PropertyMap, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `
SELECT properties FROM metric_properties
WHERE group_id = $1 AND node_id = $2 AND device_id = $3 AND metric_id = $4`,
		id.Group, id.Node, id.Device, id.Metric).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.PropertyMap{}, nil
		}
		return nil, errors.Wrap(err, "storage", "Properties", "property lookup")
	}

	var m types.PropertyMap
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, errors.WrapInvalid(err, "storage", "Properties", "property decoding")
	}
	return m, nil
}
