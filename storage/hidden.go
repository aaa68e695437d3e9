package storage

import (
	"context"
	"time"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/hidden"
	"github.com/joyautomation/mantle/pkg/timestamp"
	"github.com/joyautomation/mantle/types"
)

// HiddenItems returns every hidden marker, ordered by identity.
func (s *Store) HiddenItems(ctx context.Context) ([]hidden.Item, error) {
	rows, err := s.pool.Query(ctx, `
SELECT group_id, node_id, device_id, metric_id, hidden_at
FROM hidden_items
ORDER BY group_id, node_id, device_id, metric_id`)
	if err != nil {
		return nil, errors.Wrap(err, "storage", "HiddenItems", "query")
	}
	defer rows.Close()

	items := []hidden.Item{}
	for rows.Next() {
		var (
			item hidden.Item
			ts   time.Time
		)
		if err := rows.Scan(&item.Group, &item.Node, &item.Device, &item.Metric, &ts); err != nil {
			return nil, errors.Wrap(err, "storage", "HiddenItems", "scan")
		}
		item.HiddenAt = timestamp.ToUnixMs(ts)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "storage", "HiddenItems", "rows")
	}
	return items, nil
}

// HiddenSet loads every marker into a membership set for filtering.
func (s *Store) HiddenSet(ctx context.Context) (hidden.Set, error) {
	items, err := s.HiddenItems(ctx)
	if err != nil {
		return nil, err
	}
	return hidden.NewSet(items), nil
}

// HideItem records a hidden marker. Hiding an already-hidden item is a
// no-op.
func (s *Store) HideItem(ctx context.Context, item hidden.Item) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO hidden_items (group_id, node_id, device_id, metric_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (group_id, node_id, device_id, metric_id) DO NOTHING`,
		item.Group, item.Node, item.Device, item.Metric)
	if err != nil {
		return errors.Wrap(err, "storage", "HideItem", "insert")
	}
	return nil
}

// UnhideItem removes one exact marker. Cascaded descendants have no
// markers of their own, so unhiding a node reveals its whole subtree.
func (s *Store) UnhideItem(ctx context.Context, item hidden.Item) error {
	_, err := s.pool.Exec(ctx, `
DELETE FROM hidden_items
WHERE group_id = $1 AND node_id = $2 AND device_id = $3 AND metric_id = $4`,
		item.Group, item.Node, item.Device, item.Metric)
	if err != nil {
		return errors.Wrap(err, "storage", "UnhideItem", "delete")
	}
	return nil
}

// DeleteHiddenByScope drops every marker under the scope. Used by the
// delete cascade so markers never outlive the thing they hid.
func (s *Store) DeleteHiddenByScope(ctx context.Context, sc types.Scope) (int64, error) {
	where, args := scopeWhere(sc)
	tag, err := s.pool.Exec(ctx, "DELETE FROM hidden_items WHERE "+where, args...)
	if err != nil {
		return 0, errors.Wrap(err, "storage", "DeleteHiddenByScope", "delete")
	}
	return tag.RowsAffected(), nil
}
