package storage

import (
	"context"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/types"
)

// scopeWhere builds the identity-prefix WHERE clause for a scope,
// placeholders starting at $1. Node scope matches every row under the
// node, device scope narrows by device, metric scope pins all four
// columns.
func scopeWhere(sc types.Scope) (string, []any) {
	switch sc.Level {
	case types.ScopeDevice:
		return "group_id = $1 AND node_id = $2 AND device_id = $3",
			[]any{sc.Group, sc.Node, sc.Device}
	case types.ScopeMetric:
		return "group_id = $1 AND node_id = $2 AND device_id = $3 AND metric_id = $4",
			[]any{sc.Group, sc.Node, sc.Device, sc.Metric}
	default:
		return "group_id = $1 AND node_id = $2", []any{sc.Group, sc.Node}
	}
}

// DeleteHistory removes all history and property-history rows under
// the scope. Property rows go first so a failure never leaves
// properties that outlive their samples. Returns total rows removed.
func (s *Store) DeleteHistory(ctx context.Context, sc types.Scope) (int64, error) {
	where, args := scopeWhere(sc)

	propTag, err := s.pool.Exec(ctx, "DELETE FROM history_properties WHERE "+where, args...)
	if err != nil {
		return 0, errors.Wrap(err, "storage", "DeleteHistory", "property history delete")
	}
	histTag, err := s.pool.Exec(ctx, "DELETE FROM history WHERE "+where, args...)
	if err != nil {
		return propTag.RowsAffected(), errors.Wrap(err, "storage", "DeleteHistory", "history delete")
	}

	deleted := propTag.RowsAffected() + histTag.RowsAffected()
	s.metrics.recordDeleted(deleted)
	s.log.Info("history deleted", "scope", sc.String(), "rows", deleted)
	return deleted, nil
}

// DeleteProperties removes stored metric property documents under the
// scope.
func (s *Store) DeleteProperties(ctx context.Context, sc types.Scope) (int64, error) {
	where, args := scopeWhere(sc)
	tag, err := s.pool.Exec(ctx, "DELETE FROM metric_properties WHERE "+where, args...)
	if err != nil {
		return 0, errors.Wrap(err, "storage", "DeleteProperties", "delete")
	}
	s.metrics.recordDeleted(tag.RowsAffected())
	return tag.RowsAffected(), nil
}
