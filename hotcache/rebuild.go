package hotcache

import (
	"context"
	"encoding/json"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/topology"
	"github.com/joyautomation/mantle/types"
)

// scanBatch is the SCAN page size used by Rebuild and DeleteByScope.
const scanBatch = 200

// Rebuild reads every cached record and folds it into a fresh topology
// projection. Keys that do not decode as identities and records that do
// not decode as metric records are logged and skipped.
func (c *Cache) Rebuild(ctx context.Context) (*topology.Host, error) {
	if !c.Connected() {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "hotcache", "Rebuild", "cache not connected")
	}

	type target struct {
		group, node, device string
	}
	batches := make(map[target][]topology.MetricSample)

	iter := c.publisher.Scan(ctx, 0, "*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id, err := types.ParseCacheKey(key)
		if err != nil {
			c.log.Warn("skipping unparseable cache key", "key", key)
			continue
		}

		raw, err := c.publisher.Get(ctx, key).Result()
		if err != nil {
			c.log.Warn("skipping unreadable cache entry", "key", key, "error", err)
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			c.log.Warn("skipping undecodable cache entry", "key", key, "error", err)
			continue
		}

		t := target{group: id.Group, node: id.Node, device: id.Device}
		batches[t] = append(batches[t], topology.MetricSample{
			Name:      id.Metric,
			Type:      rec.Type,
			Value:     rec.Value,
			Timestamp: rec.Timestamp,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, errors.WrapTransient(err, "hotcache", "Rebuild", "key scan")
	}

	host := topology.NewHost()
	for t, samples := range batches {
		if t.device == "" {
			host.ApplyNodeBirth(t.group, t.node, samples)
		} else {
			host.ApplyDeviceBirth(t.group, t.node, t.device, samples)
		}
	}
	return host, nil
}

// DeleteByScope removes every cached entry whose identity falls under
// the scope. Part of the delete cascade; a disconnected cache deletes
// nothing and reports no error, matching the cascade's tolerance for a
// stale cache.
func (c *Cache) DeleteByScope(ctx context.Context, sc types.Scope) (int, error) {
	if !c.Connected() {
		return 0, nil
	}

	var keys []string
	iter := c.publisher.Scan(ctx, 0, "*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id, err := types.ParseCacheKey(key)
		if err != nil {
			continue
		}
		if sc.Matches(id) {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return 0, errors.WrapTransient(err, "hotcache", "DeleteByScope", "key scan")
	}

	deleted := 0
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		n, err := c.publisher.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return deleted, errors.WrapTransient(err, "hotcache", "DeleteByScope", "DEL")
		}
		deleted += int(n)
	}
	return deleted, nil
}
