package ingress

import (
	"context"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/types"
)

// DeleteNode removes a node and everything under it: topology, hot
// cache, history, hidden items, properties.
func (i *Ingress) DeleteNode(ctx context.Context, group, node string) error {
	i.deps.Topology.DeleteNode(group, node)
	return i.cascade(ctx, types.NodeScope(group, node))
}

// DeleteDevice removes a device and its metrics across every layer.
func (i *Ingress) DeleteDevice(ctx context.Context, group, node, device string) error {
	i.deps.Topology.DeleteDevice(group, node, device)
	return i.cascade(ctx, types.DeviceScope(group, node, device))
}

// DeleteMetric removes a single metric across every layer.
func (i *Ingress) DeleteMetric(ctx context.Context, id types.Identity) error {
	i.deps.Topology.DeleteMetric(id)
	return i.cascade(ctx, types.MetricScope(id))
}

// cascade runs the storage side of a delete after topology has been
// mutated. A hot-cache failure only warns: a stale cache entry
// refreshes on the next BIRTH. A history delete failure aborts; the
// earlier topology and cache mutations are not rolled back.
func (i *Ingress) cascade(ctx context.Context, sc types.Scope) error {
	i.metrics.recordDeleteCascade()

	if i.deps.Cache != nil {
		if _, err := i.deps.Cache.DeleteByScope(ctx, sc); err != nil {
			i.log.Warn("hot cache delete failed, entries refresh on next birth",
				"scope", sc.String(), "error", err)
		}
	}

	historyRows, err := i.deps.Store.DeleteHistory(ctx, sc)
	if err != nil {
		return errors.Wrap(err, "ingress", "cascade", "deleting history for "+sc.String())
	}
	hiddenRows, err := i.deps.Store.DeleteHiddenByScope(ctx, sc)
	if err != nil {
		return errors.Wrap(err, "ingress", "cascade", "deleting hidden items for "+sc.String())
	}
	propertyRows, err := i.deps.Store.DeleteProperties(ctx, sc)
	if err != nil {
		return errors.Wrap(err, "ingress", "cascade", "deleting properties for "+sc.String())
	}

	i.log.Info("delete cascade complete", "scope", sc.String(),
		"history_rows", historyRows, "hidden_rows", hiddenRows, "property_rows", propertyRows)
	return nil
}
