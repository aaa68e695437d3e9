package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/hidden"
	"github.com/joyautomation/mantle/storage"
	"github.com/joyautomation/mantle/topology"
	"github.com/joyautomation/mantle/types"
)

// Topology is the in-memory tree the gateway reads. *topology.Host
// implements it.
type Topology interface {
	Snapshot() []topology.Group
	Templates() []topology.TemplateDefinition
}

// Historian is the storage surface behind history, usage, and
// visibility fields. *storage.Store implements it.
type Historian interface {
	QueryWindow(ctx context.Context, ids []types.Identity, startMs, endMs int64, opts storage.QueryOptions) ([]storage.Series, error)
	HiddenItems(ctx context.Context) ([]hidden.Item, error)
	HiddenSet(ctx context.Context) (hidden.Set, error)
	HideItem(ctx context.Context, item hidden.Item) error
	UnhideItem(ctx context.Context, item hidden.Item) error
	Usage(ctx context.Context) (storage.UsageReport, error)
	Stats(ctx context.Context) (storage.StorageStats, error)
}

// Alarms is the rule engine surface. *alarm.Engine implements it.
type Alarms interface {
	CreateRule(ctx context.Context, rule types.AlarmRule) (types.AlarmRule, error)
	UpdateRule(ctx context.Context, rule types.AlarmRule) (types.AlarmRule, error)
	DeleteRule(ctx context.Context, id uuid.UUID) error
	Acknowledge(ctx context.Context, id uuid.UUID) (types.AlarmStatus, error)
	Rules() []types.AlarmRule
	Rule(id uuid.UUID) (types.AlarmRule, bool)
	States() []types.AlarmStatus
	History(ctx context.Context, filter storage.AlarmEventFilter) ([]types.AlarmEvent, error)
}

// Commander is the write-side ingress surface: Sparkplug commands and
// the delete cascade. *ingress.Ingress implements it.
type Commander interface {
	WriteMetric(ctx context.Context, id types.Identity, value string) error
	DeleteNode(ctx context.Context, group, node string) error
	DeleteDevice(ctx context.Context, group, node, device string) error
	DeleteMetric(ctx context.Context, id types.Identity) error
}

// Resolver dispatches top-level schema fields onto the domain
// components.
type Resolver struct {
	topo     Topology
	store    Historian
	alarms   Alarms
	commands Commander
	log      *slog.Logger
}

// NewResolver wires the resolver to its backends.
func NewResolver(topo Topology, store Historian, alarms Alarms, commands Commander, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{topo: topo, store: store, alarms: alarms, commands: commands, log: log}
}

func (r *Resolver) resolveQuery(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "groups":
		snapshot := r.topo.Snapshot()
		if include, _ := argBool(args, "includeHidden"); !include {
			set, err := r.store.HiddenSet(ctx)
			if err != nil {
				return nil, err
			}
			snapshot = hidden.Filter(snapshot, set)
		}
		return groupModels(snapshot), nil

	case "hiddenItems":
		return r.store.HiddenItems(ctx)

	case "templateDefinitions":
		return r.topo.Templates(), nil

	case "history":
		return r.resolveHistory(ctx, args)

	case "usage":
		return r.store.Usage(ctx)

	case "storageStats":
		return r.store.Stats(ctx)

	case "alarmRules":
		return alarmRuleModels(r.alarms.Rules()), nil

	case "alarmStates":
		return alarmStateModels(r.alarms.States()), nil

	case "alarmHistory":
		filter := storage.AlarmEventFilter{}
		if raw, ok := args["ruleId"]; ok && raw != nil {
			id, err := argUUID(args, "ruleId")
			if err != nil {
				return nil, err
			}
			filter.RuleID = &id
		}
		if v, ok := argInt64(args, "start"); ok {
			filter.StartMs = &v
		}
		if v, ok := argInt64(args, "end"); ok {
			filter.EndMs = &v
		}
		events, err := r.alarms.History(ctx, filter)
		if err != nil {
			return nil, err
		}
		return alarmEventModels(events), nil

	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidQuery, "graphql", "resolveQuery",
			fmt.Sprintf("unhandled field %q", name))
	}
}

func (r *Resolver) resolveHistory(ctx context.Context, args map[string]any) (any, error) {
	ids, err := identitiesArg(args["metrics"])
	if err != nil {
		return nil, err
	}
	start, ok := argInt64(args, "start")
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidQuery, "graphql", "history", "start is required")
	}
	end, ok := argInt64(args, "end")
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidQuery, "graphql", "history", "end is required")
	}

	opts := storage.QueryOptions{}
	if v, ok := argInt(args, "interval"); ok {
		opts.IntervalSeconds = v
	}
	if v, ok := argInt(args, "samples"); ok {
		opts.Samples = v
	}
	if v, ok := argBool(args, "raw"); ok {
		opts.Raw = v
	}

	series, err := r.store.QueryWindow(ctx, ids, start, end, opts)
	if err != nil {
		return nil, err
	}
	return historyModels(series), nil
}

func (r *Resolver) resolveMutation(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "writeMetric":
		id := identityArgs(args)
		if err := r.commands.WriteMetric(ctx, id, argString(args, "value")); err != nil {
			return nil, err
		}
		return true, nil

	case "hideNode":
		return r.hide(ctx, hidden.Item{Group: argString(args, "group"), Node: argString(args, "node")})
	case "unhideNode":
		return r.unhide(ctx, hidden.Item{Group: argString(args, "group"), Node: argString(args, "node")})
	case "deleteNode":
		if err := r.commands.DeleteNode(ctx, argString(args, "group"), argString(args, "node")); err != nil {
			return nil, err
		}
		return true, nil

	case "hideDevice":
		return r.hide(ctx, hidden.Item{
			Group: argString(args, "group"), Node: argString(args, "node"), Device: argString(args, "device"),
		})
	case "unhideDevice":
		return r.unhide(ctx, hidden.Item{
			Group: argString(args, "group"), Node: argString(args, "node"), Device: argString(args, "device"),
		})
	case "deleteDevice":
		err := r.commands.DeleteDevice(ctx,
			argString(args, "group"), argString(args, "node"), argString(args, "device"))
		if err != nil {
			return nil, err
		}
		return true, nil

	case "hideMetric":
		id := identityArgs(args)
		if err := id.Validate(); err != nil {
			return nil, err
		}
		return r.hide(ctx, hidden.Item{Group: id.Group, Node: id.Node, Device: id.Device, Metric: id.Metric})
	case "unhideMetric":
		id := identityArgs(args)
		if err := id.Validate(); err != nil {
			return nil, err
		}
		return r.unhide(ctx, hidden.Item{Group: id.Group, Node: id.Node, Device: id.Device, Metric: id.Metric})
	case "deleteMetric":
		id := identityArgs(args)
		if err := id.Validate(); err != nil {
			return nil, err
		}
		if err := r.commands.DeleteMetric(ctx, id); err != nil {
			return nil, err
		}
		return true, nil

	case "createAlarmRule":
		rule, err := alarmRuleInput(args["input"])
		if err != nil {
			return nil, err
		}
		created, err := r.alarms.CreateRule(ctx, rule)
		if err != nil {
			return nil, err
		}
		return alarmRuleModelFrom(created), nil

	case "updateAlarmRule":
		id, err := argUUID(args, "id")
		if err != nil {
			return nil, err
		}
		rule, err := alarmRuleInput(args["input"])
		if err != nil {
			return nil, err
		}
		rule.ID = id
		updated, err := r.alarms.UpdateRule(ctx, rule)
		if err != nil {
			return nil, err
		}
		return alarmRuleModelFrom(updated), nil

	case "deleteAlarmRule":
		id, err := argUUID(args, "id")
		if err != nil {
			return nil, err
		}
		if err := r.alarms.DeleteRule(ctx, id); err != nil {
			return nil, err
		}
		return true, nil

	case "setAlarmRuleEnabled":
		id, err := argUUID(args, "id")
		if err != nil {
			return nil, err
		}
		rule, ok := r.alarms.Rule(id)
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrRuleNotFound, "graphql", "setAlarmRuleEnabled", id.String())
		}
		enabled, _ := argBool(args, "enabled")
		rule.Enabled = enabled
		updated, err := r.alarms.UpdateRule(ctx, rule)
		if err != nil {
			return nil, err
		}
		return alarmRuleModelFrom(updated), nil

	case "acknowledgeAlarm":
		id, err := argUUID(args, "ruleId")
		if err != nil {
			return nil, err
		}
		st, err := r.alarms.Acknowledge(ctx, id)
		if err != nil {
			return nil, err
		}
		return alarmStateModelFrom(st), nil

	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidQuery, "graphql", "resolveMutation",
			fmt.Sprintf("unhandled field %q", name))
	}
}

// resolveSubscription maps a subscription field to its pub/sub topic
// and the per-event model conversion.
func (r *Resolver) resolveSubscription(name string) (string, func(event any) (any, bool), error) {
	switch name {
	case "metricUpdate":
		return types.TopicMetricUpdate, func(event any) (any, bool) {
			update, ok := event.(types.MetricUpdate)
			return update, ok
		}, nil
	case "alarmStateChange":
		return types.TopicAlarmStateChange, func(event any) (any, bool) {
			tr, ok := event.(types.AlarmTransition)
			if !ok {
				return nil, false
			}
			return transitionModelFrom(tr), true
		}, nil
	default:
		return "", nil, errors.WrapInvalid(errors.ErrInvalidQuery, "graphql", "resolveSubscription",
			fmt.Sprintf("unhandled field %q", name))
	}
}

func (r *Resolver) hide(ctx context.Context, item hidden.Item) (any, error) {
	if err := r.store.HideItem(ctx, item); err != nil {
		return nil, err
	}
	return true, nil
}

func (r *Resolver) unhide(ctx context.Context, item hidden.Item) (any, error) {
	if err := r.store.UnhideItem(ctx, item); err != nil {
		return nil, err
	}
	return true, nil
}

// Argument helpers. Values arrive as the JSON-decoded forms the
// validator produced: string, bool, json.Number for numeric variables,
// int64/float64 for literals, []any and map[string]any for composites.

func argString(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func argBool(args map[string]any, name string) (bool, bool) {
	b, ok := args[name].(bool)
	return b, ok
}

func argInt(args map[string]any, name string) (int, bool) {
	v, ok := argInt64(args, name)
	return int(v), ok
}

func argInt64(args map[string]any, name string) (int64, bool) {
	return toInt64(args[name])
}

func argUUID(args map[string]any, name string) (uuid.UUID, error) {
	raw := argString(args, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.WrapInvalid(err, "graphql", "argUUID",
			fmt.Sprintf("%s is not a rule id", name))
	}
	return id, nil
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

// identityArgs builds an identity from flat group/node/device/metric
// arguments.
func identityArgs(args map[string]any) types.Identity {
	return types.Identity{
		Group:  argString(args, "group"),
		Node:   argString(args, "node"),
		Device: argString(args, "device"),
		Metric: argString(args, "metric"),
	}
}

// identitiesArg converts the metrics selector list of the history query.
func identitiesArg(raw any) ([]types.Identity, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidQuery, "graphql", "history", "metrics must be a list")
	}
	ids := make([]types.Identity, 0, len(list))
	for _, entry := range list {
		fields, ok := entry.(map[string]any)
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrInvalidQuery, "graphql", "history", "malformed metric selector")
		}
		id := identityArgs(fields)
		if err := id.Validate(); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// alarmRuleInput converts the AlarmRuleInput object. Enabled defaults
// to true when omitted; full validation happens in the engine.
func alarmRuleInput(raw any) (types.AlarmRule, error) {
	fields, ok := raw.(map[string]any)
	if !ok {
		return types.AlarmRule{}, errors.WrapInvalid(errors.ErrInvalidQuery, "graphql", "alarmRuleInput",
			"input must be an object")
	}

	rule := types.AlarmRule{
		Identity: identityArgs(fields),
		Name:     argString(fields, "name"),
		Type:     types.RuleType(argString(fields, "type")),
		Enabled:  true,
	}
	if f, ok := toFloat64(fields["threshold"]); ok {
		rule.Threshold = &f
	}
	if v, ok := argInt(fields, "delaySeconds"); ok {
		rule.DelaySeconds = v
	}
	if b, ok := argBool(fields, "enabled"); ok {
		rule.Enabled = b
	}
	return rule, nil
}
