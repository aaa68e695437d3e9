package graphql

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/joyautomation/mantle/storage"
	"github.com/joyautomation/mantle/topology"
	"github.com/joyautomation/mantle/types"
)

// Response models. Field names follow the schema through their JSON
// tags; the executor serialises resolver results and projects the
// client's selection over the serialised form.

type groupModel struct {
	ID    string      `json:"id"`
	Nodes []nodeModel `json:"nodes"`
}

type nodeModel struct {
	ID      string        `json:"id"`
	Metrics []metricModel `json:"metrics"`
	Devices []deviceModel `json:"devices"`
}

type deviceModel struct {
	ID      string        `json:"id"`
	Metrics []metricModel `json:"metrics"`
}

type metricModel struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Value       *string         `json:"value"`
	Timestamp   int64           `json:"timestamp"`
	ScanRate    int64           `json:"scanRate"`
	TemplateRef string          `json:"templateRef,omitempty"`
	Properties  []propertyModel `json:"properties"`
}

type propertyModel struct {
	Name      string  `json:"name"`
	Value     *string `json:"value"`
	Type      string  `json:"type"`
	UpdatedAt int64   `json:"updatedAt"`
}

type historyModel struct {
	Group  string          `json:"group"`
	Node   string          `json:"node"`
	Device string          `json:"device"`
	Metric string          `json:"metric"`
	Points []storage.Point `json:"points"`
}

type alarmRuleModel struct {
	ID           string   `json:"id"`
	Group        string   `json:"group"`
	Node         string   `json:"node"`
	Device       string   `json:"device"`
	Metric       string   `json:"metric"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Threshold    *float64 `json:"threshold"`
	DelaySeconds int      `json:"delaySeconds"`
	Enabled      bool     `json:"enabled"`
	CreatedAt    int64    `json:"createdAt"`
	UpdatedAt    int64    `json:"updatedAt"`
}

type alarmStateModel struct {
	RuleID         string `json:"ruleId"`
	State          string `json:"state"`
	LastValue      string `json:"lastValue"`
	ConditionMetAt *int64 `json:"conditionMetAt"`
	ActivatedAt    *int64 `json:"activatedAt"`
	LastNotifiedAt *int64 `json:"lastNotifiedAt"`
	UpdatedAt      int64  `json:"updatedAt"`
}

type alarmEventModel struct {
	ID         string `json:"id"`
	RuleID     string `json:"ruleId"`
	FromState  string `json:"fromState"`
	ToState    string `json:"toState"`
	Value      string `json:"value"`
	OccurredAt int64  `json:"occurredAt"`
}

type transitionModel struct {
	EventID   string `json:"eventId"`
	RuleID    string `json:"ruleId"`
	RuleName  string `json:"ruleName"`
	Group     string `json:"group"`
	Node      string `json:"node"`
	Device    string `json:"device"`
	Metric    string `json:"metric"`
	FromState string `json:"fromState"`
	ToState   string `json:"toState"`
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

func groupModels(groups []topology.Group) []groupModel {
	out := make([]groupModel, 0, len(groups))
	for _, g := range groups {
		gm := groupModel{ID: g.ID, Nodes: make([]nodeModel, 0, len(g.Nodes))}
		for _, n := range g.Nodes {
			nm := nodeModel{
				ID:      n.ID,
				Metrics: metricModels(n.Metrics),
				Devices: make([]deviceModel, 0, len(n.Devices)),
			}
			for _, d := range n.Devices {
				nm.Devices = append(nm.Devices, deviceModel{ID: d.ID, Metrics: metricModels(d.Metrics)})
			}
			gm.Nodes = append(gm.Nodes, nm)
		}
		out = append(out, gm)
	}
	return out
}

func metricModels(metrics []topology.Metric) []metricModel {
	out := make([]metricModel, 0, len(metrics))
	for _, m := range metrics {
		mm := metricModel{
			Name:        m.Name,
			Type:        m.Type,
			Timestamp:   m.Timestamp,
			ScanRate:    m.ScanRate,
			TemplateRef: m.TemplateRef,
			Properties:  propertyModels(m.Properties),
		}
		if !m.Value.IsNull() {
			v := m.Value.String()
			mm.Value = &v
		}
		out = append(out, mm)
	}
	return out
}

func propertyModels(props types.PropertyMap) []propertyModel {
	out := make([]propertyModel, 0, len(props))
	for name, entry := range props {
		pm := propertyModel{Name: name, Type: entry.Type, UpdatedAt: entry.UpdatedAt}
		if entry.Value != nil {
			v := stringifyProperty(entry.Value)
			pm.Value = &v
		}
		out = append(out, pm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// stringifyProperty renders a property value for the API. Strings pass
// through; everything else takes its JSON form.
func stringifyProperty(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func historyModels(series []storage.Series) []historyModel {
	out := make([]historyModel, 0, len(series))
	for _, s := range series {
		points := s.Points
		if points == nil {
			points = []storage.Point{}
		}
		out = append(out, historyModel{
			Group:  s.Identity.Group,
			Node:   s.Identity.Node,
			Device: s.Identity.Device,
			Metric: s.Identity.Metric,
			Points: points,
		})
	}
	return out
}

func alarmRuleModelFrom(r types.AlarmRule) alarmRuleModel {
	return alarmRuleModel{
		ID:           r.ID.String(),
		Group:        r.Group,
		Node:         r.Node,
		Device:       r.Device,
		Metric:       r.Metric,
		Name:         r.Name,
		Type:         string(r.Type),
		Threshold:    r.Threshold,
		DelaySeconds: r.DelaySeconds,
		Enabled:      r.Enabled,
		CreatedAt:    r.CreatedAt.UnixMilli(),
		UpdatedAt:    r.UpdatedAt.UnixMilli(),
	}
}

func alarmRuleModels(rules []types.AlarmRule) []alarmRuleModel {
	out := make([]alarmRuleModel, 0, len(rules))
	for _, r := range rules {
		out = append(out, alarmRuleModelFrom(r))
	}
	return out
}

func alarmStateModelFrom(st types.AlarmStatus) alarmStateModel {
	return alarmStateModel{
		RuleID:         st.RuleID.String(),
		State:          string(st.State),
		LastValue:      st.LastValue,
		ConditionMetAt: msPtr(st.ConditionMetAt),
		ActivatedAt:    msPtr(st.ActivatedAt),
		LastNotifiedAt: msPtr(st.LastNotifiedAt),
		UpdatedAt:      st.UpdatedAt.UnixMilli(),
	}
}

func alarmStateModels(states []types.AlarmStatus) []alarmStateModel {
	out := make([]alarmStateModel, 0, len(states))
	for _, st := range states {
		out = append(out, alarmStateModelFrom(st))
	}
	return out
}

func alarmEventModels(events []types.AlarmEvent) []alarmEventModel {
	out := make([]alarmEventModel, 0, len(events))
	for _, ev := range events {
		out = append(out, alarmEventModel{
			ID:         fmt.Sprintf("%d", ev.ID),
			RuleID:     ev.RuleID.String(),
			FromState:  string(ev.FromState),
			ToState:    string(ev.ToState),
			Value:      ev.Value,
			OccurredAt: ev.OccurredAt.UnixMilli(),
		})
	}
	return out
}

func transitionModelFrom(tr types.AlarmTransition) transitionModel {
	return transitionModel{
		EventID:   tr.EventID,
		RuleID:    tr.RuleID,
		RuleName:  tr.RuleName,
		Group:     tr.Identity.Group,
		Node:      tr.Identity.Node,
		Device:    tr.Identity.Device,
		Metric:    tr.Identity.Metric,
		FromState: string(tr.FromState),
		ToState:   string(tr.ToState),
		Value:     tr.Value,
		Timestamp: tr.Timestamp,
	}
}

func msPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
