package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/pkg/timestamp"
	"github.com/joyautomation/mantle/types"
)

// AlarmEventFilter narrows an alarm history query. Nil fields match
// everything.
type AlarmEventFilter struct {
	RuleID  *uuid.UUID
	StartMs *int64
	EndMs   *int64
}

const ruleColumns = "id, group_id, node_id, device_id, metric_id, name, rule_type, threshold, delay_sec, enabled, created_at, updated_at"

const stateColumns = "rule_id, state, last_value, condition_met_at, activated_at, last_notified_at, updated_at"

// CreateRule persists a rule together with its state row, which every
// rule has from birth, in a single transaction.
func (s *Store) CreateRule(ctx context.Context, rule types.AlarmRule) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.WrapTransient(err, "storage", "CreateRule", "begin")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
INSERT INTO alarm_rules (`+ruleColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rule.ID, rule.Group, rule.Node, rule.Device, rule.Metric,
		rule.Name, rule.Type, rule.Threshold, rule.DelaySeconds, rule.Enabled,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "storage", "CreateRule", "insert rule")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO alarm_state (rule_id, state, updated_at)
VALUES ($1, $2, $3)`,
		rule.ID, types.StateNormal, rule.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "storage", "CreateRule", "insert state")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.WrapTransient(err, "storage", "CreateRule", "commit")
	}
	return nil
}

// UpdateRule rewrites a rule's definition in place.
func (s *Store) UpdateRule(ctx context.Context, rule types.AlarmRule) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE alarm_rules
SET group_id = $2, node_id = $3, device_id = $4, metric_id = $5,
    name = $6, rule_type = $7, threshold = $8, delay_sec = $9,
    enabled = $10, updated_at = $11
WHERE id = $1`,
		rule.ID, rule.Group, rule.Node, rule.Device, rule.Metric,
		rule.Name, rule.Type, rule.Threshold, rule.DelaySeconds,
		rule.Enabled, rule.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "storage", "UpdateRule", "update")
	}
	if tag.RowsAffected() == 0 {
		return errors.WrapInvalid(errors.ErrRuleNotFound, "storage", "UpdateRule",
			fmt.Sprintf("rule %s", rule.ID))
	}
	return nil
}

// DeleteRule removes a rule; its state and history rows go with it via
// the schema's cascades.
func (s *Store) DeleteRule(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM alarm_rules WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "storage", "DeleteRule", "delete")
	}
	if tag.RowsAffected() == 0 {
		return errors.WrapInvalid(errors.ErrRuleNotFound, "storage", "DeleteRule",
			fmt.Sprintf("rule %s", id))
	}
	return nil
}

// Rules returns every rule, oldest first.
func (s *Store) Rules(ctx context.Context) ([]types.AlarmRule, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+ruleColumns+" FROM alarm_rules ORDER BY created_at, id")
	if err != nil {
		return nil, errors.Wrap(err, "storage", "Rules", "query")
	}
	defer rows.Close()

	rules := []types.AlarmRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "storage", "Rules", "scan")
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "storage", "Rules", "rows")
	}
	return rules, nil
}

// Rule returns a single rule by id.
func (s *Store) Rule(ctx context.Context, id uuid.UUID) (types.AlarmRule, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+ruleColumns+" FROM alarm_rules WHERE id = $1", id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.AlarmRule{}, errors.WrapInvalid(errors.ErrRuleNotFound, "storage", "Rule",
				fmt.Sprintf("rule %s", id))
		}
		return types.AlarmRule{}, errors.Wrap(err, "storage", "Rule", "scan")
	}
	return rule, nil
}

// RuleStates returns the state row of every rule.
func (s *Store) RuleStates(ctx context.Context) ([]types.AlarmStatus, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+stateColumns+" FROM alarm_state ORDER BY rule_id")
	if err != nil {
		return nil, errors.Wrap(err, "storage", "RuleStates", "query")
	}
	defer rows.Close()

	states := []types.AlarmStatus{}
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, errors.Wrap(err, "storage", "RuleStates", "scan")
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "storage", "RuleStates", "rows")
	}
	return states, nil
}

// RuleState returns the state row for one rule.
func (s *Store) RuleState(ctx context.Context, ruleID uuid.UUID) (types.AlarmStatus, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+stateColumns+" FROM alarm_state WHERE rule_id = $1", ruleID)
	st, err := scanState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.AlarmStatus{}, errors.WrapInvalid(errors.ErrRuleNotFound, "storage", "RuleState",
				fmt.Sprintf("rule %s", ruleID))
		}
		return types.AlarmStatus{}, errors.Wrap(err, "storage", "RuleState", "scan")
	}
	return st, nil
}

// UpdateRuleState overwrites a rule's durable state row.
func (s *Store) UpdateRuleState(ctx context.Context, st types.AlarmStatus) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE alarm_state
SET state = $2, last_value = $3, condition_met_at = $4,
    activated_at = $5, last_notified_at = $6, updated_at = $7
WHERE rule_id = $1`,
		st.RuleID, st.State, st.LastValue, st.ConditionMetAt,
		st.ActivatedAt, st.LastNotifiedAt, st.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "storage", "UpdateRuleState", "update")
	}
	if tag.RowsAffected() == 0 {
		return errors.WrapInvalid(errors.ErrRuleNotFound, "storage", "UpdateRuleState",
			fmt.Sprintf("rule %s", st.RuleID))
	}
	return nil
}

// CommitTransition persists a state change and its audit row in one
// transaction, so a crash can never separate the two. Returns the
// event with its assigned id.
func (s *Store) CommitTransition(ctx context.Context, st types.AlarmStatus, ev types.AlarmEvent) (types.AlarmEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ev, errors.WrapTransient(err, "storage", "CommitTransition", "begin")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE alarm_state
SET state = $2, last_value = $3, condition_met_at = $4,
    activated_at = $5, last_notified_at = $6, updated_at = $7
WHERE rule_id = $1`,
		st.RuleID, st.State, st.LastValue, st.ConditionMetAt,
		st.ActivatedAt, st.LastNotifiedAt, st.UpdatedAt)
	if err != nil {
		return ev, errors.Wrap(err, "storage", "CommitTransition", "state update")
	}
	if tag.RowsAffected() == 0 {
		return ev, errors.WrapInvalid(errors.ErrRuleNotFound, "storage", "CommitTransition",
			fmt.Sprintf("rule %s", st.RuleID))
	}

	err = tx.QueryRow(ctx, `
INSERT INTO alarm_history (rule_id, from_state, to_state, value, occurred_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`,
		ev.RuleID, ev.FromState, ev.ToState, ev.Value, ev.OccurredAt).Scan(&ev.ID)
	if err != nil {
		return ev, errors.Wrap(err, "storage", "CommitTransition", "history insert")
	}

	if err := tx.Commit(ctx); err != nil {
		return ev, errors.WrapTransient(err, "storage", "CommitTransition", "commit")
	}
	return ev, nil
}

// AppendAlarmEvent records one transition in the alarm history and
// returns the event with its assigned id.
func (s *Store) AppendAlarmEvent(ctx context.Context, ev types.AlarmEvent) (types.AlarmEvent, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO alarm_history (rule_id, from_state, to_state, value, occurred_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`,
		ev.RuleID, ev.FromState, ev.ToState, ev.Value, ev.OccurredAt).Scan(&ev.ID)
	if err != nil {
		return ev, errors.Wrap(err, "storage", "AppendAlarmEvent", "insert")
	}
	return ev, nil
}

// AlarmEvents returns transition history, newest first, narrowed by
// the filter.
func (s *Store) AlarmEvents(ctx context.Context, filter AlarmEventFilter) ([]types.AlarmEvent, error) {
	query := "SELECT id, rule_id, from_state, to_state, value, occurred_at FROM alarm_history"
	var (
		clauses []string
		args    []any
	)
	if filter.RuleID != nil {
		args = append(args, *filter.RuleID)
		clauses = append(clauses, fmt.Sprintf("rule_id = $%d", len(args)))
	}
	if filter.StartMs != nil {
		args = append(args, timestamp.FromUnixMs(*filter.StartMs))
		clauses = append(clauses, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if filter.EndMs != nil {
		args = append(args, timestamp.FromUnixMs(*filter.EndMs))
		clauses = append(clauses, fmt.Sprintf("occurred_at <= $%d", len(args)))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY occurred_at DESC, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "storage", "AlarmEvents", "query")
	}
	defer rows.Close()

	events := []types.AlarmEvent{}
	for rows.Next() {
		var ev types.AlarmEvent
		if err := rows.Scan(&ev.ID, &ev.RuleID, &ev.FromState, &ev.ToState, &ev.Value, &ev.OccurredAt); err != nil {
			return nil, errors.Wrap(err, "storage", "AlarmEvents", "scan")
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "storage", "AlarmEvents", "rows")
	}
	return events, nil
}

func scanRule(row pgx.Row) (types.AlarmRule, error) {
	var rule types.AlarmRule
	err := row.Scan(
		&rule.ID, &rule.Group, &rule.Node, &rule.Device, &rule.Metric,
		&rule.Name, &rule.Type, &rule.Threshold, &rule.DelaySeconds,
		&rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt)
	return rule, err
}

func scanState(row pgx.Row) (types.AlarmStatus, error) {
	var st types.AlarmStatus
	err := row.Scan(
		&st.RuleID, &st.State, &st.LastValue, &st.ConditionMetAt,
		&st.ActivatedAt, &st.LastNotifiedAt, &st.UpdatedAt)
	return st, err
}
