// Package alarm evaluates metric samples against user-defined rules
// and drives each rule's durable state machine.
//
// States are normal, pending, active, and acknowledged. A met
// condition moves normal to active directly, or to pending first when
// the rule carries a delay; the pending-to-active hop is a single-shot
// monotonic timer that later samples never reset. A cleared condition
// returns any non-normal state to normal. Acknowledgement is only
// legal from active.
//
// Every transition commits the state row and its history row in one
// storage transaction, then publishes on the alarmStateChange topic,
// and posts the webhook for entries into active and returns to normal.
// Webhook delivery is at most once: failures log a warning and are
// never retried.
//
// The engine is restart safe. Start reloads rules and states, and for
// every rule still pending computes the remaining delay from
// condition_met_at: overdue rules activate immediately, the rest get a
// timer for the remainder. Rules disabled while pending reset to
// normal.
package alarm
