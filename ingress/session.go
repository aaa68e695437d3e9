package ingress

import (
	"context"
	"sync"
	"time"

	"github.com/joyautomation/mantle/sparkplug"
	"github.com/joyautomation/mantle/types"
)

// rebirthMetric is the Sparkplug command that asks an edge node to
// re-announce itself with a fresh NBIRTH.
const rebirthMetric = "Node Control/Rebirth"

// rebirthCooldown spaces rebirth requests per edge node. A publisher
// with a broken counter would otherwise trigger one request per frame.
const rebirthCooldown = 30 * time.Second

// seqResult classifies one frame's position in its node's session.
type seqResult int

const (
	seqOK seqResult = iota
	seqGap
	seqNoSession
)

func (r seqResult) String() string {
	switch r {
	case seqGap:
		return "sequence gap"
	case seqNoSession:
		return "no session"
	default:
		return "ok"
	}
}

// session is one edge node's live Sparkplug session. The seq counter
// is shared by the node and all of its devices, so there is exactly
// one session per group/node pair.
type session struct {
	lastSeq   uint64
	rebirthAt time.Time
}

// sessionTracker follows each edge node's seq counter. NBIRTH opens or
// resets the session and NDEATH closes it; every other frame in the
// session must carry the next counter value mod 256.
//
// observe must see frames in broker delivery order, so callers run it
// on the serial receive path, not inside the keyed pool where node and
// device lanes interleave.
type sessionTracker struct {
	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// observe advances the tracker for one frame and reports how the frame
// fits its session. rebirth is true when the caller should request a
// rebirth now; it is rate limited per node by rebirthCooldown.
//
// hasSeq is false when the payload omits the seq field, which encoders
// that skip zero values produce for seq 0. The expected counter still
// advances so such publishers stay in sync. After a discontinuity the
// tracker adopts the observed counter rather than flagging every
// following frame.
func (t *sessionTracker) observe(topic sparkplug.Topic, seq uint64, hasSeq bool) (result seqResult, rebirth bool) {
	key := topic.Group + "|" + topic.Node

	t.mu.Lock()
	defer t.mu.Unlock()

	switch topic.Type {
	case sparkplug.MessageNBirth:
		// Keep the rebirth clock across the reset so a node that
		// births and immediately gaps again stays rate limited.
		s := &session{lastSeq: seq}
		if prior, ok := t.sessions[key]; ok {
			s.rebirthAt = prior.rebirthAt
		}
		t.sessions[key] = s
		return seqOK, false
	case sparkplug.MessageNDeath:
		// Broker-published will, not part of the seq chain.
		delete(t.sessions, key)
		return seqOK, false
	}

	s, ok := t.sessions[key]
	if !ok {
		// Data before birth. Track from here so the stream is usable
		// even when the rebirth goes unanswered.
		s = &session{lastSeq: seq}
		t.sessions[key] = s
		return seqNoSession, t.allowRebirthLocked(s)
	}

	expected := (s.lastSeq + 1) % 256
	if !hasSeq {
		s.lastSeq = expected
		return seqOK, false
	}
	if seq != expected {
		s.lastSeq = seq
		return seqGap, t.allowRebirthLocked(s)
	}
	s.lastSeq = seq
	return seqOK, false
}

func (t *sessionTracker) allowRebirthLocked(s *session) bool {
	now := t.now()
	if !s.rebirthAt.IsZero() && now.Sub(s.rebirthAt) < rebirthCooldown {
		return false
	}
	s.rebirthAt = now
	return true
}

// requestRebirth publishes NCMD "Node Control/Rebirth" = true so the
// edge node restarts its session. It runs on its own goroutine because
// publishing from inside a paho message handler can deadlock the
// client.
func (i *Ingress) requestRebirth(group, node string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	id := types.Identity{Group: group, Node: node, Metric: rebirthMetric}
	if err := i.WriteMetric(ctx, id, "true"); err != nil {
		i.log.Warn("rebirth request failed", "group", group, "node", node, "error", err)
		return
	}
	i.metrics.recordRebirthRequest()
	i.log.Info("rebirth requested", "group", group, "node", node)
}
