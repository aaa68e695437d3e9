package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/health"
)

// callLog records lifecycle calls across components so tests can
// assert ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) record(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeComponent struct {
	name     string
	log      *callLog
	initErr  error
	startErr error
	stopErr  error
	status   health.Status
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Initialize() error {
	f.log.record("init " + f.name)
	return f.initErr
}

func (f *fakeComponent) Start(context.Context) error {
	f.log.record("start " + f.name)
	return f.startErr
}

func (f *fakeComponent) Stop(time.Duration) error {
	f.log.record("stop " + f.name)
	return f.stopErr
}

func (f *fakeComponent) Health() health.Status {
	if f.status.Component != "" {
		return f.status
	}
	return health.NewHealthy(f.name, "ok")
}

type fakeSource struct {
	status health.Status
}

func (f *fakeSource) Health() health.Status { return f.status }

func newTestGroup(t *testing.T) (*Group, *callLog) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGroup("mantle", log), &callLog{}
}

func TestGroup_StartOrderStopReverse(t *testing.T) {
	g, log := newTestGroup(t)
	g.Add(
		&fakeComponent{name: "a", log: log},
		&fakeComponent{name: "b", log: log},
		&fakeComponent{name: "c", log: log},
	)

	require.NoError(t, g.Initialize())
	require.NoError(t, g.Start(context.Background()))
	require.NoError(t, g.Stop(time.Second))

	assert.Equal(t, []string{
		"init a", "init b", "init c",
		"start a", "start b", "start c",
		"stop c", "stop b", "stop a",
	}, log.snapshot())
}

func TestGroup_StartRequiresInitialize(t *testing.T) {
	g, log := newTestGroup(t)
	g.Add(&fakeComponent{name: "a", log: log})

	err := g.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Empty(t, log.snapshot())
}

func TestGroup_DoubleStartRejected(t *testing.T) {
	g, log := newTestGroup(t)
	g.Add(&fakeComponent{name: "a", log: log})

	require.NoError(t, g.Initialize())
	require.NoError(t, g.Start(context.Background()))

	err := g.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

func TestGroup_InitializeFailureAborts(t *testing.T) {
	g, log := newTestGroup(t)
	g.Add(
		&fakeComponent{name: "a", log: log},
		&fakeComponent{name: "b", log: log, initErr: fmt.Errorf("boom")},
		&fakeComponent{name: "c", log: log},
	)

	err := g.Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b")
	assert.Equal(t, []string{"init a", "init b"}, log.snapshot())
}

func TestGroup_StartFailureLeavesStartedStoppable(t *testing.T) {
	g, log := newTestGroup(t)
	g.Add(
		&fakeComponent{name: "a", log: log},
		&fakeComponent{name: "b", log: log, startErr: fmt.Errorf("no broker")},
		&fakeComponent{name: "c", log: log},
	)

	require.NoError(t, g.Initialize())
	err := g.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b")

	// Only a started successfully, so only a is stopped.
	require.NoError(t, g.Stop(time.Second))
	assert.Equal(t, []string{
		"init a", "init b", "init c",
		"start a", "start b",
		"stop a",
	}, log.snapshot())
}

func TestGroup_StopCollectsErrorsAndContinues(t *testing.T) {
	g, log := newTestGroup(t)
	g.Add(
		&fakeComponent{name: "a", log: log},
		&fakeComponent{name: "b", log: log, stopErr: fmt.Errorf("drain timeout")},
		&fakeComponent{name: "c", log: log},
	)

	require.NoError(t, g.Initialize())
	require.NoError(t, g.Start(context.Background()))

	err := g.Stop(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b")
	assert.Equal(t, []string{
		"init a", "init b", "init c",
		"start a", "start b", "start c",
		"stop c", "stop b", "stop a",
	}, log.snapshot())
}

func TestGroup_StopTwiceIsNoop(t *testing.T) {
	g, log := newTestGroup(t)
	g.Add(&fakeComponent{name: "a", log: log})

	require.NoError(t, g.Initialize())
	require.NoError(t, g.Start(context.Background()))
	require.NoError(t, g.Stop(time.Second))
	require.NoError(t, g.Stop(time.Second))

	assert.Equal(t, []string{"init a", "start a", "stop a"}, log.snapshot())
}

func TestGroup_StatusesSourcesFirst(t *testing.T) {
	g, log := newTestGroup(t)
	g.AddHealthSource(&fakeSource{status: health.NewHealthy("storage", "pool ok")})
	g.Add(
		&fakeComponent{name: "ingress", log: log},
		&fakeComponent{name: "hotcache", log: log,
			status: health.NewDegraded("hotcache", "disconnected")},
	)

	statuses := g.Statuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, "storage", statuses[0].Component)
	assert.Equal(t, "ingress", statuses[1].Component)
	assert.Equal(t, "hotcache", statuses[2].Component)
}

func TestGroup_HealthAggregates(t *testing.T) {
	tests := []struct {
		name     string
		statuses []health.Status
		want     health.State
	}{
		{
			name: "all healthy",
			statuses: []health.Status{
				health.NewHealthy("a", "ok"),
				health.NewHealthy("b", "ok"),
			},
			want: "healthy",
		},
		{
			name: "degraded member degrades the group",
			statuses: []health.Status{
				health.NewHealthy("a", "ok"),
				health.NewDegraded("b", "fallback"),
			},
			want: "degraded",
		},
		{
			name: "unhealthy member dominates",
			statuses: []health.Status{
				health.NewDegraded("a", "fallback"),
				health.NewUnhealthy("b", "down"),
			},
			want: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, log := newTestGroup(t)
			for i, st := range tt.statuses {
				g.Add(&fakeComponent{name: fmt.Sprintf("c%d", i), log: log, status: st})
			}
			got := g.Health()
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, "mantle", got.Component)
			assert.Len(t, got.SubStatuses, len(tt.statuses))
		})
	}
}
