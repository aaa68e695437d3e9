package worker

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeyedPool_OrderPreservedPerKey(t *testing.T) {
	type sample struct {
		key string
		seq int
	}

	var mu sync.Mutex
	got := make(map[string][]int)

	processor := func(_ context.Context, s sample) error {
		// Simulate uneven processing time so cross-worker interleaving
		// would scramble order if routing were wrong.
		time.Sleep(time.Duration(s.seq%3) * time.Millisecond)
		mu.Lock()
		got[s.key] = append(got[s.key], s.seq)
		mu.Unlock()
		return nil
	}

	pool := NewKeyedPool[sample](4, 100, processor)
	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	keys := []string{"plant1|line1|press", "plant1|line2|oven", "plant2|line1|press"}
	const perKey = 20
	for seq := 0; seq < perKey; seq++ {
		for _, k := range keys {
			if err := pool.Submit(k, sample{key: k, seq: seq}); err != nil {
				t.Fatalf("Submit(%s, %d) failed: %v", k, seq, err)
			}
		}
	}

	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, k := range keys {
		seqs := got[k]
		if len(seqs) != perKey {
			t.Fatalf("key %s: expected %d items, got %d", k, perKey, len(seqs))
		}
		for i, s := range seqs {
			if s != i {
				t.Errorf("key %s: out of order at %d: got seq %d", k, i, s)
				break
			}
		}
	}
}

func TestKeyedPool_StatsAccounting(t *testing.T) {
	type item struct{ key string }

	processor := func(_ context.Context, _ item) error { return nil }

	pool := NewKeyedPool[item](8, 10, processor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 50; i++ {
		if err := pool.Submit("stable-key", item{key: "stable-key"}); err != nil {
			// With queueSize 10 and a fast processor drops are possible
			// under scheduling pressure; tolerate ErrQueueFull only.
			if err != ErrQueueFull {
				t.Fatalf("Submit failed: %v", err)
			}
		}
	}

	if err := pool.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	stats := pool.Stats()
	if stats.Submitted+stats.Dropped != 50 {
		t.Errorf("submitted %d + dropped %d != 50", stats.Submitted, stats.Dropped)
	}
	if stats.Processed != stats.Submitted {
		t.Errorf("processed %d != submitted %d", stats.Processed, stats.Submitted)
	}
}

func TestKeyedPool_LifecycleErrors(t *testing.T) {
	processor := func(_ context.Context, _ int) error { return nil }
	pool := NewKeyedPool[int](2, 10, processor)

	if err := pool.Submit("k", 1); err != ErrPoolNotStarted {
		t.Errorf("Submit before Start: expected ErrPoolNotStarted, got %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := pool.Start(context.Background()); err != ErrPoolAlreadyStarted {
		t.Errorf("second Start: expected ErrPoolAlreadyStarted, got %v", err)
	}

	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := pool.Submit("k", 2); err != ErrPoolStopped {
		t.Errorf("Submit after Stop: expected ErrPoolStopped, got %v", err)
	}

	// Stop is idempotent.
	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("second Stop: expected nil, got %v", err)
	}
}
