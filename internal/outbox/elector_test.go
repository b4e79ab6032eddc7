package outbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeLock struct {
	failures int
	calls    int
}

func (l *fakeLock) Lock(timeout time.Duration) error {
	l.calls++
	if l.calls <= l.failures {
		return errors.New("zk: session has been expired by the server")
	}
	return nil
}

func (l *fakeLock) Unlock() error { return nil }

func TestCampaignRetriesUntilLockAcquired(t *testing.T) {
	lock := &fakeLock{failures: 2}
	e := &ZkElector{lock: lock, backoff: time.Millisecond}

	if err := e.Campaign(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lock.calls != 3 {
		t.Fatalf("expected 3 lock attempts, got %d", lock.calls)
	}
}

func TestCampaignBacksOffBetweenAttempts(t *testing.T) {
	lock := &fakeLock{failures: 3}
	e := &ZkElector{lock: lock, backoff: 20 * time.Millisecond}

	start := time.Now()
	if err := e.Campaign(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("expected at least 3 backoff intervals, campaign finished in %v", elapsed)
	}
}

func TestCampaignStopsWhenContextCancelled(t *testing.T) {
	lock := &fakeLock{failures: 1 << 30}
	e := &ZkElector{lock: lock, backoff: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := e.Campaign(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if lock.calls != 1 {
		t.Fatalf("expected a single attempt before giving up, got %d", lock.calls)
	}
}
