package outbox

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"scm/internal/event"
)

// memStore 内存实现，行为对齐 GormStore。
type memStore struct {
	records map[string]*Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*Record)}
}

func (s *memStore) add(rec *Record) *Record {
	s.records[rec.ID] = rec
	return rec
}

// 和 GormStore 一样按 created_at 升序返回。
func (s *memStore) FindPending(ctx context.Context) ([]*Record, error) {
	var out []*Record
	for _, rec := range s.records {
		if rec.Status == StatusPending {
			out = append(out, rec)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *memStore) FindRetryable(ctx context.Context, attemptedBefore time.Time) ([]*Record, error) {
	var out []*Record
	for _, rec := range s.records {
		if rec.Status == StatusFailed && rec.RetryCount < maxRetries &&
			rec.LastAttemptAt != nil && rec.LastAttemptAt.Before(attemptedBefore) {
			out = append(out, rec)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

func sortByCreatedAt(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}

func (s *memStore) MarkPublished(ctx context.Context, rec *Record) error {
	rec.MarkPublished()
	return nil
}

func (s *memStore) MarkFailed(ctx context.Context, rec *Record, errorMessage string) error {
	rec.MarkFailed(errorMessage)
	return nil
}

func (s *memStore) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, rec := range s.records {
		if rec.Status == StatusPublished && rec.PublishedAt != nil && rec.PublishedAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

type publishedMsg struct {
	topic     string
	key       string
	eventType string
}

type memBroker struct {
	published []publishedMsg
	err       error
}

func (b *memBroker) Publish(ctx context.Context, topic string, key, value []byte, eventType string) error {
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, publishedMsg{topic: topic, key: string(key), eventType: eventType})
	return nil
}

func newTestPublisher(store Store, broker Broker) *Publisher {
	return NewPublisher(store, broker, nil)
}

func TestDispatchPendingPublishes(t *testing.T) {
	store := newMemStore()
	broker := &memBroker{}
	rec := store.add(NewRecord("order", "order-1", event.TypeOrderCreated, "{}"))

	newTestPublisher(store, broker).dispatchPending(context.Background())

	if rec.Status != StatusPublished {
		t.Fatalf("expected record PUBLISHED, got %s", rec.Status)
	}
	if len(broker.published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(broker.published))
	}
	msg := broker.published[0]
	if msg.topic != event.TopicOrderEvents {
		t.Fatalf("expected topic %s, got %s", event.TopicOrderEvents, msg.topic)
	}
	if msg.key != "order-1" {
		t.Fatalf("expected aggregate id as message key, got %s", msg.key)
	}
	if msg.eventType != event.TypeOrderCreated {
		t.Fatalf("expected event type header, got %s", msg.eventType)
	}
}

func TestDispatchFailureMarksFailed(t *testing.T) {
	store := newMemStore()
	broker := &memBroker{err: errors.New("broker unavailable")}
	rec := store.add(NewRecord("order", "order-1", event.TypeOrderCreated, "{}"))

	newTestPublisher(store, broker).dispatchPending(context.Background())

	if rec.Status != StatusFailed {
		t.Fatalf("expected record FAILED, got %s", rec.Status)
	}
	if rec.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", rec.RetryCount)
	}
	if rec.ErrorMessage != "broker unavailable" {
		t.Fatalf("expected error message recorded, got %q", rec.ErrorMessage)
	}
}

func TestPublishedNeverRedispatched(t *testing.T) {
	store := newMemStore()
	broker := &memBroker{}
	store.add(NewRecord("order", "order-1", event.TypeOrderCreated, "{}"))

	p := newTestPublisher(store, broker)
	p.dispatchPending(context.Background())
	p.dispatchPending(context.Background())
	p.retryFailed(context.Background())

	if len(broker.published) != 1 {
		t.Fatalf("expected exactly 1 publish, got %d", len(broker.published))
	}
}

func TestRetryRecoversFailedRecord(t *testing.T) {
	store := newMemStore()
	broker := &memBroker{err: errors.New("boom")}
	rec := store.add(NewRecord("inventory", "order-2", event.TypeInventoryReserved, "{}"))

	p := newTestPublisher(store, broker)
	p.dispatchPending(context.Background())
	if rec.Status != StatusFailed {
		t.Fatalf("setup: expected FAILED, got %s", rec.Status)
	}

	// 退避窗口未过，不重试。
	p.retryFailed(context.Background())
	if len(broker.published) != 0 {
		t.Fatal("retry must respect the backoff window")
	}

	// 窗口过后 broker 恢复，重试成功。
	past := time.Now().UTC().Add(-2 * time.Minute)
	rec.LastAttemptAt = &past
	broker.err = nil
	p.retryFailed(context.Background())

	if rec.Status != StatusPublished {
		t.Fatalf("expected record PUBLISHED after retry, got %s", rec.Status)
	}
	if msg := broker.published[0]; msg.topic != event.TopicInventoryEvents {
		t.Fatalf("expected inventory topic, got %s", msg.topic)
	}
}

func TestRetryStopsAtLimit(t *testing.T) {
	store := newMemStore()
	broker := &memBroker{err: errors.New("boom")}
	rec := store.add(NewRecord("order", "order-1", event.TypeOrderCreated, "{}"))

	p := newTestPublisher(store, broker)
	p.dispatchPending(context.Background())
	for i := 0; i < 5; i++ {
		past := time.Now().UTC().Add(-2 * time.Minute)
		rec.LastAttemptAt = &past
		p.retryFailed(context.Background())
	}

	if rec.RetryCount != maxRetries {
		t.Fatalf("expected retry count capped at %d, got %d", maxRetries, rec.RetryCount)
	}
	if rec.Status != StatusFailed {
		t.Fatalf("exhausted record must stay FAILED, got %s", rec.Status)
	}
}

func TestUnknownEventTypeFails(t *testing.T) {
	store := newMemStore()
	broker := &memBroker{}
	rec := store.add(NewRecord("order", "order-1", "NoSuchEvent", "{}"))

	newTestPublisher(store, broker).dispatchPending(context.Background())

	if rec.Status != StatusFailed {
		t.Fatalf("expected FAILED for unknown event type, got %s", rec.Status)
	}
	if len(broker.published) != 0 {
		t.Fatal("unknown event type must not reach the broker")
	}
}

func TestCleanupDeletesOldPublishedOnly(t *testing.T) {
	store := newMemStore()
	broker := &memBroker{}
	p := newTestPublisher(store, broker)

	old := store.add(NewRecord("order", "order-1", event.TypeOrderCreated, "{}"))
	old.MarkPublished()
	stale := time.Now().UTC().Add(-8 * 24 * time.Hour)
	old.PublishedAt = &stale

	fresh := store.add(NewRecord("order", "order-2", event.TypeOrderCreated, "{}"))
	fresh.MarkPublished()

	pending := store.add(NewRecord("order", "order-3", event.TypeOrderCreated, "{}"))

	p.cleanupPublished(context.Background())

	if _, ok := store.records[old.ID]; ok {
		t.Fatal("expected stale published record deleted")
	}
	if _, ok := store.records[fresh.ID]; !ok {
		t.Fatal("fresh published record must be kept")
	}
	if _, ok := store.records[pending.ID]; !ok {
		t.Fatal("pending record must never be deleted")
	}
}
