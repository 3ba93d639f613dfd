package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-client/internal/ingest"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/storage"
)

// flakyStore fails Apply a fixed number of times before delegating.
type flakyStore struct {
	fail  int
	calls int
	inner *storage.MemoryStore
}

func (f *flakyStore) Apply(ctx context.Context, ev models.RideEvent) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("db unavailable")
	}
	return f.inner.Apply(ctx, ev)
}

func (f *flakyStore) Ping(context.Context) error { return nil }

type fakeStatus struct {
	keys    []string
	values  map[string]interface{}
	expires int
}

func (f *fakeStatus) HSet(_ context.Context, key string, values map[string]interface{}) error {
	f.keys = append(f.keys, key)
	f.values = values
	return nil
}

func (f *fakeStatus) Expire(context.Context, string, time.Duration) error {
	f.expires++
	return nil
}

// fakeSource yields msgs, then blocks until ctx is cancelled.
type fakeSource struct {
	msgs      []kafka.Message
	committed []int64
	done      chan struct{}
}

func (f *fakeSource) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		close(f.done)
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeSource) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func TestSaveWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &flakyStore{fail: 2, inner: storage.NewMemoryStore()}
	ev := models.RideEvent{RideID: "r1", From: "driver_en_route", To: "trip_in_progress", At: time.Now()}
	start := time.Now()
	if err := saveWithRetry(context.Background(), f, ev, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected exponential backoff between attempts")
	}
	if r, ok := f.inner.Get("r1"); !ok || r.Status != "trip_in_progress" {
		t.Fatalf("event not stored: %+v", r)
	}
}

func TestSaveWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &flakyStore{fail: 5, inner: storage.NewMemoryStore()}
	ev := models.RideEvent{RideID: "r1", To: "completed"}
	if err := saveWithRetry(context.Background(), f, ev, 3, time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
}

func TestSaveWithRetry_DoesNotRetryInvalidEvents(t *testing.T) {
	f := &flakyStore{inner: storage.NewMemoryStore()}
	if err := saveWithRetry(context.Background(), f, models.RideEvent{To: "completed"}, 3, time.Millisecond); !errors.Is(err, storage.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("invalid events should not be retried, got %d calls", f.calls)
	}
}

func TestConsumerPersistsAndCommits(t *testing.T) {
	at := time.Now().UTC()
	good, err := ingest.EncodeRideEvent(models.RideEvent{RideID: "r1", From: "awaiting_driver", To: "driver_en_route", DriverID: "d7", At: at})
	if err != nil {
		t.Fatal(err)
	}
	good.Offset = 1
	bad := kafka.Message{Offset: 2, Value: []byte("garbage")}

	store := storage.NewMemoryStore()
	status := &fakeStatus{}
	src := &fakeSource{msgs: []kafka.Message{good, bad}, done: make(chan struct{})}
	c := &consumer{
		source:   src,
		store:    store,
		status:   status,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		attempts: 3,
		delay:    time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		c.run(ctx)
		close(finished)
	}()
	<-src.done
	cancel()
	<-finished

	if r, ok := store.Get("r1"); !ok || r.Status != "driver_en_route" || r.DriverID != "d7" {
		t.Fatalf("event not persisted: %+v", r)
	}
	if len(src.committed) != 2 {
		t.Fatalf("both messages should be committed, got %v", src.committed)
	}
	if len(status.keys) != 1 || status.keys[0] != "ride:status:r1" || status.values["status"] != "driver_en_route" || status.expires != 1 {
		t.Fatalf("status hash not updated: %+v", status)
	}
}
