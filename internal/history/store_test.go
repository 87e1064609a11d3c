package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/kscreen/internal/policy"
	"github.com/goodtune/kscreen/internal/storage"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T, now time.Time) (*Store, storage.KVStore, *policy.TestClock) {
	t.Helper()
	kv := storage.NewMemoryStore()
	clock := &policy.TestClock{CurrentTime: now}
	store := NewStore(kv, zerolog.Nop())
	store.SetClock(clock)
	store.SetLocation(time.UTC)
	return store, kv, clock
}

func TestAppendMonotonic(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	store, _, _ := newTestStore(t, now)
	ctx := context.Background()

	base := now.Add(-time.Hour).Unix()
	inputs := []struct {
		ts     int64
		stored bool
	}{
		{base, true},
		{base + 10, true},
		{base + 10, false}, // duplicate
		{base + 5, false},  // out of order
		{base + 11, true},
	}

	for i, in := range inputs {
		stored, err := store.Append(ctx, KindDeviceStatus, Record{Timestamp: in.ts})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if stored != in.stored {
			t.Errorf("append %d (ts=%d) stored = %v, want %v", i, in.ts, stored, in.stored)
		}
	}

	records, err := store.Records(ctx, KindDeviceStatus)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp <= records[i-1].Timestamp {
			t.Errorf("sequence not strictly ascending at %d: %d after %d", i, records[i].Timestamp, records[i-1].Timestamp)
		}
	}
}

func TestAppendPrunesExpiredPrefix(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store, _, clock := newTestStore(t, start)
	ctx := context.Background()

	// one heartbeat every 6 hours for 30 days, clock following along
	var appended []int64
	for ts := start; ts.Before(start.AddDate(0, 0, 30)); ts = ts.Add(6 * time.Hour) {
		clock.Set(ts)
		if _, err := store.Append(ctx, KindHeartbeat, Record{Timestamp: ts.Unix()}); err != nil {
			t.Fatalf("append: %v", err)
		}
		appended = append(appended, ts.Unix())
	}

	records, err := store.Records(ctx, KindHeartbeat)
	if err != nil {
		t.Fatalf("records: %v", err)
	}

	cutoff := clock.Now().Add(-Retention).Unix()
	for _, rec := range records {
		if rec.Timestamp < cutoff {
			t.Errorf("record at %d older than retention cutoff %d", rec.Timestamp, cutoff)
		}
	}

	// what remains is a contiguous suffix of what was appended
	offset := len(appended) - len(records)
	if offset <= 0 {
		t.Fatalf("expected pruning, kept %d of %d", len(records), len(appended))
	}
	for i, rec := range records {
		if rec.Timestamp != appended[offset+i] {
			t.Fatalf("record %d = %d, want %d (gap in suffix)", i, rec.Timestamp, appended[offset+i])
		}
	}
}

func TestQueryDayWindows(t *testing.T) {
	now := time.Date(2024, 1, 12, 12, 0, 0, 0, time.UTC)
	store, _, _ := newTestStore(t, now)
	ctx := context.Background()

	stamps := []time.Time{
		time.Date(2024, 1, 9, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 13, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC),
	}
	for _, ts := range stamps {
		for _, kind := range []Kind{KindHeartbeat, KindDeviceStatus} {
			if _, err := store.Append(ctx, kind, Record{Timestamp: ts.Unix()}); err != nil {
				t.Fatalf("append %s: %v", kind, err)
			}
		}
	}

	tests := []struct {
		name string
		kind Kind
		want int
	}{
		{"heartbeat is the calendar day", KindHeartbeat, 3},
		{"device status includes the previous day", KindDeviceStatus, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := store.Query(ctx, tt.kind, "2024-01-10")
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(records) != tt.want {
				t.Errorf("Query() returned %d records, want %d", len(records), tt.want)
			}
		})
	}

	if _, err := store.Query(ctx, KindHeartbeat, "10/01/2024"); err == nil {
		t.Error("expected error for malformed day label")
	}
}

func TestCorruptHistoryReadsEmpty(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	store, kv, _ := newTestStore(t, now)
	ctx := context.Background()

	if err := kv.Set(ctx, storage.KeyHeartbeats, []byte("not-json")); err != nil {
		t.Fatalf("seed corrupt blob: %v", err)
	}

	records, err := store.Query(ctx, KindHeartbeat, "2024-01-10")
	if err != nil {
		t.Fatalf("query corrupt history: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}

	rec, err := NewRecord(now, HeartbeatPayload{ForegroundApp: "com.example.game", OpenSessions: 1})
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	stored, err := store.Append(ctx, KindHeartbeat, rec)
	if err != nil || !stored {
		t.Fatalf("append after corruption: stored=%v err=%v", stored, err)
	}

	records, err = store.Records(ctx, KindHeartbeat)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	var payload HeartbeatPayload
	if err := json.Unmarshal(records[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ForegroundApp != "com.example.game" {
		t.Errorf("unexpected payload %+v", payload)
	}
}

type brokenStore struct {
	storage.KVStore
}

func (brokenStore) Set(context.Context, string, []byte) error {
	return errors.New("read-only filesystem")
}

func TestAppendSurfacesPersistenceFailure(t *testing.T) {
	store := NewStore(brokenStore{storage.NewMemoryStore()}, zerolog.Nop())
	if _, err := store.Append(context.Background(), KindHeartbeat, Record{Timestamp: time.Now().Unix()}); err == nil {
		t.Fatal("expected persistence error")
	}
	if _, err := store.Append(context.Background(), Kind("bogus"), Record{}); err == nil {
		t.Fatal("expected unknown kind error")
	}
}

func TestSubscribe(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	store, kv, _ := newTestStore(t, now)

	var kinds []Kind
	stop := store.Subscribe(func(kind Kind) { kinds = append(kinds, kind) })

	ctx := context.Background()
	if _, err := store.Append(ctx, KindDeviceStatus, Record{Timestamp: now.Unix()}); err != nil {
		t.Fatalf("append: %v", err)
	}
	// rejected by the monotonic rule, nothing written
	if _, err := store.Append(ctx, KindDeviceStatus, Record{Timestamp: now.Unix()}); err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	if err := kv.Set(ctx, storage.KeyUser, []byte("{}")); err != nil {
		t.Fatalf("set user: %v", err)
	}

	if len(kinds) != 1 || kinds[0] != KindDeviceStatus {
		t.Fatalf("unexpected notifications: %v", kinds)
	}

	stop()
	stop()
	if _, err := store.Append(ctx, KindHeartbeat, Record{Timestamp: now.Unix()}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(kinds) != 1 {
		t.Fatalf("notified after unsubscribe: %v", kinds)
	}
}

func TestSubscriberReadsStore(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	store := NewStore(storage.NewObserved(storage.NewMemoryStore()), zerolog.Nop())
	store.SetClock(&policy.TestClock{CurrentTime: now})
	store.SetLocation(time.UTC)
	ctx := context.Background()

	var seen []int
	stop := store.Subscribe(func(kind Kind) {
		records, err := store.Records(ctx, kind)
		if err != nil {
			t.Errorf("records: %v", err)
			return
		}
		day, err := store.Query(ctx, kind, now.Format(DayLayout))
		if err != nil {
			t.Errorf("query: %v", err)
			return
		}
		seen = append(seen, len(records), len(day))
	})
	defer stop()

	done := make(chan error, 1)
	go func() {
		_, err := store.Append(ctx, KindHeartbeat, Record{Timestamp: now.Unix()})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("append blocked while a subscriber read the store")
	}

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 1 {
		t.Fatalf("subscriber saw %v, want [1 1]", seen)
	}
}

func TestConcurrentAppendAndQuery(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	store, _, _ := newTestStore(t, now)
	ctx := context.Background()

	const appends = 200
	base := now.Add(-time.Hour).Unix()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				records, err := store.Records(ctx, KindHeartbeat)
				if err != nil {
					t.Errorf("records: %v", err)
					return
				}
				for j := 1; j < len(records); j++ {
					if records[j].Timestamp <= records[j-1].Timestamp {
						t.Errorf("sequence not ascending at %d", j)
						return
					}
				}
				if _, err := store.Query(ctx, KindHeartbeat, now.Format(DayLayout)); err != nil {
					t.Errorf("query: %v", err)
					return
				}
			}
		}()
	}

	for i := 0; i < appends; i++ {
		if _, err := store.Append(ctx, KindHeartbeat, Record{Timestamp: base + int64(i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()

	records, err := store.Records(ctx, KindHeartbeat)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != appends {
		t.Fatalf("expected %d records, got %d", appends, len(records))
	}
}
