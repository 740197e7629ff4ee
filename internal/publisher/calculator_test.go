package publisher

import (
	"context"
	"testing"
	"time"

	"quotebot/internal/storage"
)

func newTestCalculator(store Store, jitter *Jitter, now time.Time) *Calculator {
	return NewCalculator(CalculatorOptions{
		Store:  store,
		Policy: MustDefaultPolicy(),
		Jitter: jitter,
		Now:    func() time.Time { return now },
	})
}

func tenAM() time.Time {
	return time.Date(2025, 3, 10, 10, 0, 0, 0, MustDefaultPolicy().Location())
}

func TestComputeNextKeepsFutureSchedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := tenAM()
	store := storage.NewMemory()
	want := now.Add(30 * time.Minute)
	_ = store.UpsertSchedule(ctx, storage.ScheduleRecord{LastPostAt: now.Add(-time.Hour).UnixMilli(), NextPostAt: want.UnixMilli()})

	c := newTestCalculator(store, NewJitter(nil), now)
	for i := 0; i < 3; i++ {
		if got := c.ComputeNext(ctx); !got.Equal(want) {
			t.Fatalf("call %d: next = %v, want %v", i, got, want)
		}
	}
}

func TestComputeNextFreshStart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := tenAM()
	store := storage.NewMemory()
	c := newTestCalculator(store, NewJitter(nil), now)

	next := c.ComputeNext(ctx)
	if next.Before(now.Add(5*time.Minute)) || next.After(now.Add(45*time.Minute)) {
		t.Fatalf("next = %v, outside [now+5m, now+45m]", next)
	}
	rec, ok, err := store.ReadSchedule(ctx)
	if err != nil || !ok {
		t.Fatalf("ReadSchedule ok=%v err=%v", ok, err)
	}
	if rec.NextPostAt != next.UnixMilli() || rec.LastPostAt != 0 {
		t.Fatalf("persisted %+v, want next=%d last=0", rec, next.UnixMilli())
	}
}

func TestComputeNextSpacingFloor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := tenAM()
	last := now.Add(-2 * time.Minute)
	store := storage.NewMemory()
	_ = store.UpsertSchedule(ctx, storage.ScheduleRecord{LastPostAt: last.UnixMilli()})

	c := newTestCalculator(store, NewJitter(nil), now)
	next := c.ComputeNext(ctx)
	if want := last.Add(5 * time.Minute); !next.Equal(want) {
		t.Fatalf("next = %v, want exactly last+5m = %v", next, want)
	}
	if rec, _, _ := store.ReadSchedule(ctx); rec.LastPostAt != last.UnixMilli() {
		t.Fatalf("last post changed: %+v", rec)
	}
}

func TestComputeNextPastScheduleDrawsAgain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := tenAM()
	store := storage.NewMemory()
	_ = store.UpsertSchedule(ctx, storage.ScheduleRecord{
		LastPostAt: now.Add(-3 * time.Hour).UnixMilli(),
		NextPostAt: now.Add(-time.Hour).UnixMilli(),
	})

	c := newTestCalculator(store, NewJitter(zeroReader{}), now)
	if got, want := c.ComputeNext(ctx), now.Add(5*time.Minute); !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}
}

func TestComputeNextFallbackOnRandomFailure(t *testing.T) {
	t.Parallel()
	now := tenAM()
	c := newTestCalculator(storage.NewMemory(), NewJitter(failingReader{}), now)
	if got, want := c.ComputeNext(context.Background()), now.Add(DefaultFallbackDelay); !got.Equal(want) {
		t.Fatalf("next = %v, want fallback %v", got, want)
	}
}

func TestComputeNextSurvivesStoreFailure(t *testing.T) {
	t.Parallel()
	now := tenAM()
	c := newTestCalculator(failingStore{}, NewJitter(zeroReader{}), now)
	if got, want := c.ComputeNext(context.Background()), now.Add(5*time.Minute); !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}
}

func TestComputeNextEveningWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 19, 0, 0, 0, MustDefaultPolicy().Location())
	c := newTestCalculator(nil, NewJitter(zeroReader{}), now)
	if got, want := c.ComputeNext(context.Background()), now.Add(45*time.Minute); !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}
}
