package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stemsplit/api/internal/model"
)

func testSnap(version int64) *model.JobSnapshot {
	return &model.JobSnapshot{
		JobID:     "j1",
		Status:    model.JobStatusProcessing,
		Stage:     model.StageSeparate,
		Progress:  float64(version * 10),
		Version:   version,
		UpdatedAt: time.Now(),
	}
}

func TestMemoryStore_GetAbsent(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_SetGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Set(ctx, "j1", testSnap(1), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := s.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 1 || got.Status != model.JobStatusProcessing {
		t.Errorf("got %+v", got)
	}
}

func TestMemoryStore_ReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Set(ctx, "j1", testSnap(1), time.Minute)
	got, _ := s.Get(ctx, "j1")
	got.Version = 99

	again, _ := s.Get(ctx, "j1")
	if again.Version != 1 {
		t.Error("mutating a returned snapshot must not affect the store")
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Set(ctx, "j1", testSnap(1), 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	if _, err := s.Get(ctx, "j1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after expiry", err)
	}
}

func TestMemoryStore_TTLRefreshedOnWrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Set(ctx, "j1", testSnap(1), 50*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	s.Set(ctx, "j1", testSnap(2), 50*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	// 60ms after the first write, but only 30ms after the refresh.
	if _, err := s.Get(ctx, "j1"); err != nil {
		t.Fatalf("job expired despite TTL refresh: %v", err)
	}
}

func TestMemoryStore_SetIfNewer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, err := s.SetIfNewer(ctx, "j1", testSnap(2), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first write: ok=%v err=%v", ok, err)
	}

	// Same version loses.
	if ok, _ := s.SetIfNewer(ctx, "j1", testSnap(2), time.Minute); ok {
		t.Error("equal version should not win")
	}
	// Lower version loses.
	if ok, _ := s.SetIfNewer(ctx, "j1", testSnap(1), time.Minute); ok {
		t.Error("lower version should not win")
	}
	// Higher version wins.
	if ok, _ := s.SetIfNewer(ctx, "j1", testSnap(3), time.Minute); !ok {
		t.Error("higher version should win")
	}

	got, _ := s.Get(ctx, "j1")
	if got.Version != 3 {
		t.Errorf("stored version = %d, want 3", got.Version)
	}
}

func TestMemoryStore_ConcurrentSetIfNewer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	wins := make(chan int64, writers)

	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(version int64) {
			defer wg.Done()
			snap := testSnap(version)
			snap.JobID = "race"
			if ok, _ := s.SetIfNewer(ctx, "race", snap, time.Minute); ok {
				wins <- version
			}
		}(int64(i))
	}
	wg.Wait()
	close(wins)

	got, err := s.Get(ctx, "race")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != writers {
		t.Errorf("final version = %d, want %d (the maximum)", got.Version, writers)
	}
	// The winners must be strictly increasing as observed per successful write.
	for v := range wins {
		if v < 1 || v > writers {
			t.Errorf("unexpected winner %d", v)
		}
	}
}

func TestMemoryStore_ManyJobsIndependent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("job-%d", i)
		snap := testSnap(int64(i + 1))
		snap.JobID = id
		if err := s.Set(ctx, id, snap, time.Minute); err != nil {
			t.Fatalf("set %s: %v", id, err)
		}
	}

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("job-%d", i)
		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.Version != int64(i+1) {
			t.Errorf("%s version = %d, want %d", id, got.Version, i+1)
		}
	}
}
