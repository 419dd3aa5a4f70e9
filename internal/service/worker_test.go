package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/prodrec/internal/storage"
)

type mockRebuilder struct {
	rebuildFn func(ctx context.Context) (*Snapshot, error)
	current   atomic.Int32
}

func (m *mockRebuilder) Rebuild(ctx context.Context) (*Snapshot, error) {
	return m.rebuildFn(ctx)
}

func (m *mockRebuilder) Current(ctx context.Context) (*Snapshot, error) {
	m.current.Add(1)
	return &Snapshot{}, nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueueRebuild(t *testing.T, store *storage.Store, id string) {
	t.Helper()
	if _, err := store.EnqueueJob(storage.Job{ID: id, Type: storage.JobRebuildSnapshot}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID)
	if err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, id string) (string, int) {
	t.Helper()
	j, err := store.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob(%s): %v", id, err)
	}
	return j.Status, j.Attempts
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	enqueueRebuild(t, store, "job-1")

	var calls atomic.Int32
	w := NewWorker(store, &mockRebuilder{
		rebuildFn: func(_ context.Context) (*Snapshot, error) {
			calls.Add(1)
			return &Snapshot{Version: 7}, nil
		},
	}, 0, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if calls.Load() != 1 {
		t.Errorf("Rebuild called %d times, want 1", calls.Load())
	}
	if status, _ := jobStatus(t, store, "job-1"); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}

	didWork, err = w.RunOnce(context.Background())
	if err != nil || didWork {
		t.Errorf("RunOnce on empty queue = %v, %v; want false, nil", didWork, err)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	enqueueRebuild(t, store, "job-r")

	var calls atomic.Int32
	w := NewWorker(store, &mockRebuilder{
		rebuildFn: func(_ context.Context) (*Snapshot, error) {
			n := calls.Add(1)
			if n <= 2 {
				return nil, fmt.Errorf("transient error %d", n)
			}
			return &Snapshot{}, nil
		},
	}, 0, 0)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			status, attempts := jobStatus(t, store, "job-r")
			if status != "pending" || attempts != i {
				t.Errorf("after fail %d: status=%q attempts=%d, want pending/%d", i, status, attempts, i)
			}
			resetRunAfter(t, store, "job-r")
		}
	}

	if status, _ := jobStatus(t, store, "job-r"); status != "completed" {
		t.Errorf("after 3rd attempt: status=%q, want completed", status)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	enqueueRebuild(t, store, "job-m")

	w := NewWorker(store, &mockRebuilder{
		rebuildFn: func(_ context.Context) (*Snapshot, error) {
			return nil, fmt.Errorf("permanent error")
		},
	}, 0, 0)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store, "job-m")
		}
	}

	if status, _ := jobStatus(t, store, "job-m"); status != "failed" {
		t.Errorf("final status = %q, want %q", status, "failed")
	}
}

func TestWorker_ConcurrentEnqueue(t *testing.T) {
	store := openTestStore(t)

	const goroutines = 5
	const jobsPerGoroutine = 10
	const total = goroutines * jobsPerGoroutine

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < jobsPerGoroutine; j++ {
				id := fmt.Sprintf("job-%d-%d", g, j)
				if _, err := store.EnqueueJob(storage.Job{ID: id, Type: storage.JobRebuildSnapshot}); err != nil {
					t.Errorf("EnqueueJob %s: %v", id, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	w := NewWorker(store, &mockRebuilder{
		rebuildFn: func(_ context.Context) (*Snapshot, error) { return &Snapshot{}, nil },
	}, 0, 0)

	ctx := context.Background()
	deadline := time.After(5 * time.Second)
	processed := 0
	for processed < total {
		select {
		case <-deadline:
			t.Fatalf("timed out after processing %d/%d jobs", processed, total)
		default:
		}
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce error at job %d: %v", processed, err)
		}
		if !didWork {
			t.Fatalf("queue drained early after %d/%d jobs", processed, total)
		}
		processed++
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	rb := &mockRebuilder{
		rebuildFn: func(_ context.Context) (*Snapshot, error) { return &Snapshot{}, nil },
	}
	w := NewWorker(store, rb, 10*time.Millisecond, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	enqueueRebuild(t, store, "job-run")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status, _ := jobStatus(t, store, "job-run"); status == "completed" && rb.current.Load() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if status, _ := jobStatus(t, store, "job-run"); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
	if rb.current.Load() == 0 {
		t.Error("periodic refresh never ran")
	}
}
