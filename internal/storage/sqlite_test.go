package storage

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("applied migrations = %v, want 2", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"001_catalog.sql", 1, false},
		{"012_more.sql", 12, false},
		{"catalog.sql", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMigrationVersion(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("version = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_ratings_product", "idx_jobs_status_run_after"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestRatingRangeConstraint(t *testing.T) {
	s := openTestStore(t)

	_, err := s.db.Exec(`INSERT INTO ratings (user_id, product_id, rating) VALUES ('u', 'p', 0)`)
	if err == nil {
		t.Error("inserting rating 0 succeeded, want CHECK violation")
	}
}

// --- Jobs ---

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	id, err := s.EnqueueJob(Job{Type: JobRebuildSnapshot, PayloadJSON: `{"reason":"test"}`})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if id == "" {
		t.Fatal("EnqueueJob returned empty id")
	}

	got, err := s.ClaimNextJob([]string{JobRebuildSnapshot})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != id {
		t.Errorf("ID = %q, want %q", got.ID, id)
	}
	if got.Status != "running" {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want default 3", got.MaxAttempts)
	}
	if got.PayloadJSON != `{"reason":"test"}` {
		t.Errorf("PayloadJSON = %q", got.PayloadJSON)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ClaimNextJob([]string{JobRebuildSnapshot})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil job, got %+v", got)
	}
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.EnqueueJob(Job{ID: "j-future", Type: "x", RunAfter: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("claimed future job %q", got.ID)
	}
}

func TestClaimNextJob_TypeFilter(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.EnqueueJob(Job{ID: "j-a", Type: "a"}); err != nil {
		t.Fatalf("EnqueueJob a: %v", err)
	}
	if _, err := s.EnqueueJob(Job{ID: "j-b", Type: "b"}); err != nil {
		t.Fatalf("EnqueueJob b: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"b"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil || got.ID != "j-b" {
		t.Errorf("claimed %+v, want j-b", got)
	}
}

func TestClaimNextJob_SkipsRunning(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.EnqueueJob(Job{ID: "j-first", Type: "x"}); err != nil {
		t.Fatalf("EnqueueJob first: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob first: %v", err)
	}
	if _, err := s.EnqueueJob(Job{ID: "j-second", Type: "x"}); err != nil {
		t.Fatalf("EnqueueJob second: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob second: %v", err)
	}
	if got == nil || got.ID != "j-second" {
		t.Errorf("claimed %+v, want j-second", got)
	}
}

func TestEnqueueJobUnlessPending(t *testing.T) {
	s := openTestStore(t)

	added, err := s.EnqueueJobUnlessPending(JobRebuildSnapshot)
	if err != nil || !added {
		t.Fatalf("first EnqueueJobUnlessPending = %v, %v; want true, nil", added, err)
	}
	added, err = s.EnqueueJobUnlessPending(JobRebuildSnapshot)
	if err != nil || added {
		t.Fatalf("second EnqueueJobUnlessPending = %v, %v; want false, nil", added, err)
	}

	// Once the pending job is claimed a new one may be queued.
	if _, err := s.ClaimNextJob([]string{JobRebuildSnapshot}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	added, err = s.EnqueueJobUnlessPending(JobRebuildSnapshot)
	if err != nil || !added {
		t.Fatalf("EnqueueJobUnlessPending after claim = %v, %v; want true, nil", added, err)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.EnqueueJob(Job{ID: "j-complete", Type: "x"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob("j-complete"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	j, err := s.GetJob("j-complete")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "completed" {
		t.Errorf("status = %q, want %q", j.Status, "completed")
	}

	if err := s.CompleteJob("missing"); err != ErrNotFound {
		t.Errorf("CompleteJob(missing) = %v, want ErrNotFound", err)
	}
}

func TestFailJob_IncrementsAttempts(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.EnqueueJob(Job{ID: "j-fail-inc", Type: "x"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("j-fail-inc", "something broke"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	j, err := s.GetJob("j-fail-inc")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", j.Attempts)
	}
	if j.Status != "pending" {
		t.Errorf("status = %q, want %q", j.Status, "pending")
	}
	if j.LastError != "something broke" {
		t.Errorf("last_error = %q, want %q", j.LastError, "something broke")
	}
}

func TestFailJob_MaxAttemptsReached(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.EnqueueJob(Job{ID: "j-fail-max", Type: "x", MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("j-fail-max", "fatal"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	j, err := s.GetJob("j-fail-max")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "failed" {
		t.Errorf("status = %q, want %q", j.Status, "failed")
	}
}

func TestFailJob_SetsBackoff(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.EnqueueJob(Job{ID: "j-backoff", Type: "x"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	before := time.Now().UTC().Truncate(time.Second)
	if err := s.FailJob("j-backoff", "retry"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	j, err := s.GetJob("j-backoff")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !j.RunAfter.After(before) {
		t.Errorf("run_after %v should be after %v", j.RunAfter, before)
	}
}

func TestFailJob_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.FailJob("missing", "x"); err != ErrNotFound {
		t.Errorf("FailJob(missing) = %v, want ErrNotFound", err)
	}
}
