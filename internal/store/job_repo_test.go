package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/medforge/casgen/internal/domain"
)

func TestJobRepo_CreateAndGet(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := &JobRepo{}

	job := domain.GenerationJob{
		JobID:         "job-001",
		ScenarioID:    "scn-1",
		Seed:          42,
		WorkerCount:   4,
		BatchSize:     250,
		Policy:        domain.BestEffort,
		Status:        domain.JobQueued,
		Requested:     10000,
		StateVersion:  1,
		CreatedAtUnix: time.Now().Unix(),
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := repo.CreateTx(ctx, tx, job); err != nil {
		t.Fatalf("CreateTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := repo.GetByID(ctx, db, "job-001")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.JobID != "job-001" {
		t.Errorf("JobID = %q, want %q", got.JobID, "job-001")
	}
	if got.Status != domain.JobQueued {
		t.Errorf("Status = %q, want %q", got.Status, domain.JobQueued)
	}
	if got.Policy != domain.BestEffort {
		t.Errorf("Policy = %q, want %q", got.Policy, domain.BestEffort)
	}
	if got.Seed != 42 {
		t.Errorf("Seed = %d, want 42", got.Seed)
	}
	if got.StateVersion != 1 {
		t.Errorf("StateVersion = %d, want 1", got.StateVersion)
	}
	if got.Summary != nil {
		t.Errorf("Summary = %+v, want nil before completion", got.Summary)
	}
}

func TestJobRepo_GetByID_NotFound(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := &JobRepo{}

	_, err = repo.GetByID(ctx, db, "nonexistent")
	if err != domain.ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobRepo_UpdateState_OptimisticLock(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := &JobRepo{}

	job := domain.GenerationJob{
		JobID:         "job-002",
		Seed:          7,
		Policy:        domain.FailFast,
		Status:        domain.JobQueued,
		StateVersion:  1,
		CreatedAtUnix: time.Now().Unix(),
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.CreateTx(ctx, tx, job); err != nil {
		t.Fatalf("CreateTx: %v", err)
	}
	tx.Commit()

	// Update with correct version should succeed.
	job.Status = domain.JobRunning
	tx2, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.UpdateStateTx(ctx, tx2, job); err != nil {
		t.Fatalf("UpdateStateTx: %v", err)
	}
	tx2.Commit()

	// Update with stale version should fail.
	job.Status = domain.JobCompleted
	// job.StateVersion is still 1 but DB is now 2
	tx3, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	err = repo.UpdateStateTx(ctx, tx3, job)
	tx3.Rollback()

	if err != domain.ErrOptimisticLock {
		t.Errorf("expected ErrOptimisticLock, got %v", err)
	}
}

func TestJobRepo_DuplicateCreate(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := &JobRepo{}

	job := domain.GenerationJob{
		JobID:        "job-dup",
		Status:       domain.JobQueued,
		StateVersion: 1,
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.CreateTx(ctx, tx, job); err != nil {
		t.Fatalf("first CreateTx: %v", err)
	}
	tx.Commit()

	tx2, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	err = repo.CreateTx(ctx, tx2, job)
	tx2.Rollback()

	if err == nil {
		t.Error("expected error on duplicate create, got nil")
	}
}

func TestJobRepo_SummaryAndFilesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := &JobRepo{}
	now := time.Now().Unix()

	job := domain.GenerationJob{
		JobID:         "job-003",
		Status:        domain.JobQueued,
		StateVersion:  1,
		CreatedAtUnix: now,
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.CreateTx(ctx, tx, job); err != nil {
		t.Fatalf("CreateTx: %v", err)
	}
	tx.Commit()

	job.Status = domain.JobCompleted
	job.Progress = 100
	job.Produced = 500
	job.CompletedAtUnix = now + 5
	job.OutputFiles = []string{"casualties.ndjson.gz", "bundles-0001.json.gz"}
	job.Summary = &domain.Summary{
		Requested:     500,
		Produced:      500,
		ByNationality: map[string]int{"USA": 300, "GBR": 200},
		KIAFraction:   0.21,
	}

	tx2, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.UpdateStateTx(ctx, tx2, job); err != nil {
		t.Fatalf("UpdateStateTx: %v", err)
	}
	tx2.Commit()

	got, err := repo.GetByID(ctx, db, "job-003")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.StateVersion != 2 {
		t.Errorf("StateVersion = %d, want 2", got.StateVersion)
	}
	if len(got.OutputFiles) != 2 || got.OutputFiles[0] != "casualties.ndjson.gz" {
		t.Errorf("OutputFiles = %v, want both files in order", got.OutputFiles)
	}
	if got.Summary == nil {
		t.Fatal("Summary is nil after completion")
	}
	if got.Summary.ByNationality["USA"] != 300 {
		t.Errorf("Summary.ByNationality[USA] = %d, want 300", got.Summary.ByNationality["USA"])
	}
	if got.Summary.KIAFraction != 0.21 {
		t.Errorf("Summary.KIAFraction = %f, want 0.21", got.Summary.KIAFraction)
	}
}

func TestJobRepo_ListAndCountActive(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := &JobRepo{}
	now := time.Now().Unix()

	jobs := []domain.GenerationJob{
		{JobID: "job-a", Status: domain.JobCompleted, StateVersion: 1, CreatedAtUnix: now},
		{JobID: "job-b", Status: domain.JobRunning, StateVersion: 1, CreatedAtUnix: now + 1},
		{JobID: "job-c", Status: domain.JobQueued, StateVersion: 1, CreatedAtUnix: now + 2},
	}
	for _, j := range jobs {
		tx, err := db.Begin()
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := repo.CreateTx(ctx, tx, j); err != nil {
			t.Fatalf("CreateTx %s: %v", j.JobID, err)
		}
		tx.Commit()
	}

	got, err := repo.List(ctx, db, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(got))
	}
	// Newest first.
	if got[0].JobID != "job-c" {
		t.Errorf("first listed job = %q, want %q", got[0].JobID, "job-c")
	}

	limited, err := repo.List(ctx, db, 2)
	if err != nil {
		t.Fatalf("List limit=2: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 jobs with limit, got %d", len(limited))
	}

	active, err := repo.CountActive(ctx, db)
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if active != 2 {
		t.Errorf("CountActive = %d, want 2", active)
	}
}

func TestJobRepo_ListUnfinished(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := &JobRepo{}
	now := time.Now().Unix()

	jobs := []domain.GenerationJob{
		{JobID: "job-done", Status: domain.JobCompleted, StateVersion: 1, CreatedAtUnix: now},
		{JobID: "job-run", Status: domain.JobRunning, StateVersion: 1, CreatedAtUnix: now + 1},
		{JobID: "job-init", Status: domain.JobInitializing, StateVersion: 1, CreatedAtUnix: now + 2},
		{JobID: "job-dead", Status: domain.JobFailed, StateVersion: 1, CreatedAtUnix: now + 3},
		{JobID: "job-wait", Status: domain.JobQueued, StateVersion: 1, CreatedAtUnix: now + 4},
	}
	for _, j := range jobs {
		tx, err := db.Begin()
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := repo.CreateTx(ctx, tx, j); err != nil {
			t.Fatalf("CreateTx %s: %v", j.JobID, err)
		}
		tx.Commit()
	}

	got, err := repo.ListUnfinished(ctx, db)
	if err != nil {
		t.Fatalf("ListUnfinished: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 unfinished jobs, got %d", len(got))
	}
	// Oldest first.
	want := []string{"job-run", "job-init", "job-wait"}
	for i, id := range want {
		if got[i].JobID != id {
			t.Errorf("unfinished[%d] = %q, want %q", i, got[i].JobID, id)
		}
	}
}
