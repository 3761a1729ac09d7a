package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/medforge/casgen/internal/domain"
	"github.com/medforge/casgen/internal/store"
)

// validTransitions defines the legal job status transitions. Each key is a
// source status, and the value is the set of valid targets. Failed is
// reachable from every non-terminal status; there is no retry edge.
var validTransitions = map[domain.JobStatus]map[domain.JobStatus]bool{
	domain.JobQueued:       {domain.JobInitializing: true, domain.JobFailed: true},
	domain.JobInitializing: {domain.JobRunning: true, domain.JobFailed: true},
	domain.JobRunning:      {domain.JobCompleted: true, domain.JobFailed: true},
}

// IsValidTransition checks if a status transition is legal.
func IsValidTransition(from, to domain.JobStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Jobs persists job lifecycle changes. Every write pairs an appended job
// event with an optimistically locked state update in a single transaction,
// so the event log and the job row never drift apart.
type Jobs struct {
	DB        *sql.DB
	JobRepo   *store.JobRepo
	EventRepo *store.JobEventRepo
	StatRepo  *store.PhaseStatRepo
}

// NewJobs creates the persistence engine for job state.
func NewJobs(db *sql.DB) *Jobs {
	return &Jobs{
		DB:        db,
		JobRepo:   &store.JobRepo{},
		EventRepo: &store.JobEventRepo{},
		StatRepo:  &store.PhaseStatRepo{},
	}
}

// Enqueue creates the job record in status queued and writes the seq-1
// "job queued" event.
func (j *Jobs) Enqueue(ctx context.Context, job *domain.GenerationJob) error {
	now := time.Now().Unix()
	job.Status = domain.JobQueued
	job.Progress = 0
	job.StateVersion = 1
	job.LastEventSeq = 1
	job.CreatedAtUnix = now

	tx, err := j.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := j.JobRepo.CreateTx(ctx, tx, *job); err != nil {
		return err
	}
	event := domain.JobEvent{
		JobID:       job.JobID,
		SeqNo:       1,
		Progress:    0,
		Description: "job queued",
		CreatedAt:   now,
	}
	if err := j.EventRepo.AppendTx(ctx, tx, event); err != nil {
		return fmt.Errorf("append queue event: %w", err)
	}
	return tx.Commit()
}

// Save writes the job's current state and appends one event describing the
// change. The caller owns the struct; on success its StateVersion and
// LastEventSeq advance to match the stored row.
func (j *Jobs) Save(ctx context.Context, job *domain.GenerationJob, description string) error {
	seq := job.LastEventSeq + 1

	tx, err := j.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	event := domain.JobEvent{
		JobID:       job.JobID,
		SeqNo:       seq,
		Progress:    job.Progress,
		Phase:       job.Phase,
		Description: description,
		ETASeconds:  job.ETASeconds,
		CreatedAt:   time.Now().Unix(),
	}
	if err := j.EventRepo.AppendTx(ctx, tx, event); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	saved := *job
	saved.LastEventSeq = seq
	if err := j.JobRepo.UpdateStateTx(ctx, tx, saved); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	job.LastEventSeq = seq
	job.StateVersion++
	return nil
}

// Transition moves the job to a new status and persists it. The struct is
// updated in place, including the lifecycle timestamps.
func (j *Jobs) Transition(ctx context.Context, job *domain.GenerationJob, to domain.JobStatus, description string) error {
	if job.Status == domain.JobCompleted || job.Status == domain.JobFailed {
		return domain.ErrJobAlreadyDone
	}
	if !IsValidTransition(job.Status, to) {
		return domain.NewEngineError(
			domain.ErrInvalidJobStatus.Code,
			fmt.Sprintf("illegal transition %s -> %s", job.Status, to),
		)
	}

	now := time.Now().Unix()
	job.Status = to
	switch to {
	case domain.JobInitializing:
		job.StartedAtUnix = now
	case domain.JobCompleted, domain.JobFailed:
		job.CompletedAtUnix = now
	}
	return j.Save(ctx, job, description)
}

// FailOrphans marks every non-terminal job as failed. Called once at daemon
// startup: a job in queued, initializing, or running state has no live
// goroutine after a restart and can never finish. Returns the number of jobs
// failed.
func (j *Jobs) FailOrphans(ctx context.Context) (int, error) {
	orphans, err := j.JobRepo.ListUnfinished(ctx, j.DB)
	if err != nil {
		return 0, err
	}
	for _, job := range orphans {
		job.Error = "interrupted by daemon restart"
		if err := j.Transition(ctx, job, domain.JobFailed, "job orphaned by restart"); err != nil {
			return 0, fmt.Errorf("fail orphan %s: %w", job.JobID, err)
		}
	}
	return len(orphans), nil
}

// GetJob returns the persisted state of a job.
func (j *Jobs) GetJob(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	return j.JobRepo.GetByID(ctx, j.DB, jobID)
}

// Events returns a job's event log after the given sequence number.
func (j *Jobs) Events(ctx context.Context, jobID string, sinceSeq int64) ([]domain.JobEvent, error) {
	return j.EventRepo.ListByJob(ctx, j.DB, jobID, sinceSeq)
}

// RecordPhaseStat persists one phase's timing. Failures are reported to the
// caller but a lost stat never fails a job.
func (j *Jobs) RecordPhaseStat(ctx context.Context, stat domain.PhaseStat) error {
	return j.StatRepo.Create(ctx, j.DB, stat, time.Now().Unix())
}
