package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/medforge/casgen/internal/domain"
)

// ProgressFunc receives progress updates. It runs on the tracker goroutine,
// so implementations must be cheap and must not block.
type ProgressFunc func(overall int, detail domain.ProgressDetail)

type trackerOp int

const (
	opBeginPhase trackerOp = iota
	opAdvance
	opProduced
	opBatchFailed
	opSnapshot
	opFinish
	opFail
)

type trackerMsg struct {
	op      trackerOp
	phase   string
	total   int
	n       int
	summary *domain.Summary
	files   []string
	cause   error
	snap    chan domain.GenerationJob
	reply   chan error
}

// Tracker owns one running job's state. It is the only goroutine that
// mutates or persists the job between enqueue and completion; pipeline
// goroutines report through a message channel and readers take snapshots
// through a request/response exchange, so the struct needs no lock.
//
// Overall progress is the phase span start plus the phase's weight scaled by
// the phase percentage, truncated to an integer, and never decreases. State
// is persisted whenever the overall figure or the phase changes, which also
// appends one replayable job event.
type Tracker struct {
	jobs       *Jobs
	job        *domain.GenerationJob
	progressFn ProgressFunc
	logf       func(format string, args ...any)

	// now is replaced in tests to drive ETA math.
	now func() time.Time

	msgs chan trackerMsg
	done chan struct{}

	startedAt      time.Time
	phaseStartedAt time.Time
	span           phaseSpan
	phaseDone      int
	phaseTotal     int
	lastPhasePct   int

	// final is written before done closes; reads after done see it.
	final domain.GenerationJob
}

// NewTracker wires a tracker for one job. The tracker takes ownership of the
// struct until the loop ends. logf may be nil to discard diagnostics.
func NewTracker(jobs *Jobs, job *domain.GenerationJob, progressFn ProgressFunc, logf func(format string, args ...any)) *Tracker {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Tracker{
		jobs:       jobs,
		job:        job,
		progressFn: progressFn,
		logf:       logf,
		now:        time.Now,
		msgs:       make(chan trackerMsg, 64),
		done:       make(chan struct{}),
	}
}

// Start launches the tracker loop.
func (t *Tracker) Start() {
	t.startedAt = t.now()
	t.phaseStartedAt = t.startedAt
	t.lastPhasePct = -1
	go t.loop()
}

// BeginPhase enters a phase with the given unit count. The first phase moves
// the job from queued to initializing; the first phase after initializing
// moves it to running.
func (t *Tracker) BeginPhase(phase string, total int) {
	t.send(trackerMsg{op: opBeginPhase, phase: phase, total: total})
}

// Advance records n completed units within the current phase.
func (t *Tracker) Advance(n int) {
	t.send(trackerMsg{op: opAdvance, n: n})
}

// Produced adjusts the produced casualty count. Batches dropped after
// generation pass a negative delta.
func (t *Tracker) Produced(delta int) {
	t.send(trackerMsg{op: opProduced, n: delta})
}

// BatchFailed counts one failed batch.
func (t *Tracker) BatchFailed() {
	t.send(trackerMsg{op: opBatchFailed})
}

// Snapshot returns a copy of the job state, ordered after every update sent
// before the call. After completion it returns the final state.
func (t *Tracker) Snapshot() domain.GenerationJob {
	snap := make(chan domain.GenerationJob, 1)
	select {
	case t.msgs <- trackerMsg{op: opSnapshot, snap: snap}:
		select {
		case s := <-snap:
			return s
		case <-t.done:
			return t.final
		}
	case <-t.done:
		return t.final
	}
}

// Finish marks the job completed at progress 100 with its summary and output
// files, persists the final state, and stops the loop.
func (t *Tracker) Finish(summary *domain.Summary, files []string) error {
	return t.terminate(trackerMsg{op: opFinish, summary: summary, files: files})
}

// Fail marks the job failed with the cause, persists the final state, and
// stops the loop.
func (t *Tracker) Fail(cause error) error {
	return t.terminate(trackerMsg{op: opFail, cause: cause})
}

func (t *Tracker) terminate(m trackerMsg) error {
	m.reply = make(chan error, 1)
	select {
	case t.msgs <- m:
	case <-t.done:
		return domain.ErrJobAlreadyDone
	}
	// The message may be stranded if another terminal message was queued
	// ahead of it; the buffered reply settles the race.
	select {
	case err := <-m.reply:
		return err
	case <-t.done:
		select {
		case err := <-m.reply:
			return err
		default:
			return domain.ErrJobAlreadyDone
		}
	}
}

func (t *Tracker) send(m trackerMsg) {
	select {
	case t.msgs <- m:
	case <-t.done:
	}
}

func (t *Tracker) loop() {
	for {
		m := <-t.msgs
		switch m.op {
		case opBeginPhase:
			t.beginPhase(m.phase, m.total)
		case opAdvance:
			t.phaseDone += m.n
			t.refresh(false)
		case opProduced:
			t.job.Produced += m.n
		case opBatchFailed:
			t.job.FailedBatches++
		case opSnapshot:
			m.snap <- *t.job
		case opFinish:
			m.reply <- t.complete(m.summary, m.files)
			close(t.done)
			return
		case opFail:
			m.reply <- t.abort(m.cause)
			close(t.done)
			return
		}
	}
}

func (t *Tracker) beginPhase(phase string, total int) {
	t.span = spanFor(phase)
	t.phaseDone = 0
	t.phaseTotal = total
	t.phaseStartedAt = t.now()
	t.lastPhasePct = -1
	t.job.Phase = phase
	t.job.PhaseDescription = t.span.Description

	switch t.job.Status {
	case domain.JobQueued:
		t.job.Status = domain.JobInitializing
		t.job.StartedAtUnix = t.now().Unix()
	case domain.JobInitializing:
		if phase != domain.PhaseInitializing {
			t.job.Status = domain.JobRunning
		}
	}
	t.refresh(true)
}

// refresh recomputes progress and the ETAs, persists on any integer overall
// change (or when forced by a phase boundary), and notifies the callback on
// any phase percentage change.
func (t *Tracker) refresh(force bool) {
	pct := 0
	if t.phaseTotal > 0 {
		pct = t.phaseDone * 100 / t.phaseTotal
		if pct > 100 {
			pct = 100
		}
	}
	overall := overallAt(t.span, pct)
	if overall < t.job.Progress {
		overall = t.job.Progress
	}
	changed := overall != t.job.Progress
	t.job.Progress = overall
	t.job.ETASeconds = t.overallETA()

	if force || changed {
		if err := t.jobs.Save(context.Background(), t.job, t.job.PhaseDescription); err != nil {
			t.logf("job %s: persist progress: %v", t.job.JobID, err)
		}
	}
	if force || changed || pct != t.lastPhasePct {
		t.lastPhasePct = pct
		t.notify(pct)
	}
}

func (t *Tracker) complete(summary *domain.Summary, files []string) error {
	if !IsValidTransition(t.job.Status, domain.JobCompleted) {
		t.final = *t.job
		return domain.NewEngineError(
			domain.ErrInvalidJobStatus.Code,
			fmt.Sprintf("illegal transition %s -> %s", t.job.Status, domain.JobCompleted),
		)
	}
	t.job.Status = domain.JobCompleted
	t.job.Progress = 100
	t.job.ETASeconds = 0
	t.job.PhaseDescription = "job completed"
	t.job.CompletedAtUnix = t.now().Unix()
	t.job.Summary = summary
	t.job.OutputFiles = files

	err := t.jobs.Save(context.Background(), t.job, "job completed")
	t.lastPhasePct = 100
	t.notify(100)
	t.final = *t.job
	return err
}

func (t *Tracker) abort(cause error) error {
	t.job.Error = cause.Error()
	t.job.PhaseDescription = "job failed"
	t.job.CompletedAtUnix = t.now().Unix()
	if IsValidTransition(t.job.Status, domain.JobFailed) {
		t.job.Status = domain.JobFailed
	}

	err := t.jobs.Save(context.Background(), t.job, "job failed: "+cause.Error())
	t.final = *t.job
	return err
}

func (t *Tracker) notify(pct int) {
	if t.progressFn == nil {
		return
	}
	t.progressFn(t.job.Progress, domain.ProgressDetail{
		Phase:             t.job.Phase,
		Description:       t.job.PhaseDescription,
		PhasePercent:      pct,
		PhaseETASeconds:   t.phaseETA(pct),
		OverallETASeconds: t.job.ETASeconds,
	})
}

func (t *Tracker) phaseETA(pct int) float64 {
	if pct <= 0 || pct >= 100 {
		return 0
	}
	elapsed := t.now().Sub(t.phaseStartedAt).Seconds()
	return elapsed / float64(pct) * float64(100-pct)
}

func (t *Tracker) overallETA() float64 {
	p := t.job.Progress
	if p <= 0 || p >= 100 {
		return 0
	}
	elapsed := t.now().Sub(t.startedAt).Seconds()
	return elapsed / float64(p) * float64(100-p)
}
