// Package pipeline drives a generation job through its phases: flow
// simulation, demographic and clinical enrichment, bundle assembly, and the
// output stages. Phase work fans out over a bounded worker pool; job state
// is owned by a single tracker goroutine for the life of the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/medforge/casgen/internal/domain"
	"github.com/medforge/casgen/internal/metrics"
	"github.com/medforge/casgen/internal/output"
	"github.com/medforge/casgen/internal/resources"
	"github.com/medforge/casgen/internal/scenario"
	"github.com/medforge/casgen/internal/sim"
)

const (
	// parallelThreshold is the population below which every phase runs on
	// a single worker.
	parallelThreshold = 500
	// maxChunkDocs caps how many documents one sink write may carry.
	maxChunkDocs = 1000

	defaultBatchSize = 500
)

// Outcome is what a finished job hands back to the caller.
type Outcome struct {
	Casualties  []domain.Casualty
	Documents   []any
	OutputFiles []string
	Summary     *domain.Summary
}

// Runner executes one generation job end to end. Jobs and Job are required;
// the job must already be enqueued. The budget is computed once upstream and
// never re-read during the run.
type Runner struct {
	Jobs      *Jobs
	Job       *domain.GenerationJob
	Budget    resources.Budget
	Output    scenario.OutputOptions
	Enrich    Enricher          // nil selects the standard enricher
	Sink      Sink              // nil skips the output phases
	Encryptor *output.Encryptor // required when Output.Encrypt is set
	Metrics   *metrics.Recorder // optional
	Logf      func(format string, args ...any)
}

// Run drives the job through every phase. On error the job is marked failed
// with the cause; on success the job record carries the summary at progress
// 100. progressFn may be nil.
func (r *Runner) Run(ctx context.Context, scn *scenario.Scenario, progressFn ProgressFunc) (*Outcome, error) {
	if r.Job.Seed == 0 {
		r.Job.Seed = time.Now().UnixNano()
	}
	r.Job.Requested = scn.Population

	tr := NewTracker(r.Jobs, r.Job, progressFn, r.Logf)
	tr.Start()
	if r.Metrics != nil {
		r.Metrics.JobStarted()
	}

	outcome, err := r.run(ctx, scn, tr)
	if err != nil {
		if perr := tr.Fail(err); perr != nil {
			r.logf("job %s: persist failure state: %v", r.Job.JobID, perr)
		}
		if r.Metrics != nil {
			r.Metrics.JobFinished(string(domain.JobFailed))
		}
		return nil, err
	}

	if r.Metrics != nil {
		r.Metrics.JobFinished(string(domain.JobCompleted))
		r.Metrics.CasualtiesProduced(outcome.Summary.Produced)
		r.Metrics.CasualtiesDropped(outcome.Summary.DroppedCasualties)
	}
	return outcome, nil
}

func (r *Runner) run(ctx context.Context, scn *scenario.Scenario, tr *Tracker) (*Outcome, error) {
	if scn.Population <= 0 {
		return nil, domain.ErrInvalidPopulation
	}

	started := time.Now()
	seed := r.Job.Seed
	policy := r.Job.Policy
	if policy == "" {
		policy = domain.BestEffort
	}
	workers := r.Budget.Workers
	if workers < 1 {
		workers = 1
	}
	if scn.Population < parallelThreshold {
		workers = 1
	}
	batchSize := r.Budget.BatchSize
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}

	tr.BeginPhase(domain.PhaseInitializing, 1)
	phaseStart := time.Now()
	flow, err := sim.NewFlowSimulator(scn, r.Logf)
	if err != nil {
		return nil, err
	}
	enricher := r.Enrich
	if enricher == nil {
		refYear := time.Now().Year()
		if t, perr := time.Parse("2006-01-02", scn.StartDate); perr == nil {
			refYear = t.Year()
		}
		enricher = NewStandardEnricher(refYear)
	}
	tr.Advance(1)
	r.endPhase(domain.PhaseInitializing, phaseStart, 1, 0)

	casualties, err := r.flowPhase(ctx, tr, flow, scn.Population, workers, batchSize, seed, policy)
	if err != nil {
		return nil, err
	}

	phaseStart = time.Now()
	failed, batches, err := r.enrichPhase(ctx, tr, domain.PhaseDemographics, len(casualties), workers, batchSize, seed, policy,
		func(rng *rand.Rand, i int) error { return enricher.Demographics(rng, &casualties[i]) })
	if err != nil {
		return nil, err
	}
	removed := 0
	if len(failed) > 0 {
		casualties, removed = compactSegments(casualties, batches, failed)
		tr.Produced(-removed)
	}
	r.endPhase(domain.PhaseDemographics, phaseStart, len(casualties), removed)

	phaseStart = time.Now()
	failed, batches, err = r.enrichPhase(ctx, tr, domain.PhaseMedical, len(casualties), workers, batchSize, seed, policy,
		func(rng *rand.Rand, i int) error { return enricher.Conditions(rng, &casualties[i]) })
	if err != nil {
		return nil, err
	}
	removed = 0
	if len(failed) > 0 {
		casualties, removed = compactSegments(casualties, batches, failed)
		tr.Produced(-removed)
	}
	r.endPhase(domain.PhaseMedical, phaseStart, len(casualties), removed)

	phaseStart = time.Now()
	docs := make([]any, len(casualties))
	failed, batches, err = r.enrichPhase(ctx, tr, domain.PhaseBundle, len(casualties), workers, batchSize, seed, policy,
		func(_ *rand.Rand, i int) error {
			doc, berr := enricher.Bundle(casualties[i])
			if berr != nil {
				return berr
			}
			docs[i] = doc
			return nil
		})
	if err != nil {
		return nil, err
	}
	removed = 0
	if len(failed) > 0 {
		casualties, removed = compactSegments(casualties, batches, failed)
		docs, _ = compactSegments(docs, batches, failed)
		tr.Produced(-removed)
	}
	r.endPhase(domain.PhaseBundle, phaseStart, len(casualties), removed)

	files, err := r.outputPhases(ctx, tr, docs, policy)
	if err != nil {
		return nil, err
	}

	snap := tr.Snapshot()
	summary := buildSummary(&snap, casualties, time.Since(started))
	summary.OutputFiles = files
	if err := tr.Finish(summary, files); err != nil {
		return nil, err
	}

	return &Outcome{
		Casualties:  casualties,
		Documents:   docs,
		OutputFiles: files,
		Summary:     summary,
	}, nil
}

// flowPhase generates the requested population and walks each casualty to a
// terminal state. Under BestEffort, casualties whose walk fails are dropped
// and counted; under FailFast the first failure aborts the job. Parallel
// runs are sorted by ID afterwards so output order is deterministic.
func (r *Runner) flowPhase(
	ctx context.Context,
	tr *Tracker,
	flow *sim.FlowSimulator,
	population, workers, batchSize int,
	seed int64,
	policy domain.FailurePolicy,
) ([]domain.Casualty, error) {
	tr.BeginPhase(domain.PhaseFlow, population)
	phaseStart := time.Now()
	salt := spanFor(domain.PhaseFlow).Start
	batches := splitBatches(population, batchSize)

	casualties := make([]domain.Casualty, 0, population)
	run := func(ctx context.Context, b batch) batchResult {
		rng := batchRNG(seed, salt, b.index)
		res := batchResult{batch: b}
		out := make([]domain.Casualty, 0, b.count)
		for i := 0; i < b.count; i++ {
			if err := ctx.Err(); err != nil {
				res.err = err
				return res
			}
			c, err := flow.Simulate(rng, b.start+i+1)
			if err != nil {
				if policy == domain.FailFast {
					res.err = err
					return res
				}
				continue
			}
			out = append(out, c)
		}
		res.casualties = out
		return res
	}
	collect := func(res batchResult) error {
		tr.Advance(res.batch.count)
		if res.err != nil {
			if isCtxErr(res.err) {
				return res.err
			}
			tr.BatchFailed()
			if r.Metrics != nil {
				r.Metrics.BatchFailed()
			}
			if policy == domain.FailFast {
				return domain.WrapEngineError(domain.ErrBatchFailed.Code,
					fmt.Sprintf("flow batch %d", res.batch.index), res.err)
			}
			return nil
		}
		casualties = append(casualties, res.casualties...)
		tr.Produced(len(res.casualties))
		return nil
	}
	if err := runPool(ctx, workers, batches, run, collect); err != nil {
		return nil, err
	}

	if workers > 1 {
		sort.Slice(casualties, func(i, j int) bool { return casualties[i].ID < casualties[j].ID })
	}
	if len(casualties) == 0 {
		return nil, domain.ErrNoCasualties
	}
	r.endPhase(domain.PhaseFlow, phaseStart, len(casualties), population-len(casualties))
	return casualties, nil
}

// enrichPhase runs fn over every casualty index in parallel batches and
// returns the indexes of batches that failed under BestEffort. Context
// errors and fail-fast batch errors abort the phase.
func (r *Runner) enrichPhase(
	ctx context.Context,
	tr *Tracker,
	phase string,
	n, workers, batchSize int,
	seed int64,
	policy domain.FailurePolicy,
	fn func(rng *rand.Rand, i int) error,
) (map[int]bool, []batch, error) {
	tr.BeginPhase(phase, n)
	salt := spanFor(phase).Start
	batches := splitBatches(n, batchSize)
	failed := make(map[int]bool)

	run := func(ctx context.Context, b batch) batchResult {
		rng := batchRNG(seed, salt, b.index)
		res := batchResult{batch: b}
		for i := b.start; i < b.start+b.count; i++ {
			if err := ctx.Err(); err != nil {
				res.err = err
				return res
			}
			if err := fn(rng, i); err != nil {
				res.err = err
				return res
			}
		}
		return res
	}
	collect := func(res batchResult) error {
		tr.Advance(res.batch.count)
		if res.err == nil {
			return nil
		}
		if isCtxErr(res.err) {
			return res.err
		}
		tr.BatchFailed()
		if r.Metrics != nil {
			r.Metrics.BatchFailed()
		}
		if policy == domain.FailFast {
			return domain.WrapEngineError(domain.ErrBatchFailed.Code,
				fmt.Sprintf("%s batch %d", phase, res.batch.index), res.err)
		}
		failed[res.batch.index] = true
		return nil
	}
	if err := runPool(ctx, workers, batches, run, collect); err != nil {
		return nil, nil, err
	}
	return failed, batches, nil
}

// outputPhases writes documents through the sink in capped sub-chunks, then
// compresses and encrypts the written files when requested. A nil sink skips
// all three phases without touching their progress spans.
func (r *Runner) outputPhases(ctx context.Context, tr *Tracker, docs []any, policy domain.FailurePolicy) ([]string, error) {
	if r.Sink == nil {
		return nil, nil
	}

	chunkSize := r.Output.ChunkSize
	if chunkSize <= 0 || chunkSize > maxChunkDocs {
		chunkSize = maxChunkDocs
	}
	chunks := splitBatches(len(docs), chunkSize)

	tr.BeginPhase(domain.PhaseFormat, len(chunks))
	phaseStart := time.Now()
	var files []string
	seen := make(map[string]bool)
	wrote := 0
	for _, ch := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		paths, werr := r.Sink.WriteChunk(ctx, docs[ch.start:ch.start+ch.count], wrote > 0)
		tr.Advance(1)
		if werr != nil {
			tr.BatchFailed()
			if r.Metrics != nil {
				r.Metrics.BatchFailed()
			}
			if policy == domain.FailFast {
				return nil, domain.WrapEngineError(domain.ErrOutputWrite.Code,
					fmt.Sprintf("chunk %d", ch.index), werr)
			}
			continue
		}
		wrote += ch.count
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				files = append(files, p)
			}
		}
	}
	r.endPhase(domain.PhaseFormat, phaseStart, wrote, len(docs)-wrote)

	if r.Output.Compress && len(files) > 0 {
		var err error
		files, err = r.fileTransform(ctx, tr, domain.PhaseCompress, files, policy, output.GzipFile)
		if err != nil {
			return nil, err
		}
	}

	if r.Output.Encrypt && len(files) > 0 {
		if r.Encryptor == nil {
			return nil, domain.NewEngineError(domain.ErrEncryptionKey.Code,
				"encryption requested but no key configured")
		}
		var err error
		files, err = r.fileTransform(ctx, tr, domain.PhaseEncrypt, files, policy, r.Encryptor.SealFile)
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// fileTransform replaces each file with the result of fn. Under BestEffort a
// failed file keeps its original form and counts as a failed batch.
func (r *Runner) fileTransform(
	ctx context.Context,
	tr *Tracker,
	phase string,
	files []string,
	policy domain.FailurePolicy,
	fn func(string) (string, error),
) ([]string, error) {
	tr.BeginPhase(phase, len(files))
	phaseStart := time.Now()
	done := 0
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := fn(f)
		tr.Advance(1)
		if err != nil {
			tr.BatchFailed()
			if r.Metrics != nil {
				r.Metrics.BatchFailed()
			}
			if policy == domain.FailFast {
				return nil, err
			}
			continue
		}
		files[i] = out
		done++
	}
	r.endPhase(phase, phaseStart, done, len(files)-done)
	return files, nil
}

// endPhase records one phase's timing in the stats table and the histogram.
func (r *Runner) endPhase(phase string, started time.Time, processed, failed int) {
	d := time.Since(started)
	if r.Metrics != nil {
		r.Metrics.ObservePhase(phase, d)
	}
	stat := domain.PhaseStat{
		JobID:      r.Job.JobID,
		Phase:      phase,
		DurationMS: d.Milliseconds(),
		Processed:  processed,
		Failed:     failed,
	}
	if err := r.Jobs.RecordPhaseStat(context.Background(), stat); err != nil {
		r.logf("job %s: record %s stat: %v", r.Job.JobID, phase, err)
	}
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

func isCtxErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
