package pipeline

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/medforge/casgen/internal/domain"
	"github.com/medforge/casgen/internal/output"
	"github.com/medforge/casgen/internal/resources"
	"github.com/medforge/casgen/internal/scenario"
)

func testScenario(population int) *scenario.Scenario {
	s := scenario.Default()
	s.Population = population
	return s
}

func newRunner(t *testing.T, id string, mutate func(*Runner)) (*Jobs, *Runner) {
	t.Helper()
	jobs := newTestJobs(t)
	job := newTestJob(id)
	if err := jobs.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	r := &Runner{
		Jobs:   jobs,
		Job:    job,
		Budget: resources.Budget{Workers: 2, BatchSize: 50},
	}
	if mutate != nil {
		mutate(r)
	}
	return jobs, r
}

func TestRunnerCompletesJob(t *testing.T) {
	dir := t.TempDir()
	w, err := output.NewWriter(dir, []string{scenario.FormatNDJSON})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	jobs, r := newRunner(t, "run-1", func(r *Runner) { r.Sink = w })

	outcome, err := r.Run(context.Background(), testScenario(200), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcome.Summary.Requested != 200 || outcome.Summary.Produced != 200 {
		t.Errorf("requested/produced = %d/%d, want 200/200",
			outcome.Summary.Requested, outcome.Summary.Produced)
	}
	if len(outcome.Casualties) != 200 || len(outcome.Documents) != 200 {
		t.Errorf("casualties/documents = %d/%d, want 200/200",
			len(outcome.Casualties), len(outcome.Documents))
	}
	for i := 1; i < len(outcome.Casualties); i++ {
		if outcome.Casualties[i].ID <= outcome.Casualties[i-1].ID {
			t.Fatalf("casualties not ordered by ID at index %d", i)
		}
	}

	c := outcome.Casualties[0]
	if c.Demographics == nil || c.Demographics.GivenName == "" {
		t.Error("demographics not attached")
	}
	if len(c.Conditions) == 0 {
		t.Error("conditions not attached")
	}
	if c.FinalStatus != domain.StateKIA && c.FinalStatus != domain.StateRTD {
		t.Errorf("final status = %q, want a terminal state", c.FinalStatus)
	}

	if len(outcome.OutputFiles) != 1 {
		t.Fatalf("output files = %v, want one NDJSON file", outcome.OutputFiles)
	}
	if _, err := os.Stat(outcome.OutputFiles[0]); err != nil {
		t.Errorf("output file missing: %v", err)
	}

	got, err := jobs.GetJob(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != domain.JobCompleted || got.Progress != 100 {
		t.Errorf("job = %s at %d, want completed at 100", got.Status, got.Progress)
	}
	if got.Summary == nil {
		t.Fatal("summary not persisted")
	}
	byFront := 0
	for _, n := range got.Summary.ByFront {
		byFront += n
	}
	if byFront != got.Summary.Produced {
		t.Errorf("front counts sum to %d, want %d", byFront, got.Summary.Produced)
	}
	if math.Abs(got.Summary.KIAFraction+got.Summary.RTDFraction-1) > 1e-9 {
		t.Errorf("KIA %.3f + RTD %.3f should cover every casualty",
			got.Summary.KIAFraction, got.Summary.RTDFraction)
	}

	stats, err := jobs.StatRepo.ListByJob(context.Background(), jobs.DB, "run-1")
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(stats) != 6 {
		t.Errorf("got %d phase stats, want 6 (compress and encrypt skipped)", len(stats))
	}
}

func TestRunnerResolvesZeroSeed(t *testing.T) {
	jobs, r := newRunner(t, "run-seed", nil)
	r.Job.Seed = 0

	if _, err := r.Run(context.Background(), testScenario(50), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := jobs.GetJob(context.Background(), "run-seed")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Seed == 0 {
		t.Error("zero seed was not replaced and stored")
	}
}

func TestRunnerDeterministicForSeed(t *testing.T) {
	run := func(id string) *Outcome {
		_, r := newRunner(t, id, func(r *Runner) {
			r.Budget = resources.Budget{Workers: 4, BatchSize: 100}
		})
		r.Job.Seed = 7
		out, err := r.Run(context.Background(), testScenario(600), nil)
		if err != nil {
			t.Fatalf("Run %s: %v", id, err)
		}
		return out
	}

	a := run("run-a")
	b := run("run-b")
	if len(a.Casualties) != len(b.Casualties) {
		t.Fatalf("runs differ in size: %d vs %d", len(a.Casualties), len(b.Casualties))
	}
	for i := range a.Casualties {
		ca, cb := a.Casualties[i], b.Casualties[i]
		if ca.ID != cb.ID || ca.Front != cb.Front || ca.InjuryType != cb.InjuryType ||
			ca.FinalStatus != cb.FinalStatus || ca.Demographics.ServiceNumber != cb.Demographics.ServiceNumber {
			t.Fatalf("casualty %d differs between identical seeds:\n%+v\n%+v", i, ca, cb)
		}
	}
}

// failingEnricher fails demographics for one casualty ID and delegates the
// rest to the standard enricher.
type failingEnricher struct {
	*StandardEnricher
	failID int
}

func (e *failingEnricher) Demographics(rng *rand.Rand, c *domain.Casualty) error {
	if c.ID == e.failID {
		return errors.New("demographics exploded")
	}
	return e.StandardEnricher.Demographics(rng, c)
}

func TestRunnerFailFast(t *testing.T) {
	jobs, r := newRunner(t, "run-ff", func(r *Runner) {
		r.Budget = resources.Budget{Workers: 2, BatchSize: 25}
		r.Enrich = &failingEnricher{StandardEnricher: NewStandardEnricher(2025), failID: 10}
	})
	r.Job.Policy = domain.FailFast

	_, err := r.Run(context.Background(), testScenario(100), nil)
	var ee *domain.EngineError
	if !errors.As(err, &ee) || ee.Code != domain.ErrBatchFailed.Code {
		t.Fatalf("Run error = %v, want batch failure", err)
	}

	got, gerr := jobs.GetJob(context.Background(), "run-ff")
	if gerr != nil {
		t.Fatalf("GetJob: %v", gerr)
	}
	if got.Status != domain.JobFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Error("failure cause not recorded on the job")
	}
}

func TestRunnerBestEffortDropsFailedBatch(t *testing.T) {
	jobs, r := newRunner(t, "run-be", func(r *Runner) {
		r.Budget = resources.Budget{Workers: 2, BatchSize: 25}
		r.Enrich = &failingEnricher{StandardEnricher: NewStandardEnricher(2025), failID: 10}
	})

	out, err := r.Run(context.Background(), testScenario(100), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Summary.FailedBatches != 1 {
		t.Errorf("failed batches = %d, want 1", out.Summary.FailedBatches)
	}
	if out.Summary.Produced != 75 || out.Summary.DroppedCasualties != 25 {
		t.Errorf("produced/dropped = %d/%d, want 75/25",
			out.Summary.Produced, out.Summary.DroppedCasualties)
	}
	for _, c := range out.Casualties {
		if c.ID == 10 {
			t.Error("casualty from the failed batch survived")
		}
	}

	got, gerr := jobs.GetJob(context.Background(), "run-be")
	if gerr != nil {
		t.Fatalf("GetJob: %v", gerr)
	}
	if got.Status != domain.JobCompleted {
		t.Errorf("status = %s, want completed despite the dropped batch", got.Status)
	}
}

// cancellingEnricher cancels the run's context after a set number of
// demographics calls.
type cancellingEnricher struct {
	*StandardEnricher
	cancel context.CancelFunc
	after  int32
	count  int32
}

func (e *cancellingEnricher) Demographics(rng *rand.Rand, c *domain.Casualty) error {
	if atomic.AddInt32(&e.count, 1) == e.after {
		e.cancel()
	}
	return e.StandardEnricher.Demographics(rng, c)
}

func TestRunnerCancellationFailsJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs, r := newRunner(t, "run-cancel", func(r *Runner) {
		r.Budget = resources.Budget{Workers: 2, BatchSize: 100}
		r.Enrich = &cancellingEnricher{
			StandardEnricher: NewStandardEnricher(2025),
			cancel:           cancel,
			after:            150,
		}
	})

	_, err := r.Run(ctx, testScenario(600), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}

	got, gerr := jobs.GetJob(context.Background(), "run-cancel")
	if gerr != nil {
		t.Fatalf("GetJob: %v", gerr)
	}
	if got.Status != domain.JobFailed {
		t.Errorf("status = %s, want failed after cancellation", got.Status)
	}
	if got.Error != context.Canceled.Error() {
		t.Errorf("error = %q, want %q", got.Error, context.Canceled.Error())
	}
}

// recordingSink captures chunk sizes and append flags.
type recordingSink struct {
	chunks  []int
	appends []bool
}

func (s *recordingSink) WriteChunk(_ context.Context, docs []any, isAppend bool) ([]string, error) {
	s.chunks = append(s.chunks, len(docs))
	s.appends = append(s.appends, isAppend)
	return []string{"out.ndjson"}, nil
}

func TestRunnerFlushesLargeDocSetsInChunks(t *testing.T) {
	sink := &recordingSink{}
	_, r := newRunner(t, "run-chunks", func(r *Runner) {
		r.Budget = resources.Budget{Workers: 2, BatchSize: 600}
		r.Sink = sink
	})

	out, err := r.Run(context.Background(), testScenario(2500), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantChunks := []int{1000, 1000, 500}
	if len(sink.chunks) != len(wantChunks) {
		t.Fatalf("chunks = %v, want %v", sink.chunks, wantChunks)
	}
	for i, n := range wantChunks {
		if sink.chunks[i] != n {
			t.Errorf("chunk %d = %d docs, want %d", i, sink.chunks[i], n)
		}
	}
	wantAppends := []bool{false, true, true}
	for i, a := range wantAppends {
		if sink.appends[i] != a {
			t.Errorf("append flags = %v, want %v", sink.appends, wantAppends)
			break
		}
	}
	if len(out.OutputFiles) != 1 || out.OutputFiles[0] != "out.ndjson" {
		t.Errorf("output files = %v, want deduplicated single path", out.OutputFiles)
	}
}

func TestRunnerSingleChunkBelowCap(t *testing.T) {
	sink := &recordingSink{}
	_, r := newRunner(t, "run-small", func(r *Runner) { r.Sink = sink })

	if _, err := r.Run(context.Background(), testScenario(300), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.chunks) != 1 || sink.chunks[0] != 300 || sink.appends[0] {
		t.Fatalf("chunks = %v appends = %v, want one non-append chunk of 300",
			sink.chunks, sink.appends)
	}
}

func TestRunnerCompressAndEncrypt(t *testing.T) {
	w, err := output.NewWriter(t.TempDir(), []string{scenario.FormatNDJSON})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	enc, err := output.NewEncryptor(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	_, r := newRunner(t, "run-sealed", func(r *Runner) {
		r.Sink = w
		r.Output = scenario.OutputOptions{Compress: true, Encrypt: true}
		r.Encryptor = enc
	})

	out, err := r.Run(context.Background(), testScenario(50), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.OutputFiles) != 1 {
		t.Fatalf("output files = %v", out.OutputFiles)
	}
	f := out.OutputFiles[0]
	if !strings.HasSuffix(f, ".gz.enc") {
		t.Fatalf("file = %q, want compressed and sealed suffix", f)
	}
	if _, err := os.Stat(f); err != nil {
		t.Errorf("sealed file missing: %v", err)
	}
	if _, err := os.Stat(strings.TrimSuffix(f, ".gz.enc")); !os.IsNotExist(err) {
		t.Errorf("plaintext original still present")
	}
}

func TestRunnerEncryptWithoutKeyFails(t *testing.T) {
	w, err := output.NewWriter(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	jobs, r := newRunner(t, "run-nokey", func(r *Runner) {
		r.Sink = w
		r.Output = scenario.OutputOptions{Encrypt: true}
	})

	_, err = r.Run(context.Background(), testScenario(50), nil)
	var ee *domain.EngineError
	if !errors.As(err, &ee) || ee.Code != domain.ErrEncryptionKey.Code {
		t.Fatalf("Run error = %v, want missing encryption key", err)
	}
	got, gerr := jobs.GetJob(context.Background(), "run-nokey")
	if gerr != nil {
		t.Fatalf("GetJob: %v", gerr)
	}
	if got.Status != domain.JobFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}
