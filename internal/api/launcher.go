// Package api provides the HTTP API for the casualty generation engine.
package api

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/medforge/casgen/internal/archive"
	"github.com/medforge/casgen/internal/artifact"
	"github.com/medforge/casgen/internal/domain"
	"github.com/medforge/casgen/internal/guard"
	"github.com/medforge/casgen/internal/metrics"
	"github.com/medforge/casgen/internal/output"
	"github.com/medforge/casgen/internal/pipeline"
	"github.com/medforge/casgen/internal/resources"
	"github.com/medforge/casgen/internal/scenario"
	"github.com/medforge/casgen/internal/store"
)

// Launcher starts generation jobs in the background and supervises their
// lifecycle: job slots, per-job cancellation, artifact registration, and the
// optional archive mirror. Optional fields may be set before the first
// Launch call.
type Launcher struct {
	Jobs       *pipeline.Jobs
	Guard      *guard.Guard
	Calibrator *resources.Calibrator

	Metrics      *metrics.Recorder
	Artifacts    artifact.Store
	ArtifactRepo *store.ArtifactRepo
	Archiver     *archive.Archiver
	Encryptor    *output.Encryptor
	OutputDir    string
	Logf         func(format string, args ...any)

	// DefaultWorkers applies when a job does not request a worker count.
	DefaultWorkers int

	baseCtx context.Context
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewLauncher creates a Launcher whose jobs run under baseCtx; cancelling it
// cancels every running job.
func NewLauncher(baseCtx context.Context, jobs *pipeline.Jobs, g *guard.Guard) *Launcher {
	return &Launcher{
		Jobs:         jobs,
		Guard:        g,
		Calibrator:   &resources.Calibrator{},
		ArtifactRepo: &store.ArtifactRepo{},
		baseCtx:      baseCtx,
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Launch reserves a job slot, persists the queued job, and starts its
// pipeline in the background.
func (l *Launcher) Launch(job *domain.GenerationJob, scn *scenario.Scenario, out scenario.OutputOptions) error {
	if l.Guard != nil {
		if err := l.Guard.AdmitJob(l.baseCtx, job.JobID); err != nil {
			return err
		}
	}

	workers := job.WorkerCount
	if workers == 0 {
		workers = l.DefaultWorkers
	}
	budget := l.Calibrator.Calibrate(scn.Population, workers)
	job.WorkerCount = budget.Workers
	job.BatchSize = budget.BatchSize

	if err := l.Jobs.Enqueue(l.baseCtx, job); err != nil {
		if l.Guard != nil {
			l.Guard.FinishJob(job.JobID)
		}
		return err
	}
	if l.Metrics != nil {
		l.Metrics.JobSubmitted()
	}

	ctx, cancel := context.WithCancel(l.baseCtx)
	l.mu.Lock()
	l.cancels[job.JobID] = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go l.run(ctx, job, scn, out, budget)
	return nil
}

// Cancel aborts a running job. It reports whether a job with that ID was
// running.
func (l *Launcher) Cancel(jobID string) bool {
	l.mu.Lock()
	cancel, ok := l.cancels[jobID]
	l.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every launched job has finished. Intended for shutdown,
// after the base context has been cancelled.
func (l *Launcher) Wait() {
	l.wg.Wait()
}

func (l *Launcher) run(ctx context.Context, job *domain.GenerationJob, scn *scenario.Scenario, out scenario.OutputOptions, budget resources.Budget) {
	defer l.wg.Done()
	defer l.forget(job.JobID)
	if l.Guard != nil {
		defer l.Guard.FinishJob(job.JobID)
	}

	w, err := output.NewWriter(filepath.Join(l.OutputDir, job.JobID), out.Formats)
	if err != nil {
		job.Error = err.Error()
		if terr := l.Jobs.Transition(context.Background(), job, domain.JobFailed, "output writer: "+err.Error()); terr != nil {
			l.logf("job %s: recording writer failure: %v", job.JobID, terr)
		}
		if l.Metrics != nil {
			l.Metrics.JobFinished(string(domain.JobFailed))
		}
		return
	}

	runner := &pipeline.Runner{
		Jobs:      l.Jobs,
		Job:       job,
		Budget:    budget,
		Output:    out,
		Sink:      w,
		Encryptor: l.Encryptor,
		Metrics:   l.Metrics,
		Logf:      l.Logf,
	}
	outcome, err := runner.Run(ctx, scn, nil)
	if err != nil {
		l.logf("job %s failed: %v", job.JobID, err)
		return
	}

	l.registerArtifacts(job, outcome.OutputFiles)
	l.archiveJob(job)
}

// registerArtifacts uploads the job's output files to the artifact store and
// records them. Registration failures are logged, not fatal: the files stay
// on local disk either way.
func (l *Launcher) registerArtifacts(job *domain.GenerationJob, files []string) {
	if l.Artifacts == nil {
		return
	}
	ctx := context.Background()
	for _, f := range files {
		src, err := os.Open(f)
		if err != nil {
			l.logf("job %s: opening output %s: %v", job.JobID, f, err)
			continue
		}
		key := artifact.JobKey(job.JobID, filepath.Base(f))
		info, err := l.Artifacts.Put(ctx, key, src, artifact.PutOptions{
			ContentType: contentTypeFor(f),
			Metadata:    map[string]string{"job_id": job.JobID},
		})
		src.Close()
		if err != nil {
			l.logf("job %s: uploading artifact %s: %v", job.JobID, key, err)
			continue
		}
		rec := domain.Artifact{
			Key:           info.Key,
			JobID:         job.JobID,
			SizeBytes:     info.Size,
			ContentType:   info.ContentType,
			SHA256:        info.SHA256,
			CreatedAtUnix: time.Now().Unix(),
		}
		if err := l.ArtifactRepo.Create(ctx, l.Jobs.DB, rec); err != nil {
			l.logf("job %s: recording artifact %s: %v", job.JobID, key, err)
			continue
		}
		if l.Metrics != nil {
			l.Metrics.OutputWritten(formatLabel(f), info.Size)
		}
	}
}

// archiveJob mirrors the finished job into the optional Postgres archive.
func (l *Launcher) archiveJob(job *domain.GenerationJob) {
	if l.Archiver == nil {
		return
	}
	ctx := context.Background()
	snap, err := l.Jobs.GetJob(ctx, job.JobID)
	if err != nil {
		l.logf("job %s: loading snapshot for archive: %v", job.JobID, err)
		return
	}
	stats, err := l.Jobs.StatRepo.ListByJob(ctx, l.Jobs.DB, job.JobID)
	if err != nil {
		l.logf("job %s: loading stats for archive: %v", job.JobID, err)
		stats = nil
	}
	if err := l.Archiver.ArchiveJob(ctx, snap, stats); err != nil {
		l.logf("job %s: archive: %v", job.JobID, err)
	}
}

func (l *Launcher) forget(jobID string) {
	l.mu.Lock()
	cancel, ok := l.cancels[jobID]
	delete(l.cancels, jobID)
	l.mu.Unlock()
	if ok {
		cancel()
	}
}

func (l *Launcher) logf(format string, args ...any) {
	if l.Logf != nil {
		l.Logf(format, args...)
	}
}

func contentTypeFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".enc"):
		return "application/octet-stream"
	case strings.HasSuffix(path, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(path, ".ndjson"):
		return "application/x-ndjson"
	case strings.HasSuffix(path, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func formatLabel(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "raw"
	}
	return strings.TrimPrefix(ext, ".")
}
