// Package main is the entry point for the casgen daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/medforge/casgen/internal/api"
	"github.com/medforge/casgen/internal/archive"
	"github.com/medforge/casgen/internal/artifact"
	"github.com/medforge/casgen/internal/config"
	"github.com/medforge/casgen/internal/guard"
	"github.com/medforge/casgen/internal/metrics"
	"github.com/medforge/casgen/internal/output"
	"github.com/medforge/casgen/internal/pipeline"
	"github.com/medforge/casgen/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to configuration JSON file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("casgen %s (commit=%s, built=%s)\n", version, commit, date)
		os.Exit(0)
	}

	// Resolve config path: --config flag > CASGEN_CONFIG env > auto-discover.
	path := *configPath
	if path == "" {
		path = os.Getenv("CASGEN_CONFIG")
	}
	if path == "" {
		path = discoverConfig()
	}
	if path == "" {
		fatal("no config found. Place config.json next to the exe, use --config <path>, or set CASGEN_CONFIG.")
	}

	cfg, err := config.Load(path)
	if err != nil {
		fatal(fmt.Sprintf("load config: %v", err))
	}

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	rec := metrics.NewRecorder()

	g := guard.NewGuard(db, []byte(cfg.TokenSecret), guard.GuardConfig{
		TokenTTL:           time.Duration(cfg.TokenTTLSec) * time.Second,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxConcurrentJobs:  cfg.MaxConcurrentJobs,
	})

	artStore, err := artifact.Open(context.Background(), artifact.Options{
		Driver:          cfg.Artifacts.Driver,
		Root:            cfg.Artifacts.Root,
		Bucket:          cfg.Artifacts.Bucket,
		Region:          cfg.Artifacts.Region,
		Endpoint:        cfg.Artifacts.Endpoint,
		AccessKeyID:     cfg.Artifacts.AccessKeyID,
		SecretAccessKey: cfg.Artifacts.SecretAccessKey,
		SessionToken:    cfg.Artifacts.SessionToken,
		PathStyle:       cfg.Artifacts.PathStyle,
	})
	if err != nil {
		log.Fatalf("open artifact store: %v", err)
	}

	var arch *archive.Archiver
	if cfg.ArchiveDSN != "" {
		arch, err = archive.Open(context.Background(), cfg.ArchiveDSN)
		if err != nil {
			log.Fatalf("open archive: %v", err)
		}
		defer arch.Close()
	}

	var enc *output.Encryptor
	if key := cfg.EncryptionKey(); key != nil {
		enc, err = output.NewEncryptor(key)
		if err != nil {
			log.Fatalf("encryption key: %v", err)
		}
	}

	// Wire the job pipeline. Jobs left non-terminal by a previous run can
	// never finish, so fail them before accepting new work.
	jobs := pipeline.NewJobs(db)
	if n, err := jobs.FailOrphans(context.Background()); err != nil {
		log.Fatalf("fail orphaned jobs: %v", err)
	} else if n > 0 {
		log.Printf("failed %d orphaned job(s) from previous run", n)
	}

	runCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	launcher := api.NewLauncher(runCtx, jobs, g)
	launcher.Metrics = rec
	launcher.Artifacts = artStore
	launcher.Archiver = arch
	launcher.Encryptor = enc
	launcher.OutputDir = cfg.OutputDir
	launcher.DefaultWorkers = cfg.Workers
	launcher.Logf = log.Printf

	handler := &api.Handler{
		DB:           db,
		Jobs:         jobs,
		Guard:        g,
		Launcher:     launcher,
		Metrics:      rec,
		Artifacts:    artStore,
		ScenarioRepo: &store.ScenarioRepo{},
		ArtifactRepo: &store.ArtifactRepo{},
	}

	srv := api.NewServer(handler, cfg.ListenAddr)

	// Graceful shutdown on interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceSec)*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
		cancelJobs()
	}()

	log.Printf("casgen %s listening on %s", version, cfg.ListenAddr)

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		fatal(fmt.Sprintf("server error: %v", err))
	}

	// Running jobs were cancelled above; wait for them to record their
	// terminal status before closing the database.
	launcher.Wait()
	log.Println("all jobs drained")
}

// discoverConfig looks for config.json next to the executable, then in the cwd.
func discoverConfig() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	return ""
}

func fatal(msg string) {
	fmt.Fprintf(os.Stderr, "ERROR: %s\n", msg)
	os.Exit(1)
}
