// Package main is casgenctl, the operator CLI for a casgen daemon. Key
// management talks to the database directly; job commands go over HTTP.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/medforge/casgen/internal/artifact"
	"github.com/medforge/casgen/internal/config"
	"github.com/medforge/casgen/internal/domain"
	"github.com/medforge/casgen/internal/guard"
	"github.com/medforge/casgen/internal/scenario"
	"github.com/medforge/casgen/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "keys":
		err = runKeys(os.Args[2:])
	case "submit":
		err = runSubmit(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "watch":
		err = runWatch(os.Args[2:])
	case "lint":
		err = runLint(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: casgenctl <command> [flags]

commands:
  keys create   mint a new API key (prints the secret once)
  keys list     list API keys
  keys revoke   disable an API key
  keys history  show the audit trail for a key
  submit        submit a generation job to a running daemon
  status        show a job's current state
  watch         follow a job's event stream
  lint          check a scenario file for plausibility problems
  verify        re-check a stored artifact against its checksum`)
}

// openGuard wires a Guard against the daemon's database for offline key
// management.
func openGuard(configPath string) (*guard.Guard, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	g := guard.NewGuard(db, []byte(cfg.TokenSecret), guard.GuardConfig{
		TokenTTL: time.Duration(cfg.TokenTTLSec) * time.Second,
	})
	return g, func() { db.Close() }, nil
}

func runKeys(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: casgenctl keys <create|list|revoke|history> [flags]")
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("keys "+sub, flag.ExitOnError)
	configPath := fs.String("config", "config.json", "daemon config file")
	label := fs.String("label", "", "human-readable key label")
	scopes := fs.String("scopes", "", "comma-separated scopes (read,submit,admin)")
	rate := fs.Int("rate", 0, "per-key rate limit override, requests per minute")
	keyID := fs.String("id", "", "key ID")
	fs.Parse(args)

	g, closeDB, err := openGuard(*configPath)
	if err != nil {
		return err
	}
	defer closeDB()
	ctx := context.Background()

	switch sub {
	case "create":
		if *label == "" {
			return fmt.Errorf("--label is required")
		}
		var scopeList []string
		if *scopes != "" {
			scopeList = strings.Split(*scopes, ",")
		}
		key, plain, err := g.CreateKey(ctx, *label, scopeList, *rate)
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%s)\n", key.ID, key.Label)
		fmt.Printf("scopes: %s\n", strings.Join(key.Scopes, ","))
		fmt.Printf("\n%s\n\nStore this key now; it cannot be recovered.\n", plain)
		return nil

	case "list":
		keys, err := g.KeyRepo.List(ctx, g.DB)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLABEL\tSCOPES\tRATE\tSTATUS")
		for _, k := range keys {
			status := "active"
			if k.Disabled {
				status = "revoked"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", k.ID, k.Label, strings.Join(k.Scopes, ","), k.RatePerMinute, status)
		}
		return tw.Flush()

	case "revoke":
		if *keyID == "" {
			return fmt.Errorf("--id is required")
		}
		if err := g.RevokeKey(ctx, *keyID); err != nil {
			return err
		}
		fmt.Printf("revoked %s\n", *keyID)
		return nil

	case "history":
		if *keyID == "" {
			return fmt.Errorf("--id is required")
		}
		recs, err := g.Audit.ListBySubject(ctx, g.DB, *keyID)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Printf("no audit records for %s\n", *keyID)
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tACTION\tSEVERITY")
		for _, rec := range recs {
			ts := time.Unix(rec.CreatedAt, 0).UTC().Format(time.RFC3339)
			fmt.Fprintf(tw, "%s\t%s\t%s\n", ts, rec.Action, rec.Severity)
		}
		return tw.Flush()

	default:
		return fmt.Errorf("unknown keys subcommand %q", sub)
	}
}

// client carries the daemon address and API key for HTTP commands.
type client struct {
	addr string
	key  string
	http *http.Client
}

func newClient(addr, key string) *client {
	return &client{
		addr: strings.TrimRight(addr, "/"),
		key:  key,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) do(method, path string, body io.Reader, out any) error {
	req, err := http.NewRequest(method, c.addr+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:9860", "daemon address")
	key := fs.String("key", os.Getenv("CASGEN_API_KEY"), "API key")
	scenarioPath := fs.String("scenario", "", "scenario JSON file")
	scenarioID := fs.String("scenario-id", "", "stored scenario ID")
	seed := fs.Int64("seed", 0, "deterministic seed, 0 picks one")
	workers := fs.Int("workers", 0, "worker override, 0 auto-calibrates")
	wait := fs.Bool("wait", false, "block until the job finishes")
	fs.Parse(args)

	if (*scenarioPath == "") == (*scenarioID == "") {
		return fmt.Errorf("exactly one of --scenario or --scenario-id is required")
	}

	req := scenario.Request{ScenarioID: *scenarioID, Seed: *seed, Workers: *workers}
	if *scenarioPath != "" {
		data, err := os.ReadFile(*scenarioPath)
		if err != nil {
			return err
		}
		scn, err := scenario.Parse(data)
		if err != nil {
			return err
		}
		req.Scenario = scn
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c := newClient(*addr, *key)
	var job domain.GenerationJob
	if err := c.do(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body), &job); err != nil {
		return err
	}
	fmt.Printf("submitted %s (requested %d, workers %d, batch %d)\n", job.JobID, job.Requested, job.WorkerCount, job.BatchSize)

	if !*wait {
		return nil
	}
	for {
		time.Sleep(time.Second)
		var cur domain.GenerationJob
		if err := c.do(http.MethodGet, "/api/v1/jobs/"+job.JobID, nil, &cur); err != nil {
			return err
		}
		fmt.Printf("  %s %d%% %s\n", cur.Status, cur.Progress, cur.Phase)
		if cur.Status == domain.JobCompleted {
			printJob(&cur)
			return nil
		}
		if cur.Status == domain.JobFailed {
			printJob(&cur)
			return fmt.Errorf("job failed: %s", cur.Error)
		}
	}
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:9860", "daemon address")
	key := fs.String("key", os.Getenv("CASGEN_API_KEY"), "API key")
	jobID := fs.String("job", "", "job ID")
	fs.Parse(args)

	if *jobID == "" {
		return fmt.Errorf("--job is required")
	}
	c := newClient(*addr, *key)
	var job domain.GenerationJob
	if err := c.do(http.MethodGet, "/api/v1/jobs/"+*jobID, nil, &job); err != nil {
		return err
	}
	printJob(&job)
	return nil
}

func printJob(job *domain.GenerationJob) {
	fmt.Printf("job %s: %s %d%%\n", job.JobID, job.Status, job.Progress)
	fmt.Printf("  requested %d, produced %d, failed batches %d\n", job.Requested, job.Produced, job.FailedBatches)
	if job.Error != "" {
		fmt.Printf("  error: %s\n", job.Error)
	}
	for _, f := range job.OutputFiles {
		fmt.Printf("  output: %s\n", f)
	}
	if s := job.Summary; s != nil {
		fmt.Printf("  kia %.1f%%, rtd %.1f%%, %.0f casualties/s\n", s.KIAFraction*100, s.RTDFraction*100, s.PerSecond)
	}
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:9860", "daemon address")
	key := fs.String("key", os.Getenv("CASGEN_API_KEY"), "API key")
	jobID := fs.String("job", "", "job ID")
	sinceSeq := fs.Int64("since-seq", 0, "replay events after this sequence number")
	fs.Parse(args)

	if *jobID == "" {
		return fmt.Errorf("--job is required")
	}

	url := fmt.Sprintf("%s/api/v1/jobs/%s/events/stream?since_seq=%d", strings.TrimRight(*addr, "/"), *jobID, *sinceSeq)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if *key != "" {
		req.Header.Set("X-API-Key", *key)
	}

	// No client timeout: the stream stays open until the job finishes.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("stream: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev domain.JobEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			fmt.Println(line)
			continue
		}
		fmt.Printf("[%3d%%] %-14s %s\n", ev.Progress, ev.Phase, ev.Description)
	}
	return scanner.Err()
}

func runLint(args []string) error {
	fs := flag.NewFlagSet("lint", flag.ExitOnError)
	scenarioPath := fs.String("scenario", "", "scenario JSON file")
	fs.Parse(args)

	if *scenarioPath == "" {
		return fmt.Errorf("--scenario is required")
	}
	data, err := os.ReadFile(*scenarioPath)
	if err != nil {
		return err
	}
	scn, err := scenario.Parse(data)
	if err != nil {
		return err
	}

	var lint scenario.Linter
	flagged, warnings := lint.Check(scn)
	if len(warnings) == 0 {
		fmt.Println("scenario looks plausible")
		return nil
	}
	for _, w := range warnings {
		fmt.Printf("warning: %s\n", w)
	}
	if flagged {
		return fmt.Errorf("%d plausibility warnings", len(warnings))
	}
	return nil
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "daemon config file")
	key := fs.String("key", "", "artifact key, e.g. jobs/<job>/casualties.ndjson")
	fs.Parse(args)

	if *key == "" {
		return fmt.Errorf("--key is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := artifact.Open(ctx, artifact.Options{
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
		return err
	}
	if err := artifact.Verify(ctx, s, *key); err != nil {
		return err
	}
	fmt.Printf("%s: checksum ok\n", *key)
	return nil
}
