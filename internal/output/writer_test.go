package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/medforge/casgen/internal/scenario"
)

func sampleDocs(start, n int) []any {
	docs := make([]any, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, map[string]any{"id": start + i, "resourceType": "Bundle"})
	}
	return docs
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var doc map[string]any
		if err := json.Unmarshal(sc.Bytes(), &doc); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", len(out)+1, err)
		}
		out = append(out, doc)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scanning %s: %v", path, err)
	}
	return out
}

func TestWriteChunk_AppendGrowsNDJSON(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, []string{scenario.FormatNDJSON})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	ctx := context.Background()

	if _, err := w.WriteChunk(ctx, sampleDocs(0, 2), false); err != nil {
		t.Fatalf("first chunk failed: %v", err)
	}
	if _, err := w.WriteChunk(ctx, sampleDocs(2, 3), true); err != nil {
		t.Fatalf("append chunk failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "casualties.ndjson"))
	if len(lines) != 5 {
		t.Fatalf("ndjson has %d documents, want 5", len(lines))
	}
	for i, doc := range lines {
		if int(doc["id"].(float64)) != i {
			t.Fatalf("document %d has id %v", i, doc["id"])
		}
	}
}

func TestWriteChunk_FreshChunkTruncates(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, []string{scenario.FormatNDJSON})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	ctx := context.Background()

	w.WriteChunk(ctx, sampleDocs(0, 4), false)
	w.WriteChunk(ctx, sampleDocs(0, 2), false)

	lines := readLines(t, filepath.Join(dir, "casualties.ndjson"))
	if len(lines) != 2 {
		t.Fatalf("fresh chunk left %d documents, want 2", len(lines))
	}
}

func TestWriteChunk_BundleFilesRotate(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, []string{scenario.FormatBundle})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	ctx := context.Background()

	first, err := w.WriteChunk(ctx, sampleDocs(0, 2), false)
	if err != nil {
		t.Fatalf("first chunk failed: %v", err)
	}
	second, err := w.WriteChunk(ctx, sampleDocs(2, 2), true)
	if err != nil {
		t.Fatalf("second chunk failed: %v", err)
	}
	if first[0] != "bundles-0001.json" || second[0] != "bundles-0002.json" {
		t.Fatalf("chunk files = %v, %v", first, second)
	}

	var docs []map[string]any
	data, err := os.ReadFile(filepath.Join(dir, "bundles-0002.json"))
	if err != nil {
		t.Fatalf("reading second file: %v", err)
	}
	if err := json.Unmarshal(data, &docs); err != nil {
		t.Fatalf("second file is not a JSON array: %v", err)
	}
	if len(docs) != 2 || int(docs[0]["id"].(float64)) != 2 {
		t.Fatalf("second file docs = %v", docs)
	}
}

func TestWriteChunk_BothFormats(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, []string{scenario.FormatNDJSON, scenario.FormatBundle})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	ctx := context.Background()

	touched, err := w.WriteChunk(ctx, sampleDocs(0, 3), false)
	if err != nil {
		t.Fatalf("WriteChunk failed: %v", err)
	}
	if len(touched) != 2 {
		t.Fatalf("touched %v, want two files", touched)
	}
	w.WriteChunk(ctx, sampleDocs(3, 3), true)

	files := w.Files()
	want := []string{"casualties.ndjson", "bundles-0001.json", "bundles-0002.json"}
	if len(files) != len(want) {
		t.Fatalf("Files() = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("Files()[%d] = %s, want %s", i, files[i], want[i])
		}
	}
}

func TestWriteChunk_CanceledContext(t *testing.T) {
	w, err := NewWriter(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.WriteChunk(ctx, sampleDocs(0, 1), false); err == nil {
		t.Fatal("expected canceled context to abort the write")
	}
}

func TestNewWriter_RejectsUnknownFormat(t *testing.T) {
	if _, err := NewWriter(t.TempDir(), []string{"parquet"}); err == nil {
		t.Fatal("expected unknown format to be rejected")
	}
}

func TestWriteChunk_ChunkedTotalsMatch(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, []string{scenario.FormatNDJSON})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	ctx := context.Background()

	// 2500 documents in sub-chunks of 1000.
	total := 2500
	for off := 0; off < total; off += 1000 {
		n := 1000
		if off+n > total {
			n = total - off
		}
		if _, err := w.WriteChunk(ctx, sampleDocs(off, n), off > 0); err != nil {
			t.Fatalf("chunk at %d failed: %v", off, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "casualties.ndjson"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if got := bytes.Count(data, []byte("\n")); got != total {
		t.Fatalf("output has %d documents, want %d", got, total)
	}
}
