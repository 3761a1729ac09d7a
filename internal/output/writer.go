// Package output turns finished bundle documents into files: NDJSON or
// per-chunk JSON arrays, optionally gzipped, optionally sealed with AES-GCM.
// The pipeline drives it one sub-chunk at a time so peak memory stays
// bounded regardless of population size.
package output

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/medforge/casgen/internal/domain"
	"github.com/medforge/casgen/internal/scenario"
)

const (
	ndjsonName    = "casualties.ndjson"
	bundleNameFmt = "bundles-%04d.json"
)

// Writer is the output sink for one job. NDJSON output grows a single file
// across sub-chunks; the bundle format emits one numbered JSON array file
// per sub-chunk. Not safe for concurrent use: the pipeline serializes
// chunk writes.
type Writer struct {
	dir       string
	formats   []string
	bundleSeq int
	files     []string
	seen      map[string]bool
}

// NewWriter creates a sink writing into dir, creating it if needed.
// An empty format list defaults to NDJSON.
func NewWriter(dir string, formats []string) (*Writer, error) {
	if len(formats) == 0 {
		formats = []string{scenario.FormatNDJSON}
	}
	for _, f := range formats {
		if f != scenario.FormatNDJSON && f != scenario.FormatBundle {
			return nil, domain.NewEngineError(domain.ErrConfigInvalid.Code,
				fmt.Sprintf("unknown output format %q", f))
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.WrapEngineError(domain.ErrOutputWrite.Code, "creating output directory", err)
	}
	return &Writer{dir: dir, formats: formats, seen: make(map[string]bool)}, nil
}

// WriteChunk serializes one sub-chunk of documents. isAppend is false for
// the first sub-chunk of a job and true afterwards; a fresh first chunk
// truncates leftovers from any earlier attempt. It returns the files
// touched by this call.
func (w *Writer) WriteChunk(ctx context.Context, docs []any, isAppend bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var touched []string
	for _, format := range w.formats {
		var (
			name string
			err  error
		)
		switch format {
		case scenario.FormatNDJSON:
			name, err = w.writeNDJSON(docs, isAppend)
		case scenario.FormatBundle:
			name, err = w.writeBundleFile(docs, isAppend)
		}
		if err != nil {
			return nil, err
		}
		touched = append(touched, name)
		if !w.seen[name] {
			w.seen[name] = true
			w.files = append(w.files, name)
		}
	}
	return touched, nil
}

// Files returns every file written so far, in first-touch order.
func (w *Writer) Files() []string {
	out := make([]string, len(w.files))
	copy(out, w.files)
	return out
}

// Dir returns the staging directory.
func (w *Writer) Dir() string { return w.dir }

func (w *Writer) writeNDJSON(docs []any, isAppend bool) (string, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if isAppend {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	path := filepath.Join(w.dir, ndjsonName)
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrOutputWrite.Code, "opening ndjson file", err)
	}
	bw := bufio.NewWriterSize(f, 64<<10)
	enc := json.NewEncoder(bw)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			f.Close()
			return "", domain.WrapEngineError(domain.ErrOutputWrite.Code, "encoding document", err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return "", domain.WrapEngineError(domain.ErrOutputWrite.Code, "flushing ndjson file", err)
	}
	if err := f.Close(); err != nil {
		return "", domain.WrapEngineError(domain.ErrOutputWrite.Code, "closing ndjson file", err)
	}
	return ndjsonName, nil
}

func (w *Writer) writeBundleFile(docs []any, isAppend bool) (string, error) {
	if !isAppend {
		w.bundleSeq = 0
	}
	w.bundleSeq++
	name := fmt.Sprintf(bundleNameFmt, w.bundleSeq)

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrOutputWrite.Code, "encoding bundle array", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(w.dir, name), data, 0o644); err != nil {
		return "", domain.WrapEngineError(domain.ErrOutputWrite.Code, "writing bundle file", err)
	}
	return name, nil
}
