package output

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func TestGzipFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "casualties.ndjson")
	content := bytes.Repeat([]byte(`{"resourceType":"Bundle"}`+"\n"), 100)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	gzPath, err := GzipFile(path)
	if err != nil {
		t.Fatalf("GzipFile failed: %v", err)
	}
	if gzPath != path+".gz" {
		t.Fatalf("gz path = %s", gzPath)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("original file still present after compression")
	}

	f, err := os.Open(gzPath)
	if err != nil {
		t.Fatalf("opening gz file: %v", err)
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip header: %v", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(gr); err != nil {
		t.Fatalf("decompressing: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), content) {
		t.Fatal("decompressed content mismatch")
	}
}

func TestGzipFile_MissingSource(t *testing.T) {
	if _, err := GzipFile(filepath.Join(t.TempDir(), "nope.ndjson")); err == nil {
		t.Fatal("expected missing source to fail")
	}
}

func TestGunzipFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.ndjson")
	content := []byte("one\ntwo\n")
	os.WriteFile(path, content, 0o644)

	gzPath, err := GzipFile(path)
	if err != nil {
		t.Fatalf("GzipFile failed: %v", err)
	}
	plainPath, err := GunzipFile(gzPath)
	if err != nil {
		t.Fatalf("GunzipFile failed: %v", err)
	}
	if plainPath != path {
		t.Fatalf("expanded path = %s, want %s", plainPath, path)
	}
	got, _ := os.ReadFile(plainPath)
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch: %q", got)
	}
}
