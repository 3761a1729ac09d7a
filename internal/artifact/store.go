// Package artifact persists generated output files. Drivers share an
// S3-shaped interface so jobs can target the local filesystem in development
// and object storage in production without pipeline changes.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/medforge/casgen/internal/domain"
)

// Driver identifies a concrete artifact storage backend.
type Driver string

const (
	DriverFS     Driver = "fs"
	DriverS3     Driver = "s3"
	DriverMemory Driver = "memory"
)

// ErrUnsupported is returned when a driver lacks an optional capability.
var ErrUnsupported = errors.New("artifact: operation not supported by driver")

// PutOptions carries optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions holds options for generating a pre-signed download URL.
type SignedURLOptions struct {
	Expiry time.Duration // default 15m
}

// Info describes a stored artifact. SHA256 is computed client-side at Put
// time on every driver so checksums survive backend migration.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	SHA256       string            `json:"sha256,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is the persistence surface for generated output files.
// Put is create-only: writing an existing key is an error, which catches
// duplicate job IDs before they silently clobber finished output.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

// Options selects and configures a driver for Open.
type Options struct {
	Driver string

	// Filesystem driver.
	Root string

	// S3 driver.
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
}

// Open constructs the configured Store. An empty driver defaults to the
// filesystem driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch Driver(opts.Driver) {
	case DriverFS, "":
		return OpenFS(opts.Root)
	case DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return OpenS3(ctx, S3Config{
			Bucket:          opts.Bucket,
			Region:          opts.Region,
			Endpoint:        opts.Endpoint,
			AccessKeyID:     opts.AccessKeyID,
			SecretAccessKey: opts.SecretAccessKey,
			SessionToken:    opts.SessionToken,
			PathStyle:       opts.PathStyle,
		})
	default:
		return nil, domain.NewEngineError(domain.ErrConfigInvalid.Code,
			fmt.Sprintf("unknown artifact driver %q", opts.Driver))
	}
}

// JobKey builds the canonical key for one of a job's output files.
func JobKey(jobID, filename string) string {
	return path.Join("jobs", jobID, filename)
}

// Verify re-reads the artifact and compares its content hash against the
// checksum recorded at Put time.
func Verify(ctx context.Context, s Store, key string) error {
	info, rc, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return domain.WrapEngineError(domain.ErrArtifactStore.Code, fmt.Sprintf("reading %s", key), err)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if info.SHA256 != "" && sum != info.SHA256 {
		return domain.NewEngineError(domain.ErrChecksumMismatch.Code,
			fmt.Sprintf("artifact %s: stored %s, computed %s", key, info.SHA256, sum))
	}
	return nil
}

// cleanKey normalizes a key and rejects anything that could escape the
// store root.
func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", domain.NewEngineError(domain.ErrArtifactStore.Code, "artifact key is empty")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", domain.NewEngineError(domain.ErrArtifactStore.Code,
			fmt.Sprintf("artifact key %q must be a relative path", key))
	}
	clean := path.Clean(key)
	if clean == "." || strings.HasPrefix(clean, "..") {
		return "", domain.NewEngineError(domain.ErrArtifactStore.Code,
			fmt.Sprintf("artifact key %q must be a relative path", key))
	}
	return clean, nil
}

func notFound(key string) error {
	return domain.NewEngineError(domain.ErrArtifactNotFound.Code, fmt.Sprintf("artifact %s not found", key))
}

func cloneMeta(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
