package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/medforge/casgen/internal/domain"
)

const metaSuffix = ".meta"

// FSStore keeps artifacts as plain files under a root directory, with a JSON
// sidecar per file carrying checksum and content type. Writes go through a
// temp file and rename so a crash never leaves a half-written artifact
// behind a valid sidecar.
type FSStore struct {
	root string
}

type fsMeta struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SHA256      string            `json:"sha256"`
	Size        int64             `json:"size"`
	StoredAt    time.Time         `json:"stored_at"`
}

// OpenFS returns a filesystem store rooted at dir, creating it if needed.
func OpenFS(dir string) (*FSStore, error) {
	if dir == "" {
		dir = "./artifacts"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.WrapEngineError(domain.ErrArtifactStore.Code, "creating artifact root", err)
	}
	return &FSStore{root: dir}, nil
}

func (s *FSStore) Driver() Driver { return DriverFS }

func (s *FSStore) paths(key string) (dataPath, metaPath string, err error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	dataPath = filepath.Join(s.root, filepath.FromSlash(k))
	return dataPath, dataPath + metaSuffix, nil
}

func (s *FSStore) Put(_ context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return Info{}, err
	}
	if _, err := os.Stat(dataPath); err == nil {
		return Info{}, domain.NewEngineError(domain.ErrArtifactStore.Code,
			fmt.Sprintf("artifact %s already exists", key))
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return Info{}, domain.WrapEngineError(domain.ErrArtifactStore.Code, "creating artifact directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".casgen-*")
	if err != nil {
		return Info{}, domain.WrapEngineError(domain.ErrArtifactStore.Code, "creating temp file", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		tmp.Close()
		return Info{}, domain.WrapEngineError(domain.ErrArtifactStore.Code, fmt.Sprintf("writing %s", key), err)
	}
	if err := tmp.Close(); err != nil {
		return Info{}, domain.WrapEngineError(domain.ErrArtifactStore.Code, fmt.Sprintf("writing %s", key), err)
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return Info{}, domain.WrapEngineError(domain.ErrArtifactStore.Code, fmt.Sprintf("committing %s", key), err)
	}

	now := time.Now().UTC()
	meta := fsMeta{
		ContentType: opts.ContentType,
		Metadata:    cloneMeta(opts.Metadata),
		SHA256:      hex.EncodeToString(h.Sum(nil)),
		Size:        size,
		StoredAt:    now,
	}
	if err := writeMeta(metaPath, meta); err != nil {
		return Info{}, err
	}
	return s.info(key, meta), nil
}

func (s *FSStore) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return Info{}, nil, err
	}
	file, err := os.Open(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, nil, notFound(key)
	}
	if err != nil {
		return Info{}, nil, domain.WrapEngineError(domain.ErrArtifactStore.Code, fmt.Sprintf("opening %s", key), err)
	}
	meta, err := readMeta(metaPath)
	if err != nil {
		file.Close()
		return Info{}, nil, err
	}
	return s.info(key, meta), file, nil
}

func (s *FSStore) Head(_ context.Context, key string) (Info, error) {
	_, metaPath, err := s.paths(key)
	if err != nil {
		return Info{}, err
	}
	meta, err := readMeta(metaPath)
	if err != nil {
		return Info{}, err
	}
	return s.info(key, meta), nil
}

func (s *FSStore) Delete(_ context.Context, key string) (bool, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dataPath); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := os.Remove(dataPath); err != nil {
		return false, domain.WrapEngineError(domain.ErrArtifactStore.Code, fmt.Sprintf("deleting %s", key), err)
	}
	os.Remove(metaPath)
	return true, nil
}

func (s *FSStore) List(_ context.Context, prefix string) ([]Info, error) {
	var infos []Info
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, metaSuffix) {
			return nil
		}
		meta, err := readMeta(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(p, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			infos = append(infos, s.info(key, meta))
		}
		return nil
	})
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrArtifactStore.Code, "listing artifacts", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PresignURL returns a stable local pseudo-URL. There is no auth on the
// filesystem driver; the API serves these artifacts itself.
func (s *FSStore) PresignURL(_ context.Context, key string, _ SignedURLOptions) (string, error) {
	if _, err := cleanKey(key); err != nil {
		return "", err
	}
	return s.localURL(key), nil
}

func (s *FSStore) localURL(key string) string {
	return (&url.URL{Scheme: "file", Path: "/" + path.Join(filepath.ToSlash(s.root), key)}).String()
}

func (s *FSStore) info(key string, meta fsMeta) Info {
	return Info{
		Key:          key,
		Size:         meta.Size,
		ContentType:  meta.ContentType,
		SHA256:       meta.SHA256,
		Metadata:     cloneMeta(meta.Metadata),
		LastModified: meta.StoredAt,
		URL:          s.localURL(key),
	}
}

func writeMeta(path string, meta fsMeta) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return domain.WrapEngineError(domain.ErrArtifactStore.Code, "encoding sidecar", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return domain.WrapEngineError(domain.ErrArtifactStore.Code, "writing sidecar", err)
	}
	return nil
}

func readMeta(path string) (fsMeta, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fsMeta{}, notFound(strings.TrimSuffix(filepath.Base(path), metaSuffix))
	}
	if err != nil {
		return fsMeta{}, domain.WrapEngineError(domain.ErrArtifactStore.Code, "reading sidecar", err)
	}
	var meta fsMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		return fsMeta{}, domain.WrapEngineError(domain.ErrArtifactStore.Code, "decoding sidecar", err)
	}
	return meta, nil
}
