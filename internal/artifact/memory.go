package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/medforge/casgen/internal/domain"
)

// MemoryStore holds artifacts in process memory. It backs tests and the
// dry-run mode of the admin CLI.
type MemoryStore struct {
	mu   sync.RWMutex
	objs map[string]memObj
}

type memObj struct {
	info Info
	data []byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{objs: make(map[string]memObj)}
}

func (s *MemoryStore) Driver() Driver { return DriverMemory }

func (s *MemoryStore) Put(_ context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	k, err := cleanKey(key)
	if err != nil {
		return Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, domain.WrapEngineError(domain.ErrArtifactStore.Code, fmt.Sprintf("reading %s", key), err)
	}
	sum := sha256.Sum256(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objs[k]; exists {
		return Info{}, domain.NewEngineError(domain.ErrArtifactStore.Code,
			fmt.Sprintf("artifact %s already exists", key))
	}
	info := Info{
		Key:          k,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		SHA256:       hex.EncodeToString(sum[:]),
		Metadata:     cloneMeta(opts.Metadata),
		LastModified: time.Now().UTC(),
	}
	s.objs[k] = memObj{info: info, data: data}
	return info, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	k, err := cleanKey(key)
	if err != nil {
		return Info{}, nil, err
	}
	s.mu.RLock()
	obj, ok := s.objs[k]
	s.mu.RUnlock()
	if !ok {
		return Info{}, nil, notFound(key)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	info := obj.info
	info.Metadata = cloneMeta(info.Metadata)
	return info, io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Head(_ context.Context, key string) (Info, error) {
	k, err := cleanKey(key)
	if err != nil {
		return Info{}, err
	}
	s.mu.RLock()
	obj, ok := s.objs[k]
	s.mu.RUnlock()
	if !ok {
		return Info{}, notFound(key)
	}
	info := obj.info
	info.Metadata = cloneMeta(info.Metadata)
	return info, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	k, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objs[k]
	delete(s.objs, k)
	return ok, nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Info, 0, len(s.objs))
	for k, obj := range s.objs {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			info := obj.info
			info.Metadata = cloneMeta(info.Metadata)
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) PresignURL(_ context.Context, _ string, _ SignedURLOptions) (string, error) {
	return "", ErrUnsupported
}
