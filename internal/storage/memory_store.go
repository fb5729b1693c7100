package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memoryVersion struct {
	generation  int64
	data        []byte
	contentType string
	current     bool
}

// MemoryStore - версионируемое хранилище в памяти. Используется в тестах
// и при STORAGE_DRIVER=memory для локальной разработки.
type MemoryStore struct {
	mu         sync.RWMutex
	objects    map[string][]*memoryVersion
	generation int64
}

var _ ObjectStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]*memoryVersion)}
}

func (s *MemoryStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.objects[key] {
		v.current = false
	}
	s.generation++
	s.objects[key] = append(s.objects[key], &memoryVersion{
		generation:  s.generation,
		data:        append([]byte(nil), data...),
		contentType: contentType,
		current:     true,
	})
	return nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, keyPrefix string) ([]VersionRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []VersionRef
	for key, versions := range s.objects {
		if !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		for _, v := range versions {
			refs = append(refs, VersionRef{Key: key, Generation: v.generation, Current: v.current, Size: int64(len(v.data))})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Key != refs[j].Key {
			return refs[i].Key < refs[j].Key
		}
		return refs[i].Generation < refs[j].Generation
	})
	return refs, nil
}

func (s *MemoryStore) DeleteVersions(ctx context.Context, refs []VersionRef) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, ref := range refs {
		versions := s.objects[ref.Key]
		for i, v := range versions {
			if v.generation == ref.Generation {
				versions = append(versions[:i], versions[i+1:]...)
				deleted++
				break
			}
		}
		if len(versions) == 0 {
			delete(s.objects, ref.Key)
		} else {
			s.objects[ref.Key] = versions
		}
	}
	return deleted, nil
}

// Object возвращает текущую версию ключа.
func (s *MemoryStore) Object(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.objects[key] {
		if v.current {
			return append([]byte(nil), v.data...), true
		}
	}
	return nil, false
}

// Keys возвращает все ключи с хотя бы одной версией.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
