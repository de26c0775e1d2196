package objectstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/book-expert/suomi-tutor/internal/core"
)

type memoryObject struct {
	data     []byte
	metadata map[string]string
}

// Memory is an in-process core.BlobStore for tests and development.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memoryObject
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject)}
}

// Download returns a copy of the object's payload.
func (m *Memory) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("memory object '%s': %w", key, core.ErrNotFound)
	}

	return append([]byte(nil), obj.data...), nil
}

// Upload stores data with no metadata.
func (m *Memory) Upload(ctx context.Context, key string, data []byte) error {
	return m.UploadWithMetadata(ctx, key, data, nil)
}

// UploadWithMetadata stores copies of data and metadata, replacing any previous object.
func (m *Memory) UploadWithMetadata(_ context.Context, key string, data []byte, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = memoryObject{
		data:     append([]byte(nil), data...),
		metadata: maps.Clone(metadata),
	}

	return nil
}

// Stat describes one object.
func (m *Memory) Stat(_ context.Context, key string) (core.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return core.ObjectInfo{}, fmt.Errorf("memory object '%s': %w", key, core.ErrNotFound)
	}

	return memoryInfo(key, obj), nil
}

// Delete removes an object; deleting a missing object is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

// List describes every object, sorted by key.
func (m *Memory) List(_ context.Context) ([]core.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]core.ObjectInfo, 0, len(m.objects))
	for key, obj := range m.objects {
		infos = append(infos, memoryInfo(key, obj))
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	return infos, nil
}

func memoryInfo(key string, obj memoryObject) core.ObjectInfo {
	return core.ObjectInfo{
		Key:      key,
		Size:     int64(len(obj.data)),
		Metadata: maps.Clone(obj.metadata),
	}
}
