package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

type memObject struct {
	container string
	name      string
	data      []byte
}

// Memory keeps artifacts in process. It backs dry runs and tests.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memObject
	seq     int
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

// Put stores data under name in container and returns the new artifact.
func (m *Memory) Put(container, name string, data []byte) Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("mem-%d", m.seq)
	m.objects[id] = memObject{container: container, name: name, data: bytes.Clone(data)}
	return Artifact{Name: name, ID: id, Size: int64(len(data))}
}

// Has reports whether id is still stored.
func (m *Memory) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[id]
	return ok
}

func (m *Memory) List(_ context.Context, container string) ([]Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Artifact
	for id, o := range m.objects {
		if o.container == container {
			out = append(out, Artifact{Name: o.name, ID: id, Size: int64(len(o.data))})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Download(_ context.Context, id string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[id]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(o.data))), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	delete(m.objects, id)
	return nil
}

func (m *Memory) Close() error { return nil }
