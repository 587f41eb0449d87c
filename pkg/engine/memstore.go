package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/celerix-dev/socialboost-store/pkg/sdk"
)

// MemStore is the file-backed local store: partitions live in memory and every
// mutation is written through to the Persister before it returns.
type MemStore struct {
	mu sync.RWMutex
	// Structure: [partition][key]document
	data       map[string]map[string]sdk.Document
	partitions []sdk.Partition
	name       string
	version    int
	persister  Persister
	closed     bool
}

var _ sdk.LocalStore = (*MemStore)(nil)

// Open loads the store from p and upgrades it to schema. It creates any
// partition the schema defines that is not yet present and never drops
// existing ones. A nil persister yields a purely in-memory store.
func Open(schema Schema, p Persister) (*MemStore, error) {
	var (
		manifest Manifest
		stored   map[string]map[string]sdk.Document
		err      error
	)
	if p != nil {
		manifest, stored, err = p.Load()
		if err != nil {
			return nil, fmt.Errorf("load store: %w", err)
		}
	}
	if manifest.Version > schema.Version {
		return nil, fmt.Errorf("%w: %s is at version %d, requested %d",
			ErrVersionDowngrade, schema.Name, manifest.Version, schema.Version)
	}

	partitions, changed := mergePartitions(manifest.Partitions, schema.Partitions)
	if manifest.Version != schema.Version || manifest.Name != schema.Name {
		changed = true
	}

	data := make(map[string]map[string]sdk.Document, len(partitions))
	for _, part := range partitions {
		if existing, ok := stored[part.Name]; ok {
			data[part.Name] = existing
		} else {
			data[part.Name] = make(map[string]sdk.Document)
		}
	}

	m := &MemStore{
		data:       data,
		partitions: partitions,
		name:       schema.Name,
		version:    schema.Version,
		persister:  p,
	}

	if changed && p != nil {
		err := p.SaveManifest(Manifest{Name: m.name, Version: m.version, Partitions: partitions})
		if err != nil {
			return nil, fmt.Errorf("upgrade store: %w", err)
		}
	}
	return m, nil
}

// mergePartitions keeps every existing partition and appends the ones the
// schema adds. It reports whether anything was added.
func mergePartitions(existing, wanted []sdk.Partition) ([]sdk.Partition, bool) {
	out := append([]sdk.Partition(nil), existing...)
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p.Name] = true
	}
	changed := false
	for _, p := range wanted {
		if !seen[p.Name] {
			out = append(out, p)
			seen[p.Name] = true
			changed = true
		}
	}
	return out, changed
}

// --- Interface Implementation ---

func (m *MemStore) Name() string { return m.name }

func (m *MemStore) Version() int { return m.version }

func (m *MemStore) Partitions() []sdk.Partition {
	return append([]sdk.Partition(nil), m.partitions...)
}

func (m *MemStore) Get(_ context.Context, partition, key string) (sdk.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	part, ok := m.data[partition]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, partition)
	}
	doc, ok := part[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrKeyNotFound, partition, key)
	}
	return cloneDocument(doc), nil
}

func (m *MemStore) GetAll(_ context.Context, partition string) ([]sdk.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	part, ok := m.data[partition]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, partition)
	}

	keys := make([]string, 0, len(part))
	for k := range part {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]sdk.Document, 0, len(keys))
	for _, k := range keys {
		list = append(list, cloneDocument(part[k]))
	}
	return list, nil
}

func (m *MemStore) Put(ctx context.Context, partition string, doc sdk.Document) error {
	p, ok := m.partition(partition)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPartitionNotFound, partition)
	}
	key, err := KeyOf(p, doc)
	if err != nil {
		return err
	}
	return m.PutKey(ctx, partition, key, doc)
}

func (m *MemStore) PutKey(_ context.Context, partition, key string, doc sdk.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	part, ok := m.data[partition]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPartitionNotFound, partition)
	}

	prev, existed := part[key]
	part[key] = cloneDocument(doc)

	if err := m.persist(partition); err != nil {
		if existed {
			part[key] = prev
		} else {
			delete(part, key)
		}
		return err
	}
	return nil
}

func (m *MemStore) Delete(_ context.Context, partition, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	part, ok := m.data[partition]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPartitionNotFound, partition)
	}

	prev, existed := part[key]
	if !existed {
		return nil
	}
	delete(part, key)

	if err := m.persist(partition); err != nil {
		part[key] = prev
		return err
	}
	return nil
}

// Close marks the store closed. The file persister holds no open handles.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemStore) partition(name string) (sdk.Partition, bool) {
	for _, p := range m.partitions {
		if p.Name == name {
			return p, true
		}
	}
	return sdk.Partition{}, false
}

// persist writes one partition through to disk.
// It MUST be called while holding m.mu.Lock.
func (m *MemStore) persist(partition string) error {
	if m.persister == nil {
		return nil
	}
	snapshot := m.copyPartition(partition)
	if err := m.persister.SavePartition(partition, snapshot); err != nil {
		return fmt.Errorf("persist %s: %w", partition, err)
	}
	return nil
}

// copyPartition creates a shallow copy of a partition's key map. Stored
// documents are never mutated in place, so sharing them is safe.
// It MUST be called while holding m.mu.Lock or m.mu.RLock.
func (m *MemStore) copyPartition(partition string) map[string]sdk.Document {
	original := m.data[partition]
	out := make(map[string]sdk.Document, len(original))
	for k, v := range original {
		out[k] = v
	}
	return out
}
