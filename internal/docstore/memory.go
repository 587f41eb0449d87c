package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/celerix-dev/socialboost-store/pkg/sdk"
)

// Memory is an in-process DocumentStore. boostd serves it when no external
// backend is configured, and tests use it as the remote.
type Memory struct {
	mu sync.RWMutex
	// Structure: [collection][id]document
	data map[string]map[string]sdk.Document
}

var (
	_ sdk.DocumentStore = (*Memory)(nil)
	_ sdk.Pinger        = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]sdk.Document)}
}

func (m *Memory) Get(_ context.Context, path string) (sdk.Document, error) {
	col, id, err := SplitDoc(path)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.data[col][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sdk.ErrNotFound, path)
	}
	return copyDoc(doc)
}

func (m *Memory) Set(_ context.Context, path string, doc sdk.Document, merge bool) error {
	col, id, err := SplitDoc(path)
	if err != nil {
		return err
	}
	incoming, err := copyDoc(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[col]; !ok {
		m.data[col] = make(map[string]sdk.Document)
	}
	existing, ok := m.data[col][id]
	if merge && ok {
		for k, v := range incoming {
			existing[k] = v
		}
		return nil
	}
	m.data[col][id] = incoming
	return nil
}

func (m *Memory) Query(_ context.Context, collection string) ([]sdk.Snapshot, error) {
	col, err := CleanCollection(collection)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := m.data[col]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]sdk.Snapshot, 0, len(ids))
	for _, id := range ids {
		doc, err := copyDoc(docs[id])
		if err != nil {
			return nil, err
		}
		out = append(out, sdk.Snapshot{Path: col + "/" + id, Data: doc})
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	col, id, err := SplitDoc(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data[col], id)
	if len(m.data[col]) == 0 {
		delete(m.data, col)
	}
	return nil
}

func (m *Memory) Ping(context.Context) (time.Duration, error) {
	return 0, nil
}

// copyDoc deep-copies a document through JSON so stored values never alias
// the caller's maps and always have JSON types.
func copyDoc(doc sdk.Document) (sdk.Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out sdk.Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if out == nil {
		out = sdk.Document{}
	}
	return out, nil
}
