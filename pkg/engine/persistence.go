package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/celerix-dev/socialboost-store/pkg/sdk"
)

const manifestFile = "schema.json"

// Manifest is the on-disk description of a store: its name, version and partitions.
type Manifest struct {
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	Partitions []sdk.Partition `json:"partitions"`
}

// Persister is the durable backing of a MemStore.
type Persister interface {
	// Load returns the stored manifest and partition data. A store that has
	// never been written returns a zero Manifest and no error.
	Load() (Manifest, map[string]map[string]sdk.Document, error)
	SaveManifest(m Manifest) error
	SavePartition(name string, data map[string]sdk.Document) error
}

// Persistence writes each partition to its own JSON file under DataDir.
type Persistence struct {
	DataDir string
	mu      sync.Mutex // Protects concurrent writes to the filesystem
}

// NewPersistence initializes a persistence handler rooted at dir.
func NewPersistence(dir string) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Persistence{DataDir: dir}, nil
}

// SavePartition writes a single partition to disk atomically.
func (p *Persistence) SavePartition(name string, data map[string]sdk.Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeJSON(name+".json", data)
}

// SaveManifest records the schema the store was opened with.
func (p *Persistence) SaveManifest(m Manifest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeJSON(manifestFile, m)
}

// writeJSON writes to a temp file and renames it over the target, so a crash
// leaves either the old file or the new one, never a torn write.
func (p *Persistence) writeJSON(name string, v any) error {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	filePath := filepath.Join(p.DataDir, name)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, bytes, 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

// Load reads the manifest and every partition it lists.
func (p *Persistence) Load() (Manifest, map[string]map[string]sdk.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var m Manifest
	content, err := os.ReadFile(filepath.Join(p.DataDir, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, nil, nil
	}
	if err != nil {
		return Manifest{}, nil, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(content, &m); err != nil {
		return Manifest{}, nil, fmt.Errorf("decode manifest: %w", err)
	}

	all := make(map[string]map[string]sdk.Document, len(m.Partitions))
	for _, part := range m.Partitions {
		content, err := os.ReadFile(filepath.Join(p.DataDir, part.Name+".json"))
		if errors.Is(err, os.ErrNotExist) {
			all[part.Name] = make(map[string]sdk.Document)
			continue
		}
		if err != nil {
			return Manifest{}, nil, fmt.Errorf("read partition %s: %w", part.Name, err)
		}

		var data map[string]sdk.Document
		if err := json.Unmarshal(content, &data); err != nil {
			return Manifest{}, nil, fmt.Errorf("decode partition %s: %w", part.Name, err)
		}
		if data == nil {
			data = make(map[string]sdk.Document)
		}
		all[part.Name] = data
	}
	return m, all, nil
}
