package sdk

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by a DocumentStore when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidPath is returned when a document or collection path is malformed.
	ErrInvalidPath = errors.New("invalid document path")
)

// Document is a storage-safe record: the output of the sanitizer.
type Document = map[string]any

// Snapshot is one document returned by a collection query.
type Snapshot struct {
	Path string   `json:"path"`
	Data Document `json:"data"`
}

// ID returns the last segment of the snapshot path.
func (s Snapshot) ID() string {
	for i := len(s.Path) - 1; i >= 0; i-- {
		if s.Path[i] == '/' {
			return s.Path[i+1:]
		}
	}
	return s.Path
}

// --- Local store ---

// Partition describes one named subdivision of the local store.
// An empty KeyField means keys are supplied out of line (see LocalStore.PutKey).
type Partition struct {
	Name     string `json:"name"`
	KeyField string `json:"keyField,omitempty"`
}

// PartitionReader defines the read operations of the local store.
type PartitionReader interface {
	Get(ctx context.Context, partition, key string) (Document, error)
	GetAll(ctx context.Context, partition string) ([]Document, error)
}

// PartitionWriter defines the write operations of the local store.
type PartitionWriter interface {
	Put(ctx context.Context, partition string, doc Document) error
	PutKey(ctx context.Context, partition, key string, doc Document) error
	Delete(ctx context.Context, partition, key string) error
}

// LocalStore is the keyed, versioned, durable local store.
// Both the file engine and the SQLite engine implement this contract.
type LocalStore interface {
	PartitionReader
	PartitionWriter

	// Partitions returns the partitions defined by the open schema.
	Partitions() []Partition
	// Name returns the database name.
	Name() string
	// Version returns the schema version the store was opened with.
	Version() int
	Close() error
}

// --- Remote document store ---

// DocumentStore is the remote document database addressed by slash-separated paths
// such as "workspaces/{uid}/{partition}/{id}".
type DocumentStore interface {
	// Get returns the document at path or ErrNotFound.
	Get(ctx context.Context, path string) (Document, error)
	// Set writes a document. With merge the fields are merged into any existing
	// document instead of replacing it.
	Set(ctx context.Context, path string, doc Document, merge bool) error
	// Query returns every document directly under a collection path.
	Query(ctx context.Context, collection string) ([]Snapshot, error)
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, path string) error
}

// Pinger is implemented by document stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// --- Notifications ---

// Notifier broadcasts change tags to other running instances sharing a channel.
type Notifier interface {
	Notify(ctx context.Context, changeType string) error
	// OnNotify registers a listener and returns a function that removes it.
	OnNotify(fn func(changeType string)) (cancel func())
	Close() error
}
