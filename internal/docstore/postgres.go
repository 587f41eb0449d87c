package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/celerix-dev/socialboost-store/pkg/sdk"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const documentsDDL = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS documents_collection_idx ON documents (collection);
`

// Postgres keeps every document as a JSONB row keyed by its path.
// A merge write uses JSONB concatenation, so top-level fields of the
// incoming document replace those already stored.
type Postgres struct {
	db *sql.DB
}

var (
	_ sdk.DocumentStore = (*Postgres)(nil)
	_ sdk.Pinger        = (*Postgres)(nil)
)

// OpenPostgres opens a pgx-backed pool, checks connectivity and creates the documents table.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	p := NewPostgres(db)
	if err := p.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the documents table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, documentsDDL); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, path string) (sdk.Document, error) {
	if _, _, err := SplitDoc(path); err != nil {
		return nil, err
	}

	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM documents WHERE path = $1`, path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", sdk.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return decodeJSONB(raw)
}

func (p *Postgres) Set(ctx context.Context, path string, doc sdk.Document, merge bool) error {
	col, _, err := SplitDoc(path)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = sdk.Document{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	query := `INSERT INTO documents (path, collection, doc, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (path) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`
	if merge {
		query = `INSERT INTO documents (path, collection, doc, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (path) DO UPDATE SET doc = documents.doc || EXCLUDED.doc, updated_at = now()`
	}
	if _, err := p.db.ExecContext(ctx, query, path, col, string(raw)); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (p *Postgres) Query(ctx context.Context, collection string) ([]sdk.Snapshot, error) {
	col, err := CleanCollection(collection)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT path, doc FROM documents WHERE collection = $1 ORDER BY path`, col)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", col, err)
	}
	defer rows.Close()

	out := make([]sdk.Snapshot, 0)
	for rows.Next() {
		var (
			path string
			raw  []byte
		)
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", col, err)
		}
		doc, err := decodeJSONB(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, sdk.Snapshot{Path: path, Data: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", col, err)
	}
	return out, nil
}

func (p *Postgres) Delete(ctx context.Context, path string) error {
	if _, _, err := SplitDoc(path); err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := p.db.PingContext(ctx); err != nil {
		return 0, fmt.Errorf("ping db: %w", err)
	}
	return time.Since(start), nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func decodeJSONB(raw []byte) (sdk.Document, error) {
	var doc sdk.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		doc = sdk.Document{}
	}
	return doc, nil
}
