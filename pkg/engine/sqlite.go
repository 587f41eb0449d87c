package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/celerix-dev/socialboost-store/pkg/sdk"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps every partition in one SQLite database file.
type SQLiteStore struct {
	db         *sql.DB
	name       string
	version    int
	partitions []sdk.Partition
	mu         sync.Mutex // serializes writers; SQLite allows one at a time
}

var _ sdk.LocalStore = (*SQLiteStore)(nil)

var sqliteDDL = []string{
	`CREATE TABLE IF NOT EXISTS schema_meta (
		name TEXT PRIMARY KEY,
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS partitions (
		name TEXT PRIMARY KEY,
		key_field TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		part_name TEXT NOT NULL REFERENCES partitions(name),
		rec_key TEXT NOT NULL,
		doc TEXT NOT NULL,
		PRIMARY KEY (part_name, rec_key)
	)`,
}

// OpenSQLite opens (or creates) the database at path and upgrades it to schema.
func OpenSQLite(ctx context.Context, path string, schema Schema) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, name: schema.Name, version: schema.Version}
	if err := s.upgrade(ctx, schema); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) upgrade(ctx context.Context, schema Schema) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upgrade: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range sqliteDDL {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	var stored int
	err = tx.QueryRowContext(ctx, `SELECT version FROM schema_meta WHERE name = ?`, schema.Name).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if stored > schema.Version {
		return fmt.Errorf("%w: %s is at version %d, requested %d",
			ErrVersionDowngrade, schema.Name, stored, schema.Version)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM partitions`).Scan(&count); err != nil {
		return fmt.Errorf("count partitions: %w", err)
	}
	for _, p := range schema.Partitions {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO partitions (name, key_field, position) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING`,
			p.Name, p.KeyField, count)
		if err != nil {
			return fmt.Errorf("create partition %s: %w", p.Name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			count++
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_meta (name, version) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET version = excluded.version`,
		schema.Name, schema.Version); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT name, key_field FROM partitions ORDER BY position`)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var partitions []sdk.Partition
	for rows.Next() {
		var p sdk.Partition
		if err := rows.Scan(&p.Name, &p.KeyField); err != nil {
			return fmt.Errorf("scan partition: %w", err)
		}
		partitions = append(partitions, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upgrade: %w", err)
	}
	s.partitions = partitions
	return nil
}

func (s *SQLiteStore) Name() string { return s.name }

func (s *SQLiteStore) Version() int { return s.version }

func (s *SQLiteStore) Partitions() []sdk.Partition {
	return append([]sdk.Partition(nil), s.partitions...)
}

func (s *SQLiteStore) partition(name string) (sdk.Partition, error) {
	for _, p := range s.partitions {
		if p.Name == name {
			return p, nil
		}
	}
	return sdk.Partition{}, fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
}

func (s *SQLiteStore) Get(ctx context.Context, partition, key string) (sdk.Document, error) {
	if _, err := s.partition(partition); err != nil {
		return nil, err
	}

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM records WHERE part_name = ? AND rec_key = ?`, partition, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrKeyNotFound, partition, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", partition, key, err)
	}
	return decodeDocument(raw)
}

func (s *SQLiteStore) GetAll(ctx context.Context, partition string) ([]sdk.Document, error) {
	if _, err := s.partition(partition); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM records WHERE part_name = ? ORDER BY rec_key`, partition)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", partition, err)
	}
	defer rows.Close()

	list := make([]sdk.Document, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", partition, err)
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		list = append(list, doc)
	}
	return list, rows.Err()
}

func (s *SQLiteStore) Put(ctx context.Context, partition string, doc sdk.Document) error {
	p, err := s.partition(partition)
	if err != nil {
		return err
	}
	key, err := KeyOf(p, doc)
	if err != nil {
		return err
	}
	return s.PutKey(ctx, partition, key, doc)
}

func (s *SQLiteStore) PutKey(ctx context.Context, partition, key string, doc sdk.Document) error {
	if _, err := s.partition(partition); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", partition, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (part_name, rec_key, doc) VALUES (?, ?, ?)
		 ON CONFLICT(part_name, rec_key) DO UPDATE SET doc = excluded.doc`,
		partition, key, string(raw))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", partition, key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, partition, key string) error {
	if _, err := s.partition(partition); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE part_name = ? AND rec_key = ?`, partition, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", partition, key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeDocument(raw string) (sdk.Document, error) {
	var doc sdk.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return doc, nil
}
