package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Backend is the minimal contract the filter-poor strategy builds on. It is
// deliberately restricted to by-id operations: no filtered queries, no
// filtered deletes. Everything document-scoped is reconstructed from the
// auxiliary index kept by FilterPoorStore.
type Backend interface {
	// Fetch returns the stored records for the given ids, keyed by id.
	// Missing ids are simply absent from the result.
	Fetch(ctx context.Context, ids []string) (map[string]Record, error)

	// UpsertRaw inserts or replaces records by id.
	UpsertRaw(ctx context.Context, records []Record) error

	// DeleteRaw removes the given ids and returns how many were actually
	// present.
	DeleteRaw(ctx context.Context, ids []string) (int, error)

	// Describe returns backend metadata.
	Describe(ctx context.Context) (Info, error)
}

// SQLiteBackend stores vectors in a single SQLite table of
// id -> (embedding blob, payload JSON). It intentionally exposes no
// document-level access so the FilterPoorStore's bookkeeping carries the
// full weight of document scoping.
type SQLiteBackend struct {
	db   *sql.DB
	name string
}

// OpenSQLiteBackend creates or opens a vector table at the given path.
func OpenSQLiteBackend(path, name string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating vector directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening vector database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging vector database: %w", err)
	}

	b := &SQLiteBackend{db: db, name: name}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running vector migrations: %w", err)
	}
	return b, nil
}

// OpenSQLiteBackendMemory creates an in-memory backend (useful for testing).
func OpenSQLiteBackendMemory(name string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory vector database: %w", err)
	}

	b := &SQLiteBackend{db: db, name: name}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running vector migrations: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	_, err := b.db.Exec(`
CREATE TABLE IF NOT EXISTS vectors (
    id TEXT PRIMARY KEY,
    embedding BLOB NOT NULL,
    payload TEXT NOT NULL
);
`)
	return err
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error { return b.db.Close() }

func (b *SQLiteBackend) Fetch(ctx context.Context, ids []string) (map[string]Record, error) {
	if len(ids) == 0 {
		return map[string]Record{}, nil
	}

	query := `SELECT id, embedding, payload FROM vectors WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := b.db.QueryContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("fetching vectors: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Record, len(ids))
	for rows.Next() {
		var id string
		var blob []byte
		var payloadJSON string
		if err := rows.Scan(&id, &blob, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}

		var payload Payload
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("decoding payload for %s: %w", id, err)
		}
		out[id] = Record{
			ID:        id,
			Embedding: decodeEmbedding(blob),
			Payload:   payload,
		}
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) UpsertRaw(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vectors (id, embedding, payload) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET embedding = excluded.embedding, payload = excluded.payload`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		payloadJSON, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("encoding payload for %s: %w", rec.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, encodeEmbedding(rec.Embedding), string(payloadJSON)); err != nil {
			return fmt.Errorf("upserting %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) DeleteRaw(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `DELETE FROM vectors WHERE id IN (` + placeholders(len(ids)) + `)`
	res, err := b.db.ExecContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return 0, fmt.Errorf("deleting vectors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted vectors: %w", err)
	}
	return int(n), nil
}

func (b *SQLiteBackend) Describe(ctx context.Context) (Info, error) {
	var count int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&count); err != nil {
		return Info{}, fmt.Errorf("counting vectors: %w", err)
	}
	return Info{Name: b.name, Count: count, Status: "ok"}, nil
}

// encodeEmbedding packs a vector as little-endian float32 bytes.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding reverses encodeEmbedding.
func decodeEmbedding(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
