// Package vectorstore provides a uniform contract over vector-record
// storage, implemented by two backend strategies: one with native
// server-side filtered query/delete (chromem), and one over a backend that
// only supports by-id operations and therefore maintains an auxiliary
// per-document index plus a global counter.
package vectorstore

import (
	"context"
	"strconv"
)

// Payload is the metadata stored alongside each vector.
type Payload struct {
	DocumentID   string `json:"documentId"`
	DocumentName string `json:"documentName"`
	DocumentPath string `json:"documentPath"`
	ChunkIndex   int    `json:"chunkIndex"`
	ChunkHash    string `json:"chunkHash"`
	LastModified string `json:"lastModified"`
	TextPreview  string `json:"textPreview"`
}

// Record is one durable vector record. ID is always
// EncodeVectorID(Payload.DocumentID, Payload.ChunkIndex).
type Record struct {
	ID        string
	Embedding []float32
	Payload   Payload
}

// Info describes a store for the admin stats surface.
type Info struct {
	Name       string `json:"name"`
	Count      int    `json:"count"`
	Dimensions int    `json:"dimensions"`
	Status     string `json:"status"`
}

// Store is the uniform vector-store contract the orchestrator depends on.
// The two strategies are selected at construction time; callers never branch
// on the backing implementation.
type Store interface {
	// Init probes or prepares the backend for vectors of the given
	// dimension. For backends where index creation is an operational
	// concern, failures are logged as warnings rather than returned.
	Init(ctx context.Context, dims int) error

	// Upsert inserts or replaces records. Re-upserting an existing id is
	// idempotent with respect to bookkeeping.
	Upsert(ctx context.Context, records []Record) error

	// GetByDocument returns all records belonging to the document.
	// A document with no records yields an empty result, not an error.
	GetByDocument(ctx context.Context, documentID string) ([]Record, error)

	// DeleteByIDs removes the given records.
	DeleteByIDs(ctx context.Context, ids []string) error

	// DeleteByDocument removes every record belonging to the document.
	// Unknown documents are a no-op.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Describe returns backend metadata for the stats surface.
	Describe(ctx context.Context) (Info, error)

	// Count returns the total number of stored records.
	Count(ctx context.Context) (int, error)
}

// payloadToMap flattens a Payload into the string metadata map used by
// backends that only store flat string fields.
func payloadToMap(p Payload) map[string]string {
	return map[string]string{
		"document_id":   p.DocumentID,
		"document_name": p.DocumentName,
		"document_path": p.DocumentPath,
		"chunk_index":   strconv.Itoa(p.ChunkIndex),
		"chunk_hash":    p.ChunkHash,
		"last_modified": p.LastModified,
		"text_preview":  p.TextPreview,
	}
}

// mapToPayload reconstructs a Payload from flat string metadata. Missing
// fields degrade to zero values rather than failing.
func mapToPayload(m map[string]string) Payload {
	idx, _ := strconv.Atoi(m["chunk_index"])
	return Payload{
		DocumentID:   m["document_id"],
		DocumentName: m["document_name"],
		DocumentPath: m["document_path"],
		ChunkIndex:   idx,
		ChunkHash:    m["chunk_hash"],
		LastModified: m["last_modified"],
		TextPreview:  m["text_preview"],
	}
}
