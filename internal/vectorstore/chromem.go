package vectorstore

import (
	"context"
	"errors"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"github.com/vecsync/vecsync/internal/errs"
)

// ChromemStore is the native-filter strategy: chromem-go supports
// server-side filtered query and delete by metadata fields, so document
// membership is delegated to the backend's own where-clause handling and no
// auxiliary index is needed.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	dims       int
}

// noEmbedFunc is installed as the collection's embedding function. Every
// record carries a precomputed embedding and queries go through
// QueryEmbedding, so any call to it indicates a bug.
func noEmbedFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem store only accepts precomputed embeddings")
}

// NewChromemStore creates a chromem-backed store. An empty path keeps the
// database in memory; otherwise records are persisted under path.
func NewChromemStore(path, collectionName string) (*ChromemStore, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("opening chromem store at %s: %w", path, err)
		}
	}
	return &ChromemStore{db: db, name: collectionName}, nil
}

func (s *ChromemStore) Init(_ context.Context, dims int) error {
	col, err := s.db.GetOrCreateCollection(s.name, nil, noEmbedFunc)
	if err != nil {
		return errs.VectorStore("init", fmt.Errorf("create collection %s: %w", s.name, err), nil)
	}
	s.collection = col
	s.dims = dims
	return nil
}

func (s *ChromemStore) Upsert(ctx context.Context, records []Record) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		if len(rec.Embedding) != s.dims {
			return errs.New(errs.KindEmbedding, "dimension_mismatch",
				fmt.Sprintf("record %s has %d dimensions, index expects %d", rec.ID, len(rec.Embedding), s.dims))
		}
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   rec.Payload.TextPreview,
			Embedding: rec.Embedding,
			Metadata:  payloadToMap(rec.Payload),
		}
	}

	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return errs.VectorStore("upsert", err, map[string]any{"count": len(records)})
	}
	return nil
}

func (s *ChromemStore) GetByDocument(ctx context.Context, documentID string) ([]Record, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}

	// chromem has no pure metadata scan; query with a fixed probe vector and
	// the collection size as the result limit so the where-clause does the
	// actual selection.
	probe := make([]float32, s.dims)
	probe[0] = 1
	where := map[string]string{"document_id": documentID}

	results, err := s.collection.QueryEmbedding(ctx, probe, count, where, nil)
	if err != nil {
		return nil, errs.VectorStore("get_by_document", err, map[string]any{"document_id": documentID})
	}

	records := make([]Record, len(results))
	for i, r := range results {
		records[i] = Record{
			ID:        r.ID,
			Embedding: r.Embedding,
			Payload:   mapToPayload(r.Metadata),
		}
	}
	return records, nil
}

func (s *ChromemStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return errs.VectorStore("delete_by_ids", err, map[string]any{"count": len(ids)})
	}
	return nil
}

func (s *ChromemStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	where := map[string]string{"document_id": documentID}
	if err := s.collection.Delete(ctx, where, nil); err != nil {
		return errs.VectorStore("delete_by_document", err, map[string]any{"document_id": documentID})
	}
	return nil
}

func (s *ChromemStore) Describe(_ context.Context) (Info, error) {
	if err := s.ready(); err != nil {
		return Info{}, err
	}
	return Info{
		Name:       s.name,
		Count:      s.collection.Count(),
		Dimensions: s.dims,
		Status:     "ok",
	}, nil
}

func (s *ChromemStore) Count(_ context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	return s.collection.Count(), nil
}

func (s *ChromemStore) ready() error {
	if s.collection == nil {
		return errs.New(errs.KindVectorStore, "not_initialized", "Init must be called before use")
	}
	return nil
}
