package vectorstore

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strconv"

	"github.com/vecsync/vecsync/internal/errs"
	"github.com/vecsync/vecsync/internal/kv"
)

const (
	fileIndexPrefix = "fileindex:"
	keyVectorCount  = "vector:count"
)

// FilterPoorStore implements Store over a backend that supports neither
// filtered queries nor filtered deletes. It emulates document scoping with
// an auxiliary per-document id index and a global vector counter, both kept
// in the key-value store and maintained alongside every mutation.
//
// Counter invariant: the counter equals distinct ids ever upserted minus
// distinct ids ever deleted. Upserts apply only the net-new delta, so
// re-upserting an already-indexed id changes nothing, and the counter is
// clamped so it can never go negative.
type FilterPoorStore struct {
	backend Backend
	kv      kv.Store
	dims    int
}

// NewFilterPoorStore creates the filter-poor strategy over the given
// backend and key-value store.
func NewFilterPoorStore(backend Backend, kvStore kv.Store) *FilterPoorStore {
	return &FilterPoorStore{backend: backend, kv: kvStore}
}

// Init is a capability probe, not a provisioning step: index creation is an
// operational concern, so probe failures are logged as warnings, not
// returned.
func (s *FilterPoorStore) Init(ctx context.Context, dims int) error {
	s.dims = dims
	if _, err := s.backend.Describe(ctx); err != nil {
		log.Printf("vectorstore: backend probe failed (continuing): %v", err)
	}
	return nil
}

func (s *FilterPoorStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	// Group incoming ids by document.
	groups := make(map[string][]string)
	for _, rec := range records {
		docID := rec.Payload.DocumentID
		groups[docID] = append(groups[docID], rec.ID)
	}

	// Merge each group into its index entry, accumulating the net-new delta
	// before the merged list is written back.
	netNew := 0
	for docID, incoming := range groups {
		existing, err := s.readIndex(ctx, docID)
		if err != nil {
			return err
		}
		merged := unionIDs(existing, incoming)
		netNew += len(merged) - len(existing)
		if err := s.writeIndex(ctx, docID, merged); err != nil {
			return err
		}
	}

	if err := s.backend.UpsertRaw(ctx, records); err != nil {
		return errs.VectorStore("upsert", err, map[string]any{"count": len(records)})
	}

	// One net delta across all groups.
	return s.adjustCounter(ctx, netNew)
}

func (s *FilterPoorStore) GetByDocument(ctx context.Context, documentID string) ([]Record, error) {
	ids, err := s.readIndex(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	byID, err := s.backend.Fetch(ctx, ids)
	if err != nil {
		return nil, errs.VectorStore("get_by_document", err, map[string]any{"document_id": documentID})
	}

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			continue
		}
		// Backends can return sparse metadata; fall back to what the id
		// itself encodes.
		if rec.Payload.DocumentID == "" {
			if docID, idx, err := DecodeVectorID(id); err == nil {
				rec.Payload.DocumentID = docID
				rec.Payload.ChunkIndex = idx
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *FilterPoorStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	deleted, err := s.backend.DeleteRaw(ctx, ids)
	if err != nil {
		return errs.VectorStore("delete_by_ids", err, map[string]any{"count": len(ids)})
	}

	// Derive the affected documents by decoding each deleted id and strip
	// those ids from the per-document entries.
	affected := make(map[string][]string)
	for _, id := range ids {
		docID, _, err := DecodeVectorID(id)
		if err != nil {
			log.Printf("vectorstore: skipping unindexable id %q: %v", id, err)
			continue
		}
		affected[docID] = append(affected[docID], id)
	}

	for docID, removed := range affected {
		existing, err := s.readIndex(ctx, docID)
		if err != nil {
			return err
		}
		remaining := subtractIDs(existing, removed)
		if len(remaining) == 0 {
			if err := s.kv.Delete(ctx, fileIndexPrefix+docID); err != nil {
				return errs.VectorStore("delete_index", err, map[string]any{"document_id": docID})
			}
			continue
		}
		if err := s.writeIndex(ctx, docID, remaining); err != nil {
			return err
		}
	}

	return s.adjustCounter(ctx, -deleted)
}

func (s *FilterPoorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	ids, err := s.readIndex(ctx, documentID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return s.DeleteByIDs(ctx, ids)
}

func (s *FilterPoorStore) Describe(ctx context.Context) (Info, error) {
	info, err := s.backend.Describe(ctx)
	if err != nil {
		return Info{}, errs.VectorStore("describe", err, nil)
	}
	count, err := s.Count(ctx)
	if err != nil {
		return Info{}, err
	}
	info.Count = count
	info.Dimensions = s.dims
	return info, nil
}

func (s *FilterPoorStore) Count(ctx context.Context) (int, error) {
	raw, ok, err := s.kv.Get(ctx, keyVectorCount)
	if err != nil {
		return 0, errs.VectorStore("read_counter", err, nil)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.New(errs.KindVectorStore, "corrupt_counter", "counter value "+raw+" is not a number")
	}
	return n, nil
}

func (s *FilterPoorStore) readIndex(ctx context.Context, documentID string) ([]string, error) {
	raw, ok, err := s.kv.Get(ctx, fileIndexPrefix+documentID)
	if err != nil {
		return nil, errs.VectorStore("read_index", err, map[string]any{"document_id": documentID})
	}
	if !ok {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, errs.VectorStore("decode_index", err, map[string]any{"document_id": documentID})
	}
	return ids, nil
}

func (s *FilterPoorStore) writeIndex(ctx context.Context, documentID string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return errs.VectorStore("encode_index", err, map[string]any{"document_id": documentID})
	}
	if err := s.kv.Set(ctx, fileIndexPrefix+documentID, string(data)); err != nil {
		return errs.VectorStore("write_index", err, map[string]any{"document_id": documentID})
	}
	return nil
}

// adjustCounter applies delta to the global counter, clamping at zero.
func (s *FilterPoorStore) adjustCounter(ctx context.Context, delta int) error {
	if delta == 0 {
		return nil
	}
	current, err := s.Count(ctx)
	if err != nil {
		return err
	}
	next := current + delta
	if next < 0 {
		next = 0
	}
	if err := s.kv.Set(ctx, keyVectorCount, strconv.Itoa(next)); err != nil {
		return errs.VectorStore("write_counter", err, nil)
	}
	return nil
}

// unionIDs merges two id lists as a set union, preserving a stable sorted
// order so index entries are deterministic.
func unionIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, lists := range [][]string{a, b} {
		for _, id := range lists {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// subtractIDs returns a minus removed.
func subtractIDs(a, removed []string) []string {
	drop := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		drop[id] = struct{}{}
	}
	var out []string
	for _, id := range a {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
