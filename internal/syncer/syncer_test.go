package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/vecsync/vecsync/internal/chunker"
	"github.com/vecsync/vecsync/internal/errs"
	"github.com/vecsync/vecsync/internal/kv"
	"github.com/vecsync/vecsync/internal/limits"
	"github.com/vecsync/vecsync/internal/source"
	"github.com/vecsync/vecsync/internal/state"
	"github.com/vecsync/vecsync/internal/vectorstore"
)

// fakeSource serves a flat root folder of text documents and a scripted
// change feed.
type fakeSource struct {
	docs        map[string]string // id -> content
	cursor      string            // StartCursor return value
	changes     []source.RawChange
	newCursor   string
	downloadErr map[string]error
}

func (f *fakeSource) file(id string) *source.File {
	return &source.File{
		ID:           id,
		Name:         id + ".txt",
		MimeType:     "text/plain",
		ModifiedTime: "2026-01-01T00:00:00Z",
		ParentIDs:    []string{"root"},
	}
}

func (f *fakeSource) GetFile(_ context.Context, id string) (*source.File, error) {
	if id == "root" {
		return &source.File{ID: "root", Name: "Root", MimeType: source.MimeFolder}, nil
	}
	if _, ok := f.docs[id]; !ok {
		return nil, fmt.Errorf("no such file: %s", id)
	}
	return f.file(id), nil
}

func (f *fakeSource) ListChildren(_ context.Context, folderID, _ string) ([]source.File, string, error) {
	if folderID != "root" {
		return nil, "", nil
	}
	ids := make([]string, 0, len(f.docs))
	for id := range f.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	files := make([]source.File, 0, len(ids))
	for _, id := range ids {
		files = append(files, *f.file(id))
	}
	return files, "", nil
}

func (f *fakeSource) ListChanges(context.Context, string, string) ([]source.RawChange, string, string, error) {
	return f.changes, "", f.newCursor, nil
}

func (f *fakeSource) StartCursor(context.Context) (string, error) { return f.cursor, nil }

func (f *fakeSource) Download(_ context.Context, id string) (string, error) {
	if err := f.downloadErr[id]; err != nil {
		return "", err
	}
	content, ok := f.docs[id]
	if !ok {
		return "", fmt.Errorf("no such file: %s", id)
	}
	return content, nil
}

// mockEmbedder returns deterministic vectors and counts calls.
type mockEmbedder struct {
	dims  int
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, m.dims)
		vec[0] = float32(len(t))
		out[i] = vec
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int { return m.dims }
func (m *mockEmbedder) Name() string    { return "mock" }

type fixture struct {
	src     *fakeSource
	emb     *mockEmbedder
	store   vectorstore.Store
	stateMn *state.Manager
	engine  *Engine
}

func newFixture(t *testing.T, docs map[string]string) *fixture {
	t.Helper()
	backend, err := vectorstore.OpenSQLiteBackendMemory("test")
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	src := &fakeSource{docs: docs, cursor: "c1"}
	emb := &mockEmbedder{dims: 4}
	store := vectorstore.NewFilterPoorStore(backend, kv.NewMemory())
	mgr := state.NewManager(kv.NewMemory())

	eng := New(Config{
		RootID:         "root",
		MaxTokens:      2,
		MaxConcurrency: 2,
		EmbedBatchSize: 10,
	}, src, store, emb, mgr)

	return &fixture{src: src, emb: emb, store: store, stateMn: mgr, engine: eng}
}

func TestFullSyncHappyPath(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"doc1": "alpha beta gamma delta",
		"doc2": "one two three",
	})
	ctx := context.Background()

	res, err := fx.engine.Run(ctx, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FilesProcessed != 2 {
		t.Errorf("FilesProcessed = %d, want 2", res.FilesProcessed)
	}
	if res.VectorsUpserted == 0 {
		t.Error("VectorsUpserted = 0, want > 0")
	}
	if len(res.Errors) != 0 {
		t.Errorf("Errors = %v, want none", res.Errors)
	}

	st, err := fx.stateMn.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.Cursor == nil || *st.Cursor != "c1" {
		t.Errorf("cursor = %v, want c1", st.Cursor)
	}
	if st.LastSyncTime == nil {
		t.Error("LastSyncTime not persisted")
	}

	entries, err := fx.stateMn.GetSyncHistory(ctx, 0)
	if err != nil {
		t.Fatalf("GetSyncHistory: %v", err)
	}
	if len(entries) != 1 || entries[0].FilesProcessed != 2 {
		t.Errorf("history = %+v, want one entry with 2 files", entries)
	}
}

func TestIncrementalNoOpStillLeavesTrace(t *testing.T) {
	fx := newFixture(t, map[string]string{"doc1": "alpha beta"})
	ctx := context.Background()

	if _, err := fx.engine.Run(ctx, true); err != nil {
		t.Fatalf("full sync: %v", err)
	}

	fx.src.changes = nil
	fx.src.newCursor = "c2"
	res, err := fx.engine.Run(ctx, false)
	if err != nil {
		t.Fatalf("incremental: %v", err)
	}
	if res.FilesProcessed != 0 || res.VectorsUpserted != 0 || len(res.Errors) != 0 {
		t.Errorf("result = %+v, want all-zero", res)
	}

	st, _ := fx.stateMn.GetState(ctx)
	if st.Cursor == nil || *st.Cursor != "c2" {
		t.Errorf("cursor = %v, want c2", st.Cursor)
	}

	entries, _ := fx.stateMn.GetSyncHistory(ctx, 0)
	if len(entries) != 2 {
		t.Fatalf("history has %d entries, want 2", len(entries))
	}
	if entries[0].FilesProcessed != 0 || entries[0].VectorsUpserted != 0 {
		t.Errorf("newest entry = %+v, want zero-valued", entries[0])
	}
}

func TestIncrementalWithoutCursorFallsBackToFull(t *testing.T) {
	fx := newFixture(t, map[string]string{"doc1": "alpha beta"})
	res, err := fx.engine.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Full {
		t.Error("expected fallback to full sync")
	}
	if res.FilesProcessed != 1 {
		t.Errorf("FilesProcessed = %d, want 1", res.FilesProcessed)
	}
}

func TestDeletionRemovesAllDocumentVectors(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"doomed": "one two three four five six", // 3 chunks at maxTokens=2
	})
	ctx := context.Background()

	if _, err := fx.engine.Run(ctx, true); err != nil {
		t.Fatalf("full sync: %v", err)
	}
	before, err := fx.store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if before != 3 {
		t.Fatalf("count after full sync = %d, want 3", before)
	}

	fx.src.changes = []source.RawChange{{FileID: "doomed", Kind: source.ChangeDeleted}}
	fx.src.newCursor = "c2"
	res, err := fx.engine.Run(ctx, false)
	if err != nil {
		t.Fatalf("incremental: %v", err)
	}
	if res.VectorsDeleted != 1 {
		t.Errorf("VectorsDeleted = %d, want 1 (one delete event)", res.VectorsDeleted)
	}

	after, _ := fx.store.Count(ctx)
	if after != 0 {
		t.Errorf("count after deletion = %d, want 0", after)
	}
}

func TestShrinkingDocumentPrunesStaleIndices(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"doc": "one two three four five six", // chunks 0,1,2
	})
	ctx := context.Background()

	if _, err := fx.engine.Run(ctx, true); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	fx.src.docs["doc"] = "one two three four" // chunks 0,1
	if _, err := fx.engine.Run(ctx, true); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	recs, err := fx.store.GetByDocument(ctx, "doc")
	if err != nil {
		t.Fatalf("GetByDocument: %v", err)
	}
	indices := map[int]bool{}
	for _, r := range recs {
		indices[r.Payload.ChunkIndex] = true
	}
	if len(recs) != 2 || !indices[0] || !indices[1] {
		t.Errorf("surviving indices = %v, want exactly {0, 1}", indices)
	}
	if n, _ := fx.store.Count(ctx); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestDedupSecondRunMakesNoEmbedCalls(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"doc1": "alpha beta gamma delta",
		"doc2": "one two three",
	})
	ctx := context.Background()

	if _, err := fx.engine.Run(ctx, true); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if fx.emb.calls == 0 {
		t.Fatal("first run made no embedding calls")
	}
	countBefore, _ := fx.store.Count(ctx)
	callsBefore := fx.emb.calls

	if _, err := fx.engine.Run(ctx, true); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if fx.emb.calls != callsBefore {
		t.Errorf("second run made %d embedding calls, want 0", fx.emb.calls-callsBefore)
	}
	countAfter, _ := fx.store.Count(ctx)
	if countAfter != countBefore {
		t.Errorf("vector count changed across identical runs: %d -> %d", countBefore, countAfter)
	}
}

func TestRunRefusedWhileLocked(t *testing.T) {
	fx := newFixture(t, map[string]string{"doc1": "alpha"})
	ctx := context.Background()

	if ok, err := fx.stateMn.AcquireLock(ctx); err != nil || !ok {
		t.Fatalf("AcquireLock = %v, %v", ok, err)
	}
	if _, err := fx.engine.Run(ctx, true); !errors.Is(err, ErrLocked) {
		t.Fatalf("Run error = %v, want ErrLocked", err)
	}
	if fx.emb.calls != 0 {
		t.Error("refused run still made embedding calls")
	}
}

func TestDocumentFailureIsIsolated(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"bad":  "broken",
		"good": "alpha beta",
	})
	fx.src.downloadErr = map[string]error{"bad": errors.New("boom")}
	ctx := context.Background()

	res, err := fx.engine.Run(ctx, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FilesProcessed != 2 {
		t.Errorf("FilesProcessed = %d, want 2", res.FilesProcessed)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly 1", res.Errors)
	}
	if res.VectorsUpserted == 0 {
		t.Error("good document was not upserted")
	}

	recs, _ := fx.store.GetByDocument(ctx, "good")
	if len(recs) == 0 {
		t.Error("no vectors stored for good document")
	}
}

func TestEmptyDocumentProducesNoVectors(t *testing.T) {
	fx := newFixture(t, map[string]string{"blank": "   \n\t  "})
	ctx := context.Background()

	res, err := fx.engine.Run(ctx, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.VectorsUpserted != 0 {
		t.Errorf("VectorsUpserted = %d, want 0", res.VectorsUpserted)
	}
	if fx.emb.calls != 0 {
		t.Error("empty document reached the embedder")
	}
	if n, _ := fx.store.Count(ctx); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestResyncClearsCursorAndRunsFull(t *testing.T) {
	fx := newFixture(t, map[string]string{"doc1": "alpha beta"})
	ctx := context.Background()

	if _, err := fx.engine.Run(ctx, true); err != nil {
		t.Fatalf("seed sync: %v", err)
	}
	fx.src.cursor = "c9"
	res, err := fx.engine.Resync(ctx)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if !res.Full {
		t.Error("Resync did not run a full sync")
	}

	st, _ := fx.stateMn.GetState(ctx)
	if st.Cursor == nil || *st.Cursor != "c9" {
		t.Errorf("cursor = %v, want c9", st.Cursor)
	}
	if held, _ := fx.stateMn.IsLocked(ctx); held {
		t.Error("lock still held after Resync")
	}
}

func TestDimensionMismatchFailsDocument(t *testing.T) {
	fx := newFixture(t, map[string]string{"doc": "alpha beta"})
	fx.emb.dims = 4
	// The embedder reports 8 dims but produces 4-wide vectors.
	fx.engine.embedder = &reportingEmbedder{inner: fx.emb, reported: 8}

	res, err := fx.engine.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("Errors = %v, want 1 dimension error", res.Errors)
	}
	if !strings.Contains(res.Errors[0], "embedding/dimension_mismatch") {
		t.Errorf("recorded error %q does not carry the embedding kind and code", res.Errors[0])
	}
	if strings.Contains(res.Errors[0], "<nil>") {
		t.Errorf("recorded error %q lost its message", res.Errors[0])
	}
	if res.VectorsUpserted != 0 {
		t.Errorf("VectorsUpserted = %d, want 0", res.VectorsUpserted)
	}
}

func TestMismatchErrorsAreTypedEmbeddingErrors(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	doc := source.Document{ID: "doc", Name: "doc.txt"}
	chunks := []chunker.Chunk{{Text: "alpha", Index: 0}}
	cost := limits.NewCostTracker(0.01)

	t.Run("dimension", func(t *testing.T) {
		fx.engine.embedder = &reportingEmbedder{inner: &mockEmbedder{dims: 4}, reported: 8}
		_, err := fx.engine.embedPending(ctx, doc, chunks, cost)
		if err == nil {
			t.Fatal("expected a dimension error")
		}
		if !errs.IsKind(err, errs.KindEmbedding) {
			t.Errorf("IsKind(KindEmbedding) = false for %v", err)
		}
		if !strings.Contains(err.Error(), "expected 8") {
			t.Errorf("error %q does not name the expected dimension", err)
		}
	})

	t.Run("count", func(t *testing.T) {
		fx.engine.embedder = &shortEmbedder{dims: 4}
		_, err := fx.engine.embedPending(ctx, doc, chunks, cost)
		if err == nil {
			t.Fatal("expected a count error")
		}
		if !errs.IsKind(err, errs.KindEmbedding) {
			t.Errorf("IsKind(KindEmbedding) = false for %v", err)
		}
		if !strings.Contains(err.Error(), "embed_count_mismatch") {
			t.Errorf("error %q does not carry the count-mismatch code", err)
		}
	})
}

// shortEmbedder always returns one embedding fewer than requested.
type shortEmbedder struct {
	dims int
}

func (s *shortEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for range texts[:len(texts)-1] {
		out = append(out, make([]float32, s.dims))
	}
	return out, nil
}
func (s *shortEmbedder) Dimensions() int { return s.dims }
func (s *shortEmbedder) Name() string    { return "short" }

// panicEmbedder panics on every call.
type panicEmbedder struct {
	dims int
}

func (p *panicEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	panic("embedder exploded")
}
func (p *panicEmbedder) Dimensions() int { return p.dims }
func (p *panicEmbedder) Name() string    { return "panic" }

func TestPanicInDocumentIsRecordedAsFailure(t *testing.T) {
	fx := newFixture(t, map[string]string{"doc": "alpha beta"})
	fx.engine.embedder = &panicEmbedder{dims: 4}
	ctx := context.Background()

	res, err := fx.engine.Run(ctx, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("Errors = %v, want the panic recorded as one failure", res.Errors)
	}
	if !strings.Contains(res.Errors[0], "embedder exploded") {
		t.Errorf("recorded error %q does not carry the panic value", res.Errors[0])
	}
	if held, _ := fx.stateMn.IsLocked(ctx); held {
		t.Error("lock still held after a panicking run")
	}
}

func TestPanicIsUnderBatchIsolation(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"bad":  "broken",
		"good": "alpha beta",
	})
	inner := &mockEmbedder{dims: 4}
	fx.engine.embedder = &selectiveEmbedder{inner: inner, panicOn: "broken"}
	ctx := context.Background()

	res, err := fx.engine.Run(ctx, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FilesProcessed != 2 {
		t.Errorf("FilesProcessed = %d, want 2", res.FilesProcessed)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("Errors = %v, want 1", res.Errors)
	}
	if recs, _ := fx.store.GetByDocument(ctx, "good"); len(recs) == 0 {
		t.Error("no vectors stored for the good document")
	}
}

// selectiveEmbedder panics only when a batch contains panicOn.
type selectiveEmbedder struct {
	inner   *mockEmbedder
	panicOn string
}

func (s *selectiveEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, s.panicOn) {
			panic("poison chunk")
		}
	}
	return s.inner.Embed(ctx, texts)
}
func (s *selectiveEmbedder) Dimensions() int { return s.inner.Dimensions() }
func (s *selectiveEmbedder) Name() string    { return s.inner.Name() }

func TestPreviewStopsAtRuneBoundary(t *testing.T) {
	// A two-byte rune straddles the preview cut.
	text := strings.Repeat("a", previewLen-1) + "é" + strings.Repeat("b", 20)

	got := preview(text)
	if !utf8.ValidString(got) {
		t.Fatalf("preview produced invalid UTF-8: %q", got)
	}
	if want := strings.Repeat("a", previewLen-1); got != want {
		t.Errorf("preview = %q, want the rune backed out entirely", got)
	}

	if short := "café"; preview(short) != short {
		t.Errorf("preview(%q) truncated a short string", short)
	}
}

// reportingEmbedder wraps an embedder but advertises a different dimension.
type reportingEmbedder struct {
	inner    *mockEmbedder
	reported int
}

func (r *reportingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return r.inner.Embed(ctx, texts)
}
func (r *reportingEmbedder) Dimensions() int { return r.reported }
func (r *reportingEmbedder) Name() string    { return r.inner.Name() }
