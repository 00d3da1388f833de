// Package syncer composes the traverser, chunker, embedding provider, and
// vector store into full and incremental sync runs. Per-document work is
// content-addressed: a chunk whose text hash matches a stored record reuses
// that record's embedding, so unchanged content never reaches the provider
// twice.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/vecsync/vecsync/internal/chunker"
	"github.com/vecsync/vecsync/internal/embeddings"
	"github.com/vecsync/vecsync/internal/errs"
	"github.com/vecsync/vecsync/internal/limits"
	"github.com/vecsync/vecsync/internal/source"
	"github.com/vecsync/vecsync/internal/state"
	"github.com/vecsync/vecsync/internal/vectorstore"
)

// ErrLocked is returned when a run cannot start because another run holds
// the sync lock.
var ErrLocked = errors.New("sync already in progress")

// previewLen bounds the stored text preview per vector record.
const previewLen = 100

// quotaWarnPercent is the rate-limit window usage past which a warning is
// logged before the limiter starts blocking.
const quotaWarnPercent = 80

// Config holds the tunables of a sync engine.
type Config struct {
	RootID            string
	MaxTokens         int
	OverlapTokens     int
	MaxConcurrency    int
	EmbedBatchSize    int
	RequestsPerMinute int
	CostPer1KTokens   float64
	Retry             limits.RetryOptions
}

func (c *Config) withDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 400
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = 0
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = embeddings.DefaultBatchSize
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.CostPer1KTokens <= 0 {
		c.CostPer1KTokens = limits.DefaultCostPer1KTokens
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry = limits.DefaultRetry
	}
}

// Result is the aggregate outcome of one sync run.
type Result struct {
	Full            bool
	FilesProcessed  int
	VectorsUpserted int
	VectorsDeleted  int
	Errors          []string
	Duration        time.Duration
	Cost            limits.CostSnapshot
}

// Notifier receives run outcomes as an observable side effect. It must
// never influence control flow.
type Notifier interface {
	SyncCompleted(ctx context.Context, res Result)
	SyncFailed(ctx context.Context, err error)
}

// ProgressFunc reports per-document progress during a run.
type ProgressFunc func(done, total int, path string)

// Engine drives sync runs.
type Engine struct {
	cfg      Config
	conn     source.Connector
	store    vectorstore.Store
	embedder embeddings.Embedder
	state    *state.Manager
	limiter  *limits.RateLimiter
	notifier Notifier
	progress ProgressFunc
}

// New creates an Engine. The notifier and progress callback are optional.
func New(cfg Config, conn source.Connector, store vectorstore.Store, emb embeddings.Embedder, st *state.Manager) *Engine {
	cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		conn:     conn,
		store:    store,
		embedder: emb,
		state:    st,
		limiter:  limits.NewRateLimiter(cfg.RequestsPerMinute, time.Minute),
	}
}

// SetNotifier installs an outcome notifier.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// SetProgress installs a progress callback.
func (e *Engine) SetProgress(fn ProgressFunc) { e.progress = fn }

// Run executes one sync run under the mutual-exclusion lock. When full is
// false it runs an incremental sync, which itself falls back to a full sync
// if no cursor has been persisted yet. Returns ErrLocked without side
// effects when another run holds the lock.
func (e *Engine) Run(ctx context.Context, full bool) (*Result, error) {
	ok, err := e.state.AcquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	defer func() {
		if err := e.state.ReleaseLock(context.WithoutCancel(ctx)); err != nil {
			log.Printf("syncer: releasing lock: %v", err)
		}
	}()

	var res *Result
	if full {
		res, err = e.FullSync(ctx)
	} else {
		res, err = e.IncrementalSync(ctx)
	}
	if err != nil {
		if e.notifier != nil {
			e.notifier.SyncFailed(ctx, err)
		}
		return nil, err
	}
	if e.notifier != nil {
		e.notifier.SyncCompleted(ctx, *res)
	}
	return res, nil
}

// Resync clears the persisted cursor and runs a full sync under the lock.
// This is the admin "start over" operation.
func (e *Engine) Resync(ctx context.Context) (*Result, error) {
	ok, err := e.state.AcquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	defer func() {
		if err := e.state.ReleaseLock(context.WithoutCancel(ctx)); err != nil {
			log.Printf("syncer: releasing lock: %v", err)
		}
	}()

	st, err := e.state.GetState(ctx)
	if err != nil {
		return nil, err
	}
	st.Cursor = nil
	if err := e.state.SetState(ctx, st); err != nil {
		return nil, err
	}

	res, err := e.FullSync(ctx)
	if err != nil {
		if e.notifier != nil {
			e.notifier.SyncFailed(ctx, err)
		}
		return nil, err
	}
	if e.notifier != nil {
		e.notifier.SyncCompleted(ctx, *res)
	}
	return res, nil
}

// FullSync lists every document under the root and processes all of them,
// then persists a fresh cursor so subsequent runs can go incremental.
// Callers are responsible for holding the lock.
func (e *Engine) FullSync(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{Full: true}
	cost := limits.NewCostTracker(e.cfg.CostPer1KTokens)

	if err := e.store.Init(ctx, e.embedder.Dimensions()); err != nil {
		return nil, err
	}

	tr := source.NewTraverser(e.conn)
	docs, err := tr.ListAll(ctx, e.cfg.RootID)
	if err != nil {
		return nil, err
	}
	log.Printf("syncer: full sync of %d documents", len(docs))

	e.processBatches(ctx, tr, docs, res, cost)

	cursor, err := tr.StartCursor(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.finish(ctx, res, cursor, start, cost); err != nil {
		return nil, err
	}
	return res, nil
}

// IncrementalSync consumes the change feed since the persisted cursor. With
// no cursor it delegates to FullSync. A run with zero changes still
// persists the new cursor and records a zero-valued history entry.
func (e *Engine) IncrementalSync(ctx context.Context) (*Result, error) {
	st, err := e.state.GetState(ctx)
	if err != nil {
		return nil, err
	}
	if st.Cursor == nil || *st.Cursor == "" {
		log.Printf("syncer: no cursor, falling back to full sync")
		return e.FullSync(ctx)
	}

	start := time.Now()
	res := &Result{}
	cost := limits.NewCostTracker(e.cfg.CostPer1KTokens)

	if err := e.store.Init(ctx, e.embedder.Dimensions()); err != nil {
		return nil, err
	}

	tr := source.NewTraverser(e.conn)
	changes, newCursor, err := tr.FetchChanges(ctx, *st.Cursor, e.cfg.RootID)
	if err != nil {
		return nil, err
	}
	log.Printf("syncer: incremental sync, %d changes", len(changes))

	for i, ch := range changes {
		switch ch.Kind {
		case source.ChangeDeleted:
			if err := e.store.DeleteByDocument(ctx, ch.DocumentID); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", ch.DocumentID, err))
			} else {
				// One delete event per document, however many vectors it had.
				res.VectorsDeleted++
			}
			res.FilesProcessed++
		default:
			n, err := e.processDocumentSafe(ctx, tr, *ch.Document, cost)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", ch.DocumentID, err))
			} else {
				res.VectorsUpserted += n
			}
			res.FilesProcessed++
		}
		e.report(i+1, len(changes), ch.DocumentID)
	}

	if err := e.finish(ctx, res, newCursor, start, cost); err != nil {
		return nil, err
	}
	return res, nil
}

// processBatches runs per-document processing for all docs in sequential
// batches of MaxConcurrency goroutines. Failures are collected, never
// fatal: every document in every batch is attempted.
func (e *Engine) processBatches(ctx context.Context, tr *source.Traverser, docs []source.Document, res *Result, cost *limits.CostTracker) {
	total := len(docs)
	done := 0

	for begin := 0; begin < total; begin += e.cfg.MaxConcurrency {
		end := begin + e.cfg.MaxConcurrency
		if end > total {
			end = total
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, doc := range docs[begin:end] {
			wg.Add(1)
			go func(d source.Document) {
				defer wg.Done()
				n, err := e.processDocumentSafe(ctx, tr, d, cost)

				mu.Lock()
				defer mu.Unlock()
				res.FilesProcessed++
				if err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", d.ID, err))
				} else {
					res.VectorsUpserted += n
				}
				done++
				e.report(done, total, d.Path)
			}(doc)
		}
		wg.Wait()
	}
}

// processDocumentSafe runs processDocument with panic isolation: a panic
// inside one document's processing becomes that document's failure instead
// of killing the whole run.
func (e *Engine) processDocumentSafe(ctx context.Context, tr *source.Traverser, doc source.Document, cost *limits.CostTracker) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n = 0
			err = errs.Normalize(r)
		}
	}()
	return e.processDocument(ctx, tr, doc, cost)
}

// processDocument applies the content-addressed dedup algorithm to one
// document and returns the number of records upserted.
func (e *Engine) processDocument(ctx context.Context, tr *source.Traverser, doc source.Document, cost *limits.CostTracker) (int, error) {
	text, err := tr.Download(ctx, doc.ID)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	cost.AddBytes(int64(len(text)))

	chunks, err := chunker.Split(text, e.cfg.MaxTokens, e.cfg.OverlapTokens)
	if err != nil {
		return 0, err
	}

	// A fetch failure here means "no vectors yet", not a dead run: the
	// document may simply never have been indexed.
	existing, err := e.store.GetByDocument(ctx, doc.ID)
	if err != nil {
		log.Printf("syncer: fetching vectors for %s failed, treating as new: %v", doc.ID, err)
		existing = nil
	}
	byHash := make(map[string]vectorstore.Record, len(existing))
	for _, rec := range existing {
		byHash[rec.Payload.ChunkHash] = rec
	}

	var records []vectorstore.Record
	var pending []chunker.Chunk
	for _, ch := range chunks {
		h := chunker.Hash(ch.Text)
		if prev, ok := byHash[h]; ok {
			// Same content as a stored chunk: reuse its embedding and
			// refresh the metadata for the chunk's new position.
			records = append(records, vectorstore.Record{
				ID:        vectorstore.EncodeVectorID(doc.ID, ch.Index),
				Embedding: prev.Embedding,
				Payload:   e.payloadFor(doc, ch, h),
			})
			continue
		}
		pending = append(pending, ch)
	}

	embedded, err := e.embedPending(ctx, doc, pending, cost)
	if err != nil {
		return 0, err
	}
	records = append(records, embedded...)

	// Chunk indices are dense, so anything stored at an index beyond the
	// new chunk count belongs to a longer, older version of the document.
	var stale []string
	for _, rec := range existing {
		if rec.Payload.ChunkIndex >= len(chunks) {
			stale = append(stale, rec.ID)
		}
	}
	if len(stale) > 0 {
		if err := e.store.DeleteByIDs(ctx, stale); err != nil {
			return 0, err
		}
	}

	if len(records) == 0 {
		return 0, nil
	}
	if err := e.store.Upsert(ctx, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// embedPending embeds the chunks that had no reusable stored embedding, in
// batches of EmbedBatchSize, behind the rate limiter and retry policy.
func (e *Engine) embedPending(ctx context.Context, doc source.Document, pending []chunker.Chunk, cost *limits.CostTracker) ([]vectorstore.Record, error) {
	if len(pending) == 0 {
		return nil, nil
	}

	records := make([]vectorstore.Record, 0, len(pending))
	for begin := 0; begin < len(pending); begin += e.cfg.EmbedBatchSize {
		end := begin + e.cfg.EmbedBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[begin:end]

		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
			cost.AddTokens(limits.EstimateTokens(ch.Text))
		}

		var vectors [][]float32
		err := limits.WithRetry(ctx, e.cfg.Retry, func() error {
			if err := e.limiter.WaitIfNeeded(ctx); err != nil {
				return err
			}
			if cost.ApproachingLimit(e.limiter, quotaWarnPercent) {
				log.Printf("syncer: rate limit window at %.0f%% for %s", e.limiter.UsagePercent(), doc.ID)
			}
			var embErr error
			vectors, embErr = e.embedder.Embed(ctx, texts)
			return embErr
		})
		if err != nil {
			return nil, errs.Embedding("embed_batch", err, map[string]any{
				"document_id": doc.ID,
				"batch_size":  len(batch),
			})
		}
		cost.AddOperation(e.embedder.Name())

		if len(vectors) != len(batch) {
			return nil, errs.Embedding("embed_count_mismatch",
				fmt.Errorf("provider returned %d embeddings for %d texts", len(vectors), len(batch)),
				map[string]any{"document_id": doc.ID})
		}
		for i, vec := range vectors {
			if len(vec) != e.embedder.Dimensions() {
				return nil, errs.Embedding("dimension_mismatch",
					fmt.Errorf("provider returned a %d-dimension vector, expected %d", len(vec), e.embedder.Dimensions()),
					map[string]any{"document_id": doc.ID})
			}
			ch := batch[i]
			records = append(records, vectorstore.Record{
				ID:        vectorstore.EncodeVectorID(doc.ID, ch.Index),
				Embedding: vec,
				Payload:   e.payloadFor(doc, ch, chunker.Hash(ch.Text)),
			})
		}
	}
	return records, nil
}

func (e *Engine) payloadFor(doc source.Document, ch chunker.Chunk, hash string) vectorstore.Payload {
	return vectorstore.Payload{
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		DocumentPath: doc.Path,
		ChunkIndex:   ch.Index,
		ChunkHash:    hash,
		LastModified: doc.ModifiedTime,
		TextPreview:  preview(ch.Text),
	}
}

// finish persists the cursor, aggregate stats, and a history entry for the
// run. Persistence failures here are run-fatal.
func (e *Engine) finish(ctx context.Context, res *Result, cursor string, start time.Time, cost *limits.CostTracker) error {
	res.Duration = time.Since(start)
	res.Cost = cost.Snapshot()

	st, err := e.state.GetState(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	durMs := res.Duration.Milliseconds()
	st.Cursor = &cursor
	st.LastSyncTime = &now
	st.LastSyncDurationMs = &durMs
	st.FilesProcessed += res.FilesProcessed
	st.ErrorCount += len(res.Errors)
	if err := e.state.SetState(ctx, st); err != nil {
		return err
	}

	if err := e.state.SaveSyncHistory(ctx, state.HistoryEntry{
		Timestamp:       now,
		FilesProcessed:  res.FilesProcessed,
		VectorsUpserted: res.VectorsUpserted,
		VectorsDeleted:  res.VectorsDeleted,
		DurationMs:      durMs,
		Errors:          res.Errors,
	}); err != nil {
		return err
	}

	log.Printf("syncer: run finished, files=%d upserted=%d deleted=%d errors=%d in %s (%s)",
		res.FilesProcessed, res.VectorsUpserted, res.VectorsDeleted, len(res.Errors),
		res.Duration.Round(time.Millisecond), cost.Summary())
	return nil
}

func (e *Engine) report(done, total int, path string) {
	if e.progress != nil {
		e.progress(done, total, path)
	}
}

func preview(text string) string {
	if len(text) <= previewLen {
		return text
	}
	// Back up to a rune boundary so a multi-byte rune is never split.
	end := previewLen
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	return text[:end]
}
