package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vecsync/vecsync/internal/config"
	"github.com/vecsync/vecsync/internal/embeddings"
	"github.com/vecsync/vecsync/internal/kv"
	"github.com/vecsync/vecsync/internal/limits"
	"github.com/vecsync/vecsync/internal/notify"
	"github.com/vecsync/vecsync/internal/source"
	"github.com/vecsync/vecsync/internal/state"
	"github.com/vecsync/vecsync/internal/syncer"
	"github.com/vecsync/vecsync/internal/vectorstore"
)

// app bundles the wired components shared by the sync, serve, status, and
// mcp commands.
type app struct {
	cfg     *config.Config
	kv      kv.Store
	state   *state.Manager
	store   vectorstore.Store
	closers []io.Closer
}

// Close releases the app's database handles.
func (a *app) Close() {
	for _, c := range a.closers {
		_ = c.Close()
	}
}

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `vecsync init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// buildApp opens the state store and the configured vector store.
func buildApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", cfg.DataDir, err)
	}

	a := &app{cfg: cfg}

	kvStore, err := kv.OpenSQLite(filepath.Join(cfg.DataDir, "state.db"))
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	a.kv = kvStore
	a.closers = append(a.closers, kvStore)
	a.state = state.NewManager(kvStore)

	switch cfg.StoreBackend {
	case config.StoreSQLite:
		backend, err := vectorstore.OpenSQLiteBackend(filepath.Join(cfg.DataDir, "vectors.db"), cfg.Collection)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("opening vector backend: %w", err)
		}
		a.closers = append(a.closers, backend)
		a.store = vectorstore.NewFilterPoorStore(backend, kvStore)
	default:
		store, err := vectorstore.NewChromemStore(filepath.Join(cfg.DataDir, "chromem"), cfg.Collection)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("opening chromem store: %w", err)
		}
		a.store = store
	}

	return a, nil
}

// buildEngine wires a sync engine over the app's components. It requires
// OPENAI_API_KEY for the embedding provider.
func buildEngine(a *app) (*syncer.Engine, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}
	embedder := embeddings.NewOpenAIEmbedder(apiKey, embeddings.OpenAIModel(a.cfg.EmbeddingModel), a.cfg.EmbedBatchSize)

	conn := source.NewLocalConnector(a.cfg.SourceRoot, a.cfg.Include, a.cfg.Exclude)

	engine := syncer.New(syncer.Config{
		RootID:            source.LocalRootID,
		MaxTokens:         a.cfg.MaxTokens,
		OverlapTokens:     a.cfg.OverlapTokens,
		MaxConcurrency:    a.cfg.MaxConcurrency,
		EmbedBatchSize:    a.cfg.EmbedBatchSize,
		RequestsPerMinute: a.cfg.RequestsPerMinute,
		CostPer1KTokens:   a.cfg.CostPer1KTokens,
		Retry:             limits.DefaultRetry,
	}, conn, a.store, embedder, a.state)

	if a.cfg.WebhookURL != "" {
		engine.SetNotifier(notify.NewWebhook(a.cfg.WebhookURL,
			time.Duration(a.cfg.SlowSyncThreshold)*time.Second))
	}

	return engine, nil
}
