package config

// StoreBackend selects the vector-store strategy.
type StoreBackend string

const (
	// StoreChromem uses chromem-go, which supports filtered query/delete
	// natively.
	StoreChromem StoreBackend = "chromem"
	// StoreSQLite uses the by-id SQLite backend plus the auxiliary
	// per-document index.
	StoreSQLite StoreBackend = "sqlite"
)

// Config is the top-level vecsync configuration, corresponding to .vecsync.yml.
type Config struct {
	SourceRoot string   `yaml:"source_root" koanf:"source_root"`
	Include    []string `yaml:"include" koanf:"include"`
	Exclude    []string `yaml:"exclude" koanf:"exclude"`

	EmbeddingModel string `yaml:"embedding_model" koanf:"embedding_model"`
	EmbedBatchSize int    `yaml:"embed_batch_size" koanf:"embed_batch_size"`

	StoreBackend StoreBackend `yaml:"store_backend" koanf:"store_backend"`
	DataDir      string       `yaml:"data_dir" koanf:"data_dir"`
	Collection   string       `yaml:"collection" koanf:"collection"`

	MaxTokens         int     `yaml:"max_tokens" koanf:"max_tokens"`
	OverlapTokens     int     `yaml:"overlap_tokens" koanf:"overlap_tokens"`
	MaxConcurrency    int     `yaml:"max_concurrency" koanf:"max_concurrency"`
	RequestsPerMinute int     `yaml:"requests_per_minute" koanf:"requests_per_minute"`
	CostPer1KTokens   float64 `yaml:"cost_per_1k_tokens" koanf:"cost_per_1k_tokens"`

	SyncIntervalMinutes int `yaml:"sync_interval_minutes" koanf:"sync_interval_minutes"`

	Port            int  `yaml:"port" koanf:"port"`
	AllowAllOrigins bool `yaml:"allow_all_origins" koanf:"allow_all_origins"`

	WebhookURL        string `yaml:"webhook_url" koanf:"webhook_url"`
	SlowSyncThreshold int    `yaml:"slow_sync_threshold_seconds" koanf:"slow_sync_threshold_seconds"`
}

// DefaultExcludes are glob patterns excluded from the source tree by default.
var DefaultExcludes = []string{
	"vendor/**",
	"node_modules/**",
	".git/**",
	"dist/**",
	"build/**",
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SourceRoot:        ".",
		Include:           []string{"**"},
		Exclude:           DefaultExcludes,
		EmbeddingModel:    "text-embedding-3-small",
		EmbedBatchSize:    100,
		StoreBackend:      StoreChromem,
		DataDir:           ".vecsync",
		Collection:        "documents",
		MaxTokens:         400,
		OverlapTokens:     50,
		MaxConcurrency:    4,
		RequestsPerMinute: 60,
		Port:              8080,
	}
}
