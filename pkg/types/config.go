// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network
// requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "advisor-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// KBBackend identifies the knowledge-base implementation.
// Per prd001-knowledge-base R5.1.
type KBBackend string

const (
	KBSQLite   KBBackend = "sqlite"
	KBWeaviate KBBackend = "weaviate"
)

// KnowledgeBaseConfig holds settings for the product knowledge base.
// Per prd001-knowledge-base R1.2, R2.3, R5.1-R5.4.
type KnowledgeBaseConfig struct {
	HTTPConfig `yaml:",inline"`

	// Backend selects the implementation: sqlite or weaviate.
	Backend KBBackend `json:"backend" yaml:"backend"`

	// CorpusDir is the directory of product pages to ingest (default "kb/corpus").
	CorpusDir string `json:"corpus_dir" yaml:"corpus_dir"`

	// IndexDir is the directory holding the SQLite index (default "kb/index").
	IndexDir string `json:"index_dir" yaml:"index_dir"`

	// BaseURL is the Weaviate endpoint (e.g. "http://localhost:8080").
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Class is the Weaviate collection queried for product passages
	// (default "CIBCProducts").
	Class string `json:"class,omitempty" yaml:"class,omitempty"`

	// APIKey authenticates against a hosted Weaviate instance.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// RetrievalConfig holds settings for the evidence retrieval unit.
// Per prd002-retrieval R5.1-R5.4.
type RetrievalConfig struct {
	// TopN is the number of hits requested per query (default 5).
	TopN int `json:"top_n" yaml:"top_n"`

	// MaxTopN bounds TopN regardless of configuration (default 20).
	MaxTopN int `json:"max_top_n" yaml:"max_top_n"`

	// CacheSize is the number of query results kept in the in-process LRU
	// cache; 0 disables caching (default 128).
	CacheSize int `json:"cache_size" yaml:"cache_size"`

	// SnippetMaxRunes bounds evidence snippet length (default 600).
	SnippetMaxRunes int `json:"snippet_max_runes" yaml:"snippet_max_runes"`
}

// ModelConfig holds shared settings for components that call the Gemini API.
// Per prd006-models R5.1-R5.6.
type ModelConfig struct {
	// APIKey is the authentication key for the model API. Usually supplied
	// via the GEMINI_API_KEY environment variable or the secrets directory.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// PlannerModel answers plan requests (default "gemini-2.5-pro").
	PlannerModel string `json:"planner_model" yaml:"planner_model"`

	// ResearcherModel summarizes per-step evidence (default "gemini-2.5-flash").
	ResearcherModel string `json:"researcher_model" yaml:"researcher_model"`

	// WriterModel produces the final report (default "gemini-2.5-pro").
	WriterModel string `json:"writer_model" yaml:"writer_model"`

	// DelegatedModel drives the delegated-tool variant's single agent
	// (default "gemini-2.5-flash").
	DelegatedModel string `json:"delegated_model" yaml:"delegated_model"`

	// MaxRetries is the number of retry attempts for transient API failures
	// (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RequestTimeout bounds each individual model call (default 90s).
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	// RequestsPerSecond rate-limits outbound model calls across the process;
	// 0 disables limiting (default 2).
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the rate limiter burst size (default 4).
	Burst int `json:"burst" yaml:"burst"`
}

// PipelineVariant selects the turn execution shape.
// Per prd004-pipeline R5.1.
type PipelineVariant string

const (
	// VariantExplicitPlan plans first, fans out research steps, then writes.
	VariantExplicitPlan PipelineVariant = "explicit_plan"

	// VariantDelegatedTool gives one planner agent a retrieve tool and lets
	// it answer directly.
	VariantDelegatedTool PipelineVariant = "delegated_tool"
)

// PipelineConfig holds settings for the turn orchestrator.
// Per prd004-pipeline R5.1-R5.6.
type PipelineConfig struct {
	// Variant selects the execution shape: explicit_plan or delegated_tool
	// (default explicit_plan). Deployments pick one; the variants do not
	// share a planner contract.
	Variant PipelineVariant `json:"variant" yaml:"variant"`

	// PlanSize is the number of search terms the planner must produce
	// (default 6).
	PlanSize int `json:"plan_size" yaml:"plan_size"`

	// PlanExact requires exactly PlanSize terms when true; otherwise the
	// planner may produce up to PlanSize terms (default true).
	PlanExact bool `json:"plan_exact" yaml:"plan_exact"`

	// Parallelism bounds concurrent research steps within a turn; 1 runs
	// steps sequentially (default 1).
	Parallelism int `json:"parallelism" yaml:"parallelism"`

	// MaxResearchQueries is the number of follow-up knowledge-base queries a
	// researcher may issue beyond its mandatory first retrieval (default 2).
	MaxResearchQueries int `json:"max_research_queries" yaml:"max_research_queries"`

	// MaxToolRounds bounds the delegated-tool agent loop (default 8).
	MaxToolRounds int `json:"max_tool_rounds" yaml:"max_tool_rounds"`
}

// ServerConfig holds settings for the chat surface.
// Per prd005-chat R5.1-R5.3.
type ServerConfig struct {
	// Addr is the listen address (default ":8390").
	Addr string `json:"addr" yaml:"addr"`

	// ShutdownTimeout bounds the drain on graceful shutdown (default 10s).
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	// ReadTimeout and WriteTimeout apply to the HTTP server; the WebSocket
	// endpoint manages its own deadlines.
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// TelemetryConfig holds settings for trace export.
// Per prd007-observability R1.1-R1.4.
type TelemetryConfig struct {
	// Enabled turns span export on; when false the tracer is a no-op.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP/gRPC collector address (default "localhost:4317").
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// ServiceName names this process in traces (default "advisor-engine").
	ServiceName string `json:"service_name" yaml:"service_name"`

	// SampleRatio is the fraction of turns traced, 0.0-1.0 (default 1.0).
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio"`

	// Insecure disables TLS toward the collector (default true for local
	// collectors).
	Insecure bool `json:"insecure" yaml:"insecure"`
}

// Config groups all component configurations for the engine.
type Config struct {
	KnowledgeBase KnowledgeBaseConfig `json:"knowledge_base" yaml:"knowledge_base"`
	Retrieval     RetrievalConfig     `json:"retrieval" yaml:"retrieval"`
	Model         ModelConfig         `json:"model" yaml:"model"`
	Pipeline      PipelineConfig      `json:"pipeline" yaml:"pipeline"`
	Server        ServerConfig        `json:"server" yaml:"server"`
	Telemetry     TelemetryConfig     `json:"telemetry" yaml:"telemetry"`

	// LogLevel sets the zap logging level: debug, info, warn, or error
	// (default "info").
	LogLevel string `json:"log_level" yaml:"log_level"`
}
