// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pdiddy/advisor-engine/pkg/types"
)

// setDefaults registers every tunable with its documented default, so
// flags > environment > config file > defaults holds everywhere.
func setDefaults() {
	viper.SetDefault("log_level", "info")

	viper.SetDefault("knowledge_base.backend", "sqlite")
	viper.SetDefault("knowledge_base.corpus_dir", "kb/corpus")
	viper.SetDefault("knowledge_base.index_dir", "kb/index")
	viper.SetDefault("knowledge_base.class", "CIBCProducts")
	viper.SetDefault("knowledge_base.timeout", "15s")
	viper.SetDefault("knowledge_base.user_agent", "advisor-engine/"+version)

	viper.SetDefault("retrieval.top_n", 5)
	viper.SetDefault("retrieval.max_top_n", 20)
	viper.SetDefault("retrieval.cache_size", 128)
	viper.SetDefault("retrieval.snippet_max_runes", 600)

	viper.SetDefault("model.planner_model", "gemini-2.5-pro")
	viper.SetDefault("model.researcher_model", "gemini-2.5-flash")
	viper.SetDefault("model.writer_model", "gemini-2.5-pro")
	viper.SetDefault("model.delegated_model", "gemini-2.5-flash")
	viper.SetDefault("model.max_retries", 3)
	viper.SetDefault("model.request_timeout", "90s")
	viper.SetDefault("model.requests_per_second", 2.0)
	viper.SetDefault("model.burst", 4)

	viper.SetDefault("pipeline.variant", string(types.VariantExplicitPlan))
	viper.SetDefault("pipeline.plan_size", 6)
	viper.SetDefault("pipeline.plan_exact", true)
	viper.SetDefault("pipeline.parallelism", 1)
	viper.SetDefault("pipeline.max_research_queries", 2)
	viper.SetDefault("pipeline.max_tool_rounds", 8)

	viper.SetDefault("server.addr", ":8390")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.endpoint", "localhost:4317")
	viper.SetDefault("telemetry.service_name", "advisor-engine")
	viper.SetDefault("telemetry.sample_ratio", 1.0)
	viper.SetDefault("telemetry.insecure", true)
}

// buildConfig assembles the umbrella configuration from viper.
func buildConfig() types.Config {
	return types.Config{
		KnowledgeBase: types.KnowledgeBaseConfig{
			HTTPConfig: types.HTTPConfig{
				Timeout:   viper.GetDuration("knowledge_base.timeout"),
				UserAgent: viper.GetString("knowledge_base.user_agent"),
			},
			Backend:   types.KBBackend(viper.GetString("knowledge_base.backend")),
			CorpusDir: viper.GetString("knowledge_base.corpus_dir"),
			IndexDir:  viper.GetString("knowledge_base.index_dir"),
			BaseURL:   viper.GetString("knowledge_base.base_url"),
			Class:     viper.GetString("knowledge_base.class"),
			APIKey:    viper.GetString("knowledge_base.api_key"),
		},
		Retrieval: types.RetrievalConfig{
			TopN:            viper.GetInt("retrieval.top_n"),
			MaxTopN:         viper.GetInt("retrieval.max_top_n"),
			CacheSize:       viper.GetInt("retrieval.cache_size"),
			SnippetMaxRunes: viper.GetInt("retrieval.snippet_max_runes"),
		},
		Model: types.ModelConfig{
			APIKey:            viper.GetString("model.api_key"),
			PlannerModel:      viper.GetString("model.planner_model"),
			ResearcherModel:   viper.GetString("model.researcher_model"),
			WriterModel:       viper.GetString("model.writer_model"),
			DelegatedModel:    viper.GetString("model.delegated_model"),
			MaxRetries:        viper.GetInt("model.max_retries"),
			RequestTimeout:    viper.GetDuration("model.request_timeout"),
			RequestsPerSecond: viper.GetFloat64("model.requests_per_second"),
			Burst:             viper.GetInt("model.burst"),
		},
		Pipeline: types.PipelineConfig{
			Variant:            types.PipelineVariant(viper.GetString("pipeline.variant")),
			PlanSize:           viper.GetInt("pipeline.plan_size"),
			PlanExact:          viper.GetBool("pipeline.plan_exact"),
			Parallelism:        viper.GetInt("pipeline.parallelism"),
			MaxResearchQueries: viper.GetInt("pipeline.max_research_queries"),
			MaxToolRounds:      viper.GetInt("pipeline.max_tool_rounds"),
		},
		Server: types.ServerConfig{
			Addr:            viper.GetString("server.addr"),
			ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
			ReadTimeout:     viper.GetDuration("server.read_timeout"),
			WriteTimeout:    viper.GetDuration("server.write_timeout"),
		},
		Telemetry: types.TelemetryConfig{
			Enabled:     viper.GetBool("telemetry.enabled"),
			Endpoint:    viper.GetString("telemetry.endpoint"),
			ServiceName: viper.GetString("telemetry.service_name"),
			SampleRatio: viper.GetFloat64("telemetry.sample_ratio"),
			Insecure:    viper.GetBool("telemetry.insecure"),
		},
		LogLevel: viper.GetString("log_level"),
	}
}

// newLogger builds the process logger. --verbose forces debug.
func newLogger(cfg types.Config, verbose bool) (*zap.Logger, error) {
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
