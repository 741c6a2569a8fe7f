// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/advisor-engine/internal/agent"
	"github.com/pdiddy/advisor-engine/internal/kb"
	"github.com/pdiddy/advisor-engine/internal/model"
	"github.com/pdiddy/advisor-engine/internal/pipeline"
	"github.com/pdiddy/advisor-engine/internal/retrieval"
	"github.com/pdiddy/advisor-engine/internal/trace"
	"github.com/pdiddy/advisor-engine/pkg/types"
)

// engine owns the long-lived clients and the wired pipeline. One engine
// serves the whole process; turns share its clients read-only.
type engine struct {
	pipe    *pipeline.Pipeline
	metrics *pipeline.Metrics

	kbClient      kb.Searcher
	modelClient   model.Invoker
	traceShutdown func(context.Context)
	logger        *zap.Logger

	closeOnce sync.Once
}

// buildEngine constructs the client pair, agents, and pipeline from
// config. On any failure the clients opened so far are closed.
func buildEngine(ctx context.Context, cfg types.Config, logger *zap.Logger) (*engine, error) {
	tracer, traceShutdown, err := trace.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		return nil, err
	}

	searcher, err := kb.Open(cfg.KnowledgeBase, logger)
	if err != nil {
		traceShutdown(ctx)
		return nil, err
	}

	gemini, err := model.NewGemini(ctx, cfg.Model, logger)
	if err != nil {
		_ = searcher.Close()
		traceShutdown(ctx)
		return nil, err
	}

	metrics := pipeline.NewMetrics()

	unit, err := retrieval.NewUnit(searcher, tracer, cfg.Retrieval, logger)
	if err != nil {
		_ = gemini.Close()
		_ = searcher.Close()
		traceShutdown(ctx)
		return nil, err
	}

	planner := agent.NewPlanner(metrics.InstrumentInvoker("planner", gemini), cfg.Model.PlannerModel, cfg.Pipeline)
	researcher := agent.NewResearcher(metrics.InstrumentInvoker("researcher", gemini), cfg.Model.ResearcherModel, unit, cfg.Pipeline)
	writer := agent.NewWriter(metrics.InstrumentInvoker("writer", gemini), cfg.Model.WriterModel)
	delegated := agent.NewDelegatedPlanner(metrics.InstrumentInvoker("delegated", gemini), cfg.Model.DelegatedModel, cfg.Pipeline)

	pipe, err := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Planner:    planner,
		Researcher: researcher,
		Writer:     writer,
		Delegate:   agent.NewAdvisor(delegated, researcher),
		Tracer:     tracer,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		_ = gemini.Close()
		_ = searcher.Close()
		traceShutdown(ctx)
		return nil, err
	}

	return &engine{
		pipe:          pipe,
		metrics:       metrics,
		kbClient:      searcher,
		modelClient:   gemini,
		traceShutdown: traceShutdown,
		logger:        logger,
	}, nil
}

// Close tears the shared clients down together, exactly once: model
// client, then knowledge-base client, then the trace exporter. Errors
// are logged and suppressed so cleanup can never block process exit.
func (e *engine) Close() {
	e.closeOnce.Do(func() {
		if err := e.modelClient.Close(); err != nil {
			e.logger.Warn("closing model client", zap.Error(err))
		}
		if err := e.kbClient.Close(); err != nil {
			e.logger.Warn("closing knowledge base client", zap.Error(err))
		}
		if e.traceShutdown != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			e.traceShutdown(ctx)
		}
	})
}
