// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package kb implements the product knowledge base behind the advisor
// pipeline. Implements: prd001-knowledge-base (R1-R5);
//
//	docs/ARCHITECTURE § Knowledge Base.
//
// Two backends satisfy the query capability: an embedded SQLite FTS5 index
// built from the local corpus, and a remote Weaviate collection for
// deployments with a hosted vector index. Retrieval code depends only on
// Searcher and never on a concrete backend.
package kb

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/advisor-engine/pkg/types"
)

// Hit is one ranked passage returned by a knowledge-base query.
type Hit struct {
	// DocID identifies the source document.
	DocID string `json:"doc_id"`

	// Title is the source document title.
	Title string `json:"title"`

	// Section is the heading of the matched passage, when known.
	Section string `json:"section,omitempty"`

	// Snippet is a verbatim excerpt around the match.
	Snippet string `json:"snippet"`

	// Score is relevance between 0.0 and 1.0, higher is better.
	Score float64 `json:"score"`
}

// Searcher is the knowledge-base query capability the pipeline consumes:
// a ranked full-text lookup that may fail transiently. Close releases the
// backend and must be safe to call once per process shutdown.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]Hit, error)
	Close() error
}

// Open constructs the configured backend. The sqlite backend opens or
// creates the local index; the weaviate backend validates its endpoint
// configuration but defers connection until the first query.
func Open(cfg types.KnowledgeBaseConfig, logger *zap.Logger) (Searcher, error) {
	switch cfg.Backend {
	case types.KBSQLite, "":
		return NewStore(cfg)
	case types.KBWeaviate:
		return NewWeaviate(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown knowledge base backend %q", cfg.Backend)
	}
}
