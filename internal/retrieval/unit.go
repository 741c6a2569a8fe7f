// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retrieval turns search terms into deduplicated, scored evidence
// packs drawn from the product knowledge base.
// Implements: prd002-retrieval (R1-R5);
//
//	docs/ARCHITECTURE § Evidence retrieval.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/pdiddy/advisor-engine/internal/kb"
	"github.com/pdiddy/advisor-engine/internal/trace"
	"github.com/pdiddy/advisor-engine/pkg/types"
)

// spanName is the tracing span recorded for each retrieval call.
const spanName = "execute_search_step"

// Unit is the evidence retrieval capability shared by all agents. It owns
// dedup, ordering, snippet bounds, and the per-process query cache; agents
// never talk to the knowledge base directly.
type Unit struct {
	searcher kb.Searcher
	tracer   trace.Tracer
	cfg      types.RetrievalConfig
	logger   *zap.Logger
	cache    *lru.Cache[string, types.EvidencePack]
}

// NewUnit builds a retrieval unit. The cache is disabled when
// cfg.CacheSize is zero.
func NewUnit(searcher kb.Searcher, tracer trace.Tracer, cfg types.RetrievalConfig, logger *zap.Logger) (*Unit, error) {
	if searcher == nil {
		return nil, fmt.Errorf("retrieval: searcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	u := &Unit{
		searcher: searcher,
		tracer:   tracer,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "retrieval")),
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, types.EvidencePack](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating retrieval cache: %w", err)
		}
		u.cache = cache
	}
	return u, nil
}

// Retrieve runs one query against the knowledge base and returns its
// evidence pack. Zero hits and failed KB calls both land in NoResultsFor
// rather than erroring: absent evidence is a first-class outcome that
// downstream stages must handle without fabricating (R2.3, R2.4). Only an
// empty query is an error.
func (u *Unit) Retrieve(ctx context.Context, query string) (types.EvidencePack, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return types.EvidencePack{}, fmt.Errorf("retrieval: query is empty")
	}

	ctx, span := u.tracer.Start(ctx, spanName, query)

	if u.cache != nil {
		if pack, ok := u.cache.Get(query); ok {
			span.End(pack)
			return pack, nil
		}
	}

	pack := types.EvidencePack{Queries: []string{query}}

	hits, err := u.searcher.Search(ctx, query, u.topN())
	if err != nil {
		// Absorbed: a failed KB call reads downstream as missing
		// evidence for this query (R2.4). Not cached, so a later
		// retry hits the backend again.
		u.logger.Warn("knowledge base search failed",
			zap.String("query", query),
			zap.Error(err))
		pack.NoResultsFor = []string{query}
		span.EndError(err)
		return pack, nil
	}

	pack.Evidence = dedupe(hitsToEvidence(hits, u.cfg.SnippetMaxRunes))
	if len(pack.Evidence) == 0 {
		pack.NoResultsFor = []string{query}
	}

	if u.cache != nil {
		u.cache.Add(query, pack)
	}
	span.End(pack)
	return pack, nil
}

// RetrieveAll retrieves every query in order. Individual retrieval
// failures never abort the batch; each query yields exactly one pack
// (R2.5). The batch stops early only on context cancellation or an
// empty query.
func (u *Unit) RetrieveAll(ctx context.Context, queries []string) ([]types.EvidencePack, error) {
	packs := make([]types.EvidencePack, 0, len(queries))
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return packs, err
		}
		pack, err := u.Retrieve(ctx, q)
		if err != nil {
			return packs, err
		}
		packs = append(packs, pack)
	}
	return packs, nil
}

// topN returns the configured result limit clamped to MaxTopN.
func (u *Unit) topN() int {
	n := u.cfg.TopN
	if n <= 0 {
		n = 5
	}
	if u.cfg.MaxTopN > 0 && n > u.cfg.MaxTopN {
		n = u.cfg.MaxTopN
	}
	return n
}

// Merge combines packs into a single new pack: queries concatenate in
// order, evidence dedups across packs, and no-results entries are kept
// per missed query. The inputs are not modified (R1.5).
func Merge(packs ...types.EvidencePack) types.EvidencePack {
	var merged types.EvidencePack
	var all []types.EvidenceItem
	seenMissed := make(map[string]bool)

	for _, p := range packs {
		merged.Queries = append(merged.Queries, p.Queries...)
		all = append(all, p.Evidence...)
		for _, q := range p.NoResultsFor {
			if seenMissed[q] {
				continue
			}
			seenMissed[q] = true
			merged.NoResultsFor = append(merged.NoResultsFor, q)
		}
	}
	merged.Evidence = dedupe(all)
	return merged
}

// hitsToEvidence converts knowledge-base hits into evidence items,
// clipping snippets to the configured rune bound.
func hitsToEvidence(hits []kb.Hit, maxRunes int) []types.EvidenceItem {
	items := make([]types.EvidenceItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, types.EvidenceItem{
			DocID:   h.DocID,
			Title:   h.Title,
			Section: h.Section,
			Snippet: clipSnippet(h.Snippet, maxRunes),
			Score:   h.Score,
		})
	}
	return items
}

// dedupe merges items that share an identity key, keeping the
// higher-scored duplicate, then orders by descending score with ties
// broken by first-seen order (R1.4).
func dedupe(items []types.EvidenceItem) []types.EvidenceItem {
	seen := make(map[string]int) // identity key → index in deduped
	var deduped []types.EvidenceItem

	for _, item := range items {
		key := item.Key()
		if idx, ok := seen[key]; ok {
			if item.Score > deduped[idx].Score {
				deduped[idx] = item
			}
			continue
		}
		seen[key] = len(deduped)
		deduped = append(deduped, item)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Score > deduped[j].Score
	})
	return deduped
}

// clipSnippet truncates s to maxRunes runes, backing up to the last word
// boundary so evidence never ends mid-word. Zero or negative maxRunes
// disables clipping.
func clipSnippet(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	cut := string([]rune(s)[:maxRunes])
	if i := strings.LastIndexAny(cut, " \t\n"); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
