// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the advisor-engine pipeline.
// Implements: prd002-retrieval (EvidenceItem, EvidencePack, R1.1-R1.5);
//
//	prd003-agents (SearchStep, SearchPlan, ResearchSummary, R2.1-R2.4);
//	prd004-pipeline (FinalReport, Message, R3.1-R3.6);
//	prd001-knowledge-base (configuration).
//
// See docs/ARCHITECTURE.md § Pipeline Interface, § Data Structures.
package types

import "strings"

// EvidenceItem is a single retrieved passage from the product knowledge base.
// Per prd002-retrieval R1.2, each item carries provenance (document, optional
// section), a verbatim snippet, and a relevance score.
type EvidenceItem struct {
	// DocID is the stable document identifier (e.g. "cibc-dividend-visa-infinite").
	DocID string `json:"doc_id" yaml:"doc_id"`

	// Title is the human-readable document title.
	Title string `json:"title" yaml:"title"`

	// Section is the heading of the passage within the document, when known.
	Section string `json:"section,omitempty" yaml:"section,omitempty"`

	// Snippet is a verbatim excerpt of the source text, bounded in length
	// by the retrieval unit. Per R1.3 it is never paraphrased.
	Snippet string `json:"snippet" yaml:"snippet"`

	// Score is a relevance value between 0.0 and 1.0, higher is better.
	Score float64 `json:"score" yaml:"score"`
}

// Key returns the identity used for exact-match deduplication: doc_id plus
// section when a doc_id is present, otherwise the normalized snippet.
// Per prd002-retrieval R1.4 duplicate detection is exact, not fuzzy.
func (e EvidenceItem) Key() string {
	if e.DocID != "" {
		return e.DocID + "\x00" + e.Section
	}
	return NormalizeSnippet(e.Snippet)
}

// NormalizeSnippet lowercases text and collapses runs of whitespace so that
// snippets differing only in spacing or case dedup to the same key.
func NormalizeSnippet(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// EvidencePack is the structured result of one retrieval call: the queries
// issued, the deduplicated evidence found, and the queries that matched
// nothing. Packs are never merged in place; each search step's pack is kept
// distinct and passed forward whole. Per prd002-retrieval R1.1, R1.5.
type EvidencePack struct {
	// Queries lists the knowledge-base queries issued for this pack, in order.
	Queries []string `json:"queries" yaml:"queries"`

	// Evidence holds the deduplicated items, ordered by descending score with
	// ties broken by first-seen order.
	Evidence []EvidenceItem `json:"evidence" yaml:"evidence"`

	// NoResultsFor lists queries that returned no hits. An empty result is a
	// first-class outcome, not an error; downstream stages must not fabricate
	// evidence for these queries.
	NoResultsFor []string `json:"no_results_for" yaml:"no_results_for"`
}

// Empty reports whether the pack carries no evidence at all.
func (p EvidencePack) Empty() bool {
	return len(p.Evidence) == 0
}

// Missed reports whether the given query is listed in NoResultsFor.
func (p EvidencePack) Missed(query string) bool {
	for _, q := range p.NoResultsFor {
		if q == query {
			return true
		}
	}
	return false
}

// DocIDs returns the distinct document identifiers cited by the pack's
// evidence, in first-seen order.
func (p EvidencePack) DocIDs() []string {
	seen := make(map[string]bool, len(p.Evidence))
	var ids []string
	for _, e := range p.Evidence {
		id := e.DocID
		if id == "" {
			id = e.Title
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
