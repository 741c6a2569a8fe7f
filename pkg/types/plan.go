// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
)

// SearchStep is one planned knowledge-base query with the planner's rationale.
// Steps are immutable once planned: created by the planner, consumed by the
// research fan-out, never mutated. Per prd003-agents R2.1.
type SearchStep struct {
	// SearchTerm is the query to run against the knowledge base.
	SearchTerm string `json:"search_term" yaml:"search_term"`

	// Reasoning explains why this term advances the user's question.
	Reasoning string `json:"reasoning" yaml:"reasoning"`
}

// SearchPlan is an ordered sequence of search steps. Insertion order is
// execution order and is significant: later steps may build on the topic
// coverage of earlier ones, so plans are never reordered. A plan is created
// once per turn and read-only afterward. Per prd003-agents R2.2.
type SearchPlan struct {
	// Steps holds the planned queries in execution order.
	Steps []SearchStep `json:"steps" yaml:"steps"`
}

// Terms returns the search terms in execution order.
func (p SearchPlan) Terms() []string {
	terms := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		terms[i] = s.SearchTerm
	}
	return terms
}

// String renders the plan as a numbered list for transcripts and logs.
func (p SearchPlan) String() string {
	var b strings.Builder
	for i, s := range p.Steps {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, s.SearchTerm, s.Reasoning)
	}
	return b.String()
}
