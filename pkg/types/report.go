// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Confidence grades how well a final report is supported by retrieved
// evidence. Per prd004-pipeline R3.4.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// confidenceRank orders confidence values for capping; unknown values rank
// lowest so a malformed value is never promoted.
var confidenceRank = map[Confidence]int{
	ConfidenceLow:    1,
	ConfidenceMedium: 2,
	ConfidenceHigh:   3,
}

// Valid reports whether c is one of low, medium, or high.
func (c Confidence) Valid() bool {
	_, ok := confidenceRank[c]
	return ok
}

// Cap returns the weaker of c and ceiling. Capping never raises confidence:
// an invalid c is replaced by ceiling.
func (c Confidence) Cap(ceiling Confidence) Confidence {
	if !c.Valid() || confidenceRank[c] > confidenceRank[ceiling] {
		return ceiling
	}
	return c
}

// ResearchSummary is one search step's outcome: a natural-language summary
// grounded strictly in that step's evidence pack. The summary length is
// bounded (about 300 words) by the researcher's contract, not by truncation.
// Per prd003-agents R2.3.
type ResearchSummary struct {
	// SearchTerm is the step's query, for attribution in the transcript.
	SearchTerm string `json:"search_term" yaml:"search_term"`

	// Summary is the researcher's grounded digest of the evidence. When the
	// pack is empty it states that no supporting information was found.
	Summary string `json:"summary" yaml:"summary"`

	// Pack is the evidence retrieved for this step, kept whole for the
	// writer and for post-hoc grounding audits.
	Pack EvidencePack `json:"pack" yaml:"pack"`

	// Failed marks a step whose model invocation failed after retries; the
	// summary then carries a short unavailable notice. Per prd004-pipeline R3.3.
	Failed bool `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// ComparisonRow is one ranked row of a card comparison table. Each row cites
// the documents supporting it, or states plainly that the knowledge base has
// no coverage. Per prd004-pipeline R3.5.
type ComparisonRow struct {
	// Card is the product name.
	Card string `json:"card" yaml:"card"`

	// Benefits summarizes what the evidence says in the card's favor.
	Benefits string `json:"benefits" yaml:"benefits"`

	// Tradeoffs summarizes fees, conditions, and drawbacks found in evidence.
	Tradeoffs string `json:"tradeoffs" yaml:"tradeoffs"`

	// Sources lists supporting doc_ids, or ["Not available in KB"] when the
	// row's fields could not be supported.
	Sources []string `json:"sources" yaml:"sources"`
}

// FinalReport is the terminal artifact of a turn: a grounded answer with
// citations, confidence, and an escalation flag. Immutable once emitted; the
// core does not persist it. Per prd004-pipeline R3.1-R3.6.
type FinalReport struct {
	// Answer is the user-facing response.
	Answer string `json:"answer" yaml:"answer"`

	// Table holds ranked comparison rows when the question compares products.
	Table []ComparisonRow `json:"table,omitempty" yaml:"table,omitempty"`

	// Sources lists the doc_ids supporting the answer as a whole.
	Sources []string `json:"sources" yaml:"sources"`

	// Confidence grades evidential support: low whenever evidence conflicts
	// or is sparse.
	Confidence Confidence `json:"confidence" yaml:"confidence"`

	// Escalate signals that the turn warrants advisor follow-up, e.g. when
	// evidence is still missing after the refinement cycle.
	Escalate bool `json:"escalate" yaml:"escalate"`

	// Disclaimer directs the user to a licensed advisor when the answer
	// touches regulated financial advice. Empty otherwise.
	Disclaimer string `json:"disclaimer,omitempty" yaml:"disclaimer,omitempty"`
}

// CitedDocs returns every doc_id the report cites, across Sources and table
// rows, deduplicated in first-seen order. "Not available in KB" markers are
// skipped. Used by the grounding audit.
func (r FinalReport) CitedDocs() []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id == "" || id == NoCoverageMarker || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for _, id := range r.Sources {
		add(id)
	}
	for _, row := range r.Table {
		for _, id := range row.Sources {
			add(id)
		}
	}
	return ids
}

// NoCoverageMarker is the literal a report uses in place of a citation when
// the knowledge base cannot support a field.
const NoCoverageMarker = "Not available in KB"
