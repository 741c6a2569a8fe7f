// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"context"
	"fmt"

	"github.com/pdiddy/advisor-engine/internal/model"
	"github.com/pdiddy/advisor-engine/internal/retrieval"
	"github.com/pdiddy/advisor-engine/pkg/types"
)

// Researcher summarizes the knowledge-base evidence for one search step.
// Retrieval is mandatory and structural: the step's term is retrieved
// before the model ever runs, so a summary can never precede its
// evidence (R3.1). Per prd003-agents R3.
type Researcher struct {
	invoker   model.Invoker
	model     string
	unit      *retrieval.Unit
	followUps int
	maxRounds int
}

// NewResearcher builds a researcher. cfg.MaxResearchQueries bounds the
// follow-up queries the model may issue through the kb tool per step.
func NewResearcher(invoker model.Invoker, modelName string, unit *retrieval.Unit, cfg types.PipelineConfig) *Researcher {
	followUps := cfg.MaxResearchQueries
	if followUps < 0 {
		followUps = 0
	}
	return &Researcher{
		invoker:   invoker,
		model:     modelName,
		unit:      unit,
		followUps: followUps,
		maxRounds: followUps + 2,
	}
}

// Research retrieves the step's evidence and produces a grounded summary.
// On model failure the summary comes back with Failed set alongside the
// error, so the orchestrator can proceed on partial evidence (R3.4).
func (r *Researcher) Research(ctx context.Context, step types.SearchStep) (types.ResearchSummary, error) {
	summary := types.ResearchSummary{SearchTerm: step.SearchTerm}

	pack, err := r.unit.Retrieve(ctx, step.SearchTerm)
	if err != nil {
		return summary, fmt.Errorf("researcher: %w", err)
	}
	emit(ctx, types.StageResearch, fmt.Sprintf("searched %q: %s", step.SearchTerm, describePack(pack)))

	tool := &kbSearchTool{unit: r.unit, budget: r.followUps}
	input, err := renderResearcherPrompt(step, pack, r.followUps, []Tool{tool})
	if err != nil {
		summary.Pack = pack
		return summary, fmt.Errorf("researcher: rendering prompt: %w", err)
	}

	raw, loopErr := runLoop(ctx, loopConfig{
		Invoker:   r.invoker,
		Model:     r.model,
		System:    researcherSystem,
		MaxRounds: r.maxRounds,
		Stage:     types.StageResearch,
		Tools:     []Tool{tool},
	}, input)

	// Follow-up evidence belongs to the step regardless of how the
	// loop ended.
	summary.Pack = retrieval.Merge(append([]types.EvidencePack{pack}, tool.packs...)...)

	if loopErr != nil {
		summary.Failed = true
		summary.Summary = "Research for this step could not be completed."
		return summary, fmt.Errorf("researcher %q: %w", step.SearchTerm, loopErr)
	}

	text, err := decodeAnswerText(raw)
	if err != nil {
		summary.Failed = true
		summary.Summary = "Research for this step could not be completed."
		return summary, fmt.Errorf("researcher %q: %w", step.SearchTerm, err)
	}
	summary.Summary = text
	return summary, nil
}

func describePack(pack types.EvidencePack) string {
	if pack.Empty() {
		return "no results"
	}
	return fmt.Sprintf("%d evidence items", len(pack.Evidence))
}

// kbSearchTool exposes the retrieval unit inside a researcher loop and
// keeps every pack it served, so follow-up evidence reaches the step's
// summary. One instance per Research call; not safe for concurrent use.
type kbSearchTool struct {
	unit   *retrieval.Unit
	budget int
	used   int
	packs  []types.EvidencePack
}

func (t *kbSearchTool) Name() string { return "kb_search" }

func (t *kbSearchTool) Description() string {
	return "Search the CIBC product knowledge base. Input: a short keyword query. Returns matching passages with doc_ids and scores."
}

func (t *kbSearchTool) Invoke(ctx context.Context, input string) (string, error) {
	if t.used >= t.budget {
		return "Follow-up budget exhausted; write your summary from the evidence you already have.", nil
	}
	t.used++

	pack, err := t.unit.Retrieve(ctx, input)
	if err != nil {
		return "", err
	}
	t.packs = append(t.packs, pack)
	return renderPack(pack), nil
}
