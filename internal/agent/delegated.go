// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pdiddy/advisor-engine/internal/model"
	"github.com/pdiddy/advisor-engine/pkg/types"
)

// DelegatedPlanner is the single-agent variant: it decides at runtime
// whether and how often to pull evidence through its one retrieve tool,
// then answers directly in the final report shape, with no separate
// writer stage. Per prd003-agents R6.
type DelegatedPlanner struct {
	invoker   model.Invoker
	model     string
	maxRounds int
}

// NewDelegatedPlanner builds the delegated planner. cfg.MaxToolRounds
// bounds its loop.
func NewDelegatedPlanner(invoker model.Invoker, modelName string, cfg types.PipelineConfig) *DelegatedPlanner {
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = 8
	}
	return &DelegatedPlanner{
		invoker:   invoker,
		model:     modelName,
		maxRounds: rounds,
	}
}

// Answer runs the decision loop for one question: the agent may call the
// retrieve tool any number of times within its round budget, and
// terminates by emitting a final report (R6.1, R6.3).
func (d *DelegatedPlanner) Answer(ctx context.Context, question string, retrieve Tool) (types.FinalReport, error) {
	input, err := renderDelegatedPrompt(question, []Tool{retrieve})
	if err != nil {
		return types.FinalReport{}, fmt.Errorf("delegated planner: rendering prompt: %w", err)
	}

	raw, err := runLoop(ctx, loopConfig{
		Invoker:   d.invoker,
		Model:     d.model,
		System:    delegatedSystem,
		MaxRounds: d.maxRounds,
		Stage:     types.StageResearch,
		Tools:     []Tool{retrieve},
	}, input)
	if err != nil {
		return types.FinalReport{}, fmt.Errorf("delegated planner: %w", err)
	}

	var report types.FinalReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return types.FinalReport{}, fmt.Errorf("delegated planner: %w: %v", model.ErrBadSchema, err)
	}
	if err := ValidateReport(report); err != nil {
		return types.FinalReport{}, fmt.Errorf("delegated planner: %w", err)
	}
	return report, nil
}

// RetrieveTool is the delegated planner's single tool: the nested
// retriever→researcher chain exposed through the Tool interface. It
// keeps each step's summary so the turn can audit and display the
// evidence behind the answer. One instance per turn; not safe for
// concurrent use.
type RetrieveTool struct {
	researcher *Researcher
	summaries  []types.ResearchSummary
}

// NewRetrieveTool wraps a researcher for the delegated loop.
func NewRetrieveTool(researcher *Researcher) *RetrieveTool {
	return &RetrieveTool{researcher: researcher}
}

func (t *RetrieveTool) Name() string { return "retrieve" }

func (t *RetrieveTool) Description() string {
	return "Research one topic against the CIBC product knowledge base and return a grounded summary with citations."
}

// Invoke researches the given topic. Partial evidence is kept even when
// the nested research fails, so the audit still sees it.
func (t *RetrieveTool) Invoke(ctx context.Context, input string) (string, error) {
	summary, err := t.researcher.Research(ctx, types.SearchStep{
		SearchTerm: input,
		Reasoning:  "requested by the advisory agent",
	})
	t.summaries = append(t.summaries, summary)
	if err != nil {
		return "", err
	}
	return summary.Summary + "\n\nEvidence:\n" + renderPack(summary.Pack), nil
}

// Summaries returns the research performed through this tool, in call order.
func (t *RetrieveTool) Summaries() []types.ResearchSummary {
	return t.summaries
}

// Advisor couples the delegated planner with the researcher behind its
// retrieve tool. Each turn gets a fresh tool, so research never leaks
// between turns.
type Advisor struct {
	planner    *DelegatedPlanner
	researcher *Researcher
}

// NewAdvisor builds the delegated-variant entry point.
func NewAdvisor(planner *DelegatedPlanner, researcher *Researcher) *Advisor {
	return &Advisor{planner: planner, researcher: researcher}
}

// Answer runs one delegated turn and returns the report together with the
// research performed through the retrieve tool, for auditing and display.
func (a *Advisor) Answer(ctx context.Context, question string) (types.FinalReport, []types.ResearchSummary, error) {
	tool := NewRetrieveTool(a.researcher)
	report, err := a.planner.Answer(ctx, question, tool)
	return report, tool.Summaries(), err
}
