// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/pdiddy/advisor-engine/internal/model"
	"github.com/pdiddy/advisor-engine/pkg/types"
)

// Planner turns a customer question into a bounded search plan. The plan
// shape is deterministic (step count and structure), its content is not.
// Per prd003-agents R2.
type Planner struct {
	invoker model.Invoker
	model   string
	size    int
	exact   bool
}

// NewPlanner builds a planner. Size defaults to 6 exact steps.
func NewPlanner(invoker model.Invoker, modelName string, cfg types.PipelineConfig) *Planner {
	size := cfg.PlanSize
	if size <= 0 {
		size = 6
	}
	return &Planner{
		invoker: invoker,
		model:   modelName,
		size:    size,
		exact:   cfg.PlanExact,
	}
}

// Plan produces the search plan for a question. A malformed or wrongly
// sized reply is a schema validation failure, fatal to the turn: without
// a plan there is nothing to research (R2.1, R2.2).
func (p *Planner) Plan(ctx context.Context, question string) (types.SearchPlan, error) {
	input, err := renderPlannerPrompt(question, p.size, p.exact)
	if err != nil {
		return types.SearchPlan{}, fmt.Errorf("planner: rendering prompt: %w", err)
	}

	resp, err := p.invoker.Invoke(ctx, model.Request{
		Model:     p.model,
		System:    plannerSystem,
		Input:     input,
		ForceJSON: true,
	})
	if err != nil {
		return types.SearchPlan{}, fmt.Errorf("planner: %w", err)
	}

	var plan types.SearchPlan
	if err := resp.DecodeJSON(&plan); err != nil {
		return types.SearchPlan{}, fmt.Errorf("planner: %w", err)
	}
	if err := p.validate(plan); err != nil {
		return types.SearchPlan{}, fmt.Errorf("planner: %w", err)
	}
	return plan, nil
}

// Refine produces replacement steps for search terms that found nothing,
// one per gap. Used by at most one refinement cycle per turn (R2.4).
func (p *Planner) Refine(ctx context.Context, question string, plan types.SearchPlan, gaps []string) (types.SearchPlan, error) {
	if len(gaps) == 0 {
		return types.SearchPlan{}, fmt.Errorf("planner: refine called with no gaps")
	}

	input, err := renderRefinePrompt(question, plan, gaps)
	if err != nil {
		return types.SearchPlan{}, fmt.Errorf("planner: rendering refine prompt: %w", err)
	}

	resp, err := p.invoker.Invoke(ctx, model.Request{
		Model:     p.model,
		System:    plannerSystem,
		Input:     input,
		ForceJSON: true,
	})
	if err != nil {
		return types.SearchPlan{}, fmt.Errorf("planner refine: %w", err)
	}

	var refined types.SearchPlan
	if err := resp.DecodeJSON(&refined); err != nil {
		return types.SearchPlan{}, fmt.Errorf("planner refine: %w", err)
	}
	if len(refined.Steps) != len(gaps) {
		return types.SearchPlan{}, fmt.Errorf("planner refine: %w: got %d replacement steps, want %d",
			model.ErrBadSchema, len(refined.Steps), len(gaps))
	}
	if err := validateSteps(refined.Steps); err != nil {
		return types.SearchPlan{}, fmt.Errorf("planner refine: %w", err)
	}
	return refined, nil
}

// validate enforces the configured plan shape: exactly size steps, or
// between one and size steps in the at-most configuration.
func (p *Planner) validate(plan types.SearchPlan) error {
	n := len(plan.Steps)
	if p.exact && n != p.size {
		return fmt.Errorf("%w: got %d steps, want exactly %d", model.ErrBadSchema, n, p.size)
	}
	if !p.exact && (n < 1 || n > p.size) {
		return fmt.Errorf("%w: got %d steps, want between 1 and %d", model.ErrBadSchema, n, p.size)
	}
	return validateSteps(plan.Steps)
}

func validateSteps(steps []types.SearchStep) error {
	for i, s := range steps {
		if strings.TrimSpace(s.SearchTerm) == "" {
			return fmt.Errorf("%w: step %d has an empty search term", model.ErrBadSchema, i+1)
		}
	}
	return nil
}
