// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pdiddy/advisor-engine/internal/model"
	"github.com/pdiddy/advisor-engine/pkg/types"
)

const twoStepPlan = `{"steps": [
	{"search_term": "student card annual fee", "reasoning": "affordability"},
	{"search_term": "student card rewards", "reasoning": "value"}
]}`

func TestPlanExactSize(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{twoStepPlan}}
	p := NewPlanner(inv, "test-model", types.PipelineConfig{PlanSize: 2, PlanExact: true})

	plan, err := p.Plan(context.Background(), "best student card?")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(plan.Steps))
	}
	if plan.Steps[0].SearchTerm != "student card annual fee" {
		t.Fatalf("step 0 term = %q", plan.Steps[0].SearchTerm)
	}
	if inv.calls[0].Model != "test-model" || !inv.calls[0].ForceJSON {
		t.Fatalf("request = %+v, want test-model with ForceJSON", inv.calls[0])
	}
}

func TestPlanShapeValidation(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		exact    bool
		response string
		wantErr  bool
	}{
		{"exact wrong count", 3, true, twoStepPlan, true},
		{"at most within bound", 3, false, twoStepPlan, false},
		{"at most zero steps", 3, false, `{"steps": []}`, true},
		{"at most over bound", 1, false, twoStepPlan, true},
		{"empty search term", 2, true, `{"steps": [{"search_term": "fees", "reasoning": "a"}, {"search_term": "  ", "reasoning": "b"}]}`, true},
		{"not json", 2, true, "here is my plan: search fees", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &scriptedInvoker{responses: []string{tt.response}}
			p := NewPlanner(inv, "m", types.PipelineConfig{PlanSize: tt.size, PlanExact: tt.exact})
			_, err := p.Plan(context.Background(), "q")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Plan error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, model.ErrBadSchema) && !strings.Contains(err.Error(), "schema") {
				t.Fatalf("error %v is not a schema failure", err)
			}
		})
	}
}

func TestPlanInvokerError(t *testing.T) {
	inv := &scriptedInvoker{errs: []error{errors.New("503 unavailable")}, responses: []string{""}}
	p := NewPlanner(inv, "m", types.PipelineConfig{PlanSize: 2, PlanExact: true})
	if _, err := p.Plan(context.Background(), "q"); err == nil {
		t.Fatal("expected error from failing invoker")
	}
}

func TestRefine(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{`{"steps": [{"search_term": "annual fee rebate", "reasoning": "page wording"}]}`}}
	p := NewPlanner(inv, "m", types.PipelineConfig{PlanSize: 2, PlanExact: true})

	plan := types.SearchPlan{Steps: []types.SearchStep{
		{SearchTerm: "fees", Reasoning: "cost"},
		{SearchTerm: "fee forgiveness", Reasoning: "waivers"},
	}}
	refined, err := p.Refine(context.Background(), "q", plan, []string{"fee forgiveness"})
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if len(refined.Steps) != 1 || refined.Steps[0].SearchTerm != "annual fee rebate" {
		t.Fatalf("refined = %+v", refined)
	}
	if !strings.Contains(inv.calls[0].Input, "fee forgiveness") {
		t.Fatal("refine prompt does not name the failed term")
	}
}

func TestRefineWrongReplacementCount(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{twoStepPlan}}
	p := NewPlanner(inv, "m", types.PipelineConfig{PlanSize: 6, PlanExact: true})

	_, err := p.Refine(context.Background(), "q", types.SearchPlan{}, []string{"one gap"})
	if !errors.Is(err, model.ErrBadSchema) {
		t.Fatalf("error = %v, want schema failure on count mismatch", err)
	}
}

func TestRefineNoGaps(t *testing.T) {
	p := NewPlanner(&scriptedInvoker{}, "m", types.PipelineConfig{})
	if _, err := p.Refine(context.Background(), "q", types.SearchPlan{}, nil); err == nil {
		t.Fatal("expected error when called with no gaps")
	}
}
