// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/pdiddy/advisor-engine/internal/kb"
	"github.com/pdiddy/advisor-engine/internal/model"
	"github.com/pdiddy/advisor-engine/pkg/types"
)

// stubRetrieve stands in for the retrieve tool in planner-only tests.
type stubRetrieve struct {
	output string
	calls  []string
}

func (s *stubRetrieve) Name() string        { return "retrieve" }
func (s *stubRetrieve) Description() string { return "Research one topic." }

func (s *stubRetrieve) Invoke(_ context.Context, input string) (string, error) {
	s.calls = append(s.calls, input)
	return s.output, nil
}

const delegatedFinal = `{"action":"final","answer":{
	"answer": "The Dividend Visa earns the most on groceries.",
	"sources": ["cibc-dividend"],
	"confidence": "medium",
	"escalate": false
}}`

func TestDelegatedAnswer(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{
		`{"action":"tool","tool":"retrieve","input":"grocery cash back"}`,
		delegatedFinal,
	}}
	tool := &stubRetrieve{output: "Dividend Visa: 4% cash back on groceries [cibc-dividend]."}
	d := NewDelegatedPlanner(inv, "m", types.PipelineConfig{MaxToolRounds: 4})

	report, err := d.Answer(context.Background(), "best grocery card?", tool)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(tool.calls) != 1 || tool.calls[0] != "grocery cash back" {
		t.Fatalf("tool calls = %v", tool.calls)
	}
	if report.Confidence != types.ConfidenceMedium || len(report.Sources) != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestDelegatedAnswerWithoutRetrieval(t *testing.T) {
	// The delegated agent decides its own retrieval; answering without
	// any tool call is structurally legal.
	inv := &scriptedInvoker{responses: []string{delegatedFinal}}
	d := NewDelegatedPlanner(inv, "m", types.PipelineConfig{})

	report, err := d.Answer(context.Background(), "q", &stubRetrieve{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if report.Answer == "" {
		t.Error("report answer is empty")
	}
}

func TestDelegatedBadFinalReport(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"string answer", `{"action":"final","answer":"just text"}`},
		{"invalid confidence", `{"action":"final","answer":{"answer":"ok","sources":[],"confidence":"sure"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &scriptedInvoker{responses: []string{tt.response}}
			d := NewDelegatedPlanner(inv, "m", types.PipelineConfig{})
			_, err := d.Answer(context.Background(), "q", &stubRetrieve{})
			if !errors.Is(err, model.ErrBadSchema) {
				t.Fatalf("error = %v, want ErrBadSchema", err)
			}
		})
	}
}

func TestRetrieveToolKeepsFailedSummaries(t *testing.T) {
	searcher := &mapSearcher{hits: map[string][]kb.Hit{
		"fees": {hit("cibc-classic-visa", "No annual fee.", 0.9)},
	}}
	inv := &scriptedInvoker{responses: []string{""}, errs: []error{errors.New("model down")}}
	r := NewResearcher(inv, "m", newTestUnit(t, searcher), types.PipelineConfig{})
	tool := NewRetrieveTool(r)

	if _, err := tool.Invoke(context.Background(), "fees"); err == nil {
		t.Fatal("expected the nested research failure to surface")
	}

	summaries := tool.Summaries()
	if len(summaries) != 1 || !summaries[0].Failed {
		t.Fatalf("summaries = %+v, want the failed step recorded", summaries)
	}
	if len(summaries[0].Pack.Evidence) != 1 {
		t.Error("partial evidence must survive the failure for auditing")
	}
}

func TestAdvisorAnswer(t *testing.T) {
	searcher := &mapSearcher{hits: map[string][]kb.Hit{
		"grocery cash back": {hit("cibc-dividend", "4% cash back on groceries.", 0.9)},
	}}
	researcherInv := &scriptedInvoker{responses: []string{
		`{"action":"final","answer":"Dividend Visa earns 4% cash back on groceries."}`,
	}}
	plannerInv := &scriptedInvoker{responses: []string{
		`{"action":"tool","tool":"retrieve","input":"grocery cash back"}`,
		delegatedFinal,
	}}

	researcher := NewResearcher(researcherInv, "m", newTestUnit(t, searcher), types.PipelineConfig{})
	advisor := NewAdvisor(NewDelegatedPlanner(plannerInv, "m", types.PipelineConfig{}), researcher)

	report, summaries, err := advisor.Answer(context.Background(), "best grocery card?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if report.Answer == "" {
		t.Error("report answer is empty")
	}
	if len(summaries) != 1 || summaries[0].SearchTerm != "grocery cash back" {
		t.Fatalf("summaries = %+v, want the nested research recorded", summaries)
	}
	if len(summaries[0].Pack.Evidence) != 1 {
		t.Error("nested research should carry its retrieved evidence")
	}

	// A second turn starts with a fresh tool: no summary leakage.
	plannerInv2 := &scriptedInvoker{responses: []string{delegatedFinal}}
	advisor2 := NewAdvisor(NewDelegatedPlanner(plannerInv2, "m", types.PipelineConfig{}), researcher)
	_, summaries2, err := advisor2.Answer(context.Background(), "another question")
	if err != nil {
		t.Fatalf("second Answer: %v", err)
	}
	if len(summaries2) != 0 {
		t.Errorf("summaries leaked across turns: %+v", summaries2)
	}
}
