// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/pdiddy/advisor-engine/pkg/types"
)

// plannerSystem frames the planner role. The planner never answers from
// its own knowledge; product facts must come through search (R2.5).
const plannerSystem = `You are the planning agent of a credit-card advisory service. You break a customer's question into knowledge-base search steps. You never answer the question yourself and you never rely on memorized product facts, because card terms change; every product fact must be retrieved by a later research step.`

// plannerPromptTmpl produces the search plan request. The reply must be a
// bare JSON object so the pipeline can parse it strictly (R2.1).
var plannerPromptTmpl = template.Must(template.New("planner").Parse(`Customer question:
{{.Question}}

Produce {{if .Exact}}exactly{{else}}at most{{end}} {{.Size}} knowledge-base search steps that together cover the question. Each step has:
- search_term: a short keyword query against the CIBC credit card knowledge base (product pages covering rewards, fees, eligibility, insurance, rates)
- reasoning: one sentence on why this step advances the customer's question

Cover distinct facets; do not repeat near-identical terms. Respond with a JSON object only, no text outside it.

Example response:
{"steps": [{"search_term": "student credit card annual fee", "reasoning": "The customer is a student, so fee waivers for students decide affordability."}]}
`))

// refinePromptTmpl asks for replacement steps covering unresolved terms.
// Used by at most one refinement cycle per turn (R2.4).
var refinePromptTmpl = template.Must(template.New("refine").Parse(`Customer question:
{{.Question}}

Original search plan:
{{.Plan}}
The following search terms found nothing in the knowledge base:
{{range .Gaps}}- {{.}}
{{end}}
Produce exactly {{len .Gaps}} replacement steps, one per failed term, rephrasing toward vocabulary a product page would use (e.g. "annual fee rebate" rather than "fee forgiveness"). Respond with a JSON object only.

Example response:
{"steps": [{"search_term": "annual fee rebate conditions", "reasoning": "Product pages describe waivers as rebates, so this phrasing should match."}]}
`))

// researcherSystem frames the researcher role and its grounding contract:
// summaries draw only on retrieved evidence, never outside facts (R3.2).
const researcherSystem = `You are a research agent for a credit-card advisory service. You summarize what the retrieved knowledge-base evidence says about one search topic. Rules:
- Use only the evidence shown to you. Never add facts from memory, even well-known ones.
- Cite the doc_id in square brackets after each fact, e.g. [cibc-dividend-visa].
- If the evidence does not cover the topic, state plainly that no supporting information was found. Do not guess.
- Keep the summary under 300 words.`

// researcherPromptTmpl carries one search step, its evidence, and the
// follow-up protocol into the researcher loop.
var researcherPromptTmpl = template.Must(template.New("researcher").Parse(`Search topic: {{.SearchTerm}}
Why it matters: {{.Reasoning}}

Evidence retrieved for this topic:
{{.Evidence}}
You may issue up to {{.FollowUps}} follow-up queries if the evidence leaves an obvious gap (for example, a fee amount the snippets mention but do not state). Available tools:
{{.Tools}}
When you have enough, finish with your grounded summary.

Respond each round with a JSON object only:
{"action": "tool", "tool": "kb_search", "input": "dividend visa annual fee"}
or
{"action": "final", "answer": "The CIBC Dividend Visa Infinite earns 4% cash back on groceries [cibc-dividend-visa]. ..."}
`))

// writerSystem frames the synthesis role: a grounded, cited consumer
// answer with an honest confidence grade (R4.1-R4.4).
const writerSystem = `You are the answer writer of a credit-card advisory service. You compose the final customer answer from research notes. Rules:
- Use only facts present in the research notes and their evidence. Never introduce outside facts.
- Cite supporting doc_ids in the sources arrays; a claim with no evidence must not appear.
- Where a table row's field has no evidence, write "Not available in KB" and use the same marker as its source.
- confidence is "low" whenever the evidence conflicts or is sparse, "high" only when every part of the answer is well supported.
- Set escalate to true when the customer should be handed to a human advisor, e.g. evidence is still missing for a material part of the question.
- When the answer touches regulated financial advice (credit eligibility, debt, insurance suitability), include a disclaimer directing the customer to a licensed advisor.`

// writerPromptTmpl carries the question and research notes into one
// structured synthesis call.
var writerPromptTmpl = template.Must(template.New("writer").Parse(`Customer question:
{{.Question}}

Research notes:
{{.Summaries}}
Compose the final answer. Include a comparison table only when the question compares products. Respond with a JSON object only, matching this shape:

{"answer": "For groceries the CIBC Dividend Visa Infinite is the strongest fit...", "table": [{"card": "CIBC Dividend Visa Infinite", "benefits": "4% cash back on groceries", "tradeoffs": "$120 annual fee", "sources": ["cibc-dividend-visa"]}], "sources": ["cibc-dividend-visa"], "confidence": "high", "escalate": false, "disclaimer": ""}
`))

// delegatedSystem frames the delegated-tool variant: one agent that
// decides its own retrieval and answers directly (R6.1, R6.2).
const delegatedSystem = `You are the advisory agent of a credit-card service, answering customer questions about CIBC credit cards. You never rely on memorized product facts; anything product-specific must come from your retrieve tool, which searches the product knowledge base and returns a grounded summary with citations. Decide yourself whether and how often to call it. If retrieval finds nothing, say so plainly rather than guessing, grade confidence low, and set escalate to true.`

// delegatedPromptTmpl carries the question and the loop protocol for the
// delegated planner.
var delegatedPromptTmpl = template.Must(template.New("delegated").Parse(`Customer question:
{{.Question}}

Available tools:
{{.Tools}}
Respond each round with a JSON object only. To pull evidence:
{"action": "tool", "tool": "retrieve", "input": "student card annual fee"}

To finish, answer in the final report shape (cite doc_ids from your retrievals; confidence "low" when evidence conflicts or is sparse; include a disclaimer when the answer touches regulated financial advice):
{"action": "final", "answer": {"answer": "The CIBC Classic Visa for students has no annual fee [cibc-classic-student]...", "table": [], "sources": ["cibc-classic-student"], "confidence": "medium", "escalate": false, "disclaimer": ""}}
`))

// renderPlannerPrompt executes the planner template.
func renderPlannerPrompt(question string, size int, exact bool) (string, error) {
	var buf bytes.Buffer
	err := plannerPromptTmpl.Execute(&buf, struct {
		Question string
		Size     int
		Exact    bool
	}{question, size, exact})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderRefinePrompt executes the refinement template.
func renderRefinePrompt(question string, plan types.SearchPlan, gaps []string) (string, error) {
	var buf bytes.Buffer
	err := refinePromptTmpl.Execute(&buf, struct {
		Question string
		Plan     string
		Gaps     []string
	}{question, plan.String(), gaps})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderResearcherPrompt executes the researcher template for one step.
func renderResearcherPrompt(step types.SearchStep, pack types.EvidencePack, followUps int, tools []Tool) (string, error) {
	var buf bytes.Buffer
	err := researcherPromptTmpl.Execute(&buf, struct {
		SearchTerm string
		Reasoning  string
		Evidence   string
		FollowUps  int
		Tools      string
	}{step.SearchTerm, step.Reasoning, renderPack(pack), followUps, renderToolList(tools)})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderWriterPrompt executes the writer template.
func renderWriterPrompt(question string, summaries []types.ResearchSummary) (string, error) {
	var buf bytes.Buffer
	err := writerPromptTmpl.Execute(&buf, struct {
		Question  string
		Summaries string
	}{question, renderSummaries(summaries)})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderDelegatedPrompt executes the delegated planner template.
func renderDelegatedPrompt(question string, tools []Tool) (string, error) {
	var buf bytes.Buffer
	err := delegatedPromptTmpl.Execute(&buf, struct {
		Question string
		Tools    string
	}{question, renderToolList(tools)})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderPack formats an evidence pack for model consumption, one line per
// item with provenance and score.
func renderPack(pack types.EvidencePack) string {
	var b strings.Builder
	for _, e := range pack.Evidence {
		ref := e.DocID
		if ref == "" {
			ref = e.Title
		}
		if e.Section != "" {
			ref += " § " + e.Section
		}
		fmt.Fprintf(&b, "- [%s] %s (score %.2f)\n", ref, e.Snippet, e.Score)
	}
	if len(pack.NoResultsFor) > 0 {
		fmt.Fprintf(&b, "No results for: %s\n", strings.Join(pack.NoResultsFor, "; "))
	}
	if pack.Empty() {
		b.WriteString("No supporting information was found in the knowledge base.\n")
	}
	return b.String()
}

// renderSummaries formats research notes for the writer, marking failed
// steps so the writer treats them as missing evidence.
func renderSummaries(summaries []types.ResearchSummary) string {
	var b strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&b, "### Search: %s\n", s.SearchTerm)
		if s.Failed {
			b.WriteString("(step unavailable: research could not be completed)\n")
		} else if s.Summary != "" {
			b.WriteString(s.Summary + "\n")
		}
		if !s.Pack.Empty() || len(s.Pack.NoResultsFor) > 0 {
			b.WriteString("Evidence:\n")
			b.WriteString(renderPack(s.Pack))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderToolList formats the tool roster for a loop prompt.
func renderToolList(tools []Tool) string {
	var b strings.Builder
	for _, tool := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name(), tool.Description())
	}
	return b.String()
}
