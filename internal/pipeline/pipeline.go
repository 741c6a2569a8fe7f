// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline sequences the advisor agents into complete turns:
// plan, research, synthesis, with tracing spans per stage and incremental
// transcript snapshots streamed to the caller.
// Implements: prd004-pipeline (R1-R5);
//
//	docs/ARCHITECTURE § Orchestration.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/advisor-engine/internal/agent"
	"github.com/pdiddy/advisor-engine/internal/trace"
	"github.com/pdiddy/advisor-engine/pkg/types"
)

// Planner produces and refines search plans. Plan failure is fatal to a
// turn: without a plan there is nothing to research. Refine must return
// exactly one replacement step per gap, in gap order; a plan of any
// other size is discarded and the turn synthesizes on first-pass
// evidence.
type Planner interface {
	Plan(ctx context.Context, question string) (types.SearchPlan, error)
	Refine(ctx context.Context, question string, plan types.SearchPlan, gaps []string) (types.SearchPlan, error)
}

// Researcher resolves one search step into a grounded summary.
type Researcher interface {
	Research(ctx context.Context, step types.SearchStep) (types.ResearchSummary, error)
}

// Writer composes the final report from research summaries.
type Writer interface {
	Synthesize(ctx context.Context, question string, summaries []types.ResearchSummary) (types.FinalReport, error)
}

// Delegate answers a question directly through its own retrieval
// decisions (the delegated-tool variant), returning the research it
// performed alongside the report.
type Delegate interface {
	Answer(ctx context.Context, question string) (types.FinalReport, []types.ResearchSummary, error)
}

// Deps carries the pipeline's collaborators. The process wires one
// pipeline and shares it across turns; there are no global singletons.
type Deps struct {
	Planner    Planner
	Researcher Researcher
	Writer     Writer
	Delegate   Delegate // required only for the delegated_tool variant
	Tracer     trace.Tracer
	Logger     *zap.Logger
	Metrics    *Metrics
}

// Pipeline orchestrates turns. Safe for concurrent use: each Run spawns
// an independent turn goroutine and turns share only read-only clients.
type Pipeline struct {
	cfg     types.PipelineConfig
	planner Planner
	rsch    Researcher
	writer  Writer
	deleg   Delegate
	tracer  trace.Tracer
	logger  *zap.Logger
	metrics *Metrics
}

// New builds a pipeline, validating that the configured variant has its
// collaborators.
func New(cfg types.PipelineConfig, deps Deps) (*Pipeline, error) {
	if cfg.Variant == "" {
		cfg.Variant = types.VariantExplicitPlan
	}
	switch cfg.Variant {
	case types.VariantExplicitPlan:
		if deps.Planner == nil || deps.Researcher == nil || deps.Writer == nil {
			return nil, fmt.Errorf("pipeline: explicit_plan variant needs planner, researcher, and writer")
		}
	case types.VariantDelegatedTool:
		if deps.Delegate == nil {
			return nil, fmt.Errorf("pipeline: delegated_tool variant needs a delegate")
		}
	default:
		return nil, fmt.Errorf("pipeline: unknown variant %q", cfg.Variant)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:     cfg,
		planner: deps.Planner,
		rsch:    deps.Researcher,
		writer:  deps.Writer,
		deleg:   deps.Delegate,
		tracer:  deps.Tracer,
		logger:  logger.With(zap.String("component", "pipeline")),
		metrics: deps.Metrics,
	}, nil
}

// Snapshot is one transcript-state update. Every completed sub-step
// yields a snapshot carrying the accumulated message list; the terminal
// snapshot additionally carries the final report (or error), the plan,
// and the research behind the answer.
type Snapshot struct {
	TurnID    string                  `json:"turn_id"`
	Messages  []types.Message         `json:"messages"`
	Plan      *types.SearchPlan       `json:"plan,omitempty"`
	Summaries []types.ResearchSummary `json:"summaries,omitempty"`
	Report    *types.FinalReport      `json:"report,omitempty"`
	Error     string                  `json:"error,omitempty"`
	Done      bool                    `json:"done"`
}

// Run processes one question and returns a lazy, finite, non-restartable
// sequence of snapshots. The channel closes after the terminal snapshot.
// Cancelling ctx stops the turn at its next suspension point, closes open
// spans as canceled, and emits a final degraded snapshot (R1.1-R1.4).
func (p *Pipeline) Run(ctx context.Context, question string) <-chan Snapshot {
	out := make(chan Snapshot, 8)
	t := &turn{
		p:        p,
		id:       uuid.NewString(),
		question: strings.TrimSpace(question),
		out:      out,
	}
	go func() {
		defer close(out)
		t.run(ctx)
	}()
	return out
}

// RunCollect drains Run and returns the terminal snapshot, for callers
// that do not stream.
func (p *Pipeline) RunCollect(ctx context.Context, question string) Snapshot {
	var last Snapshot
	for snap := range p.Run(ctx, question) {
		last = snap
	}
	return last
}

// turn is the per-question state. One goroutine owns it; the emitter
// callback runs on that same goroutine, so messages need no lock.
type turn struct {
	p        *Pipeline
	id       string
	question string
	out      chan Snapshot
	messages []types.Message
}

func (t *turn) run(ctx context.Context) {
	start := time.Now()
	variant := t.p.cfg.Variant

	if t.question == "" {
		t.append(types.Message{Role: types.RoleAssistant, Stage: types.StageAnswer,
			Content: "Please ask a question about our credit-card products."})
		t.finish(ctx, Snapshot{Error: "question is empty"})
		t.p.metrics.observeTurn(string(variant), "error", time.Since(start))
		return
	}

	ctx, root := t.p.tracer.Start(ctx, "multi_agent_turn", t.question)
	t.append(types.Message{Role: types.RoleUser, Content: t.question})
	t.push(ctx)

	var (
		report    types.FinalReport
		plan      *types.SearchPlan
		summaries []types.ResearchSummary
		err       error
	)
	if variant == types.VariantDelegatedTool {
		report, summaries, err = t.runDelegated(ctx)
	} else {
		report, plan, summaries, err = t.runExplicit(ctx)
	}

	if err != nil {
		outcome := "error"
		if ctx.Err() != nil {
			outcome = "canceled"
			root.EndCanceled()
			t.append(types.Message{Role: types.RoleAssistant, Stage: types.StageAnswer,
				Content: "This turn was canceled before it finished."})
		} else {
			root.EndError(err)
		}
		t.p.logger.Warn("turn failed",
			zap.String("turn_id", t.id),
			zap.String("variant", string(variant)),
			zap.Error(err))
		t.p.metrics.observeTurn(string(variant), outcome, time.Since(start))
		t.finish(ctx, Snapshot{Plan: plan, Summaries: summaries, Error: err.Error()})
		return
	}

	root.End(report)
	t.append(types.Message{Role: types.RoleAssistant, Stage: types.StageAnswer, Content: report.Answer})
	t.p.metrics.observeTurn(string(variant), "ok", time.Since(start))
	t.p.logger.Info("turn complete",
		zap.String("turn_id", t.id),
		zap.String("variant", string(variant)),
		zap.String("confidence", string(report.Confidence)),
		zap.Bool("escalate", report.Escalate),
		zap.Duration("elapsed", time.Since(start)))
	t.finish(ctx, Snapshot{Plan: plan, Summaries: summaries, Report: &report})
}

// runExplicit is the plan → fan-out → synthesize shape with one bounded
// refinement cycle (R2).
func (t *turn) runExplicit(ctx context.Context) (types.FinalReport, *types.SearchPlan, []types.ResearchSummary, error) {
	planCtx, span := t.p.tracer.Start(ctx, "create_search_plan", t.question)
	plan, err := t.p.planner.Plan(planCtx, t.question)
	if err != nil {
		if ctx.Err() != nil {
			span.EndCanceled()
		} else {
			span.EndError(err)
			t.append(types.Message{Role: types.RoleAssistant, Stage: types.StagePlan,
				Content: "I could not put together a research plan for this question. Please try rephrasing it."})
		}
		return types.FinalReport{}, nil, nil, stageError(types.StagePlan, err)
	}
	span.End(plan.String())

	t.append(types.Message{Role: types.RoleAssistant, Stage: types.StagePlan,
		Content: "Research plan:\n" + plan.String()})
	t.push(ctx)

	summaries := t.research(ctx, plan.Steps)

	// Refinement: at most one re-query cycle for steps that found
	// nothing or failed. A second cycle is out of contract (R2.4).
	if gaps, idxs := gapsOf(plan.Steps, summaries); len(gaps) > 0 && ctx.Err() == nil {
		refined, err := t.p.planner.Refine(ctx, t.question, plan, gaps)
		if err != nil {
			t.p.logger.Warn("refinement failed, synthesizing on first-pass evidence",
				zap.String("turn_id", t.id), zap.Error(err))
		} else if len(refined.Steps) != len(idxs) {
			t.p.logger.Warn("refinement returned a wrong-sized plan, synthesizing on first-pass evidence",
				zap.String("turn_id", t.id),
				zap.Int("got", len(refined.Steps)),
				zap.Int("want", len(idxs)))
		} else {
			t.append(types.Message{Role: types.RoleAssistant, Stage: types.StagePlan,
				Content: "Refining searches that found nothing: " + strings.Join(refined.Terms(), "; ")})
			t.push(ctx)
			ectx := agent.WithEmitter(ctx, t.liveEmit(ctx))
			for k, idx := range idxs {
				if ctx.Err() != nil {
					break
				}
				summaries[idx] = t.researchStep(ectx, refined.Steps[k])
				t.append(stepMessage(idx, len(plan.Steps), summaries[idx]))
				t.push(ctx)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return types.FinalReport{}, &plan, summaries, err
	}

	synthCtx, span := t.p.tracer.Start(ctx, "generate_final_report", t.question)
	report, err := t.p.writer.Synthesize(synthCtx, t.question, summaries)
	if err != nil {
		if ctx.Err() != nil {
			span.EndCanceled()
		} else {
			span.EndError(err)
			t.append(types.Message{Role: types.RoleAssistant, Stage: types.StageSynthesis,
				Content: "I gathered the research but could not compose a reliable answer. Please try again or contact an advisor."})
		}
		return types.FinalReport{}, &plan, summaries, stageError(types.StageSynthesis, err)
	}
	span.End(report)

	t.applyConfidencePolicy(&report, summaries)
	return report, &plan, summaries, nil
}

// runDelegated is the single-agent shape: the delegate decides its own
// retrieval and answers directly (R3).
func (t *turn) runDelegated(ctx context.Context) (types.FinalReport, []types.ResearchSummary, error) {
	ectx := agent.WithEmitter(ctx, t.liveEmit(ctx))
	report, summaries, err := t.p.deleg.Answer(ectx, t.question)
	if err != nil {
		if ctx.Err() == nil {
			t.append(types.Message{Role: types.RoleAssistant, Stage: types.StageAnswer,
				Content: "I could not produce a reliable answer for this question. Please try again or contact an advisor."})
		}
		return types.FinalReport{}, summaries, stageError(types.StageAnswer, err)
	}

	// The delegate never answers product questions from parametric
	// knowledge: an answer with no retrieval behind it is unsupported.
	if len(summaries) == 0 {
		report.Confidence = types.ConfidenceLow
		report.Escalate = true
	} else {
		t.applyConfidencePolicy(&report, summaries)
	}
	return report, summaries, nil
}

// research resolves every step. Sequential by default; with Parallelism
// above one an errgroup fans out, but summaries and transcript entries
// are assembled by original step index before the turn continues, so
// ordering is deterministic regardless of completion order (R2.3).
func (t *turn) research(ctx context.Context, steps []types.SearchStep) []types.ResearchSummary {
	summaries := make([]types.ResearchSummary, len(steps))

	if t.p.cfg.Parallelism <= 1 || len(steps) == 1 {
		ectx := agent.WithEmitter(ctx, t.liveEmit(ctx))
		for i, step := range steps {
			if ctx.Err() != nil {
				markCanceled(summaries[i:], steps[i:])
				break
			}
			summaries[i] = t.researchStep(ectx, step)
			t.append(stepMessage(i, len(steps), summaries[i]))
			t.push(ctx)
		}
		return summaries
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.p.cfg.Parallelism)
	for i, step := range steps {
		g.Go(func() error {
			summaries[i] = t.researchStep(gctx, step)
			return nil
		})
	}
	_ = g.Wait()

	for i := range steps {
		t.append(stepMessage(i, len(steps), summaries[i]))
	}
	t.push(ctx)
	return summaries
}

// researchStep runs one step. Failures are absorbed into the summary:
// the step reads downstream as unavailable evidence, and the turn goes
// on to synthesize from what it has (R2.2).
func (t *turn) researchStep(ctx context.Context, step types.SearchStep) types.ResearchSummary {
	start := time.Now()
	summary, err := t.p.rsch.Research(ctx, step)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		t.p.logger.Warn("research step failed",
			zap.String("turn_id", t.id),
			zap.String("search_term", step.SearchTerm),
			zap.Error(err))
		summary.SearchTerm = step.SearchTerm
		summary.Failed = true
		if summary.Summary == "" {
			summary.Summary = "Research for this step could not be completed."
		}
	}
	t.p.metrics.observeStep(outcome, time.Since(start))
	return summary
}

// applyConfidencePolicy enforces the post-hoc confidence cap: any
// affected step caps the report at medium; affected steps in the
// majority force low. The writer may always judge lower (R4.2). When
// evidence is still missing everywhere after refinement the turn is
// escalated to a human advisor.
func (t *turn) applyConfidencePolicy(report *types.FinalReport, summaries []types.ResearchSummary) {
	affected := 0
	for _, s := range summaries {
		if s.Failed || s.Pack.Empty() {
			affected++
		}
	}
	if affected == 0 {
		return
	}

	ceiling := types.ConfidenceMedium
	if affected*2 > len(summaries) {
		ceiling = types.ConfidenceLow
	}
	report.Confidence = report.Confidence.Cap(ceiling)
	if affected == len(summaries) {
		report.Escalate = true
	}
}

// gapsOf returns the search terms and indexes of steps that failed or
// found no evidence, the inputs to the refinement cycle.
func gapsOf(steps []types.SearchStep, summaries []types.ResearchSummary) ([]string, []int) {
	var gaps []string
	var idxs []int
	for i, s := range summaries {
		if s.Failed || s.Pack.Empty() {
			gaps = append(gaps, steps[i].SearchTerm)
			idxs = append(idxs, i)
		}
	}
	return gaps, idxs
}

// markCanceled fills summaries for steps that never ran because the turn
// was canceled mid-fan-out.
func markCanceled(summaries []types.ResearchSummary, steps []types.SearchStep) {
	for i := range summaries {
		summaries[i] = types.ResearchSummary{
			SearchTerm: steps[i].SearchTerm,
			Summary:    "Research for this step could not be completed.",
			Failed:     true,
		}
	}
}

// stepMessage renders one resolved step for the transcript.
func stepMessage(i, n int, s types.ResearchSummary) types.Message {
	return types.Message{
		Role:    types.RoleAssistant,
		Stage:   types.StageResearch,
		Content: fmt.Sprintf("Search %d/%d %q: %s", i+1, n, s.SearchTerm, s.Summary),
	}
}

// liveEmit returns an emitter that appends agent progress messages and
// pushes a snapshot per message. Used only on the turn's own goroutine.
func (t *turn) liveEmit(ctx context.Context) agent.EmitFunc {
	return func(m types.Message) {
		t.append(m)
		t.push(ctx)
	}
}

func (t *turn) append(m types.Message) {
	t.messages = append(t.messages, m)
}

// snapshot copies the accumulated transcript so later appends never race
// with a consumer holding an earlier snapshot.
func (t *turn) snapshot() []types.Message {
	msgs := make([]types.Message, len(t.messages))
	copy(msgs, t.messages)
	return msgs
}

// push sends an intermediate snapshot. A canceled consumer stops the
// send; the turn then winds down at its next cancellation check.
func (t *turn) push(ctx context.Context) {
	select {
	case t.out <- Snapshot{TurnID: t.id, Messages: t.snapshot()}:
	case <-ctx.Done():
	}
}

// finish sends the terminal snapshot. Delivery is attempted even after
// cancellation so a draining consumer still sees the final state.
func (t *turn) finish(ctx context.Context, snap Snapshot) {
	snap.TurnID = t.id
	snap.Messages = t.snapshot()
	snap.Done = true
	select {
	case t.out <- snap:
	case <-ctx.Done():
		select {
		case t.out <- snap:
		default:
		}
	}
}
