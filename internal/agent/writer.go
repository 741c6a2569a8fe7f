// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/pdiddy/advisor-engine/internal/model"
	"github.com/pdiddy/advisor-engine/pkg/types"
)

// Writer composes the final cited report from research summaries.
// Per prd003-agents R4.
type Writer struct {
	invoker model.Invoker
	model   string
}

// NewWriter builds a writer.
func NewWriter(invoker model.Invoker, modelName string) *Writer {
	return &Writer{invoker: invoker, model: modelName}
}

// Synthesize produces the final report for a question. The writer must
// not introduce facts absent from the summaries; a malformed reply is a
// schema validation failure, fatal to the stage (R4.2, R4.5).
func (w *Writer) Synthesize(ctx context.Context, question string, summaries []types.ResearchSummary) (types.FinalReport, error) {
	input, err := renderWriterPrompt(question, summaries)
	if err != nil {
		return types.FinalReport{}, fmt.Errorf("writer: rendering prompt: %w", err)
	}

	resp, err := w.invoker.Invoke(ctx, model.Request{
		Model:     w.model,
		System:    writerSystem,
		Input:     input,
		ForceJSON: true,
	})
	if err != nil {
		return types.FinalReport{}, fmt.Errorf("writer: %w", err)
	}

	var report types.FinalReport
	if err := resp.DecodeJSON(&report); err != nil {
		return types.FinalReport{}, fmt.Errorf("writer: %w", err)
	}
	if err := ValidateReport(report); err != nil {
		return types.FinalReport{}, fmt.Errorf("writer: %w", err)
	}
	return report, nil
}

// ValidateReport enforces the structural contract on a final report: a
// non-empty answer, a recognized confidence grade, and named table rows.
func ValidateReport(report types.FinalReport) error {
	if strings.TrimSpace(report.Answer) == "" {
		return fmt.Errorf("%w: report has an empty answer", model.ErrBadSchema)
	}
	if !report.Confidence.Valid() {
		return fmt.Errorf("%w: invalid confidence %q", model.ErrBadSchema, report.Confidence)
	}
	for i, row := range report.Table {
		if strings.TrimSpace(row.Card) == "" {
			return fmt.Errorf("%w: table row %d has an empty card name", model.ErrBadSchema, i+1)
		}
	}
	return nil
}
