// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/advisor-engine/internal/pipeline"
	"github.com/pdiddy/advisor-engine/internal/retrieval"
	"github.com/pdiddy/advisor-engine/pkg/types"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question from the terminal",
	Long: `Ask runs a single advisory turn: the question is planned, researched
against the knowledge base, and answered with citations and a confidence
grade. Transcript updates print as they arrive.

Use --save to keep the turn's plan and evidence packs as a YAML run artifact
for offline inspection.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().String("variant", "", "pipeline variant override: explicit_plan or delegated_tool")
	askCmd.Flags().String("save", "", "write the turn's plan and evidence packs to this file")
	askCmd.Flags().Duration("timeout", 0, "bound the whole turn (0 = no bound)")
	askCmd.Flags().Bool("quiet", false, "print only the final report")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg := buildConfig()
	if variant, _ := cmd.Flags().GetString("variant"); variant != "" {
		cfg.Pipeline.Variant = types.PipelineVariant(variant)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logger, err := newLogger(cfg, verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var out io.Writer = os.Stdout
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		out = io.Discard
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	question := strings.Join(args, " ")

	var final pipeline.Snapshot
	printed := 0
	for snap := range eng.pipe.Run(ctx, question) {
		for _, msg := range snap.Messages[printed:] {
			printMessage(out, msg)
		}
		printed = len(snap.Messages)
		final = snap
	}

	// An interrupted turn is a clean shutdown, not a failure.
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		fmt.Fprintln(out, "\nInterrupted.")
		return nil
	}
	if final.Error != "" {
		return fmt.Errorf("turn failed: %s", final.Error)
	}

	if final.Report != nil {
		renderReport(os.Stdout, *final.Report)
	}

	if path, _ := cmd.Flags().GetString("save"); path != "" && final.Plan != nil {
		packs := make([]types.EvidencePack, 0, len(final.Summaries))
		for _, s := range final.Summaries {
			packs = append(packs, s.Pack)
		}
		if err := retrieval.WritePackFile(path, question, *final.Plan, packs); err != nil {
			return fmt.Errorf("saving run artifact: %w", err)
		}
		fmt.Fprintf(out, "Saved run artifact to %s\n", path)
	}
	return nil
}

func printMessage(out io.Writer, msg types.Message) {
	switch {
	case msg.Role == types.RoleUser:
		fmt.Fprintf(out, "> %s\n", msg.Content)
	case msg.Stage == types.StageAnswer:
		// The final answer prints in the rendered report instead.
	default:
		fmt.Fprintf(out, "[%s] %s\n", msg.Stage, msg.Content)
	}
}

// renderReport prints the final report: answer, comparison table,
// sources, confidence, and the advisor disclaimer when present.
func renderReport(out io.Writer, report types.FinalReport) {
	fmt.Fprintf(out, "\n%s\n", report.Answer)

	if len(report.Table) > 0 {
		fmt.Fprintf(out, "\n%-36s  %-40s  %-40s  %s\n", "Card", "Benefits", "Tradeoffs", "Sources")
		fmt.Fprintln(out, strings.Repeat("-", 140))
		for _, row := range report.Table {
			fmt.Fprintf(out, "%-36s  %-40s  %-40s  %s\n",
				clip(row.Card, 36), clip(row.Benefits, 40), clip(row.Tradeoffs, 40),
				strings.Join(row.Sources, ", "))
		}
	}

	if len(report.Sources) > 0 {
		fmt.Fprintf(out, "\nSources: %s\n", strings.Join(report.Sources, ", "))
	}
	fmt.Fprintf(out, "Confidence: %s", report.Confidence)
	if report.Escalate {
		fmt.Fprint(out, "  (escalated: advisor follow-up recommended)")
	}
	fmt.Fprintln(out)
	if report.Disclaimer != "" {
		fmt.Fprintf(out, "\n%s\n", report.Disclaimer)
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
