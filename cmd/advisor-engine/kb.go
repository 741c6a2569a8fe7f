// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/advisor-engine/internal/corpus"
	"github.com/pdiddy/advisor-engine/internal/kb"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the product knowledge base (load, search, status)",
	Long: `Kb manages the local product index. Load ingests product pages from the
corpus directory into a SQLite FTS5 index; search runs a debug query against
the configured backend; status prints index statistics.`,
}

var kbLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Ingest product pages from the corpus directory",
	Long: `Load reads product pages (YAML) from the corpus directory, splits them
into titled sections, and ingests them into the SQLite index. Unchanged
documents are skipped on subsequent runs.`,
	RunE: runKBLoad,
}

func runKBLoad(cmd *cobra.Command, args []string) error {
	cfg := buildConfig()
	var out = cmd.OutOrStdout()

	docs, err := corpus.Load(cfg.KnowledgeBase.CorpusDir, out)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no product pages found in %s", cfg.KnowledgeBase.CorpusDir)
	}

	store, err := kb.NewStore(cfg.KnowledgeBase)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := store.Ingest(cmd.Context(), docs, out)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d document(s) failed indexing", summary.Failed)
	}
	return nil
}

var kbSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a debug query against the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runKBSearch,
}

func runKBSearch(cmd *cobra.Command, args []string) error {
	cfg := buildConfig()
	topK, _ := cmd.Flags().GetInt("top")

	searcher, err := kb.Open(cfg.KnowledgeBase, zap.NewNop())
	if err != nil {
		return err
	}
	defer searcher.Close()

	hits, err := searcher.Search(cmd.Context(), strings.Join(args, " "), topK)
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	if len(hits) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Fprintf(os.Stdout, "%-5s  %-32s  %-20s  %-6s  %s\n", "Rank", "Document", "Section", "Score", "Snippet")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 110))
	for i, h := range hits {
		snippet := strings.Join(strings.Fields(h.Snippet), " ")
		if len(snippet) > 60 {
			snippet = snippet[:57] + "..."
		}
		fmt.Fprintf(os.Stdout, "%-5d  %-32s  %-20s  %-6.2f  %s\n", i+1, h.DocID, h.Section, h.Score, snippet)
	}
	return nil
}

var kbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print index statistics",
	RunE:  runKBStatus,
}

func runKBStatus(cmd *cobra.Command, args []string) error {
	cfg := buildConfig()

	store, err := kb.NewStore(cfg.KnowledgeBase)
	if err != nil {
		return err
	}
	defer store.Close()

	docs, sections, err := store.Stats(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Documents: %d\nSections:  %d\nIndex:     %s\n", docs, sections, cfg.KnowledgeBase.IndexDir)
	return nil
}

func init() {
	kbSearchCmd.Flags().Int("top", 5, "number of results")
	kbSearchCmd.Flags().Bool("json", false, "emit results as JSON")
	kbCmd.AddCommand(kbLoadCmd, kbSearchCmd, kbStatusCmd)
	rootCmd.AddCommand(kbCmd)
}
