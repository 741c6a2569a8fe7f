// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import "github.com/pdiddy/advisor-engine/pkg/types"

// AuditReport returns the document ids a report cites that never appeared
// in the turn's retrieved evidence. An empty result means every citation
// is grounded. Unsupported claims are a correctness defect caught by this
// audit in tests, not a runtime exception (prd004-pipeline R4.4).
func AuditReport(report types.FinalReport, summaries []types.ResearchSummary) []string {
	known := make(map[string]bool)
	for _, s := range summaries {
		for _, id := range s.Pack.DocIDs() {
			known[id] = true
		}
	}

	var unsupported []string
	for _, id := range report.CitedDocs() {
		if !known[id] {
			unsupported = append(unsupported, id)
		}
	}
	return unsupported
}
