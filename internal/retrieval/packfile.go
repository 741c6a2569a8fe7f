// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/advisor-engine/pkg/types"
)

// PackFile is the on-disk representation of one turn's retrieval work.
// A run saved with `ask --save` can be inspected offline without
// re-querying the knowledge base.
// Implements: prd002-retrieval R5.1, R5.2.
type PackFile struct {
	Question string               `yaml:"question"`
	Plan     types.SearchPlan     `yaml:"plan"`
	Packs    []types.EvidencePack `yaml:"packs"`
	Summary  PackSummary          `yaml:"summary"`
}

// PackSummary stores evidence statistics and a timestamp.
type PackSummary struct {
	Items         int       `yaml:"items"`
	MissedQueries []string  `yaml:"missed_queries,omitempty"`
	Timestamp     time.Time `yaml:"timestamp"`
}

// WritePackFile saves the question, plan, and evidence packs to a YAML file.
func WritePackFile(path, question string, plan types.SearchPlan, packs []types.EvidencePack) error {
	pf := PackFile{
		Question: question,
		Plan:     plan,
		Packs:    packs,
		Summary: PackSummary{
			Timestamp: time.Now(),
		},
	}
	for _, p := range packs {
		pf.Summary.Items += len(p.Evidence)
		pf.Summary.MissedQueries = append(pf.Summary.MissedQueries, p.NoResultsFor...)
	}

	data, err := yaml.Marshal(&pf)
	if err != nil {
		return fmt.Errorf("marshaling pack file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadPackFile loads a previously saved pack file from disk.
func ReadPackFile(path string) (*PackFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pack file: %w", err)
	}
	var pf PackFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing pack file: %w", err)
	}
	return &pf, nil
}
