// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package corpus loads product pages from disk and prepares them for
// knowledge-base ingestion. Implements: prd001-knowledge-base (R3.1-R3.5);
//
//	docs/ARCHITECTURE § Knowledge Base.
//
// A corpus directory holds one YAML file per product page with doc_id,
// card, title, url, and a Markdown body. Bodies are split into sections on
// heading boundaries so retrieval returns focused passages instead of
// whole pages.
package corpus

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/advisor-engine/pkg/types"
)

// maxSectionRunes bounds a section body; longer sections are split on
// paragraph boundaries so no single passage dominates retrieval.
const maxSectionRunes = 2000

// page is the on-disk form of one product page.
type page struct {
	DocID string `yaml:"doc_id"`
	Card  string `yaml:"card"`
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
	Body  string `yaml:"body"`
}

// Load reads every .yaml/.yml file in dir, splits each page body into
// sections, and returns the documents ready for ingestion. Files that
// cannot be read or parsed are reported on w and skipped; only an
// unreadable directory is fatal.
func Load(dir string, w io.Writer) ([]types.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading corpus directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var docs []types.Document
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(w, "skipped %s: %v\n", name, err)
			continue
		}

		var p page
		if err := yaml.Unmarshal(data, &p); err != nil {
			fmt.Fprintf(w, "skipped %s: parse error: %v\n", name, err)
			continue
		}
		if p.DocID == "" {
			fmt.Fprintf(w, "skipped %s: missing doc_id\n", name)
			continue
		}

		docs = append(docs, types.Document{
			DocID:    p.DocID,
			Card:     p.Card,
			Title:    p.Title,
			URL:      p.URL,
			Sections: splitSections(p.Body),
		})
	}

	return docs, nil
}

// splitSections chunks a Markdown body on heading boundaries (## or ###).
// Text before the first heading becomes an untitled section. Oversize
// bodies are further split on blank lines.
func splitSections(body string) []types.Section {
	lines := strings.Split(body, "\n")
	var sections []types.Section
	currentHeading := ""
	var bodyLines []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(bodyLines, "\n"))
		if currentHeading != "" || text != "" {
			for i, part := range splitOversize(text) {
				heading := currentHeading
				if i > 0 {
					heading = fmt.Sprintf("%s (part %d)", currentHeading, i+1)
				}
				sections = append(sections, types.Section{Heading: heading, Body: part})
			}
		}
		bodyLines = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isHeading(trimmed) {
			flush()
			currentHeading = stripHeadingPrefix(trimmed)
			continue
		}
		bodyLines = append(bodyLines, line)
	}
	flush()

	return sections
}

// isHeading returns true if the line starts with ## or ###.
func isHeading(line string) bool {
	return strings.HasPrefix(line, "## ") || strings.HasPrefix(line, "### ")
}

// stripHeadingPrefix removes the leading # characters and whitespace.
func stripHeadingPrefix(line string) string {
	return strings.TrimSpace(strings.TrimLeft(line, "#"))
}

// splitOversize breaks text into parts of at most maxSectionRunes,
// splitting on blank-line paragraph boundaries. A single paragraph longer
// than the bound is kept whole rather than cut mid-sentence.
func splitOversize(text string) []string {
	if text == "" {
		return []string{""}
	}
	if len([]rune(text)) <= maxSectionRunes {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var parts []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
			currentLen = 0
		}
	}

	for _, para := range paragraphs {
		paraLen := len([]rune(para))
		if currentLen > 0 && currentLen+paraLen > maxSectionRunes {
			flush()
		}
		if currentLen > 0 {
			current.WriteString("\n\n")
			currentLen += 2
		}
		current.WriteString(para)
		currentLen += paraLen
	}
	flush()

	return parts
}
