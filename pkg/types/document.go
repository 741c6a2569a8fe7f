// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Section is one titled passage of a product document, the unit of indexing
// and retrieval. Per prd001-knowledge-base R2.1.
type Section struct {
	// Heading is the section title as it appears on the product page.
	Heading string `json:"heading" yaml:"heading"`

	// Body is the section text.
	Body string `json:"body" yaml:"body"`
}

// Document is one product page prepared for the knowledge base: a card's
// fees page, rewards page, or eligibility page, split into sections.
// Per prd001-knowledge-base R1.1, R2.1-R2.3.
type Document struct {
	// DocID is the stable identifier (e.g. "cibc-dividend-visa-infinite").
	DocID string `json:"doc_id" yaml:"doc_id"`

	// Card is the product name the page belongs to.
	Card string `json:"card" yaml:"card"`

	// Title is the page title.
	Title string `json:"title" yaml:"title"`

	// URL is the source page address, kept for provenance.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Sections holds the page content split on headings.
	Sections []Section `json:"sections" yaml:"sections"`
}
