// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "strings"

// Corpus names a retrieval index. The patient corpus holds clinical
// notes and is only ever queried locally; the guideline corpus holds
// public guideline documents and may be served remotely.
type Corpus string

const (
	CorpusPatient   Corpus = "patient"
	CorpusGuideline Corpus = "guideline"
)

// ConceptQuery is a de-identified representation of clinical facts,
// safe to send to an external retrieval service. It carries only
// clinical-concept categories: never patient identifiers, raw lab
// numbers, or doses, and the original values are not recoverable
// from it.
type ConceptQuery struct {
	// Concepts are the sorted, deduplicated concept tokens.
	Concepts []string `json:"concepts" yaml:"concepts"`

	// Text is the concepts joined for a text-search backend.
	Text string `json:"text" yaml:"text"`
}

// IsEmpty reports whether the query carries no concepts.
func (q ConceptQuery) IsEmpty() bool {
	return len(q.Concepts) == 0 && strings.TrimSpace(q.Text) == ""
}

// EvidenceSnippet is one scored passage from a retrieval index.
// Sequences of snippets are ordered by descending Score with ties
// broken by ascending SourceID, so identical queries against an
// unmodified index return identical orderings.
type EvidenceSnippet struct {
	// ID identifies the indexed chunk.
	ID string `json:"id" yaml:"id"`

	// SourceID is the guideline or note document the text came from.
	SourceID string `json:"source_id" yaml:"source_id"`

	// Text is the passage content.
	Text string `json:"text" yaml:"text"`

	// Score is the backend similarity score, higher is better.
	Score float64 `json:"score" yaml:"score"`
}
