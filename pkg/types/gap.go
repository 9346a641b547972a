// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Severity classifies a detected care gap.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
)

// DataStatus distinguishes a rule that evaluated its predicate from one
// that could not because a required field was absent. A rule never
// guesses on missing data: absence is not evidence of compliance.
type DataStatus string

const (
	// DataEvaluated means every field the rule needed was present.
	DataEvaluated DataStatus = "evaluated"

	// DataInsufficient means a required field was absent; the verdict
	// is Detected=false with Severity none.
	DataInsufficient DataStatus = "insufficient"
)

// Gap is the output of one rule applied to one FactBundle. Gaps are
// created fresh per evaluation call and never mutated. Persistence is
// the caller's concern.
type Gap struct {
	// GapType names the gap category, e.g. "A1C_THRESHOLD".
	GapType string `json:"gap_type" yaml:"gap_type"`

	// Detected reports whether the rule's trigger condition held.
	Detected bool `json:"detected" yaml:"detected"`

	// Severity is none for undetected gaps, moderate or high otherwise.
	Severity Severity `json:"severity" yaml:"severity"`

	// RuleID is the stable rule identifier, identical to the guideline
	// document id it implements.
	RuleID string `json:"rule_id" yaml:"rule_id"`

	// DataStatus records whether the rule had the data it needed.
	DataStatus DataStatus `json:"data_status" yaml:"data_status"`

	// Comparison is the literal check performed, e.g. "8.2% >= 7.0%".
	Comparison string `json:"comparison" yaml:"comparison"`

	// Therefore is a templated rationale built only from extracted
	// values and thresholds. No free-text generation.
	Therefore string `json:"therefore" yaml:"therefore"`

	// Recommendation is the templated follow-up action for the verdict.
	Recommendation string `json:"recommendation" yaml:"recommendation"`

	// Citation is the guideline document id backing this verdict.
	// Always equal to RuleID.
	Citation string `json:"citation" yaml:"citation"`
}
