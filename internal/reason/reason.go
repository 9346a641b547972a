// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package reason identifies care gaps from a fact bundle using a
// versioned table of deterministic rules. This is the "therefore" step:
// pure code, no I/O, no language model. Facts go in, auditable verdicts
// come out, and the same bundle always produces the same gaps.
package reason

import (
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/care-engine/pkg/types"
)

// Guideline thresholds.
const (
	a1cTarget     = 7.0
	a1cHighAbove  = 9.0
	bpSysTarget   = 140
	bpDiaTarget   = 90
	bpSysHighOver = 160
	bpDiaHighOver = 100

	a1cTestInterval  = 180 * 24 * time.Hour
	kidneyInterval   = 365 * 24 * time.Hour
	eyeExamInterval  = 365 * 24 * time.Hour
	footExamInterval = 365 * 24 * time.Hour
)

// Medication term lists, matched case-insensitively as substrings.
var (
	aceInhibitors = []string{
		"lisinopril", "enalapril", "ramipril", "benazepril",
		"captopril", "fosinopril", "moexipril", "perindopril",
		"quinapril", "trandolapril",
	}
	arbs = []string{
		"losartan", "valsartan", "irbesartan", "candesartan",
		"olmesartan", "telmisartan", "azilsartan", "eprosartan",
	}
	statins = []string{
		"atorvastatin", "rosuvastatin", "simvastatin", "pravastatin",
		"lovastatin", "pitavastatin", "fluvastatin",
	}
	// Non-metformin glucose-lowering agents.
	glucoseLoweringAgents = []string{
		"insulin", "glipizide", "glyburide", "glimepiride",
		"sitagliptin", "linagliptin", "saxagliptin",
		"empagliflozin", "dapagliflozin", "canagliflozin",
		"liraglutide", "semaglutide", "dulaglutide",
		"pioglitazone",
	}
	lipidDiagnoses = []string{"hyperlipidemia", "dyslipidemia", "coronary artery disease"}
)

// RuleEvaluationError reports a rule that violated an engine invariant.
// It marks a defect in the rule table, never a data problem, and is
// fatal for the evaluation.
type RuleEvaluationError struct {
	RuleID string
	Reason string
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s: %s", e.RuleID, e.Reason)
}

// Rule is one deterministic care-gap check. Check returns the gap and
// whether the rule applied to the bundle at all; inapplicable rules
// emit nothing.
type Rule struct {
	ID      string
	GapType string

	// Description is a one-line summary shown by the rules listing.
	Description string

	Check func(bundle types.FactBundle, asOf time.Time) (types.Gap, bool)
}

// Table is an immutable, versioned ordered rule set.
type Table struct {
	Version string
	Rules   []Rule
}

// Evaluate runs every rule of the table against the bundle, in table
// order. asOf anchors the screening-interval rules so evaluation stays
// reproducible. Rules whose applicability condition fails are omitted
// from the output. The returned error is always a RuleEvaluationError.
func Evaluate(table Table, bundle types.FactBundle, asOf time.Time) ([]types.Gap, error) {
	gaps := make([]types.Gap, 0, len(table.Rules))
	for _, rule := range table.Rules {
		gap, applicable := rule.Check(bundle, asOf)
		if !applicable {
			continue
		}
		if err := checkInvariants(rule, gap); err != nil {
			return nil, err
		}
		gaps = append(gaps, gap)
	}
	return gaps, nil
}

// checkInvariants validates a rule's output shape. A violation is a
// defect in the rule, not in the patient data.
func checkInvariants(rule Rule, gap types.Gap) error {
	switch {
	case gap.RuleID != rule.ID:
		return &RuleEvaluationError{RuleID: rule.ID, Reason: fmt.Sprintf("emitted rule id %q", gap.RuleID)}
	case gap.Citation != gap.RuleID:
		return &RuleEvaluationError{RuleID: rule.ID, Reason: "citation does not match rule id"}
	case gap.GapType != rule.GapType:
		return &RuleEvaluationError{RuleID: rule.ID, Reason: fmt.Sprintf("emitted gap type %q", gap.GapType)}
	case gap.Detected && gap.Severity == types.SeverityNone:
		return &RuleEvaluationError{RuleID: rule.ID, Reason: "detected gap with severity none"}
	case !gap.Detected && gap.Severity != types.SeverityNone:
		return &RuleEvaluationError{RuleID: rule.ID, Reason: "undetected gap with non-none severity"}
	case gap.DataStatus == types.DataInsufficient && gap.Detected:
		return &RuleEvaluationError{RuleID: rule.ID, Reason: "detected gap on insufficient data"}
	case gap.Therefore == "":
		return &RuleEvaluationError{RuleID: rule.ID, Reason: "empty therefore"}
	}
	return nil
}

// newGap builds the common frame of a rule verdict.
func newGap(rule Rule, detected bool, severity types.Severity, status types.DataStatus, comparison, therefore, recommendation string) types.Gap {
	return types.Gap{
		GapType:        rule.GapType,
		Detected:       detected,
		Severity:       severity,
		RuleID:         rule.ID,
		DataStatus:     status,
		Comparison:     comparison,
		Therefore:      therefore,
		Recommendation: recommendation,
		Citation:       rule.ID,
	}
}

// insufficient is the verdict for an applicable rule missing a required
// scalar field. Absence of data is never treated as a detected gap.
func insufficient(rule Rule, comparison, therefore, recommendation string) types.Gap {
	return newGap(rule, false, types.SeverityNone, types.DataInsufficient, comparison, therefore, recommendation)
}

func hasDiabetes(b types.FactBundle) bool     { return b.HasDiagnosis("diabetes") }
func hasHypertension(b types.FactBundle) bool { return b.HasDiagnosis("hypertension") }

// OverallStatus rolls a gap list up into a patient-level status used by
// reports and the pipeline result.
func OverallStatus(gaps []types.Gap) string {
	detected, insufficient := false, false
	urgent := false
	for _, g := range gaps {
		if g.Detected {
			detected = true
			if g.Severity == types.SeverityHigh {
				urgent = true
			}
		}
		if g.DataStatus == types.DataInsufficient {
			insufficient = true
		}
	}
	switch {
	case urgent:
		return "urgent_gaps_identified"
	case detected:
		return "gaps_identified"
	case insufficient:
		return "needs_review"
	default:
		return "all_gaps_closed"
	}
}

// hasAnyTerm returns the first medication containing one of the terms,
// case-insensitively.
func hasAnyTerm(b types.FactBundle, terms []string) (string, bool) {
	for _, med := range b.Medications {
		lower := strings.ToLower(med)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				return med, true
			}
		}
	}
	return "", false
}
