// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package reason

import (
	"fmt"
	"time"

	"github.com/pdiddy/care-engine/pkg/types"
)

// DefaultTable returns rule table v1. The order is stable and each rule
// id equals the guideline document id it implements; callers cite gaps
// by that id. The table is built fresh on each call so no caller can
// mutate shared state.
func DefaultTable() Table {
	return Table{
		Version: "v1",
		Rules: []Rule{
			a1cThresholdRule(),
			htnACEARBRule(),
			statinTherapyRule(),
			bpTargetRule(),
			metforminFirstLineRule(),
			overdueRule(overdueSpec{
				id:       "guideline_006_a1c_testing_interval",
				gapType:  "A1C_TESTING_INTERVAL",
				desc:     "Diabetics need an A1C test at least every 180 days.",
				label:    "A1C test",
				interval: a1cTestInterval,
				days:     180,
				date:     func(b types.FactBundle) *time.Time { return b.LastA1CTest },
				order:    "Order A1C test to assess glycemic control.",
			}),
			overdueRule(overdueSpec{
				id:       "guideline_007_kidney_screening",
				gapType:  "KIDNEY_SCREENING",
				desc:     "Diabetics need annual urine albumin screening.",
				label:    "kidney screening",
				interval: kidneyInterval,
				days:     365,
				date:     func(b types.FactBundle) *time.Time { return b.LastKidneyScreen },
				order:    "Order urine albumin/creatinine ratio.",
			}),
			overdueRule(overdueSpec{
				id:       "guideline_008_eye_exam",
				gapType:  "EYE_EXAM",
				desc:     "Diabetics need an annual dilated eye exam.",
				label:    "eye exam",
				interval: eyeExamInterval,
				days:     365,
				date:     func(b types.FactBundle) *time.Time { return b.LastEyeExam },
				order:    "Refer for dilated retinal exam.",
			}),
			overdueRule(overdueSpec{
				id:       "guideline_009_foot_exam",
				gapType:  "FOOT_EXAM",
				desc:     "Diabetics need an annual monofilament foot exam.",
				label:    "foot exam",
				interval: footExamInterval,
				days:     365,
				date:     func(b types.FactBundle) *time.Time { return b.LastFootExam },
				order:    "Perform monofilament foot exam at next visit.",
			}),
		},
	}
}

// a1cThresholdRule flags diabetics with A1C at or above target.
func a1cThresholdRule() Rule {
	r := Rule{
		ID:          "guideline_001_a1c_threshold",
		GapType:     "A1C_THRESHOLD",
		Description: fmt.Sprintf("Diabetics should hold A1C below %.1f%%.", a1cTarget),
	}
	r.Check = func(b types.FactBundle, _ time.Time) (types.Gap, bool) {
		if !hasDiabetes(b) {
			return types.Gap{}, false
		}
		if b.A1C == nil {
			return insufficient(r,
				"A1C value not found in patient record",
				"Therefore, A1C status cannot be determined. Testing may be overdue.",
				"Order A1C test to assess glycemic control.",
			), true
		}
		a1c := *b.A1C
		if a1c < a1cTarget {
			return newGap(r, false, types.SeverityNone, types.DataEvaluated,
				fmt.Sprintf("%.1f%% < %.1f%%", a1c, a1cTarget),
				fmt.Sprintf("Therefore, A1C of %.1f%% is at goal (target < %.1f%%).", a1c, a1cTarget),
				"Continue current diabetes management. Maintain lifestyle modifications.",
			), true
		}
		severity := types.SeverityModerate
		rec := "Consider adding second diabetes agent or adjusting current regimen."
		if a1c > a1cHighAbove {
			severity = types.SeverityHigh
			rec = "Urgent treatment intensification needed. Consider adding second agent or insulin."
		}
		return newGap(r, true, severity, types.DataEvaluated,
			fmt.Sprintf("%.1f%% >= %.1f%%", a1c, a1cTarget),
			fmt.Sprintf("Therefore, A1C of %.1f%% is above the target of %.1f%%.", a1c, a1cTarget),
			rec,
		), true
	}
	return r
}

// htnACEARBRule flags diabetics with hypertension evidence who are not
// on an ACE inhibitor or ARB. A reading at or above target counts as
// hypertension evidence even without a documented diagnosis.
func htnACEARBRule() Rule {
	r := Rule{
		ID:          "guideline_002_htn_ace_inhibitor",
		GapType:     "HTN_ACE_ARB",
		Description: "Diabetics with hypertension should be on an ACE inhibitor or ARB.",
	}
	r.Check = func(b types.FactBundle, _ time.Time) (types.Gap, bool) {
		htnEvidence := hasHypertension(b) ||
			(b.BloodPressure != nil && bpElevated(*b.BloodPressure))
		if !hasDiabetes(b) || !htnEvidence {
			return types.Gap{}, false
		}

		if med, ok := hasAnyTerm(b, aceInhibitors); ok {
			return aceARBPresent(r, "ACE inhibitor", med), true
		}
		if med, ok := hasAnyTerm(b, arbs); ok {
			return aceARBPresent(r, "ARB", med), true
		}
		return newGap(r, true, types.SeverityModerate, types.DataEvaluated,
			"HTN present AND ACE/ARB absent",
			"Therefore, patient with diabetes and hypertension is not on recommended ACE inhibitor or ARB therapy.",
			"Initiate ACE inhibitor or ARB unless contraindicated. Provides BP control and renal protection.",
		), true
	}
	return r
}

func aceARBPresent(r Rule, class, med string) types.Gap {
	return newGap(r, false, types.SeverityNone, types.DataEvaluated,
		fmt.Sprintf("HTN present AND %s (%s) present", class, med),
		fmt.Sprintf("Therefore, patient is appropriately on %s therapy for diabetes with hypertension.", class),
		"Continue current ACE/ARB therapy. Monitor potassium and creatinine.",
	)
}

// statinTherapyRule flags diabetics with a lipid or atherosclerotic
// diagnosis who are not on a statin.
func statinTherapyRule() Rule {
	r := Rule{
		ID:          "guideline_003_statin_therapy",
		GapType:     "STATIN_THERAPY",
		Description: "Diabetics with a lipid disorder should be on statin therapy.",
	}
	r.Check = func(b types.FactBundle, _ time.Time) (types.Gap, bool) {
		hasLipidDx := false
		for _, dx := range lipidDiagnoses {
			if b.HasDiagnosis(dx) {
				hasLipidDx = true
				break
			}
		}
		if !hasDiabetes(b) || !hasLipidDx {
			return types.Gap{}, false
		}

		if med, ok := hasAnyTerm(b, statins); ok {
			return newGap(r, false, types.SeverityNone, types.DataEvaluated,
				fmt.Sprintf("Lipid disorder present AND statin (%s) present", med),
				"Therefore, patient is appropriately on statin therapy.",
				"Continue current statin therapy. Monitor lipid panel annually.",
			), true
		}
		return newGap(r, true, types.SeverityModerate, types.DataEvaluated,
			"Lipid disorder present AND statin absent",
			"Therefore, patient with diabetes and a lipid disorder is not on statin therapy.",
			"Initiate moderate- or high-intensity statin unless contraindicated.",
		), true
	}
	return r
}

// bpTargetRule flags patients with diabetes or hypertension whose
// latest reading is at or above target.
func bpTargetRule() Rule {
	r := Rule{
		ID:          "guideline_004_bp_target",
		GapType:     "BP_CONTROL",
		Description: fmt.Sprintf("Keep blood pressure below %d/%d mmHg.", bpSysTarget, bpDiaTarget),
	}
	r.Check = func(b types.FactBundle, _ time.Time) (types.Gap, bool) {
		if !hasDiabetes(b) && !hasHypertension(b) {
			return types.Gap{}, false
		}
		if b.BloodPressure == nil {
			return insufficient(r,
				"BP value not found in patient record",
				"Therefore, BP status cannot be determined.",
				"Check blood pressure at next visit.",
			), true
		}
		bp := *b.BloodPressure
		target := fmt.Sprintf("%d/%d", bpSysTarget, bpDiaTarget)
		if !bpElevated(bp) {
			return newGap(r, false, types.SeverityNone, types.DataEvaluated,
				fmt.Sprintf("%s < %s", bp, target),
				fmt.Sprintf("Therefore, BP of %s mmHg is at goal (target <%s mmHg).", bp, target),
				"Continue current antihypertensive regimen. Maintain lifestyle modifications.",
			), true
		}
		severity := types.SeverityModerate
		rec := "Consider intensifying antihypertensive therapy. Reinforce lifestyle modifications."
		if bp.Systolic > bpSysHighOver || bp.Diastolic > bpDiaHighOver {
			severity = types.SeverityHigh
			rec = "Significant hypertension. Consider adding or adjusting antihypertensive medications urgently."
		}
		return newGap(r, true, severity, types.DataEvaluated,
			fmt.Sprintf("%s >= %s", bp, target),
			fmt.Sprintf("Therefore, BP of %s mmHg is above target of <%s mmHg.", bp, target),
			rec,
		), true
	}
	return r
}

// metforminFirstLineRule flags diabetics on a glucose-lowering agent
// without first-line metformin.
func metforminFirstLineRule() Rule {
	r := Rule{
		ID:          "guideline_005_metformin_first_line",
		GapType:     "METFORMIN_FIRST_LINE",
		Description: "Diabetics on glucose-lowering therapy should include metformin.",
	}
	r.Check = func(b types.FactBundle, _ time.Time) (types.Gap, bool) {
		agent, onAgent := hasAnyTerm(b, glucoseLoweringAgents)
		if !hasDiabetes(b) || !onAgent {
			return types.Gap{}, false
		}

		if med, ok := hasAnyTerm(b, []string{"metformin"}); ok {
			return newGap(r, false, types.SeverityNone, types.DataEvaluated,
				fmt.Sprintf("Glucose-lowering therapy present AND metformin (%s) present", med),
				"Therefore, patient is appropriately on first-line metformin.",
				"Continue current metformin therapy. Monitor renal function.",
			), true
		}
		return newGap(r, true, types.SeverityModerate, types.DataEvaluated,
			fmt.Sprintf("Glucose-lowering agent (%s) present AND metformin absent", agent),
			"Therefore, patient with diabetes on glucose-lowering therapy is not on first-line metformin.",
			"Add metformin unless contraindicated by renal function or intolerance.",
		), true
	}
	return r
}

// overdueSpec parameterizes the screening-interval rules.
type overdueSpec struct {
	id       string
	gapType  string
	desc     string
	label    string
	interval time.Duration
	days     int
	date     func(types.FactBundle) *time.Time
	order    string
}

// overdueRule flags diabetics whose screening date is older than the
// guideline interval relative to the evaluation anchor.
func overdueRule(spec overdueSpec) Rule {
	r := Rule{
		ID:          spec.id,
		GapType:     spec.gapType,
		Description: spec.desc,
	}
	r.Check = func(b types.FactBundle, asOf time.Time) (types.Gap, bool) {
		if !hasDiabetes(b) {
			return types.Gap{}, false
		}
		last := spec.date(b)
		if last == nil {
			return insufficient(r,
				fmt.Sprintf("%s date not found in patient record", spec.label),
				fmt.Sprintf("Therefore, %s recency cannot be determined.", spec.label),
				spec.order,
			), true
		}
		when := last.Format("2006-01-02")
		if asOf.Sub(*last) > spec.interval {
			return newGap(r, true, types.SeverityModerate, types.DataEvaluated,
				fmt.Sprintf("%s older than %d days", when, spec.days),
				fmt.Sprintf("Therefore, last %s on %s exceeds the %d-day interval.", spec.label, when, spec.days),
				spec.order,
			), true
		}
		return newGap(r, false, types.SeverityNone, types.DataEvaluated,
			fmt.Sprintf("%s within %d days", when, spec.days),
			fmt.Sprintf("Therefore, last %s on %s is current.", spec.label, when),
			fmt.Sprintf("Next %s due %s.", spec.label, last.Add(spec.interval).Format("2006-01-02")),
		), true
	}
	return r
}

// bpElevated reports a reading at or above the treatment target.
func bpElevated(bp types.BloodPressure) bool {
	return bp.Systolic >= bpSysTarget || bp.Diastolic >= bpDiaTarget
}
