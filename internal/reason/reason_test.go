// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package reason

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/care-engine/pkg/types"
)

var asOf = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

func bp(sys, dia int) *types.BloodPressure {
	return &types.BloodPressure{Systolic: sys, Diastolic: dia}
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func diabeticBundle() types.FactBundle {
	return types.FactBundle{
		Diagnoses:   []string{"Type 2 Diabetes Mellitus"},
		Medications: []string{},
	}
}

// gapByRule finds the verdict a rule emitted, failing the test when the
// rule emitted nothing.
func gapByRule(t *testing.T, gaps []types.Gap, ruleID string) types.Gap {
	t.Helper()
	for _, g := range gaps {
		if g.RuleID == ruleID {
			return g
		}
	}
	t.Fatalf("no gap emitted for rule %s", ruleID)
	return types.Gap{}
}

func hasRule(gaps []types.Gap, ruleID string) bool {
	for _, g := range gaps {
		if g.RuleID == ruleID {
			return true
		}
	}
	return false
}

func TestEvaluateA1CBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		a1c      float64
		detected bool
		severity types.Severity
	}{
		{"below target", 6.9, false, types.SeverityNone},
		{"exactly at target is a gap", 7.0, true, types.SeverityModerate},
		{"above target", 8.2, true, types.SeverityModerate},
		{"exactly nine stays moderate", 9.0, true, types.SeverityModerate},
		{"above nine is high", 9.1, true, types.SeverityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle := diabeticBundle()
			bundle.A1C = f64(tt.a1c)

			gaps, err := Evaluate(DefaultTable(), bundle, asOf)
			require.NoError(t, err)

			gap := gapByRule(t, gaps, "guideline_001_a1c_threshold")
			assert.Equal(t, tt.detected, gap.Detected)
			assert.Equal(t, tt.severity, gap.Severity)
			assert.Equal(t, types.DataEvaluated, gap.DataStatus)
			assert.Equal(t, gap.RuleID, gap.Citation)
		})
	}
}

func TestEvaluateBPBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		sys, dia int
		detected bool
		severity types.Severity
	}{
		{"below target", 139, 89, false, types.SeverityNone},
		{"exactly at target is a gap", 140, 90, true, types.SeverityModerate},
		{"elevated diastolic alone", 128, 92, true, types.SeverityModerate},
		{"exactly 160/100 stays moderate", 160, 100, true, types.SeverityModerate},
		{"systolic over 160 is high", 161, 90, true, types.SeverityHigh},
		{"diastolic over 100 is high", 150, 101, true, types.SeverityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle := diabeticBundle()
			bundle.BloodPressure = bp(tt.sys, tt.dia)

			gaps, err := Evaluate(DefaultTable(), bundle, asOf)
			require.NoError(t, err)

			gap := gapByRule(t, gaps, "guideline_004_bp_target")
			assert.Equal(t, tt.detected, gap.Detected)
			assert.Equal(t, tt.severity, gap.Severity)
		})
	}
}

func TestEvaluateInapplicableRulesOmitted(t *testing.T) {
	bundle := types.FactBundle{
		A1C:         f64(8.5),
		Diagnoses:   []string{"Gout"},
		Medications: []string{},
	}
	gaps, err := Evaluate(DefaultTable(), bundle, asOf)
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestEvaluateMissingScalarIsInsufficient(t *testing.T) {
	bundle := diabeticBundle()

	gaps, err := Evaluate(DefaultTable(), bundle, asOf)
	require.NoError(t, err)

	for _, ruleID := range []string{
		"guideline_001_a1c_threshold",
		"guideline_004_bp_target",
		"guideline_006_a1c_testing_interval",
		"guideline_007_kidney_screening",
		"guideline_008_eye_exam",
		"guideline_009_foot_exam",
	} {
		gap := gapByRule(t, gaps, ruleID)
		assert.False(t, gap.Detected, "rule %s", ruleID)
		assert.Equal(t, types.DataInsufficient, gap.DataStatus, "rule %s", ruleID)
		assert.Equal(t, types.SeverityNone, gap.Severity, "rule %s", ruleID)
		assert.NotEmpty(t, gap.Recommendation, "rule %s", ruleID)
	}
}

func TestEvaluateACEARBRule(t *testing.T) {
	tests := []struct {
		name      string
		diagnoses []string
		bp        *types.BloodPressure
		meds      []string
		want      *bool // nil means rule inapplicable
	}{
		{
			name:      "diabetes plus htn dx without ace/arb",
			diagnoses: []string{"Type 2 Diabetes Mellitus", "Essential Hypertension"},
			meds:      []string{"Metformin 1000mg twice daily"},
			want:      boolPtr(true),
		},
		{
			name:      "elevated reading counts as htn evidence",
			diagnoses: []string{"Type 2 Diabetes Mellitus"},
			bp:        bp(142, 94),
			meds:      []string{},
			want:      boolPtr(true),
		},
		{
			name:      "on lisinopril closes the gap",
			diagnoses: []string{"Type 2 Diabetes Mellitus", "Essential Hypertension"},
			meds:      []string{"Lisinopril 10mg daily"},
			want:      boolPtr(false),
		},
		{
			name:      "on losartan closes the gap",
			diagnoses: []string{"Type 2 Diabetes Mellitus", "Essential Hypertension"},
			meds:      []string{"Losartan 50mg daily"},
			want:      boolPtr(false),
		},
		{
			name:      "no htn evidence means inapplicable",
			diagnoses: []string{"Type 2 Diabetes Mellitus"},
			bp:        bp(118, 76),
			meds:      []string{},
			want:      nil,
		},
		{
			name:      "htn without diabetes means inapplicable",
			diagnoses: []string{"Essential Hypertension"},
			meds:      []string{},
			want:      nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle := types.FactBundle{
				Diagnoses:     tt.diagnoses,
				Medications:   tt.meds,
				BloodPressure: tt.bp,
			}
			gaps, err := Evaluate(DefaultTable(), bundle, asOf)
			require.NoError(t, err)

			if tt.want == nil {
				assert.False(t, hasRule(gaps, "guideline_002_htn_ace_inhibitor"))
				return
			}
			gap := gapByRule(t, gaps, "guideline_002_htn_ace_inhibitor")
			assert.Equal(t, *tt.want, gap.Detected)
			if gap.Detected {
				assert.Equal(t, types.SeverityModerate, gap.Severity)
			}
		})
	}
}

func TestEvaluateStatinRule(t *testing.T) {
	bundle := types.FactBundle{
		Diagnoses:   []string{"Type 2 Diabetes Mellitus", "Hyperlipidemia"},
		Medications: []string{"Metformin 1000mg twice daily"},
	}
	gaps, err := Evaluate(DefaultTable(), bundle, asOf)
	require.NoError(t, err)
	gap := gapByRule(t, gaps, "guideline_003_statin_therapy")
	assert.True(t, gap.Detected)
	assert.Equal(t, types.SeverityModerate, gap.Severity)

	bundle.Medications = append(bundle.Medications, "Atorvastatin 40mg nightly")
	gaps, err = Evaluate(DefaultTable(), bundle, asOf)
	require.NoError(t, err)
	gap = gapByRule(t, gaps, "guideline_003_statin_therapy")
	assert.False(t, gap.Detected)
}

func TestEvaluateMetforminRule(t *testing.T) {
	tests := []struct {
		name string
		meds []string
		want *bool
	}{
		{"on glipizide without metformin", []string{"Glipizide 5mg daily"}, boolPtr(true)},
		{"on metformin and glipizide", []string{"Metformin 500mg daily", "Glipizide 5mg daily"}, boolPtr(false)},
		{"no glucose-lowering agent means inapplicable", []string{"Lisinopril 10mg daily"}, nil},
		{"metformin alone means inapplicable", []string{"Metformin 1000mg twice daily"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle := diabeticBundle()
			bundle.Medications = tt.meds

			gaps, err := Evaluate(DefaultTable(), bundle, asOf)
			require.NoError(t, err)

			if tt.want == nil {
				assert.False(t, hasRule(gaps, "guideline_005_metformin_first_line"))
				return
			}
			gap := gapByRule(t, gaps, "guideline_005_metformin_first_line")
			assert.Equal(t, *tt.want, gap.Detected)
		})
	}
}

func TestEvaluateOverdueRules(t *testing.T) {
	bundle := diabeticBundle()
	bundle.LastA1CTest = date(2023, 11, 1) // 243 days before asOf
	bundle.LastKidneyScreen = date(2024, 5, 10)
	bundle.LastEyeExam = date(2023, 3, 1) // 488 days before asOf
	bundle.LastFootExam = date(2024, 6, 15)

	gaps, err := Evaluate(DefaultTable(), bundle, asOf)
	require.NoError(t, err)

	a1cTest := gapByRule(t, gaps, "guideline_006_a1c_testing_interval")
	assert.True(t, a1cTest.Detected)
	assert.Contains(t, a1cTest.Therefore, "2023-11-01")
	assert.Contains(t, a1cTest.Comparison, "180 days")

	kidney := gapByRule(t, gaps, "guideline_007_kidney_screening")
	assert.False(t, kidney.Detected)

	eye := gapByRule(t, gaps, "guideline_008_eye_exam")
	assert.True(t, eye.Detected)
	assert.Equal(t, types.SeverityModerate, eye.Severity)

	foot := gapByRule(t, gaps, "guideline_009_foot_exam")
	assert.False(t, foot.Detected)
}

func TestEvaluateDeterministic(t *testing.T) {
	bundle := types.FactBundle{
		A1C:           f64(8.2),
		BloodPressure: bp(142, 94),
		Diagnoses:     []string{"Type 2 Diabetes Mellitus", "Essential Hypertension"},
		Medications:   []string{"Metformin 1000mg twice daily"},
		LastA1CTest:   date(2024, 3, 1),
	}
	first, err := Evaluate(DefaultTable(), bundle, asOf)
	require.NoError(t, err)
	second, err := Evaluate(DefaultTable(), bundle, asOf)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Rule order in the output follows table order.
	var ids []string
	for _, g := range first {
		ids = append(ids, g.RuleID)
	}
	assert.IsNonDecreasing(t, ids)
}

func TestEvaluateInvariantViolation(t *testing.T) {
	broken := Table{
		Version: "test",
		Rules: []Rule{{
			ID:      "rule_under_test",
			GapType: "BROKEN",
			Check: func(types.FactBundle, time.Time) (types.Gap, bool) {
				// Detected with severity none violates the contract.
				return types.Gap{
					GapType:    "BROKEN",
					RuleID:     "rule_under_test",
					Citation:   "rule_under_test",
					Detected:   true,
					Severity:   types.SeverityNone,
					DataStatus: types.DataEvaluated,
					Therefore:  "broken",
				}, true
			},
		}},
	}
	_, err := Evaluate(broken, types.FactBundle{}, asOf)
	require.Error(t, err)
	var ruleErr *RuleEvaluationError
	assert.ErrorAs(t, err, &ruleErr)
	assert.Equal(t, "rule_under_test", ruleErr.RuleID)
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name string
		gaps []types.Gap
		want string
	}{
		{"no gaps", nil, "all_gaps_closed"},
		{"closed only", []types.Gap{{Detected: false, DataStatus: types.DataEvaluated}}, "all_gaps_closed"},
		{"moderate detected", []types.Gap{{Detected: true, Severity: types.SeverityModerate, DataStatus: types.DataEvaluated}}, "gaps_identified"},
		{"high detected", []types.Gap{{Detected: true, Severity: types.SeverityHigh, DataStatus: types.DataEvaluated}}, "urgent_gaps_identified"},
		{"insufficient only", []types.Gap{{Detected: false, DataStatus: types.DataInsufficient}}, "needs_review"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OverallStatus(tt.gaps))
		})
	}
}

func boolPtr(b bool) *bool { return &b }
