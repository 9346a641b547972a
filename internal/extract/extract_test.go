// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/care-engine/pkg/types"
)

const sampleNote = `Subjective: 58yo here for diabetes follow-up. Reports good adherence.

Vitals: BP: 142/94 mmHg, HR 72

Labs: A1C: 8.2% drawn this visit. Last A1C test on 2024-03-01.
Urine microalbumin checked 2024-05-10. Last dilated eye exam: 2023-11-20.
Foot exam 2024-06-15 with monofilament.

Assessment:
- Type 2 diabetes - suboptimally controlled
- Essential hypertension
- No evidence of CKD

Current Medications:
- Metformin 1000mg twice daily
- Lisinopril 10mg daily (started last visit)
`

// completerFunc adapts a function to the Completer interface.
type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// forbiddenCompleter fails the test if the fallback is ever invoked.
type forbiddenCompleter struct{ t *testing.T }

func (f forbiddenCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.t.Errorf("fallback invoked for a pattern-resolvable note; prompt: %.80s", prompt)
	return "", fmt.Errorf("forbidden")
}

func newTestExtractor(c Completer) *Extractor {
	e := New(c, types.ExtractionConfig{}, zerolog.Nop())
	// Pin the clock so date validation is stable.
	e.now = func() time.Time { return time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC) }
	return e
}

func TestExtractPatternFields(t *testing.T) {
	e := newTestExtractor(forbiddenCompleter{t: t})

	bundle, err := e.Extract(context.Background(), sampleNote)
	require.NoError(t, err)

	require.NotNil(t, bundle.A1C)
	assert.InDelta(t, 8.2, *bundle.A1C, 0.001)
	require.NotNil(t, bundle.BloodPressure)
	assert.Equal(t, 142, bundle.BloodPressure.Systolic)
	assert.Equal(t, 94, bundle.BloodPressure.Diastolic)

	assert.Equal(t, []string{"Type 2 Diabetes Mellitus", "Essential Hypertension"}, bundle.Diagnoses)
	assert.Equal(t, []string{"Metformin 1000mg twice daily", "Lisinopril 10mg daily"}, bundle.Medications)

	require.NotNil(t, bundle.LastA1CTest)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *bundle.LastA1CTest)
	require.NotNil(t, bundle.LastKidneyScreen)
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), *bundle.LastKidneyScreen)
	require.NotNil(t, bundle.LastEyeExam)
	assert.Equal(t, time.Date(2023, 11, 20, 0, 0, 0, 0, time.UTC), *bundle.LastEyeExam)
	require.NotNil(t, bundle.LastFootExam)
	assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), *bundle.LastFootExam)

	for _, field := range types.Fields {
		prov := bundle.Provenance[field]
		assert.Equal(t, types.MethodRegex, prov.Method, "field %s", field)
		assert.InDelta(t, 1.0, prov.Confidence, 0.001, "field %s", field)
	}
}

func TestExtractDeterministic(t *testing.T) {
	e := newTestExtractor(nil)

	first, err := e.Extract(context.Background(), sampleNote)
	require.NoError(t, err)
	second, err := e.Extract(context.Background(), sampleNote)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExtractNegatedDiagnosisDropped(t *testing.T) {
	e := newTestExtractor(nil)

	bundle, err := e.Extract(context.Background(), "Assessment:\n- Denies hypertension\n- No evidence of CKD\n")
	require.NoError(t, err)
	assert.Empty(t, bundle.Diagnoses)
	assert.Equal(t, types.MethodRegex, bundle.Provenance[types.FieldDiagnoses].Method)
}

func TestExtractInlineAssessment(t *testing.T) {
	e := newTestExtractor(nil)

	bundle, err := e.Extract(context.Background(), "Assessment: T2DM, HTN\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"Type 2 Diabetes Mellitus", "Essential Hypertension"}, bundle.Diagnoses)
}

func TestExtractNoCompleterLeavesFieldsAbsent(t *testing.T) {
	e := newTestExtractor(nil)

	bundle, err := e.Extract(context.Background(), "Patient seen today. No vitals recorded.")
	require.NoError(t, err)

	assert.Nil(t, bundle.A1C)
	assert.Nil(t, bundle.BloodPressure)
	assert.Empty(t, bundle.Diagnoses)
	assert.Empty(t, bundle.Medications)
	for _, field := range types.Fields {
		assert.Equal(t, types.MethodAbsent, bundle.Provenance[field].Method, "field %s", field)
	}
}

func TestExtractFallback(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		verify func(t *testing.T, b types.FactBundle)
	}{
		{
			name:  "valid value adopted",
			reply: `{"a1c": 7.9}`,
			verify: func(t *testing.T, b types.FactBundle) {
				require.NotNil(t, b.A1C)
				assert.InDelta(t, 7.9, *b.A1C, 0.001)
				prov := b.Provenance[types.FieldA1C]
				assert.Equal(t, types.MethodLLM, prov.Method)
				assert.InDelta(t, 0.8, prov.Confidence, 0.001)
			},
		},
		{
			name:  "null leaves field absent",
			reply: `{"a1c": null}`,
			verify: func(t *testing.T, b types.FactBundle) {
				assert.Nil(t, b.A1C)
				assert.Equal(t, types.MethodAbsent, b.Provenance[types.FieldA1C].Method)
			},
		},
		{
			name:  "implausible value rejected",
			reply: `{"a1c": 55.0}`,
			verify: func(t *testing.T, b types.FactBundle) {
				assert.Nil(t, b.A1C)
				assert.Equal(t, types.MethodAbsent, b.Provenance[types.FieldA1C].Method)
			},
		},
		{
			name:  "prose around JSON rejected",
			reply: "Sure! Here is the value: {\"a1c\": 7.9}",
			verify: func(t *testing.T, b types.FactBundle) {
				assert.Nil(t, b.A1C)
				assert.Equal(t, types.MethodAbsent, b.Provenance[types.FieldA1C].Method)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := completerFunc(func(ctx context.Context, prompt string) (string, error) {
				if strings.Contains(prompt, `"a1c"`) {
					return tt.reply, nil
				}
				return `{}`, nil
			})
			e := newTestExtractor(c)

			bundle, err := e.Extract(context.Background(), "Patient seen today.")
			require.NoError(t, err)
			tt.verify(t, bundle)
		})
	}
}

func TestExtractFallbackErrorLeavesFieldAbsent(t *testing.T) {
	c := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", fmt.Errorf("model unavailable")
	})
	e := newTestExtractor(c)

	bundle, err := e.Extract(context.Background(), "Patient seen today.")
	require.NoError(t, err)
	assert.Nil(t, bundle.A1C)
	for _, field := range types.Fields {
		assert.Equal(t, types.MethodAbsent, bundle.Provenance[field].Method)
	}
}

func TestExtractFallbackConcurrencyBound(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0

	c := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return `{}`, nil
	})

	e := New(c, types.ExtractionConfig{MaxConcurrentFallbacks: 2}, zerolog.Nop())
	_, err := e.Extract(context.Background(), "Patient seen today.")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}

func TestExtractFutureDateRejected(t *testing.T) {
	e := newTestExtractor(nil)

	bundle, err := e.Extract(context.Background(), "Last A1C test on 2025-01-15.")
	require.NoError(t, err)
	assert.Nil(t, bundle.LastA1CTest)
	assert.Equal(t, types.MethodAbsent, bundle.Provenance[types.FieldLastA1CTest].Method)
}

func TestExtractContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		return `{}`, nil
	})
	e := newTestExtractor(c)

	_, err := e.Extract(ctx, "Patient seen today.")
	assert.Error(t, err)
}

func TestNormalizeDiagnosis(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"keyword shorthand", "t2dm", "Type 2 Diabetes Mellitus"},
		{"control suffix stripped", "Type 2 diabetes - suboptimally controlled", "Type 2 Diabetes Mellitus"},
		{"hypertension variants", "HTN - at goal", "Essential Hypertension"},
		{"negated dropped", "No evidence of CKD", ""},
		{"denied dropped", "Denies hypertension", ""},
		{"unknown passes through", "Gout - stable", "Gout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeDiagnosis(tt.in))
		})
	}
}

func TestCleanMedication(t *testing.T) {
	assert.Equal(t, "Lisinopril 10mg daily", cleanMedication("Lisinopril 10mg daily (started last visit)"))
	assert.Equal(t, "Metformin 1000mg twice daily", cleanMedication("  Metformin  1000mg   twice daily "))
}

func TestSplitSections(t *testing.T) {
	sections := splitSections("preamble\nAssessment: inline dx\n- bullet one\nPlan: follow up\n")
	require.Len(t, sections, 3)
	assert.Equal(t, "", sections[0].heading)
	assert.Equal(t, "assessment", sections[1].heading)
	assert.Contains(t, sections[1].body, "inline dx")
	assert.Contains(t, sections[1].body, "bullet one")
	assert.Equal(t, "plan", sections[2].heading)
}
