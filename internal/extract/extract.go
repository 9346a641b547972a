// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract turns raw clinical note text into a typed fact
// bundle. Pattern matching runs first; a language-model fallback is
// invoked only for fields the patterns could not resolve, and its
// output passes through the same validators. Extraction is total:
// unresolvable fields remain absent, they never raise.
package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/care-engine/pkg/types"
)

const (
	regexConfidence = 1.0
	llmConfidence   = 0.8

	defaultMaxFallbacks = 2
)

// Extractor resolves fact-bundle fields from note text. The zero value
// is not usable; construct with New.
type Extractor struct {
	completer Completer
	cfg       types.ExtractionConfig
	log       zerolog.Logger
	now       func() time.Time
}

// New returns an Extractor. completer may be nil, in which case fields
// the patterns cannot resolve remain absent.
func New(completer Completer, cfg types.ExtractionConfig, log zerolog.Logger) *Extractor {
	return &Extractor{
		completer: completer,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// fieldResult is the outcome of resolving one field.
type fieldResult struct {
	apply func(*types.FactBundle)
	prov  types.FieldProvenance
}

// Extract resolves every fact field from the note text and assembles
// the bundle. Fields are independent and resolved concurrently; the
// language-model fallback is bounded to cfg.MaxConcurrentFallbacks
// calls in flight. The only error returned is context cancellation.
func (e *Extractor) Extract(ctx context.Context, text string) (types.FactBundle, error) {
	maxFallbacks := e.cfg.MaxConcurrentFallbacks
	if maxFallbacks <= 0 {
		maxFallbacks = defaultMaxFallbacks
	}
	sem := make(chan struct{}, maxFallbacks)

	sections := splitSections(text)

	var mu sync.Mutex
	results := make(map[types.Field]fieldResult, len(types.Fields))

	g, gctx := errgroup.WithContext(ctx)
	for _, field := range types.Fields {
		field := field
		g.Go(func() error {
			r := e.resolveField(gctx, field, text, sections, sem)
			mu.Lock()
			results[field] = r
			mu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return types.FactBundle{}, err
	}

	bundle := types.FactBundle{
		Diagnoses:   []string{},
		Medications: []string{},
		Provenance:  make(map[types.Field]types.FieldProvenance, len(results)),
	}
	for _, field := range types.Fields {
		r := results[field]
		if r.apply != nil {
			r.apply(&bundle)
		}
		bundle.Provenance[field] = r.prov
	}
	return bundle, nil
}

// resolveField runs the pattern path for one field and falls back to
// the language model only when the pattern path produced no validated
// value. The fallback is never invoked after a validated pattern match.
func (e *Extractor) resolveField(ctx context.Context, field types.Field, text string, sections []section, sem chan struct{}) fieldResult {
	if r, ok := e.patternField(field, text, sections); ok {
		return r
	}
	return e.fallbackField(ctx, field, text, sem)
}

// patternField attempts the regex path for one field.
func (e *Extractor) patternField(field types.Field, text string, sections []section) (fieldResult, bool) {
	regexProv := func(span string) types.FieldProvenance {
		return types.FieldProvenance{Method: types.MethodRegex, Confidence: regexConfidence, SourceSpan: span}
	}

	switch field {
	case types.FieldA1C:
		m := a1cPattern.FindStringSubmatch(text)
		if m == nil {
			return fieldResult{}, false
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || !validA1C(v) {
			return fieldResult{}, false
		}
		return fieldResult{
			apply: func(b *types.FactBundle) { b.A1C = &v },
			prov:  regexProv(m[0]),
		}, true

	case types.FieldBloodPressure:
		m := bpPattern.FindStringSubmatch(text)
		if m == nil {
			return fieldResult{}, false
		}
		sys, err1 := strconv.Atoi(m[1])
		dia, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil || !validBP(sys, dia) {
			return fieldResult{}, false
		}
		bp := types.BloodPressure{Systolic: sys, Diastolic: dia}
		return fieldResult{
			apply: func(b *types.FactBundle) { b.BloodPressure = &bp },
			prov:  regexProv(m[0]),
		}, true

	case types.FieldDiagnoses:
		diagnoses, span := diagnosesFromSections(sections)
		if diagnoses == nil {
			return fieldResult{}, false
		}
		return fieldResult{
			apply: func(b *types.FactBundle) { b.Diagnoses = diagnoses },
			prov:  regexProv(span),
		}, true

	case types.FieldMedications:
		medications, span := medicationsFromSections(sections)
		if medications == nil {
			return fieldResult{}, false
		}
		return fieldResult{
			apply: func(b *types.FactBundle) { b.Medications = medications },
			prov:  regexProv(span),
		}, true

	case types.FieldLastA1CTest:
		return e.patternDate(lastA1CPattern, text, func(b *types.FactBundle, t *time.Time) { b.LastA1CTest = t })
	case types.FieldLastKidney:
		return e.patternDate(kidneyScreenPattern, text, func(b *types.FactBundle, t *time.Time) { b.LastKidneyScreen = t })
	case types.FieldLastEyeExam:
		return e.patternDate(eyeExamPattern, text, func(b *types.FactBundle, t *time.Time) { b.LastEyeExam = t })
	case types.FieldLastFootExam:
		return e.patternDate(footExamPattern, text, func(b *types.FactBundle, t *time.Time) { b.LastFootExam = t })
	}
	return fieldResult{}, false
}

// patternDate resolves one screening-date field from its matcher.
func (e *Extractor) patternDate(re *regexp.Regexp, text string, set func(*types.FactBundle, *time.Time)) (fieldResult, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return fieldResult{}, false
	}
	t, err := parseClinicalDate(m[1])
	if err != nil || !e.validDate(t) {
		return fieldResult{}, false
	}
	return fieldResult{
		apply: func(b *types.FactBundle) { set(b, &t) },
		prov:  types.FieldProvenance{Method: types.MethodRegex, Confidence: regexConfidence, SourceSpan: m[0]},
	}, true
}

// fallbackField invokes the language model for one field, bounded by
// sem. Malformed or invalid replies leave the field absent.
func (e *Extractor) fallbackField(ctx context.Context, field types.Field, text string, sem chan struct{}) fieldResult {
	absent := fieldResult{prov: types.FieldProvenance{Method: types.MethodAbsent}}
	if e.completer == nil {
		return absent
	}

	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return absent
	}

	e.log.Info().
		Str("component", "extractor").
		Str("field", string(field)).
		Str("reason", "no validated pattern match").
		Msg("invoking language-model fallback")

	reply, err := e.completer.Complete(ctx, fieldPrompt(field, text))
	if err != nil {
		e.log.Warn().
			Str("component", "extractor").
			Str("field", string(field)).
			Err(err).
			Msg("fallback call failed")
		return absent
	}

	r, ok := e.parseReply(field, reply)
	if !ok {
		e.log.Warn().
			Str("component", "extractor").
			Str("field", string(field)).
			Msg("fallback reply failed validation")
		return absent
	}
	return r
}

// diagnosesFromSections pulls normalized diagnoses from the assessment
// section. Returns nil when no assessment section exists, which sends
// the field to the fallback; an assessment section with only negated
// entries yields an empty, known set.
func diagnosesFromSections(sections []section) ([]string, string) {
	for _, sec := range sections {
		if sec.heading != "assessment" {
			continue
		}
		items := bulletItems(sec.body)
		if items == nil {
			items = inlineItems(sec.body)
		}
		var diagnoses []string
		for _, item := range items {
			dx := normalizeDiagnosis(item)
			if dx != "" && !containsString(diagnoses, dx) {
				diagnoses = append(diagnoses, dx)
			}
		}
		if diagnoses == nil {
			diagnoses = []string{}
		}
		return diagnoses, strings.TrimSpace(sec.body)
	}
	return nil, ""
}

// medicationsFromSections pulls cleaned medications from the
// medications section.
func medicationsFromSections(sections []section) ([]string, string) {
	for _, sec := range sections {
		if sec.heading != "medications" {
			continue
		}
		items := bulletItems(sec.body)
		if items == nil {
			items = inlineItems(sec.body)
		}
		var medications []string
		for _, item := range items {
			med := cleanMedication(item)
			if med != "" && !containsString(medications, med) {
				medications = append(medications, med)
			}
		}
		if medications == nil {
			medications = []string{}
		}
		return medications, strings.TrimSpace(sec.body)
	}
	return nil, ""
}

// bulletItems returns the "- item" lines of a section body, or nil
// when the body has none.
func bulletItems(body string) []string {
	ms := bulletPattern.FindAllStringSubmatch(body, -1)
	if ms == nil {
		return nil
	}
	items := make([]string, 0, len(ms))
	for _, m := range ms {
		items = append(items, m[1])
	}
	return items
}

// inlineItems splits an un-bulleted section body on commas and
// semicolons.
func inlineItems(body string) []string {
	var items []string
	for _, part := range strings.FieldsFunc(body, func(r rune) bool { return r == ',' || r == ';' || r == '\n' }) {
		if p := strings.TrimSpace(part); p != "" {
			items = append(items, p)
		}
	}
	return items
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// validA1C accepts plausible hemoglobin A1c percentages.
func validA1C(v float64) bool {
	return v > 3.0 && v < 20.0
}

// validBP accepts readings with positive values and systolic above
// diastolic.
func validBP(sys, dia int) bool {
	return sys > 0 && dia > 0 && sys > dia && sys <= 300 && dia <= 200
}

// validDate rejects future dates and implausibly old ones.
func (e *Extractor) validDate(t time.Time) bool {
	return !t.After(e.now()) && t.Year() >= 1900
}
