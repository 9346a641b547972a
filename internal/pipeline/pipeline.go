// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs the fact-extraction, reasoning, and evidence
// stages end to end for one patient record. Extraction may consult a
// language model; reasoning is pure code; evidence is retrieved, never
// generated. Each stage's outcome lands in the audit trail on the
// result.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/care-engine/internal/concept"
	"github.com/pdiddy/care-engine/internal/fhir"
	"github.com/pdiddy/care-engine/internal/reason"
	"github.com/pdiddy/care-engine/pkg/types"
)

// InputKind selects the ingestion path for a raw document.
type InputKind string

const (
	// KindNote is free-text clinical note input.
	KindNote InputKind = "note"

	// KindRecord is structured FHIR Bundle input.
	KindRecord InputKind = "record"
)

// AuditEntry records one pipeline stage outcome.
type AuditEntry struct {
	Stage  string    `json:"stage" yaml:"stage"`
	Detail string    `json:"detail" yaml:"detail"`
	At     time.Time `json:"at" yaml:"at"`
	OK     bool      `json:"ok" yaml:"ok"`
}

// Result is the full output of one pipeline run.
type Result struct {
	// ID uniquely identifies this run.
	ID string `json:"id" yaml:"id"`

	Kind   InputKind        `json:"kind" yaml:"kind"`
	Bundle types.FactBundle `json:"bundle" yaml:"bundle"`
	Gaps   []types.Gap      `json:"gaps" yaml:"gaps"`

	// OverallStatus is the patient-level rollup of the gap verdicts.
	OverallStatus string `json:"overall_status" yaml:"overall_status"`

	// Evidence holds retrieved guideline snippets per detected gap's
	// rule id. Snippets are retrieved, never synthesized; a gap whose
	// retrieval failed has no entry and the failure is recorded in
	// RetrievalErrors.
	Evidence map[string][]types.EvidenceSnippet `json:"evidence" yaml:"evidence"`

	// RetrievalErrors reports degraded evidence retrieval. The gaps
	// themselves are unaffected.
	RetrievalErrors []string `json:"retrieval_errors,omitempty" yaml:"retrieval_errors,omitempty"`

	Audit []AuditEntry `json:"audit" yaml:"audit"`
}

// Extractor resolves facts from free-text notes.
type Extractor interface {
	Extract(ctx context.Context, text string) (types.FactBundle, error)
}

// Retriever serves evidence queries.
type Retriever interface {
	Retrieve(ctx context.Context, q types.ConceptQuery, corpus types.Corpus) ([]types.EvidenceSnippet, error)
}

// Pipeline wires the stages together.
type Pipeline struct {
	extractor Extractor
	retriever Retriever
	table     reason.Table
	log       zerolog.Logger

	// Overridable in tests.
	now   func() time.Time
	newID func() string
}

// New builds a Pipeline. retriever may be nil, in which case evidence
// retrieval is skipped and results carry gaps without citations.
func New(extractor Extractor, retriever Retriever, table reason.Table, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		retriever: retriever,
		table:     table,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// SetClock overrides the wall clock used as the rule-evaluation anchor
// and for audit timestamps.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Process ingests one raw document, evaluates the rule table, and
// attaches retrieved evidence to the detected gaps. Ingestion and rule
// defects are fatal; evidence retrieval failures degrade to gaps
// without citations, reported on the result.
func (p *Pipeline) Process(ctx context.Context, raw []byte, kind InputKind) (*Result, error) {
	result := &Result{
		ID:       p.newID(),
		Kind:     kind,
		Evidence: map[string][]types.EvidenceSnippet{},
	}

	bundle, err := p.ingest(ctx, raw, kind)
	if err != nil {
		p.audit(result, "ingest", err.Error(), false)
		return nil, fmt.Errorf("ingesting %s: %w", kind, err)
	}
	result.Bundle = bundle
	p.audit(result, "ingest", fmt.Sprintf("kind=%s diagnoses=%d medications=%d", kind, len(bundle.Diagnoses), len(bundle.Medications)), true)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The reasoning branch hands detected gaps to the evidence branch
	// over a channel so retrieval overlaps with the remaining work.
	gapsCh := make(chan []types.Gap, 1)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		gaps, err := reason.Evaluate(p.table, bundle, p.now())
		if err != nil {
			close(gapsCh)
			return fmt.Errorf("evaluating rules: %w", err)
		}
		result.Gaps = gaps
		result.OverallStatus = reason.OverallStatus(gaps)
		mu.Lock()
		p.audit(result, "reason", fmt.Sprintf("rules=%d gaps=%d status=%s", len(p.table.Rules), countDetected(gaps), result.OverallStatus), true)
		mu.Unlock()
		gapsCh <- gaps
		return nil
	})

	g.Go(func() error {
		gaps, ok := <-gapsCh
		if !ok || p.retriever == nil {
			return nil
		}
		for _, gap := range gaps {
			if !gap.Detected {
				continue
			}
			if err := gctx.Err(); err != nil {
				return err
			}

			q := concept.BuildForGap(gap.GapType)
			snippets, err := p.retriever.Retrieve(gctx, q, types.CorpusGuideline)

			mu.Lock()
			if err != nil {
				result.RetrievalErrors = append(result.RetrievalErrors,
					fmt.Sprintf("%s: %v", gap.RuleID, err))
				p.audit(result, "retrieve", gap.RuleID+": "+err.Error(), false)
				p.log.Warn().
					Str("component", "pipeline").
					Str("rule_id", gap.RuleID).
					Err(err).
					Msg("evidence retrieval degraded")
			} else {
				result.Evidence[gap.RuleID] = snippets
				p.audit(result, "retrieve", fmt.Sprintf("%s: %d snippets", gap.RuleID, len(snippets)), true)
			}
			mu.Unlock()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.log.Info().
		Str("component", "pipeline").
		Str("result_id", result.ID).
		Str("status", result.OverallStatus).
		Int("gaps", countDetected(result.Gaps)).
		Int("retrieval_errors", len(result.RetrievalErrors)).
		Msg("pipeline run complete")

	return result, nil
}

// ingest dispatches the raw document to the extractor or the
// structured ingestor.
func (p *Pipeline) ingest(ctx context.Context, raw []byte, kind InputKind) (types.FactBundle, error) {
	switch kind {
	case KindNote:
		return p.extractor.Extract(ctx, string(raw))
	case KindRecord:
		return fhir.Ingest(raw)
	default:
		return types.FactBundle{}, fmt.Errorf("unknown input kind %q", kind)
	}
}

func (p *Pipeline) audit(result *Result, stage, detail string, ok bool) {
	result.Audit = append(result.Audit, AuditEntry{
		Stage:  stage,
		Detail: detail,
		At:     p.now(),
		OK:     ok,
	})
}

func countDetected(gaps []types.Gap) int {
	n := 0
	for _, g := range gaps {
		if g.Detected {
			n++
		}
	}
	return n
}
