// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retrieve routes evidence queries to the right corpus backend.
// The patient corpus is always served from the local index regardless
// of mode; the guideline corpus is served locally in local mode and
// from the remote vector service in enterprise mode. A failing remote
// is reported as unavailable, never silently replaced with local
// results, so the caller can degrade explicitly.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/pdiddy/care-engine/internal/concept"
	"github.com/pdiddy/care-engine/internal/index"
	"github.com/pdiddy/care-engine/pkg/types"
)

// ErrUnavailable marks a retrieval backend that could not serve a
// query. Callers match with errors.Is and degrade to an empty evidence
// set, surfacing the failure in the result.
var ErrUnavailable = errors.New("retrieval backend unavailable")

// UnavailableError wraps a backend failure with the backend name.
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s backend unavailable: %v", e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrUnavailable) match any UnavailableError.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Backend serves evidence queries for one or more corpora.
type Backend interface {
	// Name returns the backend identifier used in logs and errors.
	Name() string

	// Search returns up to topK snippets for the query, ordered by
	// descending score with ties on ascending SourceID.
	Search(ctx context.Context, corpus types.Corpus, q types.ConceptQuery, topK int) ([]types.EvidenceSnippet, error)
}

// LocalBackend serves queries from the SQLite FTS index.
type LocalBackend struct {
	Store *index.Store
}

// Name returns the backend identifier.
func (b *LocalBackend) Name() string { return "local_fts" }

// Search queries the local index.
func (b *LocalBackend) Search(ctx context.Context, corpus types.Corpus, q types.ConceptQuery, topK int) ([]types.EvidenceSnippet, error) {
	snippets, err := b.Store.Query(ctx, corpus, q, topK)
	if err != nil {
		return nil, &UnavailableError{Backend: b.Name(), Err: err}
	}
	return snippets, nil
}

// Retriever routes queries by corpus and mode.
type Retriever struct {
	local  Backend
	remote Backend
	mode   types.RetrievalMode
	topK   int
	log    zerolog.Logger
}

// New builds a Retriever. remote may be nil in local mode.
func New(local, remote Backend, cfg types.RetrievalConfig, log zerolog.Logger) *Retriever {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}
	return &Retriever{
		local:  local,
		remote: remote,
		mode:   cfg.Mode,
		topK:   topK,
		log:    log,
	}
}

// Retrieve returns up to the configured top-k snippets for the query
// against one corpus. Patient queries never leave the local index. In
// enterprise mode, guideline queries are re-validated for PHI safety
// before leaving the process; a validation failure aborts the query.
func (r *Retriever) Retrieve(ctx context.Context, q types.ConceptQuery, corpus types.Corpus) ([]types.EvidenceSnippet, error) {
	if q.IsEmpty() {
		return []types.EvidenceSnippet{}, nil
	}

	backend := r.local
	if corpus == types.CorpusGuideline && r.mode == types.ModeEnterprise {
		if safe, violations := concept.ValidatePHISafety(q.Text); !safe {
			return nil, fmt.Errorf("query failed PHI safety validation: %v", violations)
		}
		if r.remote == nil {
			return nil, &UnavailableError{Backend: "remote", Err: errors.New("no remote backend configured")}
		}
		backend = r.remote
	}

	r.log.Debug().
		Str("component", "retriever").
		Str("corpus", string(corpus)).
		Str("backend", backend.Name()).
		Int("concepts", len(q.Concepts)).
		Msg("retrieving evidence")

	snippets, err := backend.Search(ctx, corpus, q, r.topK)
	if err != nil {
		return nil, err
	}
	sortSnippets(snippets)
	if len(snippets) > r.topK {
		snippets = snippets[:r.topK]
	}
	return snippets, nil
}

// sortSnippets normalizes ordering regardless of backend: descending
// score, ties ascending SourceID.
func sortSnippets(snippets []types.EvidenceSnippet) {
	sort.SliceStable(snippets, func(i, j int) bool {
		if snippets[i].Score != snippets[j].Score {
			return snippets[i].Score > snippets[j].Score
		}
		return snippets[i].SourceID < snippets[j].SourceID
	})
}
