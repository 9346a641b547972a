// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pdiddy/care-engine/internal/httputil"
	"github.com/pdiddy/care-engine/pkg/types"
)

// RemoteBackend queries the enterprise vector-search service. Only
// de-identified concept queries ever reach it; the retriever validates
// PHI safety before calling Search.
type RemoteBackend struct {
	BaseURL   string
	APIKey    string
	Namespace string
	Client    *http.Client
	UserAgent string
}

// Name returns the backend identifier.
func (b *RemoteBackend) Name() string { return "remote_vector" }

// remoteQuery is the request body for the vector-search service.
type remoteQuery struct {
	Namespace string   `json:"namespace"`
	Query     string   `json:"query"`
	Concepts  []string `json:"concepts"`
	TopK      int      `json:"top_k"`
}

// remoteResponse is the response body from the vector-search service.
type remoteResponse struct {
	Matches []remoteMatch `json:"matches"`
}

type remoteMatch struct {
	ID       string  `json:"id"`
	SourceID string  `json:"source_id"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}

// Search posts the concept query to the vector-search service. Any
// transport, auth, or decode failure is reported as UnavailableError so
// the caller can degrade.
func (b *RemoteBackend) Search(ctx context.Context, corpus types.Corpus, q types.ConceptQuery, topK int) ([]types.EvidenceSnippet, error) {
	if corpus != types.CorpusGuideline {
		return nil, fmt.Errorf("remote backend serves only the guideline corpus, got %q", corpus)
	}

	body, err := json.Marshal(remoteQuery{
		Namespace: b.Namespace,
		Query:     q.Text,
		Concepts:  q.Concepts,
		TopK:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.APIKey)
	if b.UserAgent != "" {
		req.Header.Set("User-Agent", b.UserAgent)
	}

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return nil, &UnavailableError{Backend: b.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &UnavailableError{Backend: b.Name(), Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	var rr remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, &UnavailableError{Backend: b.Name(), Err: fmt.Errorf("parsing response: %w", err)}
	}

	snippets := make([]types.EvidenceSnippet, 0, len(rr.Matches))
	for _, m := range rr.Matches {
		snippets = append(snippets, types.EvidenceSnippet{
			ID:       m.ID,
			SourceID: m.SourceID,
			Text:     m.Text,
			Score:    m.Score,
		})
	}
	return snippets, nil
}
