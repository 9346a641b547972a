// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/pdiddy/care-engine/pkg/types"
)

// Query runs a concept query against one corpus and returns up to topK
// snippets. Ranking is the FTS5 bm25 score negated so higher is better;
// ties break on ascending document id, which keeps result order stable
// for an unmodified index.
func (s *Store) Query(ctx context.Context, corpus types.Corpus, q types.ConceptQuery, topK int) ([]types.EvidenceSnippet, error) {
	if topK <= 0 || q.IsEmpty() {
		return []types.EvidenceSnippet{}, nil
	}

	match := ftsQuery(q)
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, snippet(documents_fts, 0, '', '', ' … ', 48), documents_fts.rank
		FROM documents_fts
		JOIN documents d ON d.rowid = documents_fts.rowid
		WHERE documents_fts MATCH ? AND d.corpus = ?
		ORDER BY documents_fts.rank, d.id
		LIMIT ?`,
		match, string(corpus), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("querying %s corpus: %w", corpus, err)
	}
	defer rows.Close()

	snippets := []types.EvidenceSnippet{}
	for rows.Next() {
		var (
			docID string
			text  string
			rank  float64
		)
		if err := rows.Scan(&docID, &text, &rank); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		snippets = append(snippets, types.EvidenceSnippet{
			ID:       string(corpus) + ":" + docID,
			SourceID: docID,
			Text:     text,
			Score:    -rank,
		})
	}
	return snippets, rows.Err()
}

// Count reports the number of documents in one corpus.
func (s *Store) Count(ctx context.Context, corpus types.Corpus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM documents WHERE corpus = ?`, string(corpus),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s documents: %w", corpus, err)
	}
	return n, nil
}

// ftsQuery renders a concept query as an FTS5 match expression. Each
// concept becomes a quoted phrase and phrases are OR-joined, so a
// document matching any concept is a candidate and bm25 ranks by how
// many it matches.
func ftsQuery(q types.ConceptQuery) string {
	phrases := make([]string, 0, len(q.Concepts))
	for _, concept := range q.Concepts {
		clean := strings.ReplaceAll(concept, `"`, "")
		if strings.TrimSpace(clean) == "" {
			continue
		}
		phrases = append(phrases, `"`+clean+`"`)
	}
	if len(phrases) == 0 {
		return `"` + strings.ReplaceAll(q.Text, `"`, "") + `"`
	}
	return strings.Join(phrases, " OR ")
}
