// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieve

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/care-engine/pkg/types"
)

// fakeBackend records the corpora it was asked to serve.
type fakeBackend struct {
	name     string
	snippets []types.EvidenceSnippet
	err      error
	calls    []types.Corpus
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Search(_ context.Context, corpus types.Corpus, _ types.ConceptQuery, _ int) ([]types.EvidenceSnippet, error) {
	b.calls = append(b.calls, corpus)
	return b.snippets, b.err
}

var testQuery = types.ConceptQuery{
	Concepts: []string{"diabetes", "glycemic control"},
	Text:     "diabetes glycemic control guidelines clinical recommendations",
}

func newRetriever(local, remote Backend, mode types.RetrievalMode, topK int) *Retriever {
	return New(local, remote, types.RetrievalConfig{Mode: mode, TopK: topK}, zerolog.Nop())
}

func TestRetrievePatientAlwaysLocal(t *testing.T) {
	for _, mode := range []types.RetrievalMode{types.ModeLocal, types.ModeEnterprise} {
		t.Run(string(mode), func(t *testing.T) {
			local := &fakeBackend{name: "local"}
			remote := &fakeBackend{name: "remote"}
			r := newRetriever(local, remote, mode, 3)

			_, err := r.Retrieve(context.Background(), testQuery, types.CorpusPatient)
			require.NoError(t, err)
			assert.Equal(t, []types.Corpus{types.CorpusPatient}, local.calls)
			assert.Empty(t, remote.calls, "patient query must never reach the remote backend")
		})
	}
}

func TestRetrieveGuidelineRouting(t *testing.T) {
	tests := []struct {
		name       string
		mode       types.RetrievalMode
		wantLocal  int
		wantRemote int
	}{
		{"local mode stays local", types.ModeLocal, 1, 0},
		{"enterprise mode goes remote", types.ModeEnterprise, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := &fakeBackend{name: "local"}
			remote := &fakeBackend{name: "remote"}
			r := newRetriever(local, remote, tt.mode, 3)

			_, err := r.Retrieve(context.Background(), testQuery, types.CorpusGuideline)
			require.NoError(t, err)
			assert.Len(t, local.calls, tt.wantLocal)
			assert.Len(t, remote.calls, tt.wantRemote)
		})
	}
}

func TestRetrieveRemoteFailureIsUnavailable(t *testing.T) {
	local := &fakeBackend{name: "local"}
	remote := &fakeBackend{name: "remote", err: &UnavailableError{Backend: "remote_vector", Err: errors.New("timeout")}}
	r := newRetriever(local, remote, types.ModeEnterprise, 3)

	_, err := r.Retrieve(context.Background(), testQuery, types.CorpusGuideline)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	// No silent fallback to the local index.
	assert.Empty(t, local.calls)
}

func TestRetrieveNoRemoteConfigured(t *testing.T) {
	local := &fakeBackend{name: "local"}
	r := newRetriever(local, nil, types.ModeEnterprise, 3)

	_, err := r.Retrieve(context.Background(), testQuery, types.CorpusGuideline)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRetrievePHIValidationBlocksRemote(t *testing.T) {
	remote := &fakeBackend{name: "remote"}
	r := newRetriever(&fakeBackend{name: "local"}, remote, types.ModeEnterprise, 3)

	leaky := types.ConceptQuery{
		Concepts: []string{"diabetes"},
		Text:     "diabetes a1c 8.2 guidelines",
	}
	_, err := r.Retrieve(context.Background(), leaky, types.CorpusGuideline)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, remote.calls, "unsafe query must not reach the remote backend")
}

func TestRetrieveOrdersAndCaps(t *testing.T) {
	local := &fakeBackend{name: "local", snippets: []types.EvidenceSnippet{
		{ID: "g:b", SourceID: "b", Score: 0.5},
		{ID: "g:c", SourceID: "c", Score: 0.9},
		{ID: "g:a", SourceID: "a", Score: 0.5},
	}}
	r := newRetriever(local, nil, types.ModeLocal, 2)

	snippets, err := r.Retrieve(context.Background(), testQuery, types.CorpusGuideline)
	require.NoError(t, err)
	require.Len(t, snippets, 2)
	assert.Equal(t, "c", snippets[0].SourceID)
	assert.Equal(t, "a", snippets[1].SourceID, "tie breaks on ascending source id")
}

func TestRetrieveEmptyQuery(t *testing.T) {
	local := &fakeBackend{name: "local"}
	r := newRetriever(local, nil, types.ModeLocal, 3)

	snippets, err := r.Retrieve(context.Background(), types.ConceptQuery{}, types.CorpusGuideline)
	require.NoError(t, err)
	assert.Empty(t, snippets)
	assert.Empty(t, local.calls)
}

func TestRemoteBackendSearch(t *testing.T) {
	var gotAuth string
	var gotBody remoteQuery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		json.NewDecoder(req.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(remoteResponse{Matches: []remoteMatch{
			{ID: "vec:guideline_001", SourceID: "guideline_001_a1c_threshold", Text: "a1c target below seven percent", Score: 0.91},
		}})
	}))
	defer srv.Close()

	b := &RemoteBackend{BaseURL: srv.URL, APIKey: "test-key", Namespace: "medical-kb", Client: srv.Client()}
	snippets, err := b.Search(context.Background(), types.CorpusGuideline, testQuery, 3)
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "medical-kb", gotBody.Namespace)
	assert.Equal(t, 3, gotBody.TopK)
	require.Len(t, snippets, 1)
	assert.Equal(t, "guideline_001_a1c_threshold", snippets[0].SourceID)
	assert.InDelta(t, 0.91, snippets[0].Score, 0.001)
}

func TestRemoteBackendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	b := &RemoteBackend{BaseURL: srv.URL, Client: srv.Client()}
	_, err := b.Search(context.Background(), types.CorpusGuideline, testQuery, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRemoteBackendRejectsPatientCorpus(t *testing.T) {
	b := &RemoteBackend{BaseURL: "http://unused"}
	_, err := b.Search(context.Background(), types.CorpusPatient, testQuery, 3)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}
