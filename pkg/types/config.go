// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// RetrievalMode selects the guideline-corpus backend. Patient-derived
// content is always served from the local index regardless of mode.
type RetrievalMode string

const (
	// ModeLocal serves all corpora from the local index.
	ModeLocal RetrievalMode = "local"

	// ModeEnterprise serves the guideline corpus from the remote
	// vector-search service.
	ModeEnterprise RetrievalMode = "enterprise"
)

// ParseRetrievalMode validates a mode string, defaulting empty to local.
func ParseRetrievalMode(s string) (RetrievalMode, bool) {
	switch RetrievalMode(s) {
	case ModeLocal, "":
		return ModeLocal, true
	case ModeEnterprise:
		return ModeEnterprise, true
	default:
		return ModeLocal, false
	}
}

// HTTPConfig holds shared HTTP settings for stages that make network
// requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "care-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// AIConfig holds settings for the language-model fallback capability.
type AIConfig struct {
	// Model is the model identifier.
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Timeout bounds one fallback call (default 20s).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// ExtractionConfig holds settings for the fact-extraction stage.
type ExtractionConfig struct {
	AIConfig `yaml:",inline"`

	// MaxConcurrentFallbacks bounds concurrent language-model calls
	// for one note (default 2). The fallback is a rate-limited
	// external resource; field extraction itself is unbounded.
	MaxConcurrentFallbacks int `json:"max_concurrent_fallbacks" yaml:"max_concurrent_fallbacks"`
}

// IndexConfig holds settings for the local evidence index.
type IndexConfig struct {
	// IndexDir is the directory holding the SQLite index database.
	IndexDir string `json:"index_dir" yaml:"index_dir"`

	// GuidelinesDir is the directory of guideline markdown documents
	// ingested into the guideline corpus.
	GuidelinesDir string `json:"guidelines_dir" yaml:"guidelines_dir"`

	// NotesDir is the directory of patient note files ingested into
	// the patient corpus.
	NotesDir string `json:"notes_dir" yaml:"notes_dir"`
}

// RetrievalConfig holds settings for evidence retrieval.
type RetrievalConfig struct {
	HTTPConfig `yaml:",inline"`

	// Mode selects local or enterprise guideline routing.
	Mode RetrievalMode `json:"mode" yaml:"mode"`

	// TopK caps the number of snippets per query (default 3).
	TopK int `json:"top_k" yaml:"top_k"`

	// RemoteURL is the vector-search service query endpoint, required
	// in enterprise mode.
	RemoteURL string `json:"remote_url,omitempty" yaml:"remote_url,omitempty"`

	// RemoteAPIKey authenticates against the vector-search service.
	RemoteAPIKey string `json:"remote_api_key,omitempty" yaml:"remote_api_key,omitempty"`

	// RemoteNamespace is the index namespace holding the guideline
	// corpus (default "medical-kb").
	RemoteNamespace string `json:"remote_namespace,omitempty" yaml:"remote_namespace,omitempty"`
}

// PipelineConfig groups all stage configurations.
type PipelineConfig struct {
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	Index      IndexConfig      `json:"index" yaml:"index"`
	Retrieval  RetrievalConfig  `json:"retrieval" yaml:"retrieval"`
}
