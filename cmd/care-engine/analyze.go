// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/care-engine/internal/extract"
	"github.com/pdiddy/care-engine/internal/index"
	"github.com/pdiddy/care-engine/internal/pipeline"
	"github.com/pdiddy/care-engine/internal/reason"
	"github.com/pdiddy/care-engine/internal/report"
	"github.com/pdiddy/care-engine/internal/retrieve"
	"github.com/pdiddy/care-engine/pkg/types"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultAITimeout = 20 * time.Second
	defaultUserAgent = "care-engine/0.1"
	defaultModel     = "claude-sonnet-4-5-20250929"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Run the care-gap pipeline on a note or FHIR Bundle",
	Long: `Analyze reads one clinical note (or, with --fhir, a FHIR Bundle JSON
document), extracts a fact bundle, evaluates the guideline rule table,
and attaches retrieved guideline evidence to each detected gap. Pass -
to read from stdin.

Gap verdicts come from rule code alone. The language-model fallback is
used only to recover facts the extraction patterns miss, and only when
an Anthropic API key is available; without one, unmatched fields stay
absent and the affected rules report insufficient data.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().Bool("fhir", false, "treat input as a FHIR Bundle instead of note text")
	analyzeCmd.Flags().String("as-of", "", "evaluation date for screening intervals (YYYY-MM-DD, default today)")
	analyzeCmd.Flags().Bool("json", false, "output the full result as JSON")
	analyzeCmd.Flags().String("model", "", "AI model identifier for the extraction fallback")
	analyzeCmd.Flags().String("api-key", "", "Anthropic API key (default: .secrets/anthropic-api-key)")
	analyzeCmd.Flags().Bool("no-fallback", false, "disable the language-model extraction fallback")
	analyzeCmd.Flags().String("index-dir", "index", "directory holding the local evidence index")
	analyzeCmd.Flags().Bool("no-evidence", false, "skip evidence retrieval, report gaps only")
	analyzeCmd.Flags().String("report-dir", "", "also write markdown and YAML reports to this directory")
	addRetrievalFlags(analyzeCmd)

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	raw, err := readInput(args[0])
	if err != nil {
		return err
	}

	kind := pipeline.KindNote
	if fhir, _ := cmd.Flags().GetBool("fhir"); fhir {
		kind = pipeline.KindRecord
	}

	log := newLogger(cmd)
	completer, extractCfg := completerFromFlags(cmd)
	extractor := extract.New(completer, extractCfg, log)

	var retriever pipeline.Retriever
	if noEvidence, _ := cmd.Flags().GetBool("no-evidence"); !noEvidence {
		indexDir, _ := cmd.Flags().GetString("index-dir")
		store, err := index.NewStore(types.IndexConfig{IndexDir: indexDir})
		if err != nil {
			return err
		}
		defer store.Close()

		r, err := retrieverFromFlags(cmd, store)
		if err != nil {
			return err
		}
		retriever = r
	}

	p := pipeline.New(extractor, retriever, reason.DefaultTable(), log)
	if asOfStr, _ := cmd.Flags().GetString("as-of"); asOfStr != "" {
		asOf, err := time.Parse("2006-01-02", asOfStr)
		if err != nil {
			return fmt.Errorf("invalid --as-of date %q: use YYYY-MM-DD", asOfStr)
		}
		p.SetClock(func() time.Time { return asOf })
	}

	result, err := p.Process(context.Background(), raw, kind)
	if err != nil {
		return err
	}

	if reportDir, _ := cmd.Flags().GetString("report-dir"); reportDir != "" {
		mdPath, err := report.WriteMarkdown(reportDir, result)
		if err != nil {
			return err
		}
		yamlPath, err := report.WriteYAML(reportDir, result)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %s and %s\n", mdPath, yamlPath)
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return formatAnalyzeOutput(result)
}

func formatAnalyzeOutput(result *pipeline.Result) error {
	fmt.Fprintf(os.Stdout, "Result %s  status: %s\n\n", result.ID, result.OverallStatus)

	if len(result.Gaps) == 0 {
		fmt.Println("No applicable rules for this patient.")
		return nil
	}

	for _, gap := range result.Gaps {
		marker := " "
		switch {
		case gap.Detected && gap.Severity == types.SeverityHigh:
			marker = "!"
		case gap.Detected:
			marker = "*"
		case gap.DataStatus == types.DataInsufficient:
			marker = "?"
		}
		fmt.Fprintf(os.Stdout, "%s %-24s %-8s  %s\n", marker, gap.GapType, gap.Severity, gap.Comparison)
		fmt.Fprintf(os.Stdout, "    %s\n", gap.Therefore)
		fmt.Fprintf(os.Stdout, "    Recommendation: %s\n", gap.Recommendation)
		for _, snippet := range result.Evidence[gap.RuleID] {
			fmt.Fprintf(os.Stdout, "    [%s] %s\n", snippet.SourceID, snippet.Text)
		}
	}

	if len(result.RetrievalErrors) > 0 {
		fmt.Fprintln(os.Stdout, "\nEvidence retrieval degraded:")
		for _, msg := range result.RetrievalErrors {
			fmt.Fprintf(os.Stdout, "  %s\n", msg)
		}
	}
	return nil
}

// readInput reads a file argument, with - meaning stdin.
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// completerFromFlags builds the extraction fallback and its
// configuration. The completer is nil when the fallback is disabled or
// no API key is available.
func completerFromFlags(cmd *cobra.Command) (extract.Completer, types.ExtractionConfig) {
	model, _ := cmd.Flags().GetString("model")
	if model == "" {
		model = defaultModel
	}
	cfg := types.ExtractionConfig{
		AIConfig: types.AIConfig{
			Model:   model,
			Timeout: defaultAITimeout,
		},
	}

	if noFallback, _ := cmd.Flags().GetBool("no-fallback"); noFallback {
		return nil, cfg
	}
	flagKey, _ := cmd.Flags().GetString("api-key")
	apiKey := secretDefault("anthropic-api-key", flagKey)
	if apiKey == "" {
		return nil, cfg
	}
	cfg.APIKey = apiKey

	return &extract.ClaudeCompleter{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
		Client: &http.Client{Timeout: cfg.Timeout},
	}, cfg
}

// addRetrievalFlags registers the evidence-retrieval flags shared by
// analyze and retrieve.
func addRetrievalFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", "local", "guideline retrieval mode (local or enterprise)")
	cmd.Flags().Int("top-k", 0, "maximum snippets per query (default 3)")
	cmd.Flags().String("remote-url", "", "vector-search service URL (enterprise mode)")
	cmd.Flags().String("remote-api-key", "", "vector-search API key (default: .secrets/vector-api-key)")
	cmd.Flags().String("remote-namespace", "medical-kb", "vector-search index namespace")
}

// retrieverFromFlags wires the local index and, in enterprise mode, the
// remote vector-search backend.
func retrieverFromFlags(cmd *cobra.Command, store *index.Store) (*retrieve.Retriever, error) {
	modeStr, _ := cmd.Flags().GetString("mode")
	mode, ok := types.ParseRetrievalMode(modeStr)
	if !ok {
		return nil, fmt.Errorf("unknown mode %q: use local or enterprise", modeStr)
	}
	topK, _ := cmd.Flags().GetInt("top-k")

	cfg := types.RetrievalConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   defaultTimeout,
			UserAgent: defaultUserAgent,
		},
		Mode: mode,
		TopK: topK,
	}

	var remote retrieve.Backend
	if mode == types.ModeEnterprise {
		remoteURL, _ := cmd.Flags().GetString("remote-url")
		if remoteURL == "" {
			return nil, fmt.Errorf("enterprise mode requires --remote-url")
		}
		flagKey, _ := cmd.Flags().GetString("remote-api-key")
		namespace, _ := cmd.Flags().GetString("remote-namespace")
		remote = &retrieve.RemoteBackend{
			BaseURL:   remoteURL,
			APIKey:    secretDefault("vector-api-key", flagKey),
			Namespace: namespace,
			Client:    &http.Client{Timeout: cfg.Timeout},
			UserAgent: cfg.UserAgent,
		}
	}

	return retrieve.New(&retrieve.LocalBackend{Store: store}, remote, cfg, newLogger(cmd)), nil
}
