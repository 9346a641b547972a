// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report renders pipeline results as reviewable files: a
// markdown care-gap report for clinicians and a YAML export of the full
// result for downstream tooling. Rendering is purely template-driven;
// every sentence in a report comes from a rule verdict or a retrieved
// snippet.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/care-engine/internal/pipeline"
	"github.com/pdiddy/care-engine/pkg/types"
)

// statusHeadlines maps the overall status to the report headline.
var statusHeadlines = map[string]string{
	"urgent_gaps_identified": "Urgent care gaps identified",
	"gaps_identified":        "Care gaps identified",
	"needs_review":           "Insufficient data, review needed",
	"all_gaps_closed":        "All monitored care gaps closed",
}

// WriteYAML writes the full result to <dir>/<result-id>.yaml and
// returns the path.
func WriteYAML(dir string, result *pipeline.Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}
	data, err := yaml.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshaling result: %w", err)
	}
	path := filepath.Join(dir, result.ID+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// WriteMarkdown writes the rendered report to <dir>/<result-id>.md and
// returns the path.
func WriteMarkdown(dir string, result *pipeline.Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}
	path := filepath.Join(dir, result.ID+".md")
	if err := os.WriteFile(path, []byte(Render(result)), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Render builds the markdown care-gap report for one result.
func Render(result *pipeline.Result) string {
	var b strings.Builder

	headline := statusHeadlines[result.OverallStatus]
	if headline == "" {
		headline = result.OverallStatus
	}
	fmt.Fprintf(&b, "# Care Gap Report\n\n")
	fmt.Fprintf(&b, "**%s**\n\n", headline)
	fmt.Fprintf(&b, "Result `%s`, input `%s`.\n", result.ID, result.Kind)

	writeGaps(&b, "## Detected Gaps", result, func(g types.Gap) bool {
		return g.Detected
	})
	writeGaps(&b, "## Insufficient Data", result, func(g types.Gap) bool {
		return g.DataStatus == types.DataInsufficient
	})
	writeGaps(&b, "## At Goal", result, func(g types.Gap) bool {
		return !g.Detected && g.DataStatus == types.DataEvaluated
	})

	if len(result.RetrievalErrors) > 0 {
		b.WriteString("\n## Evidence Retrieval Degraded\n\n")
		b.WriteString("Gap detection was unaffected; the citations below could not be fetched.\n\n")
		for _, msg := range result.RetrievalErrors {
			fmt.Fprintf(&b, "- %s\n", msg)
		}
	}

	return b.String()
}

func writeGaps(b *strings.Builder, heading string, result *pipeline.Result, keep func(types.Gap) bool) {
	var gaps []types.Gap
	for _, g := range result.Gaps {
		if keep(g) {
			gaps = append(gaps, g)
		}
	}
	if len(gaps) == 0 {
		return
	}

	fmt.Fprintf(b, "\n%s\n", heading)
	for _, g := range gaps {
		fmt.Fprintf(b, "\n### %s\n\n", g.GapType)
		if g.Detected {
			fmt.Fprintf(b, "Severity: %s\n\n", g.Severity)
		}
		fmt.Fprintf(b, "- Check: %s\n", g.Comparison)
		fmt.Fprintf(b, "- %s\n", g.Therefore)
		fmt.Fprintf(b, "- Recommendation: %s\n", g.Recommendation)
		fmt.Fprintf(b, "- Guideline: %s\n", g.Citation)

		for _, snippet := range result.Evidence[g.RuleID] {
			fmt.Fprintf(b, "\n> %s\n>\n> — %s\n", snippet.Text, snippet.SourceID)
		}
	}
}
