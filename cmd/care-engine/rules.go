// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/care-engine/internal/reason"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the active guideline rule table",
	Long: `Rules prints the versioned rule table the analyze command evaluates.
Each rule id doubles as the guideline document id cited on its gaps.`,
	RunE: runRules,
}

func init() {
	rulesCmd.Flags().Bool("json", false, "output the rule table as JSON")

	rootCmd.AddCommand(rulesCmd)
}

func runRules(cmd *cobra.Command, args []string) error {
	table := reason.DefaultTable()

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		type ruleInfo struct {
			ID          string `json:"id"`
			GapType     string `json:"gap_type"`
			Description string `json:"description"`
		}
		out := struct {
			Version string     `json:"version"`
			Rules   []ruleInfo `json:"rules"`
		}{Version: table.Version}
		for _, r := range table.Rules {
			out.Rules = append(out.Rules, ruleInfo{ID: r.ID, GapType: r.GapType, Description: r.Description})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(os.Stdout, "Rule table %s (%d rules)\n\n", table.Version, len(table.Rules))
	for _, r := range table.Rules {
		fmt.Fprintf(os.Stdout, "%-36s  %-24s  %s\n", r.ID, r.GapType, r.Description)
	}
	return nil
}
