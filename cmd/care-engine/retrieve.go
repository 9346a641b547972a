// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/care-engine/internal/index"
	"github.com/pdiddy/care-engine/pkg/types"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [terms...]",
	Short: "Query an evidence index directly",
	Long: `Retrieve runs a full-text query against one corpus of the local
evidence index and prints the matching snippets in rank order. The
patient corpus is only ever served locally; guideline queries follow
the configured retrieval mode during analyze, but this command always
reads the local index.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRetrieve,
}

func init() {
	retrieveCmd.Flags().String("index-dir", "index", "directory holding the local evidence index")
	retrieveCmd.Flags().String("corpus", "guideline", "corpus to query (guideline or patient)")
	retrieveCmd.Flags().Int("top-k", 3, "maximum snippets to return")
	retrieveCmd.Flags().Bool("json", false, "output snippets as JSON")

	rootCmd.AddCommand(retrieveCmd)
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	corpusStr, _ := cmd.Flags().GetString("corpus")
	corpus := types.Corpus(corpusStr)
	if corpus != types.CorpusGuideline && corpus != types.CorpusPatient {
		return fmt.Errorf("unknown corpus %q: use guideline or patient", corpusStr)
	}

	indexDir, _ := cmd.Flags().GetString("index-dir")
	store, err := index.NewStore(types.IndexConfig{IndexDir: indexDir})
	if err != nil {
		return err
	}
	defer store.Close()

	topK, _ := cmd.Flags().GetInt("top-k")
	q := types.ConceptQuery{
		Concepts: args,
		Text:     strings.Join(args, " "),
	}

	snippets, err := store.Query(context.Background(), corpus, q, topK)
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snippets)
	}

	if len(snippets) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	for i, s := range snippets {
		fmt.Fprintf(os.Stdout, "%-4d  %-8.3f  %-30s  %s\n", i+1, s.Score, s.SourceID, s.Text)
	}
	fmt.Fprintf(os.Stdout, "\n%d results\n", len(snippets))
	return nil
}
