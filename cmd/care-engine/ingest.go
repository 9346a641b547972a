// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/care-engine/internal/index"
	"github.com/pdiddy/care-engine/pkg/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Build the local evidence indexes",
	Long: `Ingest indexes guideline markdown documents into the guideline corpus
and patient note files into the patient corpus of the local SQLite
index. Existing documents are updated in place, so re-running after a
content change is safe.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().String("index-dir", "index", "directory holding the local evidence index")
	ingestCmd.Flags().String("guidelines-dir", "", "directory of guideline markdown documents")
	ingestCmd.Flags().String("notes-dir", "", "directory of patient note text files")

	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	guidelinesDir, _ := cmd.Flags().GetString("guidelines-dir")
	notesDir, _ := cmd.Flags().GetString("notes-dir")
	if guidelinesDir == "" && notesDir == "" {
		return fmt.Errorf("nothing to ingest: provide --guidelines-dir, --notes-dir, or both")
	}

	indexDir, _ := cmd.Flags().GetString("index-dir")
	store, err := index.NewStore(types.IndexConfig{
		IndexDir:      indexDir,
		GuidelinesDir: guidelinesDir,
		NotesDir:      notesDir,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	failed := 0

	if guidelinesDir != "" {
		summary, err := store.IngestGuidelines(ctx, guidelinesDir, os.Stdout)
		if err != nil {
			return err
		}
		failed += summary.Failed
	}
	if notesDir != "" {
		summary, err := store.IngestNotes(ctx, notesDir, os.Stdout)
		if err != nil {
			return err
		}
		failed += summary.Failed
	}

	if failed > 0 {
		return fmt.Errorf("%d document(s) failed indexing", failed)
	}
	return nil
}
