// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package index persists evidence corpora in a SQLite database with an
// FTS5 full-text index. Both the patient-note corpus and the local
// guideline corpus live here; indexes are built offline by the ingest
// command and are read-only at query time.
//
// Building this package requires the sqlite_fts5 tag so the driver
// compiles the FTS5 extension in; the mage Build and Test targets set
// it. Without the tag every NewStore call fails with "no such module:
// fts5".
package index

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/care-engine/pkg/types"
)

const dbFile = "care.db"

// Store manages the evidence SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the evidence database at
// cfg.IndexDir/care.db, creating the schema if it does not exist.
func NewStore(cfg types.IndexConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.IndexDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dbPath := filepath.Join(cfg.IndexDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			corpus TEXT NOT NULL,
			title TEXT,
			category TEXT,
			condition TEXT,
			content TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_corpus ON documents(corpus)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS5 virtual table with triggers for sync.
	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='documents_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}

	if ftsExists == 0 {
		ftsStatements := []string{
			`CREATE VIRTUAL TABLE documents_fts USING fts5(content, content=documents, content_rowid=rowid)`,
			`CREATE TRIGGER documents_ai AFTER INSERT ON documents BEGIN
				INSERT INTO documents_fts(rowid, content) VALUES (new.rowid, new.content);
			END`,
			`CREATE TRIGGER documents_ad AFTER DELETE ON documents BEGIN
				INSERT INTO documents_fts(documents_fts, rowid, content) VALUES('delete', old.rowid, old.content);
			END`,
			`CREATE TRIGGER documents_au AFTER UPDATE ON documents BEGIN
				INSERT INTO documents_fts(documents_fts, rowid, content) VALUES('delete', old.rowid, old.content);
				INSERT INTO documents_fts(rowid, content) VALUES (new.rowid, new.content);
			END`,
		}
		for _, stmt := range ftsStatements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("creating FTS infrastructure: %w", err)
			}
		}
	}
	return nil
}

// Document is one indexable evidence document.
type Document struct {
	ID        string
	Corpus    types.Corpus
	Title     string
	Category  string
	Condition string
	Content   string
}

// Upsert inserts or replaces one document.
func (s *Store) Upsert(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, corpus, title, category, condition, content)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			corpus=excluded.corpus, title=excluded.title,
			category=excluded.category, condition=excluded.condition,
			content=excluded.content`,
		doc.ID, string(doc.Corpus), doc.Title, doc.Category, doc.Condition, doc.Content,
	)
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.ID, err)
	}
	return nil
}

// IngestSummary holds counts from an indexing run.
type IngestSummary struct {
	Indexed int
	Failed  int
}

// IngestGuidelines reads guideline Markdown files from dir into the
// guideline corpus. The document id is the file stem; title, category,
// and condition come from the document's headings.
func (s *Store) IngestGuidelines(ctx context.Context, dir string, w io.Writer) (IngestSummary, error) {
	return s.ingestDir(ctx, dir, w, ".md", func(name, content string) Document {
		doc := parseGuideline(content)
		doc.ID = name
		doc.Corpus = types.CorpusGuideline
		return doc
	})
}

// IngestNotes reads patient note files from dir into the patient
// corpus. Notes carry PHI and never leave the local index.
func (s *Store) IngestNotes(ctx context.Context, dir string, w io.Writer) (IngestSummary, error) {
	return s.ingestDir(ctx, dir, w, ".txt", func(name, content string) Document {
		return Document{
			ID:      name,
			Corpus:  types.CorpusPatient,
			Content: content,
		}
	})
}

func (s *Store) ingestDir(ctx context.Context, dir string, w io.Writer, ext string, build func(name, content string) Document) (IngestSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return IngestSummary{}, fmt.Errorf("reading document directory %s: %w", dir, err)
	}

	var summary IngestSummary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}

		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		name := strings.TrimSuffix(entry.Name(), ext)
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", name, err)
			summary.Failed++
			continue
		}

		if err := s.Upsert(ctx, build(name, string(data))); err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", name, err)
			summary.Failed++
			continue
		}
		fmt.Fprintf(w, "indexed %s\n", name)
		summary.Indexed++
	}

	fmt.Fprintf(w, "\nindexed: %d, failed: %d\n", summary.Indexed, summary.Failed)
	return summary, nil
}

// parseGuideline pulls title, category, and condition from a guideline
// document's headings. Body lines become the searchable content, with
// the title prepended.
func parseGuideline(content string) Document {
	var doc Document
	var body []string

	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, "# ") && doc.Title == "":
			doc.Title = strings.TrimSpace(line[2:])
		case strings.HasPrefix(line, "## Category:"):
			doc.Category = strings.TrimSpace(strings.TrimPrefix(line, "## Category:"))
		case strings.HasPrefix(line, "## Condition:"):
			doc.Condition = strings.TrimSpace(strings.TrimPrefix(line, "## Condition:"))
		case !strings.HasPrefix(line, "#"):
			body = append(body, line)
		}
	}

	doc.Content = strings.TrimSpace(doc.Title + "\n\n" + strings.TrimSpace(strings.Join(body, "\n")))
	return doc
}
