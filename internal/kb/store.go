// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package kb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/advisor-engine/pkg/types"
)

const dbFile = "advisor.db"

// Store is the embedded SQLite FTS5 knowledge base.
type Store struct {
	db       *sql.DB
	indexDir string
}

// NewStore opens or creates the knowledge base at indexDir/advisor.db and
// creates the schema if it does not exist (R1.2, R1.3).
func NewStore(cfg types.KnowledgeBaseConfig) (*Store, error) {
	indexDir := cfg.IndexDir
	if indexDir == "" {
		indexDir = filepath.Join("kb", "index")
	}
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dbPath := filepath.Join(indexDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, indexDir: indexDir}
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
			doc_id TEXT PRIMARY KEY,
			card TEXT,
			title TEXT,
			url TEXT,
			content_hash TEXT,
			ingested_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS sections (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_id TEXT NOT NULL REFERENCES documents(doc_id),
			section TEXT,
			body TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sections_doc_id ON sections(doc_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS5 virtual table with triggers for sync.
	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='sections_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}

	if ftsExists == 0 {
		ftsStatements := []string{
			`CREATE VIRTUAL TABLE sections_fts USING fts5(body, content=sections, content_rowid=rowid)`,
			`CREATE TRIGGER sections_ai AFTER INSERT ON sections BEGIN
				INSERT INTO sections_fts(rowid, body) VALUES (new.rowid, new.body);
			END`,
			`CREATE TRIGGER sections_ad AFTER DELETE ON sections BEGIN
				INSERT INTO sections_fts(sections_fts, rowid, body) VALUES('delete', old.rowid, old.body);
			END`,
			`CREATE TRIGGER sections_au AFTER UPDATE ON sections BEGIN
				INSERT INTO sections_fts(sections_fts, rowid, body) VALUES('delete', old.rowid, old.body);
				INSERT INTO sections_fts(rowid, body) VALUES (new.rowid, new.body);
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

// IngestSummary holds counts from a knowledge base indexing run (R5.5).
type IngestSummary struct {
	Indexed int
	Updated int
	Skipped int
	Failed  int
}

// Total returns the number of documents processed.
func (s IngestSummary) Total() int {
	return s.Indexed + s.Updated + s.Skipped + s.Failed
}

// Ingest indexes product documents, detecting new, changed, and unchanged
// content for incremental updates (R1.1, R5.1-R5.5). Progress is reported
// line by line on w.
func (s *Store) Ingest(ctx context.Context, docs []types.Document, w io.Writer) (IngestSummary, error) {
	var summary IngestSummary

	for _, doc := range docs {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		if doc.DocID == "" {
			fmt.Fprintf(w, "failed  (missing doc_id, title %q)\n", doc.Title)
			summary.Failed++
			continue
		}

		hash := contentHash(doc)

		// Skip documents whose content is unchanged since last indexing (R5.1, R5.3).
		var storedHash string
		err := s.db.QueryRowContext(ctx,
			`SELECT content_hash FROM documents WHERE doc_id = ?`, doc.DocID,
		).Scan(&storedHash)

		if err == nil && storedHash == hash {
			fmt.Fprintf(w, "skipped %s\n", doc.DocID)
			summary.Skipped++
			continue
		}
		isUpdate := err == nil

		if err := s.ingestDocument(ctx, doc, hash, isUpdate); err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", doc.DocID, err)
			summary.Failed++
			continue
		}

		if isUpdate {
			fmt.Fprintf(w, "updated %s (%d sections)\n", doc.DocID, len(doc.Sections))
			summary.Updated++
		} else {
			fmt.Fprintf(w, "indexed %s (%d sections)\n", doc.DocID, len(doc.Sections))
			summary.Indexed++
		}
	}

	fmt.Fprintf(w, "\nindexed: %d, updated: %d, skipped: %d, failed: %d\n",
		summary.Indexed, summary.Updated, summary.Skipped, summary.Failed)

	return summary, nil
}

func (s *Store) ingestDocument(ctx context.Context, doc types.Document, hash string, isUpdate bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Remove old sections if updating (R5.2).
	if isUpdate {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE doc_id = ?`, doc.DocID); err != nil {
			return fmt.Errorf("deleting old sections: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (doc_id, card, title, url, content_hash, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET
			card=excluded.card, title=excluded.title, url=excluded.url,
			content_hash=excluded.content_hash, ingested_at=excluded.ingested_at`,
		doc.DocID, doc.Card, doc.Title, doc.URL, hash,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sections (doc_id, section, body) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, sec := range doc.Sections {
		if strings.TrimSpace(sec.Body) == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, doc.DocID, sec.Heading, sec.Body); err != nil {
			return fmt.Errorf("inserting section %q: %w", sec.Heading, err)
		}
	}

	return tx.Commit()
}

// contentHash returns a stable digest of a document's indexable content,
// consistent across re-ingestions of unchanged pages.
func contentHash(doc types.Document) string {
	h := sha256.New()
	io.WriteString(h, doc.Card)
	io.WriteString(h, "\x00")
	io.WriteString(h, doc.Title)
	for _, sec := range doc.Sections {
		io.WriteString(h, "\x00")
		io.WriteString(h, sec.Heading)
		io.WriteString(h, "\x1f")
		io.WriteString(h, sec.Body)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Search runs a full-text query and returns ranked hits (R2.1-R2.4).
// Scores are assigned by rank position: the best match scores 1.0 and the
// rest decay linearly, matching the scoring of the remote backend closely
// enough for downstream thresholds.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	match := sanitizeFTSQuery(query)
	if match == "" {
		return nil, fmt.Errorf("empty query")
	}
	if topK <= 0 {
		topK = 5
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.doc_id, d.title, sec.section,
			snippet(sections_fts, 0, '', '', ' ... ', 32)
		FROM sections_fts
		JOIN sections sec ON sec.rowid = sections_fts.rowid
		JOIN documents d ON d.doc_id = sec.doc_id
		WHERE sections_fts MATCH ?
		ORDER BY sections_fts.rank
		LIMIT ?`,
		match, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge base: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var section sql.NullString
		if err := rows.Scan(&h.DocID, &h.Title, &section, &h.Snippet); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if section.Valid {
			h.Section = section.String
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	total := len(hits)
	for i := range hits {
		hits[i].Score = 1.0
		if total > 1 {
			hits[i].Score = 1.0 - (float64(i)/float64(total-1))*0.9
		}
	}

	return hits, nil
}

// Stats returns document and section counts for the status command.
func (s *Store) Stats(ctx context.Context) (docs, sections int, err error) {
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&docs); err != nil {
		return 0, 0, fmt.Errorf("counting documents: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sections`).Scan(&sections); err != nil {
		return 0, 0, fmt.Errorf("counting sections: %w", err)
	}
	return docs, sections, nil
}

// sanitizeFTSQuery rewrites free text into a safe FTS5 MATCH expression:
// each token is double-quoted so planner-generated terms with operators or
// punctuation cannot break query syntax. Quoted tokens combine with FTS5's
// implicit AND.
func sanitizeFTSQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}
