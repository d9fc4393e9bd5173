package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for content items, chunks, and
// framework detections.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "sage.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection so the SQLite vector backend can
// share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate applies any embedded SQL migrations that haven't run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// --- Content items ---

func (s *Store) SaveContentItem(item ContentItem) error {
	status := item.Status
	if status == "" {
		status = ItemQueued
	}
	now := time.Now().UTC()
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO content_items (id, source_type, source, title, author, published_at, status, error,
			quality_score, relevance_score, frameworks, word_count, char_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.SourceType, item.Source, item.Title, item.Author, formatTime(item.PublishedAt),
		status, item.Error, item.QualityScore, item.RelevanceScore, jsonOrEmpty(item.Frameworks),
		item.WordCount, item.CharCount, createdAt.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetContentItem(id string) (ContentItem, error) {
	row := s.db.QueryRow(`
		SELECT id, source_type, source, title, author, published_at, status, error,
			quality_score, relevance_score, frameworks, word_count, char_count, created_at, updated_at
		FROM content_items WHERE id = ?`, id)
	return scanContentItem(row)
}

// UpdateContentItemStatus transitions an item's lifecycle status, recording
// a diagnostic message on failure.
func (s *Store) UpdateContentItemStatus(id, status, errMsg string) error {
	res, err := s.db.Exec(`UPDATE content_items SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateContentItemMetadata records title/author/date discovered during
// extraction.
func (s *Store) UpdateContentItemMetadata(id, title, author string, publishedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE content_items SET title = ?, author = ?, published_at = ?, updated_at = ? WHERE id = ?`,
		title, author, formatTime(publishedAt), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateContentItemAnalysis records the document-level scores, detected
// frameworks, and size counts computed by the analysis stage.
func (s *Store) UpdateContentItemAnalysis(id string, quality, relevance float64, frameworksJSON string, wordCount, charCount int) error {
	res, err := s.db.Exec(`
		UPDATE content_items
		SET quality_score = ?, relevance_score = ?, frameworks = ?, word_count = ?, char_count = ?, updated_at = ?
		WHERE id = ?`,
		quality, relevance, jsonOrEmpty(frameworksJSON), wordCount, charCount,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ArchiveContentItem marks an item archived. Its chunks stay in place; the
// caller is responsible for removing its vectors from the search index.
func (s *Store) ArchiveContentItem(id string) error {
	return s.UpdateContentItemStatus(id, ItemArchived, "")
}

// ListContentItems returns the most recent items, newest first. Archived
// items are excluded unless includeArchived is set.
func (s *Store) ListContentItems(limit int, includeArchived bool) ([]ContentItem, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, source_type, source, title, author, published_at, status, error,
			quality_score, relevance_score, frameworks, word_count, char_count, created_at, updated_at
		FROM content_items`
	if !includeArchived {
		query += ` WHERE status != 'archived'`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ContentItem
	for rows.Next() {
		item, err := scanContentItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// --- Content chunks ---

// ReplaceChunks atomically replaces the chunk set for an item. Either every
// chunk is stored or none are; a partial chunk set is never visible.
func (s *Store) ReplaceChunks(itemID string, chunks []ContentChunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning chunk transaction: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM content_chunks WHERE item_id = ?`, itemID); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing existing chunks: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO content_chunks (id, item_id, ordinal, text, word_start, word_end, char_count,
			chunk_type, importance, concepts, entities, vector_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.Exec(c.ID, itemID, c.Ordinal, c.Text, c.WordStart, c.WordEnd, c.CharCount,
			c.ChunkType, c.Importance, jsonOrEmpty(c.Concepts), jsonOrEmpty(c.Entities), c.VectorID); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting chunk %d: %w", c.Ordinal, err)
		}
	}

	return tx.Commit()
}

// DeleteChunks removes all chunks for an item. Used to roll back the storage
// stage when vector insertion fails.
func (s *Store) DeleteChunks(itemID string) error {
	_, err := s.db.Exec(`DELETE FROM content_chunks WHERE item_id = ?`, itemID)
	return err
}

func (s *Store) GetChunks(itemID string) ([]ContentChunk, error) {
	rows, err := s.db.Query(`
		SELECT id, item_id, ordinal, text, word_start, word_end, char_count,
			chunk_type, importance, concepts, entities, vector_id
		FROM content_chunks WHERE item_id = ? ORDER BY ordinal ASC`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []ContentChunk
	for rows.Next() {
		var c ContentChunk
		if err := rows.Scan(&c.ID, &c.ItemID, &c.Ordinal, &c.Text, &c.WordStart, &c.WordEnd, &c.CharCount,
			&c.ChunkType, &c.Importance, &c.Concepts, &c.Entities, &c.VectorID); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// --- Framework detections ---

func (s *Store) SaveFrameworkDetections(detections []FrameworkDetection) error {
	if len(detections) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning detection transaction: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO framework_detections (id, item_id, framework, confidence, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing detection insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range detections {
		createdAt := d.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(d.ID, d.ItemID, d.Framework, d.Confidence, createdAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting detection %s: %w", d.Framework, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetFrameworkDetections(itemID string) ([]FrameworkDetection, error) {
	rows, err := s.db.Query(`
		SELECT id, item_id, framework, confidence, created_at
		FROM framework_detections WHERE item_id = ?`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var detections []FrameworkDetection
	for rows.Next() {
		var d FrameworkDetection
		var createdAt string
		if err := rows.Scan(&d.ID, &d.ItemID, &d.Framework, &d.Confidence, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		detections = append(detections, d)
	}
	return detections, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContentItem(row rowScanner) (ContentItem, error) {
	var item ContentItem
	var publishedAt, createdAt, updatedAt string
	err := row.Scan(&item.ID, &item.SourceType, &item.Source, &item.Title, &item.Author, &publishedAt,
		&item.Status, &item.Error, &item.QualityScore, &item.RelevanceScore, &item.Frameworks,
		&item.WordCount, &item.CharCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return ContentItem{}, ErrNotFound
	}
	if err != nil {
		return ContentItem{}, err
	}
	if item.PublishedAt, err = parseTime(publishedAt); err != nil {
		return ContentItem{}, fmt.Errorf("parsing published_at: %w", err)
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return ContentItem{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ContentItem{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return item, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func jsonOrEmpty(s string) string {
	if s == "" {
		return "[]"
	}
	return s
}
