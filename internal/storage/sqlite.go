package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage keeps every flushed contact in SQLite, keyed by URL, plus a log of flushes
type Storage struct {
	db *sql.DB
}

// NewStorage opens/creates the DB and initializes the schema
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; the orchestrator is sequential anyway
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// initSchema creates tables and indices if they don't exist
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contacts (
		contact_id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT UNIQUE NOT NULL,
		region TEXT NOT NULL,
		region_kind TEXT NOT NULL,
		parent_macro TEXT,
		keyword TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		whatsapp_link TEXT,
		display_name TEXT,
		extracted_at TEXT,
		relevance_score INTEGER,
		is_relevant INTEGER,
		relevance_reason TEXT,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS flushes (
		flush_id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		flushed_at TEXT NOT NULL,
		total INTEGER NOT NULL,
		with_email INTEGER NOT NULL,
		with_phone INTEGER NOT NULL,
		searches_used INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contacts_phone ON contacts(phone);
	CREATE INDEX IF NOT EXISTS idx_contacts_region ON contacts(region);
	CREATE INDEX IF NOT EXISTS idx_flushes_run ON flushes(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Name identifies the sink in logs
func (s *Storage) Name() string {
	return "sqlite"
}

// Write upserts the full record set and logs the flush, in one transaction
func (s *Storage) Write(records []ContactRecord, stats Stats, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin flush: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO contacts (url, region, region_kind, parent_macro, keyword, email, phone,
			whatsapp_link, display_name, extracted_at, relevance_score, is_relevant, relevance_reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			email = COALESCE(NULLIF(EXCLUDED.email, ''), contacts.email),
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), contacts.phone),
			whatsapp_link = COALESCE(NULLIF(EXCLUDED.whatsapp_link, ''), contacts.whatsapp_link),
			display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), contacts.display_name),
			relevance_score = COALESCE(EXCLUDED.relevance_score, contacts.relevance_score),
			is_relevant = COALESCE(EXCLUDED.is_relevant, contacts.is_relevant),
			relevance_reason = COALESCE(NULLIF(EXCLUDED.relevance_reason, ''), contacts.relevance_reason),
			updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare contact upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		var extractedAt any
		if !r.ExtractedAt.IsZero() {
			extractedAt = r.ExtractedAt.UTC().Format(time.RFC3339)
		}
		var score, relevant any
		if r.RelevanceScore != nil {
			score = *r.RelevanceScore
		}
		if r.IsRelevant != nil {
			relevant = *r.IsRelevant
		}

		if _, err := stmt.Exec(r.URL, r.Region, string(r.RegionKind), r.ParentMacro, r.Keyword,
			r.Email, r.Phone, r.WhatsAppLink, r.DisplayName, extractedAt,
			score, relevant, r.RelevanceReason, at.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("failed to upsert contact %s: %w", r.URL, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO flushes (run_id, flushed_at, total, with_email, with_phone, searches_used)
		VALUES (?, ?, ?, ?, ?, ?)
	`, stats.RunID, at.UTC().Format(time.RFC3339), stats.Total, stats.WithEmail, stats.WithPhone, stats.SearchesUsed); err != nil {
		return fmt.Errorf("failed to log flush: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flush: %w", err)
	}
	return nil
}

// CountContacts returns the number of stored contacts
func (s *Storage) CountContacts() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM contacts").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count contacts: %w", err)
	}
	return n, nil
}

// CountFlushes returns how many flushes were logged for a run
func (s *Storage) CountFlushes(runID string) (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM flushes WHERE run_id = ?", runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count flushes: %w", err)
	}
	return n, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}
