package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-sqlite3"

	"highlight-store/internal/domain"
)

// sqliteSchema keeps every revision of every document. The newest row per
// id is the current state; a tombstone is a row with deleted = 1.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS revisions (
    id TEXT NOT NULL,
    -- generation of the revision, one per write
    seq INTEGER NOT NULL,
    rev TEXT NOT NULL,
    deleted INTEGER NOT NULL DEFAULT 0,
    body TEXT NOT NULL,
    -- racing writers on the same generation collide here
    PRIMARY KEY (id, seq)
);

CREATE INDEX IF NOT EXISTS idx_revisions_rev ON revisions(id, rev);
`

const (
	latestRevisionQuery = `
SELECT seq, rev, deleted, body FROM revisions
WHERE id = ?
ORDER BY seq DESC
LIMIT 1
`
	revisionQuery = `
SELECT seq, rev, deleted, body FROM revisions
WHERE id = ? AND rev = ?
`
	insertRevisionQuery = `
INSERT INTO revisions (id, seq, rev, deleted, body) VALUES (?, ?, ?, ?, ?)
`
	replaceRevisionQuery = `
INSERT INTO revisions (id, seq, rev, deleted, body) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id, seq) DO UPDATE SET rev = excluded.rev, deleted = excluded.deleted, body = excluded.body
`
	liveDocumentsQuery = `
SELECT r.id, r.seq, r.rev, r.deleted, r.body
FROM revisions r
JOIN (SELECT id, MAX(seq) AS seq FROM revisions GROUP BY id) l
  ON l.id = r.id AND l.seq = r.seq
WHERE r.deleted = 0
ORDER BY r.id
`
	compactQuery = `
DELETE FROM revisions
WHERE seq < (SELECT MAX(seq) FROM revisions AS newer WHERE newer.id = revisions.id)
`
)

// SqliteEngine stores the revision log in a single SQLite database file.
type SqliteEngine struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// NewSqliteEngine opens (creating if needed) the database at dbPath.
func NewSqliteEngine(ctx context.Context, dbPath string) (*SqliteEngine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating database directory: %v", domain.ErrStorageUnavailable, err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", domain.ErrStorageUnavailable, err)
	}
	// SQLite only supports one writer
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initializing schema: %v", domain.ErrStorageUnavailable, err)
	}
	return &SqliteEngine{db: db, dbPath: dbPath}, nil
}

func (s *SqliteEngine) conn() (*sql.DB, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: sqlite engine is closed", domain.ErrStorageUnavailable)
	}
	return s.db, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (record, error) {
	var r record
	var deleted int
	var body string
	if err := row.Scan(&r.gen, &r.rev, &deleted, &body); err != nil {
		return record{}, err
	}
	r.deleted = deleted == 1
	r.body = []byte(body)
	return r, nil
}

func (s *SqliteEngine) Get(ctx context.Context, id string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return domain.Document{}, err
	}
	r, err := scanRecord(db.QueryRowContext(ctx, latestRevisionQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, notFound(id)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: reading %s: %v", domain.ErrStorageUnavailable, id, err)
	}
	if r.deleted {
		return domain.Document{}, notFound(id)
	}
	return r.document(id)
}

func (s *SqliteEngine) GetRevision(ctx context.Context, id, rev string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return domain.Document{}, err
	}
	r, err := scanRecord(db.QueryRowContext(ctx, revisionQuery, id, rev))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("%w: %s@%s", domain.ErrNotFound, id, rev)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: reading %s@%s: %v", domain.ErrStorageUnavailable, id, rev, err)
	}
	return r.document(id)
}

func (s *SqliteEngine) Put(ctx context.Context, doc domain.Document) (domain.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return domain.WriteResult{}, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("%w: beginning transaction: %v", domain.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	var latest *record
	r, err := scanRecord(tx.QueryRowContext(ctx, latestRevisionQuery, doc.ID))
	switch {
	case err == nil:
		latest = &r
	case !errors.Is(err, sql.ErrNoRows):
		return domain.WriteResult{}, fmt.Errorf("%w: reading %s: %v", domain.ErrStorageUnavailable, doc.ID, err)
	}

	next, err := nextWrite(latest, doc)
	if err != nil {
		return domain.WriteResult{}, err
	}
	if _, err := tx.ExecContext(ctx, insertRevisionQuery, doc.ID, next.gen, next.rev, boolInt(next.deleted), string(next.body)); err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return domain.WriteResult{}, fmt.Errorf("%w: %s was written concurrently", domain.ErrConflict, doc.ID)
		}
		return domain.WriteResult{}, fmt.Errorf("%w: writing %s: %v", domain.ErrStorageUnavailable, doc.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.WriteResult{}, fmt.Errorf("%w: committing %s: %v", domain.ErrStorageUnavailable, doc.ID, err)
	}
	return next.result(doc.ID), nil
}

func (s *SqliteEngine) Load(ctx context.Context, docs []domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", domain.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, replaceRevisionQuery)
	if err != nil {
		return fmt.Errorf("%w: preparing load: %v", domain.ErrStorageUnavailable, err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		r, err := replicated(doc)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, doc.ID, r.gen, r.rev, boolInt(r.deleted), string(r.body)); err != nil {
			return fmt.Errorf("%w: loading %s: %v", domain.ErrStorageUnavailable, doc.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing load: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SqliteEngine) AllDocs(ctx context.Context) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, liveDocumentsQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: listing documents: %v", domain.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var id string
		var r record
		var deleted int
		var body string
		if err := rows.Scan(&id, &r.gen, &r.rev, &deleted, &body); err != nil {
			return nil, fmt.Errorf("%w: scanning document: %v", domain.ErrStorageUnavailable, err)
		}
		r.deleted = deleted == 1
		r.body = []byte(body)
		doc, err := r.document(id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating documents: %v", domain.ErrStorageUnavailable, err)
	}
	return docs, nil
}

func (s *SqliteEngine) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, compactQuery); err != nil {
		return fmt.Errorf("%w: compacting: %v", domain.ErrStorageUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("%w: vacuuming: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SqliteEngine) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	for _, p := range []string{s.dbPath, s.dbPath + "-wal", s.dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: removing %s: %v", domain.ErrStorageUnavailable, p, err)
		}
	}
	return nil
}

func (s *SqliteEngine) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ domain.Engine = (*SqliteEngine)(nil)
