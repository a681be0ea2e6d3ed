package records

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS submissions (
	id            TEXT PRIMARY KEY,
	classificacao TEXT NOT NULL,
	empresa       TEXT NOT NULL,
	unidade       TEXT NOT NULL,
	data          TEXT NOT NULL,
	hora          TEXT NOT NULL,
	turno         TEXT NOT NULL,
	area          TEXT NOT NULL,
	setor         TEXT NOT NULL,
	atividade     TEXT NOT NULL,
	intervencao   TEXT NOT NULL,
	cs            INTEGER NOT NULL,
	observacao    TEXT NOT NULL,
	descricao     TEXT NOT NULL,
	fiz           TEXT NOT NULL,
	form_url      TEXT NOT NULL,
	mode          TEXT NOT NULL,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions(created_at DESC);
`

// timeLayout is fixed-width so created_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps records in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db, log: logger.Named("records")}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Append inserts rec.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	query := fmt.Sprintf("INSERT INTO submissions (%s) VALUES (%s)",
		strings.Join(Columns, ", "), placeholders(len(Columns)))

	args := append([]any{rec.ID}, payloadArgs(rec)...)
	args = append(args, string(rec.Mode), rec.CreatedAt.UTC().Format(timeLayout))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert submission %s: %w", rec.ID, err)
	}
	s.log.Debug("Recorded submission.", zap.String("id", rec.ID))
	return nil
}

// List returns every record, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	query := fmt.Sprintf("SELECT %s FROM submissions ORDER BY created_at DESC, id DESC",
		strings.Join(Columns, ", "))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var (
			r         Record
			mode      string
			createdAt string
		)
		dest := append([]any{&r.ID}, payloadDest(&r)...)
		dest = append(dest, &mode, &createdAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		r.Mode = Mode(mode)
		if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("submission %s has bad created_at %q: %w", r.ID, createdAt, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
