package records

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the store can be tested against pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

const (
	sqlCreateSubmissions = `
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
            cs            BIGINT NOT NULL,
            observacao    TEXT NOT NULL,
            descricao     TEXT NOT NULL,
            fiz           TEXT NOT NULL,
            form_url      TEXT NOT NULL,
            mode          TEXT NOT NULL,
            created_at    TIMESTAMPTZ NOT NULL
        );
    `
	sqlCreateSubmissionsIndex = `CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions (created_at DESC);`
)

// PostgresStore keeps records in PostgreSQL.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresStore verifies the connection and ensures the schema exists.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &PostgresStore{pool: pool, log: logger.Named("records")}
	for _, stmt := range []string{sqlCreateSubmissions, sqlCreateSubmissionsIndex} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return s, nil
}

func insertSQL() string {
	params := make([]string, len(Columns))
	for i := range Columns {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO submissions (%s) VALUES (%s)",
		strings.Join(Columns, ", "), strings.Join(params, ", "))
}

func selectSQL() string {
	return fmt.Sprintf("SELECT %s FROM submissions ORDER BY created_at DESC, id DESC",
		strings.Join(Columns, ", "))
}

// Append inserts rec.
func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	args := append([]any{rec.ID}, payloadArgs(rec)...)
	args = append(args, string(rec.Mode), rec.CreatedAt.UTC())

	if _, err := s.pool.Exec(ctx, insertSQL(), args...); err != nil {
		return fmt.Errorf("failed to insert submission %s: %w", rec.ID, err)
	}
	return nil
}

// List returns every record, newest first.
func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, selectSQL())
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var (
			r    Record
			mode string
		)
		dest := append([]any{&r.ID}, payloadDest(&r)...)
		dest = append(dest, &mode, &r.CreatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan submission row: %w", err)
		}
		r.Mode = Mode(mode)
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
