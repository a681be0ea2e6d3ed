package records

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateSubmissions)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateSubmissionsIndex)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	store, err := NewPostgresStore(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return store, mockPool
}

func TestNewPostgresStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgresStore(context.Background(), mockPool, zap.NewNop())
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should create the schema", func(t *testing.T) {
		_, mockPool := newMockStore(t)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresAppend(t *testing.T) {
	store, mockPool := newMockStore(t)
	rec := New(samplePayload("10/05/2024"), ModeBatch, time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	p := rec.Payload

	mockPool.ExpectExec(flexibleSQLMatcher(insertSQL())).
		WithArgs(rec.ID, p.Classification, p.Company, p.Unit, p.Date, p.Time, p.Shift, p.Area,
			p.Sector, p.Activity, p.Intervention, p.CS, p.Observation, p.Description,
			p.ActionTaken, p.FormURL, "batch", rec.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Append(context.Background(), rec))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresAppendError(t *testing.T) {
	store, mockPool := newMockStore(t)
	rec := New(samplePayload("10/05/2024"), ModeSingle, time.Now())
	dbErr := errors.New("duplicate key")

	mockPool.ExpectExec(flexibleSQLMatcher(insertSQL())).WillReturnError(dbErr)

	err := store.Append(context.Background(), rec)
	assert.ErrorIs(t, err, dbErr)
	assert.Contains(t, err.Error(), rec.ID)
}

func TestPostgresList(t *testing.T) {
	store, mockPool := newMockStore(t)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	p := samplePayload("10/05/2024")

	rows := pgxmock.NewRows(Columns).
		AddRow("01HXB", p.Classification, p.Company, p.Unit, p.Date, p.Time, p.Shift, p.Area,
			p.Sector, p.Activity, p.Intervention, p.CS, p.Observation, p.Description,
			p.ActionTaken, p.FormURL, "single", now)
	mockPool.ExpectQuery(flexibleSQLMatcher(selectSQL())).WillReturnRows(rows)

	got, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "01HXB", got[0].ID)
	assert.Equal(t, p, got[0].Payload)
	assert.Equal(t, ModeSingle, got[0].Mode)
	assert.True(t, got[0].CreatedAt.Equal(now))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
