package catalogdb_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcatch/internal/catalog"
	"podcatch/internal/catalog/catalogdb"
)

// setupMockRepository backs the repository with sqlmock so Postgres driver
// errors can be injected without a server.
func setupMockRepository(t *testing.T) (*catalogdb.CatalogRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return catalogdb.NewCatalogRepository(db), mock
}

func TestRepository_InsertEpisode_PostgresUniqueViolation(t *testing.T) {
	repo, mock := setupMockRepository(t)

	pgErr := &pgconn.PgError{
		Severity:       "ERROR",
		Code:           "23505",
		Message:        `duplicate key value violates unique constraint "episodes_castid_episodeid_key"`,
		ConstraintName: "episodes_castid_episodeid_key",
	}
	mock.ExpectExec(`INSERT INTO episodes`).
		WithArgs(1, 1, "Pilot", "https://cdn.example.org/ep1.mp3", "audio/mpeg", "queued", nil).
		WillReturnError(pgErr)

	ep := catalog.Episode{CastID: 1, EpisodeID: 1, Title: "Pilot", URL: "https://cdn.example.org/ep1.mp3", EncType: "audio/mpeg"}
	err := repo.InsertEpisode(context.Background(), &ep)
	require.Error(t, err)

	var conflictErr *catalog.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, "episode", conflictErr.Entity)
	assert.ErrorIs(t, err, pgErr)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_InsertEpisode_OtherDriverError(t *testing.T) {
	repo, mock := setupMockRepository(t)

	cause := errors.New("connection reset by peer")
	mock.ExpectExec(`INSERT INTO episodes`).WillReturnError(cause)

	ep := catalog.Episode{CastID: 1, EpisodeID: 1, Title: "Pilot", URL: "https://cdn.example.org/ep1.mp3"}
	err := repo.InsertEpisode(context.Background(), &ep)
	require.Error(t, err)

	var dbErr *catalog.DbError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, "insert_episode", dbErr.Op)
	assert.ErrorIs(t, err, cause)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Podcasts_QueryError(t *testing.T) {
	repo, mock := setupMockRepository(t)

	cause := errors.New("driver: bad connection")
	mock.ExpectQuery(`SELECT castid, castname, feedurl, directory FROM podcasts`).WillReturnError(cause)

	_, err := repo.Podcasts(context.Background())
	require.Error(t, err)

	var dbErr *catalog.DbError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, "list_podcasts", dbErr.Op)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateStatus_NoRowsAffected(t *testing.T) {
	repo, mock := setupMockRepository(t)

	mock.ExpectExec(`UPDATE episodes SET status`).
		WithArgs("queued", 1, 99).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), 1, 99, catalog.StatusQueued)
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	assert.NoError(t, mock.ExpectationsWereMet())
}
