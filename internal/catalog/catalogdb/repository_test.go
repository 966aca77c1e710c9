package catalogdb_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcatch/internal/catalog"
	"podcatch/internal/catalog/catalogdb"
)

// openTestDB opens a throwaway file-backed SQLite catalog with the real
// schema applied. A file DSN is used instead of :memory: because the
// connection pool would otherwise hand each connection its own database.
func openTestDB(t *testing.T) (*sql.DB, *catalogdb.CatalogRepository) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "catalog.db")

	db, err := catalogdb.Open(context.Background(), dsn, 2)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	require.NoError(t, catalogdb.Migrate(db, dsn, "file://../../../migrations"))

	return db, catalogdb.NewCatalogRepository(db)
}

func seedPodcast(t *testing.T, repo *catalogdb.CatalogRepository, castID int32, feedURL string) catalog.Podcast {
	t.Helper()

	pod := catalog.Podcast{
		CastID:    castID,
		CastName:  "Night Shift Radio",
		FeedURL:   feedURL,
		Directory: "/srv/podcasts/night-shift",
	}
	require.NoError(t, repo.AddPodcast(context.Background(), &pod))

	return pod
}

func TestRepository_PodcastRoundtrip(t *testing.T) {
	_, repo := openTestDB(t)
	ctx := context.Background()

	pod := seedPodcast(t, repo, 1, "https://example.org/nightshift.xml")

	podcasts, err := repo.Podcasts(ctx)
	require.NoError(t, err)
	require.Len(t, podcasts, 1)
	assert.Equal(t, pod, podcasts[0])

	got, err := repo.PodcastByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pod, *got)

	missing, err := repo.PodcastByID(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)

	max, err := repo.MaxCastID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), max)
}

func TestRepository_MaxCastID_Empty(t *testing.T) {
	_, repo := openTestDB(t)

	max, err := repo.MaxCastID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(0), max)
}

func TestRepository_AddPodcast_DuplicateFeedURL(t *testing.T) {
	_, repo := openTestDB(t)
	ctx := context.Background()

	seedPodcast(t, repo, 1, "https://example.org/nightshift.xml")

	dup := catalog.Podcast{CastID: 2, CastName: "Copycat", FeedURL: "https://example.org/nightshift.xml", Directory: "/tmp"}
	err := repo.AddPodcast(ctx, &dup)
	require.Error(t, err)

	var conflictErr *catalog.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, "podcast", conflictErr.Entity)
}

func TestRepository_InsertEpisode_Conflicts(t *testing.T) {
	_, repo := openTestDB(t)
	ctx := context.Background()

	seedPodcast(t, repo, 1, "https://example.org/nightshift.xml")
	seedPodcast(t, repo, 2, "https://example.org/daybreak.xml")

	ep := catalog.Episode{CastID: 1, EpisodeID: 1, Title: "Pilot", URL: "https://cdn.example.org/ep1.mp3", EncType: "audio/mpeg"}
	require.NoError(t, repo.InsertEpisode(ctx, &ep))

	var conflictErr *catalog.ConflictError

	sameID := catalog.Episode{CastID: 1, EpisodeID: 1, Title: "Pilot again", URL: "https://cdn.example.org/other.mp3"}
	require.ErrorAs(t, repo.InsertEpisode(ctx, &sameID), &conflictErr)
	assert.Equal(t, "episode", conflictErr.Entity)

	sameURL := catalog.Episode{CastID: 1, EpisodeID: 2, Title: "Pilot rerun", URL: "https://cdn.example.org/ep1.mp3"}
	require.ErrorAs(t, repo.InsertEpisode(ctx, &sameURL), &conflictErr)

	// The same enclosure URL under another podcast is a different episode.
	otherCast := catalog.Episode{CastID: 2, EpisodeID: 1, Title: "Pilot", URL: "https://cdn.example.org/ep1.mp3"}
	require.NoError(t, repo.InsertEpisode(ctx, &otherCast))
}

func TestRepository_InsertEpisode_DefaultsToQueued(t *testing.T) {
	_, repo := openTestDB(t)
	ctx := context.Background()

	seedPodcast(t, repo, 1, "https://example.org/nightshift.xml")

	ep := catalog.Episode{CastID: 1, EpisodeID: 1, Title: "Pilot", URL: "https://cdn.example.org/ep1.mp3"}
	require.NoError(t, repo.InsertEpisode(ctx, &ep))

	episodes, err := repo.Episodes(ctx, 1)
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, catalog.StatusQueued, episodes[0].Status)
	assert.Empty(t, episodes[0].Checksum)
	assert.True(t, episodes[0].FirstAttempt.IsZero())
	assert.Zero(t, episodes[0].FailedAttempts)
}

func TestRepository_UpdateStatus_AttemptBookkeeping(t *testing.T) {
	_, repo := openTestDB(t)
	ctx := context.Background()

	seedPodcast(t, repo, 1, "https://example.org/nightshift.xml")

	ep := catalog.Episode{CastID: 1, EpisodeID: 1, Title: "Pilot", URL: "https://cdn.example.org/ep1.mp3"}
	require.NoError(t, repo.InsertEpisode(ctx, &ep))

	require.NoError(t, repo.UpdateStatus(ctx, 1, 1, catalog.StatusDownloading))

	first := fetchEpisode(t, repo, 1, 1)
	assert.Equal(t, catalog.StatusDownloading, first.Status)
	assert.False(t, first.FirstAttempt.IsZero())
	assert.False(t, first.LastAttempt.IsZero())
	assert.Zero(t, first.FailedAttempts)

	require.NoError(t, repo.UpdateStatus(ctx, 1, 1, catalog.StatusError))

	failed := fetchEpisode(t, repo, 1, 1)
	assert.Equal(t, catalog.StatusError, failed.Status)
	assert.Equal(t, int32(1), failed.FailedAttempts)
	assert.True(t, failed.FirstAttempt.Equal(first.FirstAttempt))

	// A retry keeps the original first attempt timestamp.
	require.NoError(t, repo.UpdateStatus(ctx, 1, 1, catalog.StatusDownloading))

	retried := fetchEpisode(t, repo, 1, 1)
	assert.True(t, retried.FirstAttempt.Equal(first.FirstAttempt))
	assert.Equal(t, int32(1), retried.FailedAttempts)
}

func TestRepository_UpdateStatus_UnknownEpisode(t *testing.T) {
	_, repo := openTestDB(t)

	err := repo.UpdateStatus(context.Background(), 1, 99, catalog.StatusDownloading)
	require.Error(t, err)

	var dbErr *catalog.DbError
	require.ErrorAs(t, err, &dbErr)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRepository_MarkDownloaded(t *testing.T) {
	_, repo := openTestDB(t)
	ctx := context.Background()

	seedPodcast(t, repo, 1, "https://example.org/nightshift.xml")

	ep := catalog.Episode{CastID: 1, EpisodeID: 1, Title: "Pilot", URL: "https://cdn.example.org/ep1.mp3"}
	require.NoError(t, repo.InsertEpisode(ctx, &ep))

	md := &catalog.ContentMetadata{
		Checksum:  "5eb63bbbe01eeed093cb22bb8f5acdc3",
		Title:     "Pilot",
		Album:     "Night Shift Radio",
		TrackSize: 11,
		Filename:  "/srv/podcasts/night-shift/ep1.mp3",
	}
	require.NoError(t, repo.MarkDownloaded(ctx, 1, 1, md))

	got := fetchEpisode(t, repo, 1, 1)
	assert.Equal(t, catalog.StatusDownloaded, got.Status)
	assert.Equal(t, md.Checksum, got.Checksum)
	assert.False(t, got.LastAttempt.IsZero())

	stored, err := repo.ContentByChecksum(ctx, md.Checksum)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, *md, *stored)
}

func TestRepository_MarkDownloaded_DuplicateChecksum(t *testing.T) {
	_, repo := openTestDB(t)
	ctx := context.Background()

	seedPodcast(t, repo, 1, "https://example.org/nightshift.xml")

	for id := int32(1); id <= 2; id++ {
		ep := catalog.Episode{CastID: 1, EpisodeID: id, Title: "Rerun", URL: fmt.Sprintf("https://cdn.example.org/ep%d.mp3", id)}
		require.NoError(t, repo.InsertEpisode(ctx, &ep))
	}

	md := &catalog.ContentMetadata{Checksum: "5eb63bbbe01eeed093cb22bb8f5acdc3", Title: "Rerun", Filename: "/srv/ep1.mp3"}
	require.NoError(t, repo.MarkDownloaded(ctx, 1, 1, md))

	// The second episode carries the same payload; its metadata insert is
	// a no-op and the first registration wins.
	dup := &catalog.ContentMetadata{Checksum: md.Checksum, Title: "Rerun copy", Filename: "/srv/ep2.mp3"}
	require.NoError(t, repo.MarkDownloaded(ctx, 1, 2, dup))

	stored, err := repo.ContentByChecksum(ctx, md.Checksum)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "/srv/ep1.mp3", stored.Filename)

	second := fetchEpisode(t, repo, 1, 2)
	assert.Equal(t, catalog.StatusDownloaded, second.Status)
	assert.Equal(t, md.Checksum, second.Checksum)
}

func TestRepository_MarkDownloaded_UnknownEpisode(t *testing.T) {
	_, repo := openTestDB(t)

	md := &catalog.ContentMetadata{Checksum: "5eb63bbbe01eeed093cb22bb8f5acdc3"}
	err := repo.MarkDownloaded(context.Background(), 7, 7, md)
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRepository_ContentByChecksum_Unknown(t *testing.T) {
	_, repo := openTestDB(t)

	stored, err := repo.ContentByChecksum(context.Background(), "ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestRepository_MaxEpisodeID(t *testing.T) {
	_, repo := openTestDB(t)
	ctx := context.Background()

	max, err := repo.MaxEpisodeID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(0), max)

	seedPodcast(t, repo, 1, "https://example.org/nightshift.xml")

	for id := int32(1); id <= 3; id++ {
		ep := catalog.Episode{CastID: 1, EpisodeID: id, Title: "Ep", URL: fmt.Sprintf("https://cdn.example.org/ep%d.mp3", id)}
		require.NoError(t, repo.InsertEpisode(ctx, &ep))
	}

	max, err = repo.MaxEpisodeID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(3), max)

	// Ordinals are per podcast.
	max, err = repo.MaxEpisodeID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(0), max)
}

func TestRepository_ResumableEpisodes(t *testing.T) {
	_, repo := openTestDB(t)
	ctx := context.Background()

	seedPodcast(t, repo, 1, "https://example.org/nightshift.xml")

	for id := int32(1); id <= 4; id++ {
		ep := catalog.Episode{CastID: 1, EpisodeID: id, Title: "Ep", URL: fmt.Sprintf("https://cdn.example.org/ep%d.mp3", id)}
		require.NoError(t, repo.InsertEpisode(ctx, &ep))
	}

	md := &catalog.ContentMetadata{Checksum: "5eb63bbbe01eeed093cb22bb8f5acdc3", Filename: "/srv/ep2.mp3"}
	require.NoError(t, repo.MarkDownloaded(ctx, 1, 2, md))
	require.NoError(t, repo.UpdateStatus(ctx, 1, 3, catalog.StatusError))

	// Episode 4 is what a crash mid-download leaves behind.
	require.NoError(t, repo.UpdateStatus(ctx, 1, 4, catalog.StatusDownloading))

	resumable, err := repo.ResumableEpisodes(ctx, 1)
	require.NoError(t, err)
	require.Len(t, resumable, 3)
	assert.Equal(t, int32(1), resumable[0].EpisodeID)
	assert.Equal(t, catalog.StatusQueued, resumable[0].Status)
	assert.Equal(t, int32(3), resumable[1].EpisodeID)
	assert.Equal(t, catalog.StatusError, resumable[1].Status)
	assert.Equal(t, int32(4), resumable[2].EpisodeID)
	assert.Equal(t, catalog.StatusDownloading, resumable[2].Status)
}

func fetchEpisode(t *testing.T, repo *catalogdb.CatalogRepository, castID, episodeID int32) catalog.Episode {
	t.Helper()

	episodes, err := repo.Episodes(context.Background(), castID)
	require.NoError(t, err)

	for _, ep := range episodes {
		if ep.EpisodeID == episodeID {
			return ep
		}
	}

	t.Fatalf("episode %d/%d not found", castID, episodeID)

	return catalog.Episode{}
}
