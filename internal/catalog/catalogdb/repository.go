package catalogdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"podcatch/internal/catalog"
)

// episodeColumns is the scan order shared by every episode query.
const episodeColumns = `castid, episodeid, title, epurl, enctype, status, epguid, first_attempt_at, last_attempt_at, failed_attempts`

// CatalogRepository implements catalog.Store on top of database/sql.
// Uniqueness is enforced by the schema constraints, not by in-process
// locking, so concurrent sync passes against the same database stay safe.
type CatalogRepository struct {
	db *sql.DB
}

var _ catalog.Store = (*CatalogRepository)(nil)

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// Podcasts returns every subscription ordered by castid.
func (r *CatalogRepository) Podcasts(ctx context.Context) ([]catalog.Podcast, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT castid, castname, feedurl, directory FROM podcasts ORDER BY castid`)
	if err != nil {
		return nil, &catalog.DbError{Op: "list_podcasts", Err: err}
	}

	defer rows.Close()

	var podcasts []catalog.Podcast

	for rows.Next() {
		var p catalog.Podcast
		if err := rows.Scan(&p.CastID, &p.CastName, &p.FeedURL, &p.Directory); err != nil {
			return nil, &catalog.DbError{Op: "list_podcasts", Err: err}
		}

		podcasts = append(podcasts, p)
	}

	if err := rows.Err(); err != nil {
		return nil, &catalog.DbError{Op: "list_podcasts", Err: err}
	}

	return podcasts, nil
}

// PodcastByID returns a single subscription, or nil when castID is unknown.
func (r *CatalogRepository) PodcastByID(ctx context.Context, castID int32) (*catalog.Podcast, error) {
	var p catalog.Podcast

	row := r.db.QueryRowContext(ctx, `SELECT castid, castname, feedurl, directory FROM podcasts WHERE castid = $1`, castID)
	if err := row.Scan(&p.CastID, &p.CastName, &p.FeedURL, &p.Directory); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, &catalog.DbError{Op: "get_podcast", Err: err}
	}

	return &p, nil
}

// AddPodcast registers a new subscription. A castid or feedurl collision
// surfaces as catalog.ConflictError.
func (r *CatalogRepository) AddPodcast(ctx context.Context, p *catalog.Podcast) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO podcasts (castid, castname, feedurl, directory) VALUES ($1, $2, $3, $4)`,
		p.CastID, p.CastName, p.FeedURL, p.Directory,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &catalog.ConflictError{
				Entity: "podcast",
				Key:    fmt.Sprintf("castid=%d feedurl=%s", p.CastID, p.FeedURL),
				Err:    err,
			}
		}

		return &catalog.DbError{Op: "add_podcast", Err: err}
	}

	return nil
}

// MaxCastID returns the highest castid in use, or 0 for an empty catalog.
func (r *CatalogRepository) MaxCastID(ctx context.Context) (int32, error) {
	var max int32

	row := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(castid), 0) FROM podcasts`)
	if err := row.Scan(&max); err != nil {
		return 0, &catalog.DbError{Op: "max_castid", Err: err}
	}

	return max, nil
}

// Episodes returns every catalogued episode of a podcast ordered by episodeid.
func (r *CatalogRepository) Episodes(ctx context.Context, castID int32) ([]catalog.Episode, error) {
	query := fmt.Sprintf(`SELECT %s FROM episodes WHERE castid = $1 ORDER BY episodeid`, episodeColumns)

	return r.queryEpisodes(ctx, "list_episodes", query, castID)
}

// MaxEpisodeID returns the highest ordinal assigned to a podcast, or 0 when
// no episodes have been catalogued yet.
func (r *CatalogRepository) MaxEpisodeID(ctx context.Context, castID int32) (int32, error) {
	var max int32

	row := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(episodeid), 0) FROM episodes WHERE castid = $1`, castID)
	if err := row.Scan(&max); err != nil {
		return 0, &catalog.DbError{Op: "max_episodeid", Err: err}
	}

	return max, nil
}

// ResumableEpisodes returns episodes of a podcast that never reached the
// downloaded state, ordered by episodeid. Rows in downloading count as
// resumable too: only a crash between the downloading transition and the
// terminal status write can leave one behind.
func (r *CatalogRepository) ResumableEpisodes(ctx context.Context, castID int32) ([]catalog.Episode, error) {
	query := fmt.Sprintf(`SELECT %s FROM episodes WHERE castid = $1 AND status IN ($2, $3, $4) ORDER BY episodeid`, episodeColumns)

	return r.queryEpisodes(ctx, "list_resumable", query, castID,
		catalog.StatusQueued.String(), catalog.StatusDownloading.String(), catalog.StatusError.String())
}

// InsertEpisode catalogues a newly discovered episode. Episodes with no
// explicit status start out queued. Racing inserts of the same (castid,
// episodeid) or (castid, epurl) pair surface as catalog.ConflictError.
func (r *CatalogRepository) InsertEpisode(ctx context.Context, ep *catalog.Episode) error {
	status := ep.Status
	if status == "" {
		status = catalog.StatusQueued
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO episodes (castid, episodeid, title, epurl, enctype, status, epguid)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ep.CastID, ep.EpisodeID, ep.Title, ep.URL, ep.EncType, status.String(), nullString(ep.Checksum),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &catalog.ConflictError{
				Entity: "episode",
				Key:    fmt.Sprintf("castid=%d episodeid=%d", ep.CastID, ep.EpisodeID),
				Err:    err,
			}
		}

		return &catalog.DbError{Op: "insert_episode", Err: err}
	}

	return nil
}

// UpdateStatus moves an episode through the download lifecycle and stamps
// the attempt bookkeeping that goes with the transition: entering
// downloading records the attempt times, entering error additionally bumps
// the failure counter.
func (r *CatalogRepository) UpdateStatus(ctx context.Context, castID, episodeID int32, status catalog.Status) error {
	var (
		res sql.Result
		err error
		now = time.Now().UTC()
	)

	switch status {
	case catalog.StatusDownloading:
		res, err = r.db.ExecContext(ctx,
			`UPDATE episodes
			 SET status = $1, first_attempt_at = COALESCE(first_attempt_at, $2), last_attempt_at = $3
			 WHERE castid = $4 AND episodeid = $5`,
			status.String(), now, now, castID, episodeID,
		)
	case catalog.StatusError:
		res, err = r.db.ExecContext(ctx,
			`UPDATE episodes
			 SET status = $1, last_attempt_at = $2, failed_attempts = failed_attempts + 1
			 WHERE castid = $3 AND episodeid = $4`,
			status.String(), now, castID, episodeID,
		)
	default:
		res, err = r.db.ExecContext(ctx,
			`UPDATE episodes SET status = $1 WHERE castid = $2 AND episodeid = $3`,
			status.String(), castID, episodeID,
		)
	}

	if err != nil {
		return &catalog.DbError{Op: "update_status", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return &catalog.DbError{Op: "update_status", Err: err}
	}

	if affected == 0 {
		return &catalog.DbError{Op: "update_status", Err: sql.ErrNoRows}
	}

	return nil
}

// MarkDownloaded finalizes an episode in one transaction: the row moves to
// downloaded with its content checksum, and the content metadata is
// recorded. Re-registering a checksum already present (a duplicate payload
// under another URL) is not an error.
func (r *CatalogRepository) MarkDownloaded(ctx context.Context, castID, episodeID int32, md *catalog.ContentMetadata) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &catalog.DbError{Op: "mark_downloaded", Err: err}
	}

	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx,
		`UPDATE episodes
		 SET status = $1, epguid = $2, last_attempt_at = $3
		 WHERE castid = $4 AND episodeid = $5`,
		catalog.StatusDownloaded.String(), md.Checksum, now, castID, episodeID,
	)
	if err != nil {
		return &catalog.DbError{Op: "mark_downloaded", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return &catalog.DbError{Op: "mark_downloaded", Err: err}
	}

	if affected == 0 {
		return &catalog.DbError{Op: "mark_downloaded", Err: sql.ErrNoRows}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO content_metadata (checksum, title, album, artist, track_size, filename)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (checksum) DO NOTHING`,
		md.Checksum, md.Title, md.Album, md.Artist, md.TrackSize, md.Filename,
	)
	if err != nil {
		return &catalog.DbError{Op: "mark_downloaded", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &catalog.DbError{Op: "mark_downloaded", Err: err}
	}

	return nil
}

// ContentByChecksum looks up the metadata recorded for a content checksum.
// An unknown checksum returns (nil, nil).
func (r *CatalogRepository) ContentByChecksum(ctx context.Context, checksum string) (*catalog.ContentMetadata, error) {
	var md catalog.ContentMetadata

	row := r.db.QueryRowContext(ctx,
		`SELECT checksum, title, album, artist, track_size, filename FROM content_metadata WHERE checksum = $1`,
		checksum,
	)
	if err := row.Scan(&md.Checksum, &md.Title, &md.Album, &md.Artist, &md.TrackSize, &md.Filename); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, &catalog.DbError{Op: "get_content", Err: err}
	}

	return &md, nil
}

func (r *CatalogRepository) queryEpisodes(ctx context.Context, op, query string, args ...any) ([]catalog.Episode, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &catalog.DbError{Op: op, Err: err}
	}

	defer rows.Close()

	var episodes []catalog.Episode

	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, &catalog.DbError{Op: op, Err: err}
		}

		episodes = append(episodes, ep)
	}

	if err := rows.Err(); err != nil {
		return nil, &catalog.DbError{Op: op, Err: err}
	}

	return episodes, nil
}

func scanEpisode(rows *sql.Rows) (catalog.Episode, error) {
	var (
		ep       catalog.Episode
		status   string
		checksum sql.NullString
		first    sql.NullTime
		last     sql.NullTime
	)

	err := rows.Scan(&ep.CastID, &ep.EpisodeID, &ep.Title, &ep.URL, &ep.EncType,
		&status, &checksum, &first, &last, &ep.FailedAttempts)
	if err != nil {
		return ep, err
	}

	parsed, err := catalog.ParseStatus(status)
	if err != nil {
		return ep, err
	}

	ep.Status = parsed
	ep.Checksum = checksum.String
	ep.FirstAttempt = first.Time
	ep.LastAttempt = last.Time

	return ep, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
