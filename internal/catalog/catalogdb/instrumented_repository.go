package catalogdb

import (
	"context"
	"database/sql"

	"podcatch/internal/catalog"
	"podcatch/internal/telemetry"
)

// InstrumentedCatalogRepository wraps CatalogRepository with telemetry.
type InstrumentedCatalogRepository struct {
	repo      *CatalogRepository
	telemetry *telemetry.Telemetry
}

var _ catalog.Store = (*InstrumentedCatalogRepository)(nil)

// NewInstrumentedCatalogRepository creates a new instrumented catalog repository.
func NewInstrumentedCatalogRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedCatalogRepository {
	return &InstrumentedCatalogRepository{
		repo:      NewCatalogRepository(dbConn),
		telemetry: tel,
	}
}

// Podcasts retrieves all subscriptions with telemetry.
func (r *InstrumentedCatalogRepository) Podcasts(ctx context.Context) ([]catalog.Podcast, error) {
	var result []catalog.Podcast

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "list_podcasts", func(ctx context.Context) error {
		result, err = r.repo.Podcasts(ctx)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// PodcastByID retrieves one subscription with telemetry.
func (r *InstrumentedCatalogRepository) PodcastByID(ctx context.Context, castID int32) (*catalog.Podcast, error) {
	var result *catalog.Podcast

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_podcast", func(ctx context.Context) error {
		result, err = r.repo.PodcastByID(ctx, castID)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// AddPodcast registers a subscription with telemetry.
func (r *InstrumentedCatalogRepository) AddPodcast(ctx context.Context, p *catalog.Podcast) error {
	return r.telemetry.InstrumentDBOperation(ctx, "add_podcast", func(ctx context.Context) error {
		return r.repo.AddPodcast(ctx, p)
	})
}

// MaxCastID retrieves the highest castid with telemetry.
func (r *InstrumentedCatalogRepository) MaxCastID(ctx context.Context) (int32, error) {
	var result int32

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "max_castid", func(ctx context.Context) error {
		result, err = r.repo.MaxCastID(ctx)

		return err
	})

	if instrumentedErr != nil {
		return 0, instrumentedErr
	}

	return result, nil
}

// Episodes retrieves a podcast's episodes with telemetry.
func (r *InstrumentedCatalogRepository) Episodes(ctx context.Context, castID int32) ([]catalog.Episode, error) {
	var result []catalog.Episode

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "list_episodes", func(ctx context.Context) error {
		result, err = r.repo.Episodes(ctx, castID)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// MaxEpisodeID retrieves the highest episode ordinal with telemetry.
func (r *InstrumentedCatalogRepository) MaxEpisodeID(ctx context.Context, castID int32) (int32, error) {
	var result int32

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "max_episodeid", func(ctx context.Context) error {
		result, err = r.repo.MaxEpisodeID(ctx, castID)

		return err
	})

	if instrumentedErr != nil {
		return 0, instrumentedErr
	}

	return result, nil
}

// ResumableEpisodes retrieves unfinished episodes with telemetry.
func (r *InstrumentedCatalogRepository) ResumableEpisodes(ctx context.Context, castID int32) ([]catalog.Episode, error) {
	var result []catalog.Episode

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "list_resumable", func(ctx context.Context) error {
		result, err = r.repo.ResumableEpisodes(ctx, castID)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// InsertEpisode catalogues an episode with telemetry.
func (r *InstrumentedCatalogRepository) InsertEpisode(ctx context.Context, ep *catalog.Episode) error {
	return r.telemetry.InstrumentDBOperation(ctx, "insert_episode", func(ctx context.Context) error {
		return r.repo.InsertEpisode(ctx, ep)
	})
}

// UpdateStatus transitions an episode with telemetry.
func (r *InstrumentedCatalogRepository) UpdateStatus(ctx context.Context, castID, episodeID int32, status catalog.Status) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_status", func(ctx context.Context) error {
		return r.repo.UpdateStatus(ctx, castID, episodeID, status)
	})
}

// MarkDownloaded finalizes an episode with telemetry.
func (r *InstrumentedCatalogRepository) MarkDownloaded(ctx context.Context, castID, episodeID int32, md *catalog.ContentMetadata) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_downloaded", func(ctx context.Context) error {
		return r.repo.MarkDownloaded(ctx, castID, episodeID, md)
	})
}

// ContentByChecksum looks up content metadata with telemetry.
func (r *InstrumentedCatalogRepository) ContentByChecksum(ctx context.Context, checksum string) (*catalog.ContentMetadata, error) {
	var result *catalog.ContentMetadata

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_content", func(ctx context.Context) error {
		result, err = r.repo.ContentByChecksum(ctx, checksum)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
