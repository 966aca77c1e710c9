// Package syncer drives sync passes: fetch each subscribed feed, diff it
// against the catalog, queue new episodes for download and keep episode
// state consistent with what actually landed on disk.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"podcatch/internal/catalog"
	"podcatch/internal/digest"
	"podcatch/internal/download"
	"podcatch/internal/feed"
	"podcatch/internal/fetch"
	"podcatch/internal/logctx"
	"podcatch/internal/telemetry"
)

// Options tune a Syncer beyond its collaborators.
type Options struct {
	// DownloadWorkers is the number of concurrent enclosure downloads.
	DownloadWorkers int

	// QueueSize bounds the download backlog; submission blocks beyond it.
	QueueSize int

	// PodcastParallel is how many feeds are synced at the same time.
	PodcastParallel int

	// RetryIncomplete re-examines episodes left queued, downloading or
	// errored by earlier runs: payloads already on disk are registered in
	// place, everything else goes back on the download queue.
	RetryIncomplete bool

	// StatusRetries bounds how often a failed status write is retried
	// before the catalog is declared stale.
	StatusRetries uint
}

type Syncer struct {
	store           catalog.Store
	feeds           *fetch.Client
	dl              *download.Downloader
	tel             *telemetry.Telemetry
	pool            *download.Pool
	podcastParallel int
	retryIncomplete bool
	statusRetries   uint
}

func New(store catalog.Store, feeds *fetch.Client, dl *download.Downloader, tel *telemetry.Telemetry, opts Options) *Syncer {
	if opts.DownloadWorkers < 1 {
		opts.DownloadWorkers = 1
	}

	if opts.PodcastParallel < 1 {
		opts.PodcastParallel = 1
	}

	if opts.StatusRetries < 1 {
		opts.StatusRetries = 1
	}

	if tel == nil {
		tel = &telemetry.Telemetry{}
	}

	s := &Syncer{
		store:           store,
		feeds:           feeds,
		dl:              dl,
		tel:             tel,
		podcastParallel: opts.PodcastParallel,
		retryIncomplete: opts.RetryIncomplete,
		statusRetries:   opts.StatusRetries,
	}

	s.pool = download.NewPool(opts.DownloadWorkers, opts.QueueSize, s.handle)

	return s
}

// Start launches the download workers.
func (s *Syncer) Start(ctx context.Context) {
	s.pool.Start(ctx)
}

// Stop drains the download queue and waits for the workers to exit.
func (s *Syncer) Stop() {
	s.pool.Close()
	s.pool.Wait()
}

// SyncAll runs one pass over every subscription. Podcasts sync in parallel
// up to the configured limit, and one podcast failing never aborts its
// siblings. The returned reports are ordered like the catalog's podcasts.
func (s *Syncer) SyncAll(ctx context.Context) ([]Report, error) {
	podcasts, err := s.store.Podcasts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list podcasts: %w", err)
	}

	reports := make([]Report, len(podcasts))

	wg, ctx := errgroup.WithContext(ctx)

	sem := make(chan struct{}, s.podcastParallel)

	for i := range podcasts {
		pod := podcasts[i]
		report := &reports[i]
		sem <- struct{}{}

		wg.Go(func() error {
			defer func() { <-sem }() // release the slot

			*report = s.syncPodcast(ctx, pod)

			return nil
		})
	}

	_ = wg.Wait()

	return reports, nil
}

func (s *Syncer) syncPodcast(ctx context.Context, pod catalog.Podcast) Report {
	report := Report{CastID: pod.CastID, CastName: pod.CastName}

	ctx = logctx.With(ctx, "castid", pod.CastID, "castname", pod.CastName)

	err := s.tel.InstrumentFeedPass(ctx, func(ctx context.Context) error {
		return s.runPass(ctx, pod, &report)
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).Error("feed pass failed", "err", err)

		report.Err = err
	}

	return report
}

// runPass is one podcast's pass: retrieve and parse the feed, diff it
// against the catalog, queue what is missing and wait for the queued
// downloads to settle.
func (s *Syncer) runPass(ctx context.Context, pod catalog.Podcast, report *Report) error {
	logger := logctx.LoggerFromContext(ctx)

	var (
		counters tally
		wg       sync.WaitGroup
	)

	defer func() {
		counters.fold(report)
	}()

	enqueue := func(ep catalog.Episode) error {
		wg.Add(1)
		s.tel.IncrementQueueDepth()

		task := download.Task{
			Podcast: pod,
			Episode: ep,
			OnDone: func(res *download.Result, err error) {
				counters.downloadDone(res, err)
				wg.Done()
			},
		}

		if err := s.pool.Submit(ctx, task); err != nil {
			s.tel.DecrementQueueDepth()
			wg.Done()

			return fmt.Errorf("failed to queue download: %w", err)
		}

		return nil
	}

	body, err := s.feeds.GetBytes(ctx, pod.FeedURL)
	if err != nil {
		return fmt.Errorf("failed to retrieve feed: %w", err)
	}

	if s.retryIncomplete {
		if err := s.reconcile(ctx, pod, &counters, enqueue); err != nil {
			return err
		}
	}

	maxID, err := s.store.MaxEpisodeID(ctx, pod.CastID)
	if err != nil {
		return fmt.Errorf("failed to read max episode ordinal: %w", err)
	}

	parsed, err := feed.Parse(body, pod.CastID, maxID+1)
	if err != nil {
		return err
	}

	existing, err := s.store.Episodes(ctx, pod.CastID)
	if err != nil {
		return fmt.Errorf("failed to list episodes: %w", err)
	}

	diff := catalog.Diff(parsed.Candidates, existing)

	logger.Info("feed diffed",
		"feed_title", parsed.Title,
		"candidates", len(parsed.Candidates),
		"known", len(diff.Known),
		"new", len(diff.New))

	inserted := 0

	for _, cand := range diff.New {
		ep := catalog.Episode{
			CastID:    cand.CastID,
			EpisodeID: cand.EpisodeID,
			Title:     cand.Title,
			URL:       cand.URL,
			EncType:   cand.EncType,
			Status:    catalog.StatusQueued,
			Checksum:  cand.GUID,
		}

		if err := s.store.InsertEpisode(ctx, &ep); err != nil {
			var conflictErr *catalog.ConflictError
			if errors.As(err, &conflictErr) {
				// Another pass or instance won the insert race.
				logger.Debug("episode already catalogued", "episodeid", ep.EpisodeID, "err", err)

				continue
			}

			logger.Error("failed to catalogue episode", "episodeid", ep.EpisodeID, "err", err)
			counters.bump(&counters.failed)

			continue
		}

		counters.bump(&counters.newEpisodes)

		inserted++

		if err := enqueue(ep); err != nil {
			return err
		}
	}

	s.tel.RecordEpisodesDiscovered(int64(inserted))

	waitCh := make(chan struct{})

	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reconcile picks up episodes left unfinished by earlier runs. It runs
// before this pass inserts anything, so the resumable set never includes
// episodes that are already on the queue.
func (s *Syncer) reconcile(ctx context.Context, pod catalog.Podcast, counters *tally, enqueue func(catalog.Episode) error) error {
	logger := logctx.LoggerFromContext(ctx)

	leftovers, err := s.store.ResumableEpisodes(ctx, pod.CastID)
	if err != nil {
		return fmt.Errorf("failed to list resumable episodes: %w", err)
	}

	for _, ep := range leftovers {
		path := filepath.Join(pod.Directory, download.Basename(ep.URL, ep.EpisodeID))

		// A payload already on disk without a valid checksum means the
		// bookkeeping never finished; register it instead of downloading
		// the same bytes again.
		if info, statErr := os.Stat(path); statErr == nil && !digest.IsChecksum(ep.Checksum) {
			if err := s.repair(ctx, pod, ep, path, info.Size()); err != nil {
				logger.Error("failed to repair episode", "episodeid", ep.EpisodeID, "err", err)
				counters.bump(&counters.failed)
			} else {
				counters.bump(&counters.repaired)
			}

			continue
		}

		if err := enqueue(ep); err != nil {
			return err
		}

		counters.bump(&counters.requeued)
	}

	return nil
}

// repair registers an on-disk payload for an episode whose download never
// got recorded, without touching the network.
func (s *Syncer) repair(ctx context.Context, pod catalog.Podcast, ep catalog.Episode, path string, size int64) error {
	sum, err := digest.File(path)
	if err != nil {
		return fmt.Errorf("failed to checksum existing file: %w", err)
	}

	md := &catalog.ContentMetadata{
		Checksum:  sum,
		Title:     ep.Title,
		Album:     pod.CastName,
		TrackSize: size,
		Filename:  path,
	}

	if err := s.persist(ctx, func() error {
		return s.store.MarkDownloaded(ctx, ep.CastID, ep.EpisodeID, md)
	}); err != nil {
		return fmt.Errorf("failed to register repaired episode: %w", err)
	}

	logctx.LoggerFromContext(ctx).Info("registered existing payload without download",
		"episodeid", ep.EpisodeID, "target", path, "checksum", sum)

	return nil
}

// handle is the pool worker body: move the episode into downloading, fetch
// the enclosure and record the terminal state.
func (s *Syncer) handle(ctx context.Context, task download.Task) (*download.Result, error) {
	s.tel.DecrementQueueDepth()

	// Abandon cheaply during shutdown; the episode stays resumable.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx = logctx.With(ctx, "castid", task.Podcast.CastID, "episodeid", task.Episode.EpisodeID)
	logger := logctx.LoggerFromContext(ctx)

	if err := s.store.UpdateStatus(ctx, task.Episode.CastID, task.Episode.EpisodeID, catalog.StatusDownloading); err != nil {
		return nil, fmt.Errorf("failed to mark episode downloading: %w", err)
	}

	var res *download.Result

	err := s.tel.InstrumentDownload(ctx, func(ctx context.Context) (string, error) {
		var fetchErr error

		res, fetchErr = s.dl.Fetch(ctx, task.Episode, task.Podcast.Directory)
		if fetchErr != nil {
			return "", fetchErr
		}

		if res.Deduplicated {
			return "dedup", nil
		}

		return "success", nil
	})
	if err != nil {
		logger.Error("download failed", "url", task.Episode.URL, "err", err)

		if statusErr := s.persist(ctx, func() error {
			return s.store.UpdateStatus(ctx, task.Episode.CastID, task.Episode.EpisodeID, catalog.StatusError)
		}); statusErr != nil {
			logger.Error("failed to record download failure, catalog is stale", "err", statusErr)
		}

		return nil, err
	}

	md := &catalog.ContentMetadata{
		Checksum:  res.Checksum,
		Title:     task.Episode.Title,
		Album:     task.Podcast.CastName,
		TrackSize: res.Size,
		Filename:  res.Path,
	}

	if err := s.persist(ctx, func() error {
		return s.store.MarkDownloaded(ctx, task.Episode.CastID, task.Episode.EpisodeID, md)
	}); err != nil {
		logger.Error("failed to record download, catalog is stale", "target", res.Path, "err", err)

		return nil, err
	}

	if !res.Deduplicated {
		s.tel.RecordDownloadedBytes(res.Size)
	}

	logger.Info("episode downloaded",
		"target", res.Path,
		"size", humanize.Bytes(uint64(res.Size)),
		"deduplicated", res.Deduplicated)

	return res, nil
}

// persist retries a catalog write a few times before giving up. Losing a
// status transition leaves the catalog claiming less than what is on disk,
// which the next reconciliation pass has to clean up.
func (s *Syncer) persist(ctx context.Context, fn func() error) error {
	op := func() (struct{}, error) {
		return struct{}{}, fn()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(s.statusRetries))

	return err
}

// tally accumulates pass counters. Download callbacks run on worker
// goroutines, so every mutation takes the lock.
type tally struct {
	mu           sync.Mutex
	newEpisodes  int
	downloaded   int
	deduplicated int
	failed       int
	repaired     int
	requeued     int
}

func (c *tally) downloadDone(res *download.Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case err != nil:
		c.failed++
	case res != nil && res.Deduplicated:
		c.downloaded++
		c.deduplicated++
	default:
		c.downloaded++
	}
}

func (c *tally) bump(counter *int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	*counter++
}

func (c *tally) fold(report *Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	report.NewEpisodes = c.newEpisodes
	report.Downloaded = c.downloaded
	report.Deduplicated = c.deduplicated
	report.Failed = c.failed
	report.Repaired = c.repaired
	report.Requeued = c.requeued
}
