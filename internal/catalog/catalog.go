// Package catalog holds the podcast subscription domain: subscriptions,
// tracked episodes, downloaded content records and the diff that decides
// what a sync pass still has to download.
package catalog

import (
	"context"
	"time"
)

// Podcast is a feed subscription. Episodes discovered in the feed are
// tracked under the podcast's castid and downloaded into its directory.
type Podcast struct {
	CastID    int32
	CastName  string
	FeedURL   string
	Directory string
}

// Candidate is an episode as advertised by a feed document, before it is
// matched against the catalog. EpisodeID is assigned from document order
// and only becomes final once the candidate is inserted.
type Candidate struct {
	CastID    int32
	EpisodeID int32
	Title     string
	URL       string
	EncType   string
	GUID      string
}

// Episode is a tracked enclosure. Checksum holds the hex digest of the
// downloaded bytes once the episode reaches StatusDownloaded; before that
// it is empty or carries the feed-supplied GUID, which the digest package's
// IsChecksum tells apart from a finished download.
type Episode struct {
	CastID         int32
	EpisodeID      int32
	Title          string
	URL            string
	EncType        string
	Status         Status
	Checksum       string
	FirstAttempt   time.Time
	LastAttempt    time.Time
	FailedAttempts int32
}

// ContentMetadata describes downloaded bytes independently of the episodes
// that reference them. Keyed by checksum so the same audio published under
// several URLs is stored once.
type ContentMetadata struct {
	Checksum  string
	Title     string
	Album     string
	Artist    string
	TrackSize int64
	Filename  string
}

// Store is the persistence surface the sync pipeline works against.
// The catalogdb package provides the SQL implementation.
type Store interface {
	Podcasts(ctx context.Context) ([]Podcast, error)
	Episodes(ctx context.Context, castID int32) ([]Episode, error)
	MaxEpisodeID(ctx context.Context, castID int32) (int32, error)
	ResumableEpisodes(ctx context.Context, castID int32) ([]Episode, error)
	InsertEpisode(ctx context.Context, ep *Episode) error
	UpdateStatus(ctx context.Context, castID, episodeID int32, status Status) error
	MarkDownloaded(ctx context.Context, castID, episodeID int32, md *ContentMetadata) error
	ContentByChecksum(ctx context.Context, checksum string) (*ContentMetadata, error)
}
