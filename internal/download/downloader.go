// Package download fetches episode enclosures to disk. Payloads stream
// through a rolling checksum into a staging area and are renamed into the
// podcast directory only once complete, so directory readers never observe
// partial episodes.
package download

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"podcatch/internal/catalog"
	"podcatch/internal/digest"
	"podcatch/internal/download/progress"
	"podcatch/internal/fetch"
	"podcatch/internal/logctx"
)

const (
	dirPerm = 0755

	// stagingDirName keeps partial files out of the published directory.
	stagingDirName = ".staging"

	defaultProgressInterval = int64(8 * 1024 * 1024) // 8MB
)

// ContentIndex resolves checksums to previously stored payloads so the
// downloader can reuse bytes that are already on disk.
type ContentIndex interface {
	ContentByChecksum(ctx context.Context, checksum string) (*catalog.ContentMetadata, error)
}

// Result describes one fetched enclosure.
type Result struct {
	Checksum     string
	Size         int64
	Path         string
	Deduplicated bool
}

type Downloader struct {
	fetcher          *fetch.Client
	index            ContentIndex
	progressInterval int64
}

func NewDownloader(fetcher *fetch.Client, index ContentIndex) *Downloader {
	return &Downloader{
		fetcher:          fetcher,
		index:            index,
		progressInterval: defaultProgressInterval,
	}
}

// Fetch retrieves one enclosure into dir and returns its content checksum.
// Episodes whose payload is already registered under another episode reuse
// the stored copy instead of hitting the network or writing a second copy.
func (d *Downloader) Fetch(ctx context.Context, ep catalog.Episode, dir string) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	finalPath := filepath.Join(dir, Basename(ep.URL, ep.EpisodeID))

	if res := d.reuseExisting(ctx, ep.Checksum, finalPath); res != nil {
		logger.Info("episode content already on disk", "target", res.Path)

		return res, nil
	}

	resp, err := d.fetcher.Get(ctx, ep.URL)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	stagingPath, out, err := d.createStaging(dir, finalPath)
	if err != nil {
		return nil, err
	}

	sum, size, err := d.writePayload(ctx, out, resp.Body, ep.URL, resp.ContentLength)

	closeErr := out.Close()
	if err == nil && closeErr != nil {
		err = &IoError{Op: "close", Path: stagingPath, Err: closeErr}
	}

	if err != nil {
		_ = os.Remove(stagingPath)

		return nil, err
	}

	return d.publish(ctx, stagingPath, finalPath, sum, size)
}

// reuseExisting short-circuits the download when the episode already carries
// a content checksum from an earlier run and the payload is still on disk.
func (d *Downloader) reuseExisting(ctx context.Context, checksum, finalPath string) *Result {
	if !digest.IsChecksum(checksum) || d.index == nil {
		return nil
	}

	md, err := d.index.ContentByChecksum(ctx, checksum)
	if err != nil || md == nil {
		return nil
	}

	if _, err := os.Stat(finalPath); err == nil {
		return &Result{Checksum: checksum, Size: md.TrackSize, Path: finalPath, Deduplicated: true}
	}

	if md.Filename == "" || md.Filename == finalPath {
		return nil
	}

	if _, err := os.Stat(md.Filename); err != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), dirPerm); err != nil {
		return nil
	}

	if err := linkOrCopy(md.Filename, finalPath); err != nil {
		return nil
	}

	return &Result{Checksum: checksum, Size: md.TrackSize, Path: finalPath, Deduplicated: true}
}

func (d *Downloader) createStaging(dir, finalPath string) (string, *os.File, error) {
	stagingDir := filepath.Join(dir, stagingDirName)
	if err := os.MkdirAll(stagingDir, dirPerm); err != nil {
		return "", nil, &IoError{Op: "mkdir", Path: stagingDir, Err: err}
	}

	out, err := os.CreateTemp(stagingDir, filepath.Base(finalPath)+".*.partial")
	if err != nil {
		return "", nil, &IoError{Op: "create", Path: stagingDir, Err: err}
	}

	return out.Name(), out, nil
}

func (d *Downloader) writePayload(ctx context.Context, out *os.File, body io.Reader, rawURL string, totalBytes int64) (string, int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	if totalBytes > 0 {
		logger.Info("downloading episode", "url", rawURL, "file_size", humanize.Bytes(uint64(totalBytes)))
	} else {
		logger.Info("downloading episode", "url", rawURL)
	}

	progressCb := func(read int64, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"url", rawURL,
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.Debug("download progress", "url", rawURL, "downloaded", humanize.Bytes(uint64(read)))
		}
	}
	pr := progress.NewReader(body, totalBytes, d.progressInterval, progressCb)

	hasher := digest.New()
	tracked := &trackingWriter{w: out}

	written, err := io.Copy(io.MultiWriter(tracked, hasher), pr)
	if err != nil {
		if tracked.err != nil {
			return "", 0, &IoError{Op: "write", Path: out.Name(), Err: tracked.err}
		}

		return "", 0, &fetch.Error{URL: rawURL, Err: err}
	}

	return hasher.Sum(), written, nil
}

// publish moves a fully written staging file into place, or links to an
// already stored copy when the checksum is known from another episode.
func (d *Downloader) publish(ctx context.Context, stagingPath, finalPath, sum string, size int64) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	res := &Result{Checksum: sum, Size: size, Path: finalPath}

	if d.index != nil {
		md, err := d.index.ContentByChecksum(ctx, sum)
		if err != nil {
			logger.Warn("content lookup failed, keeping fresh copy", "checksum", sum, "err", err)
		}

		if md != nil && md.Filename != "" && md.Filename != finalPath {
			if _, statErr := os.Stat(md.Filename); statErr == nil {
				if linkErr := linkOrCopy(md.Filename, finalPath); linkErr == nil {
					_ = os.Remove(stagingPath)

					res.Deduplicated = true

					logger.Info("reused stored content", "source", md.Filename, "target", finalPath)

					return res, nil
				}
			}
		}
	}

	if err := os.Rename(stagingPath, finalPath); err != nil {
		_ = os.Remove(stagingPath)

		return nil, &IoError{Op: "rename", Path: finalPath, Err: err}
	}

	return res, nil
}

// Basename derives the on-disk file name for an enclosure URL. Query strings
// and fragments are dropped; URLs with no usable path segment fall back to
// the episode ordinal.
func Basename(rawURL string, episodeID int32) string {
	fallback := fmt.Sprintf("episode-%d", episodeID)

	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}

	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return fallback
	}

	return base
}

// trackingWriter remembers the first write error so disk failures can be
// told apart from transport failures after io.Copy.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (tw *trackingWriter) Write(p []byte) (int, error) {
	n, err := tw.w.Write(p)
	if err != nil && tw.err == nil {
		tw.err = err
	}

	return n, err
}

// linkOrCopy makes the stored payload at src available at dst. A hard link
// is preferred; when linking fails the bytes are copied into the staging
// area and renamed, so dst never exposes a partially copied file.
func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}

	return copyViaStaging(src, dst)
}

func copyViaStaging(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}

	defer in.Close()

	stagingDir := filepath.Join(filepath.Dir(dst), stagingDirName)
	if err := os.MkdirAll(stagingDir, dirPerm); err != nil {
		return err
	}

	out, err := os.CreateTemp(stagingDir, filepath.Base(dst)+".*.partial")
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(out.Name())

		return err
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(out.Name())

		return err
	}

	if err := os.Rename(out.Name(), dst); err != nil {
		_ = os.Remove(out.Name())

		return err
	}

	return nil
}
