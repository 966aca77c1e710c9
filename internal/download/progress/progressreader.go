// Package progress reports byte counts while an enclosure streams to disk.
package progress

import "io"

// Reader wraps an io.Reader and reports progress via a callback. A report
// fires every reportInterval bytes, and additionally whenever a read crosses
// a 5% milestone of a known total.
type Reader struct {
	Reader         io.Reader
	Total          int64
	OnProgress     func(read int64, total int64)
	totalRead      int64 // cumulative total
	sinceReport    int64 // bytes since last report
	reportInterval int64 // bytes
}

func NewReader(r io.Reader, total, interval int64, cb func(read, total int64)) *Reader {
	return &Reader{
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		prev := pr.totalRead
		pr.totalRead += int64(n)
		pr.sinceReport += int64(n)

		if pr.sinceReport >= pr.reportInterval || pr.crossedMilestone(prev) {
			pr.OnProgress(pr.totalRead, pr.Total)
			pr.sinceReport = 0
		}
	}

	return n, err
}

func (pr *Reader) crossedMilestone(prev int64) bool {
	if pr.Total <= 0 {
		return false
	}

	return pr.totalRead*20/pr.Total != prev*20/pr.Total
}
