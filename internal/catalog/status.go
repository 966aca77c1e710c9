package catalog

import "fmt"

// Status is the lifecycle state of a tracked episode.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusError       Status = "error"
)

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusQueued, StatusDownloading, StatusDownloaded, StatusError:
		return Status(s), nil
	}

	return "", fmt.Errorf("unknown episode status %q", s)
}

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether the status is an end state for a sync pass.
func (s Status) Terminal() bool {
	return s == StatusDownloaded || s == StatusError
}
