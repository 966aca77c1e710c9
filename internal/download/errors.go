package download

import "fmt"

// IoError represents a filesystem failure while staging or publishing an
// episode payload. Transport failures are reported as fetch errors instead,
// so callers can tell a full disk apart from a flaky CDN.
type IoError struct {
	Op   string // The filesystem operation that failed (e.g., "write", "rename")
	Path string // The path being operated on
	Err  error  // Underlying error, if any
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s failed for %s", e.Op, e.Path)
}

func (e *IoError) Unwrap() error {
	return e.Err
}
