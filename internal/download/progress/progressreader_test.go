package progress_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcatch/internal/download/progress"
)

// drain reads pr to EOF in fixed-size chunks.
func drain(t *testing.T, pr *progress.Reader, chunk int) int64 {
	t.Helper()

	buf := make([]byte, chunk)

	var total int64

	for {
		n, err := pr.Read(buf)
		total += int64(n)

		if err == io.EOF {
			return total
		}

		require.NoError(t, err)
	}
}

func TestReader_ReportsAtInterval(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 1000)

	var reports []int64

	pr := progress.NewReader(bytes.NewReader(payload), 0, 256, func(read, total int64) {
		reports = append(reports, read)
	})

	assert.Equal(t, int64(1000), drain(t, pr, 100))

	// 100-byte reads against a 256-byte interval report on every third read.
	assert.Equal(t, []int64{300, 600, 900}, reports)
}

func TestReader_ReportsMilestones(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 1000)

	var reports []int64

	pr := progress.NewReader(bytes.NewReader(payload), 1000, 1<<20, func(read, total int64) {
		assert.Equal(t, int64(1000), total)
		reports = append(reports, read)
	})

	drain(t, pr, 100)

	// Every 100-byte read crosses a 5% milestone of the 1000-byte total.
	assert.Len(t, reports, 10)
	assert.Equal(t, int64(1000), reports[len(reports)-1])
}
