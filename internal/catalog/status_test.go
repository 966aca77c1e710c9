package catalog_test

import (
	"testing"

	"podcatch/internal/catalog"

	"github.com/stretchr/testify/assert"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    catalog.Status
		wantErr bool
	}{
		{"queued", catalog.StatusQueued, false},
		{"downloading", catalog.StatusDownloading, false},
		{"downloaded", catalog.StatusDownloaded, false},
		{"error", catalog.StatusError, false},
		{"", "", true},
		{"ready", "", true},
		{"Downloaded", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := catalog.ParseStatus(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, catalog.StatusQueued.Terminal())
	assert.False(t, catalog.StatusDownloading.Terminal())
	assert.True(t, catalog.StatusDownloaded.Terminal())
	assert.True(t, catalog.StatusError.Terminal())
}
