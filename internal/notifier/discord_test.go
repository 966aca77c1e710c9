package notifier_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcatch/internal/notifier"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &notifier.DiscordNotifier{WebhookURL: srv.URL}

	err := n.Notify(context.Background(), "synced 3 podcasts, 2 new episodes")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"content": "synced 3 podcasts, 2 new episodes"}, got)
}

func TestDiscordNotifier_Notify_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := &notifier.DiscordNotifier{WebhookURL: srv.URL}

	err := n.Notify(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestDiscordNotifier_Notify_MissingWebhook(t *testing.T) {
	n := &notifier.DiscordNotifier{}

	err := n.Notify(context.Background(), "hi")
	require.Error(t, err)
}

func TestNoop_Notify(t *testing.T) {
	var n notifier.Notifier = notifier.Noop{}

	assert.NoError(t, n.Notify(context.Background(), "ignored"))
}
