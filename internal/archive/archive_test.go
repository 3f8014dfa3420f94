package archive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"guildkeeper/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishPostsFormAndReturnsURL(t *testing.T) {
	expires := time.Unix(1700000000, 0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "chat-log", r.PostForm.Get("type"))
		assert.Equal(t, "1700000000", r.PostForm.Get("expires"))
		assert.Equal(t, "secret", r.Header.Get("Authorization"))

		var entries []Entry
		require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("messages")), &entries))
		assert.Len(t, entries, 2)
		assert.Equal(t, "1", entries[0].ID)

		_, _ = w.Write([]byte(`{"url":"http://logs.example/abc"}`))
	}))
	defer server.Close()

	client := New(server.URL, "secret", utils.RobustHTTPClient(zap.NewNop(), 5*time.Second))
	link, size, err := client.Publish(context.Background(), []Entry{
		{ID: "1", Author: Author{ID: "u1", Username: "alice"}, Content: "hi"},
		{ID: "2", Author: Author{ID: "u2", Username: "bob"}, Content: "yo"},
	}, expires)
	require.NoError(t, err)
	assert.Equal(t, "https://logs.example/abc", link)
	assert.Greater(t, size, 0)
}

func TestPublishRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(server.URL, "", utils.RobustHTTPClient(zap.NewNop(), 5*time.Second))
	_, _, err := client.Publish(context.Background(), []Entry{{ID: "1"}}, time.Now())
	assert.Error(t, err)
}

func TestPublishUnconfigured(t *testing.T) {
	var client *Client
	_, _, err := client.Publish(context.Background(), nil, time.Now())
	assert.ErrorIs(t, err, ErrNotConfigured)
}
