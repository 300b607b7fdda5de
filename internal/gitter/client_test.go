package gitter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListRooms(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/rooms", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"abc123","name":"gopher/lobby"},{"id":"def456","name":"gopher/dev"}]`))
	}))
	defer server.Close()

	client := NewClient(Config{APIBaseURL: server.URL, Token: "test-token"})

	rooms, err := client.ListRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, Room{ID: "abc123", Name: "gopher/lobby"}, rooms[0])
}

func TestListRoomsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(Config{APIBaseURL: server.URL, Token: "bad"})

	_, err := client.ListRooms(context.Background())
	assert.Error(t, err)
}

func TestSendMessage(t *testing.T) {
	var gotBody map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/rooms/abc123/chatMessages", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIBaseURL: server.URL, Token: "test-token"})

	ok := client.Send(context.Background(), "abc123", "hello room")
	assert.True(t, ok)
	assert.Equal(t, map[string]string{"text": "hello room"}, gotBody)
}

func TestSendMessageNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(Config{APIBaseURL: server.URL, Token: "test-token"})
	assert.False(t, client.Send(context.Background(), "abc123", "hello"))
}

func TestSendMessageNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // closed up front so the request fails

	client := NewClient(Config{APIBaseURL: server.URL, Token: "test-token"})
	assert.False(t, client.Send(context.Background(), "abc123", "hello"))
}
