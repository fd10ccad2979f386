package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(srv.URL, "test-token", 5*time.Second), srv
}

func TestReadNotFoundIsSuccess(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	snapshot, err := client.Read(context.Background(), "data/transactions.csv")
	require.NoError(t, err)
	assert.False(t, snapshot.Found)
	assert.Empty(t, snapshot.Content)
	assert.Empty(t, snapshot.VersionToken)
}

func TestReadDecodesContentAndVersion(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/data/transactions.csv", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]string{
			"content": base64.StdEncoding.EncodeToString([]byte("Header\nrow1\n")),
			"version": "abc123",
		})
	})
	defer srv.Close()

	snapshot, err := client.Read(context.Background(), "data/transactions.csv")
	require.NoError(t, err)
	assert.True(t, snapshot.Found)
	assert.Equal(t, "Header\nrow1\n", snapshot.Content)
	assert.Equal(t, "abc123", snapshot.VersionToken)
}

func TestReadServerErrorIsTransient(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := client.Read(context.Background(), "data/transactions.csv")
	assert.ErrorIs(t, err, ErrTransient)
}

func TestReadConnectionFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := NewClient(srv.URL, "", time.Second)
	srv.Close() // connection refused from now on

	_, err := client.Read(context.Background(), "data/transactions.csv")
	assert.ErrorIs(t, err, ErrTransient)
}

func TestWriteSendsEncodedContentAndToken(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		content, err := base64.StdEncoding.DecodeString(body["content"])
		require.NoError(t, err)
		assert.Equal(t, "Header\nrow1\n", string(content))
		assert.Equal(t, "merge upload", body["message"])
		assert.Equal(t, "v1", body["version"])

		json.NewEncoder(w).Encode(map[string]string{"version": "v2"})
	})
	defer srv.Close()

	token, err := client.Write(context.Background(), "data/transactions.csv", "Header\nrow1\n", "merge upload", "v1")
	require.NoError(t, err)
	assert.Equal(t, "v2", token)
}

func TestWriteOmitsVersionOnCreate(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, present := body["version"]
		assert.False(t, present, "version key must be omitted when creating a new blob")

		json.NewEncoder(w).Encode(map[string]string{"version": "v1"})
	})
	defer srv.Close()

	token, err := client.Write(context.Background(), "data/transactions.csv", "Header\n", "initial upload", "")
	require.NoError(t, err)
	assert.Equal(t, "v1", token)
}

func TestWriteConflict(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	defer srv.Close()

	_, err := client.Write(context.Background(), "data/transactions.csv", "x", "m", "stale")
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrTransient)
}

func TestWritePreconditionFailedIsConflict(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	})
	defer srv.Close()

	_, err := client.Write(context.Background(), "data/transactions.csv", "x", "m", "stale")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestWriteServerErrorIsTransient(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer srv.Close()

	_, err := client.Write(context.Background(), "data/transactions.csv", "x", "m", "v1")
	assert.ErrorIs(t, err, ErrTransient)
}

func TestURLJoining(t *testing.T) {
	var gotPath string
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	_, err := client.Read(context.Background(), "/data/transactions.csv")
	require.NoError(t, err)
	assert.Equal(t, "/data/transactions.csv", gotPath)

	if !strings.HasPrefix(srv.URL, "http://") {
		t.Fatalf("unexpected test server URL: %s", srv.URL)
	}
}
