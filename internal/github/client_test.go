// internal/github/client_test.go
package github

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "repo-metadata-fetcher/internal/errors"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// setupTestClient creates a httptest server and a github client pointing to it.
func setupTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)

	// An empty token is fine because we are not authenticating to the real GitHub.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := NewClient("", ">=100", logger)
	client.now = func() time.Time { return fixedNow }

	// Override the client's internal http client to point to our test server.
	// go-github appends /api/v3/ to enterprise base URLs.
	testClient, err := github.NewClient(server.Client()).WithEnterpriseURLs(server.URL, server.URL)
	require.NoError(t, err)
	client.gh = testClient

	return client, server
}

func TestClient_SearchQuery(t *testing.T) {
	client := NewClient("", ">=100", slog.Default())

	t.Run("date-only bounds", func(t *testing.T) {
		start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC)

		assert.Equal(t, "stars:>=100 created:2020-01-01..2020-01-31", client.SearchQuery(start, end))
	})

	t.Run("bounds with a clock time", func(t *testing.T) {
		start := time.Date(2020, 1, 1, 6, 30, 0, 0, time.UTC)
		end := time.Date(2020, 1, 1, 18, 0, 0, 0, time.UTC)

		query := client.SearchQuery(start, end)

		assert.Contains(t, query, "stars:>=100")
		assert.Contains(t, query, "2020-01-01T06:30:00Z")
		assert.Contains(t, query, "2020-01-01T18:00:00Z")
	})

	t.Run("mixed bounds use the long form for both", func(t *testing.T) {
		start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)

		assert.Equal(t, "stars:>=100 created:2020-01-01T00:00:00Z..2020-01-01T12:00:00Z", client.SearchQuery(start, end))
	})
}

func TestClient_SearchRepositoriesCreatedBetween(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC)

	t.Run("follows pagination", func(t *testing.T) {
		var requestCount int32
		var serverURL string
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			assert.Equal(t, "/api/v3/search/repositories", r.URL.Path)
			assert.Equal(t, "stars:>=100 created:2020-01-01..2020-01-31", r.URL.Query().Get("q"))
			assert.Equal(t, "100", r.URL.Query().Get("per_page"))

			switch r.URL.Query().Get("page") {
			case "":
				w.Header().Set("Link", fmt.Sprintf(`<%s/api/v3/search/repositories?page=2>; rel="next"`, serverURL))
				fmt.Fprintln(w, `{"total_count": 3, "items": [{"full_name": "a/one"}, {"full_name": "b/two"}]}`)
			case "2":
				fmt.Fprintln(w, `{"total_count": 3, "items": [{"full_name": "c/three"}]}`)
			default:
				w.WriteHeader(http.StatusBadRequest)
			}
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()
		serverURL = server.URL

		names, err := client.SearchRepositoriesCreatedBetween(context.Background(), start, end)

		require.NoError(t, err)
		assert.Equal(t, []string{"a/one", "b/two", "c/three"}, names)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount))
	})

	t.Run("warns when matches exceed the result cap", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `{"total_count": 4200, "items": [{"full_name": "a/one"}]}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()
		var logs bytes.Buffer
		client.logger = slog.New(slog.NewTextHandler(&logs, nil))

		names, err := client.SearchRepositoriesCreatedBetween(context.Background(), start, end)

		require.NoError(t, err)
		assert.Equal(t, []string{"a/one"}, names)
		assert.Contains(t, logs.String(), "total=4200")
	})

	t.Run("rejects an inverted range without a request", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.SearchRepositoriesCreatedBetween(context.Background(), end, start)

		assert.ErrorIs(t, err, custom_errors.ErrInvalidDateRange)
		assert.Equal(t, int32(0), atomic.LoadInt32(&requestCount))
	})

	t.Run("propagates API errors", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprintln(w, `{"message": "Validation Failed"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.SearchRepositoriesCreatedBetween(context.Background(), start, end)

		var ghErr *github.ErrorResponse
		require.ErrorAs(t, err, &ghErr)
		assert.Equal(t, http.StatusUnprocessableEntity, ghErr.Response.StatusCode)
	})
}

func TestClient_GetRepository(t *testing.T) {
	t.Run("maps every field", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v3/repos/octo/hello", r.URL.Path)
			fmt.Fprintln(w, `{
				"id": 42,
				"full_name": "octo/hello",
				"description": "hello world",
				"fork": true,
				"created_at": "2019-03-01T10:00:00Z",
				"updated_at": "2024-04-01T10:00:00Z",
				"homepage": "https://hello.example",
				"size": 512,
				"watchers_count": 150,
				"forks_count": 7,
				"open_issues_count": 3,
				"network_count": 9,
				"subscribers_count": 11,
				"language": "Go",
				"archived": true,
				"disabled": false,
				"owner": {"login": "octo", "type": "Organization"},
				"license": {"key": "mit", "name": "MIT License"}
			}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		rec, err := client.GetRepository(context.Background(), "octo/hello")

		require.NoError(t, err)
		assert.Equal(t, "github", rec.Host)
		assert.Equal(t, int64(42), rec.HostID)
		assert.Equal(t, "octo/hello", rec.FullName)
		assert.Equal(t, "hello world", *rec.Description)
		assert.True(t, rec.Fork)
		assert.Equal(t, time.Date(2019, 3, 1, 10, 0, 0, 0, time.UTC), rec.CreatedAt.UTC())
		assert.Equal(t, time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC), rec.UpdatedAt.UTC())
		assert.Equal(t, "https://hello.example", *rec.Homepage)
		assert.Equal(t, 512, rec.Size)
		assert.Equal(t, 150, rec.WatchersCount)
		assert.Equal(t, 7, rec.ForksCount)
		assert.Equal(t, 3, rec.OpenIssuesCount)
		assert.Equal(t, 9, rec.NetworkCount)
		assert.Equal(t, 11, rec.SubscribersCount)
		assert.Equal(t, "Go", *rec.Language)
		assert.True(t, rec.Archived)
		require.NotNil(t, rec.Disabled)
		assert.False(t, *rec.Disabled)
		assert.Equal(t, "octo", rec.OwnerLogin)
		assert.Equal(t, "Organization", rec.OwnerType)
		assert.Equal(t, "mit", *rec.LicenseKey)
		assert.Equal(t, "MIT License", *rec.LicenseName)
		assert.Equal(t, fixedNow, rec.Timestamp)
	})

	t.Run("missing license leaves both license fields nil", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `{"id": 1, "full_name": "test/repo", "owner": {"login": "test"}}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		rec, err := client.GetRepository(context.Background(), "test/repo")

		require.NoError(t, err)
		assert.Nil(t, rec.LicenseKey)
		assert.Nil(t, rec.LicenseName)
		assert.Nil(t, rec.Disabled)
		assert.Nil(t, rec.Description)
	})

	t.Run("license without name only nils the name", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `{"id": 1, "full_name": "test/repo", "license": {"key": "apache-2.0"}}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		rec, err := client.GetRepository(context.Background(), "test/repo")

		require.NoError(t, err)
		require.NotNil(t, rec.LicenseKey)
		assert.Equal(t, "apache-2.0", *rec.LicenseKey)
		assert.Nil(t, rec.LicenseName)
	})

	t.Run("does not retry on server error", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusInternalServerError)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.GetRepository(context.Background(), "test/repo")

		require.Error(t, err)
		var ghErr *github.ErrorResponse
		assert.ErrorAs(t, err, &ghErr)
		assert.Equal(t, http.StatusInternalServerError, ghErr.Response.StatusCode)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
	})

	t.Run("propagates not found", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.GetRepository(context.Background(), "test/missing")

		var ghErr *github.ErrorResponse
		require.ErrorAs(t, err, &ghErr)
		assert.Equal(t, http.StatusNotFound, ghErr.Response.StatusCode)
	})

	t.Run("rejects malformed names", func(t *testing.T) {
		client := NewClient("", ">=100", slog.Default())

		for _, name := range []string{"", "no-slash", "a/b/c", "/repo", "owner/"} {
			_, err := client.GetRepository(context.Background(), name)

			var formatErr *custom_errors.ErrInvalidRepoFormat
			assert.ErrorAs(t, err, &formatErr, name)
		}
	})
}

func TestClient_GetRepositoryByID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/repositories/42", r.URL.Path)
		fmt.Fprintln(w, `{"id": 42, "full_name": "octo/hello", "owner": {"login": "octo", "type": "User"}}`)
	})
	client, server := setupTestClient(t, handler)
	defer server.Close()

	rec, err := client.GetRepositoryByID(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, "octo/hello", rec.FullName)
	assert.Equal(t, "User", rec.OwnerType)
}

func TestClient_GetRateLimitSnapshot(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/rate_limit", r.URL.Path)
		fmt.Fprintln(w, `{"resources": {
			"core": {"limit": 5000, "remaining": 4990, "reset": 1714564800},
			"search": {"limit": 30, "remaining": 28, "reset": 1714561260}
		}}`)
	})
	client, server := setupTestClient(t, handler)
	defer server.Close()

	snapshot, err := client.GetRateLimitSnapshot(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 5000, snapshot.Core.Limit)
	assert.Equal(t, 4990, snapshot.Core.Remaining)
	assert.Equal(t, time.Unix(1714564800, 0).UTC(), snapshot.Core.Reset.UTC())
	assert.Equal(t, 30, snapshot.Search.Limit)
	assert.Equal(t, 28, snapshot.Search.Remaining)
	assert.Equal(t, fixedNow, snapshot.CapturedAt)
}
