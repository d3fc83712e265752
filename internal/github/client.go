// internal/github/client.go
package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	custom_errors "repo-metadata-fetcher/internal/errors"
	"repo-metadata-fetcher/internal/model"
)

const (
	searchPageSize = 100
	// The search API serves at most this many results for one query.
	searchResultCap = 1000
)

// Client is a wrapper around the go-github client.
// It does not retry: errors from go-github reach the caller unchanged apart from wrapping.
type Client struct {
	gh         *github.Client
	logger     *slog.Logger
	starFilter string
	now        func() time.Time
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client. starFilter is
// inserted verbatim into search queries, e.g. ">=100" or "10..50".
func NewClient(token, starFilter string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:         github.NewClient(tc),
		logger:     logger,
		starFilter: starFilter,
		now:        time.Now,
	}
}

// SearchQuery builds the repository search query for the given creation range.
func (c *Client) SearchQuery(start, end time.Time) string {
	return fmt.Sprintf("stars:%s created:%s..%s", c.starFilter, formatISO(start, end), formatISO(end, start))
}

// SearchRepositoriesCreatedBetween returns the full names of all repositories created
// in [start, end] that match the configured star filter.
// It walks the search result pages until the API reports no next page.
func (c *Client) SearchRepositoriesCreatedBetween(ctx context.Context, start, end time.Time) ([]string, error) {
	if end.Before(start) {
		return nil, custom_errors.ErrInvalidDateRange
	}

	query := c.SearchQuery(start, end)
	c.logger.Info("Searching repositories", "query", query)

	opts := &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: searchPageSize},
	}

	var names []string
	for {
		c.logger.Debug("Fetching search page", "query", query, "page", opts.Page)

		result, resp, err := c.gh.Search.Repositories(ctx, query, opts)
		if err != nil {
			return nil, fmt.Errorf("search repositories %q: %w", query, err)
		}

		if opts.Page == 0 && result.GetTotal() > searchResultCap {
			c.logger.Warn("Search matches more repositories than the API returns", "query", query, "total", result.GetTotal(), "cap", searchResultCap)
		}

		for _, repo := range result.Repositories {
			names = append(names, repo.GetFullName())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return names, nil
}

// GetRepository fetches repository details by "owner/name" and translates them to our internal model.
func (c *Client) GetRepository(ctx context.Context, fullName string) (*model.RepositoryRecord, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", fullName, err)
	}
	return toRepositoryRecord(repo, c.now()), nil
}

// GetRepositoryByID fetches repository details by numeric GitHub id.
func (c *Client) GetRepositoryByID(ctx context.Context, id int64) (*model.RepositoryRecord, error) {
	repo, _, err := c.gh.Repositories.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get repository %d: %w", id, err)
	}
	return toRepositoryRecord(repo, c.now()), nil
}

// GetRateLimitSnapshot returns the current core and search rate limits.
func (c *Client) GetRateLimitSnapshot(ctx context.Context) (*model.RateLimitSnapshot, error) {
	limits, _, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get rate limit: %w", err)
	}
	return &model.RateLimitSnapshot{
		Core:       toRate(limits.GetCore()),
		Search:     toRate(limits.GetSearch()),
		CapturedAt: c.now(),
	}, nil
}

// toRepositoryRecord translates a github.Repository object to our internal model.RepositoryRecord.
func toRepositoryRecord(r *github.Repository, capturedAt time.Time) *model.RepositoryRecord {
	rec := &model.RepositoryRecord{
		Host:             model.HostGithub,
		HostID:           r.GetID(),
		FullName:         r.GetFullName(),
		Description:      r.Description,
		Fork:             r.GetFork(),
		CreatedAt:        r.GetCreatedAt().Time,
		UpdatedAt:        r.GetUpdatedAt().Time,
		Homepage:         r.Homepage,
		Size:             r.GetSize(),
		WatchersCount:    r.GetWatchersCount(),
		ForksCount:       r.GetForksCount(),
		OpenIssuesCount:  r.GetOpenIssuesCount(),
		NetworkCount:     r.GetNetworkCount(),
		SubscribersCount: r.GetSubscribersCount(),
		Language:         r.Language,
		Archived:         r.GetArchived(),
		Disabled:         r.Disabled,
		OwnerLogin:       r.GetOwner().GetLogin(),
		OwnerType:        r.GetOwner().GetType(),
		Timestamp:        capturedAt,
	}

	// license, license.key and license.name may each be missing.
	if license := r.GetLicense(); license != nil {
		rec.LicenseKey = license.Key
		rec.LicenseName = license.Name
	}

	return rec
}

func toRate(r *github.Rate) model.Rate {
	if r == nil {
		return model.Rate{}
	}
	return model.Rate{
		Limit:     r.Limit,
		Remaining: r.Remaining,
		Reset:     r.Reset.Time,
	}
}

// formatISO renders t as a date when both range bounds sit on UTC midnight and as
// RFC 3339 otherwise, so a range never mixes the two forms.
func formatISO(t, other time.Time) string {
	if isMidnightUTC(t) && isMidnightUTC(other) {
		return t.UTC().Format(time.DateOnly)
	}
	return t.Format(time.RFC3339)
}

func isMidnightUTC(t time.Time) bool {
	u := t.UTC()
	return u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0
}

func splitFullName(fullName string) (string, string, error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &custom_errors.ErrInvalidRepoFormat{Repo: fullName}
	}
	return parts[0], parts[1], nil
}
