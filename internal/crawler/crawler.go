// internal/crawler/crawler.go
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/sync/errgroup"

	custom_errors "repo-metadata-fetcher/internal/errors"
	"repo-metadata-fetcher/internal/gitlab"
	"repo-metadata-fetcher/internal/model"
)

// Names of the persisted crawl cursors.
const (
	CursorGithubCreatedBefore = "github_created_before"
	CursorGitlabIDAfter       = "gitlab_id_after"
)

const (
	// GitHub search returns at most this many results for one query.
	searchResultCap = 1000
	// Windows are not narrowed below this width.
	minSearchWindow = time.Minute
)

// GithubSource is the part of the GitHub client the crawler needs.
type GithubSource interface {
	SearchRepositoriesCreatedBetween(ctx context.Context, start, end time.Time) ([]string, error)
	GetRepository(ctx context.Context, fullName string) (*model.RepositoryRecord, error)
}

// GitlabSource is the part of the GitLab client the crawler needs.
type GitlabSource interface {
	ListRepositoriesAfter(ctx context.Context, idAfter int64) ([]string, int64, error)
	GetRepository(ctx context.Context, idOrPath string) (model.RawProject, error)
}

// Store is where crawled records and cursors go. SaveBatch must store the records and
// the cursor atomically.
type Store interface {
	GetCursor(ctx context.Context, name string) (int64, bool, error)
	SaveBatch(ctx context.Context, repos []model.FetchedRepository, cursorName string, cursorValue int64) error
}

// Options tunes a Crawler.
type Options struct {
	Concurrency   int           // detail fetches in flight at once
	Interval      time.Duration // time between cycles
	Window        time.Duration // width of one GitHub creation-date window
	Since         time.Time     // first GitHub window start when no cursor is stored
	GitlabStartID int64         // first GitLab cursor when no cursor is stored
	MaxPages      int           // GitLab pages per cycle
}

// Crawler walks both hosts and stores what it finds. Either source may be nil.
type Crawler struct {
	github GithubSource
	gitlab GitlabSource
	store  Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Crawler.
func New(gh GithubSource, gl GitlabSource, store Store, opts Options, logger *slog.Logger) *Crawler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxPages < 1 {
		opts.MaxPages = 1
	}
	return &Crawler{
		github: gh,
		gitlab: gl,
		store:  store,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Start runs a cycle immediately and then one per interval until ctx is done.
func (c *Crawler) Start(ctx context.Context) {
	c.logger.Info("Starting crawler", "interval", c.opts.Interval.String(), "concurrency", c.opts.Concurrency)
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	c.RunCycle(ctx)

	for {
		select {
		case <-ticker.C:
			c.RunCycle(ctx)
		case <-ctx.Done():
			c.logger.Info("Crawler shutting down", "reason", ctx.Err())
			return
		}
	}
}

// RunCycle crawls GitHub and then GitLab. A failure on one host does not stop the other.
func (c *Crawler) RunCycle(ctx context.Context) {
	c.logger.Info("Starting new crawl cycle")

	if c.github != nil {
		if n, err := c.CrawlGithub(ctx, c.now()); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("GitHub crawl failed", "stored", n, "error", err)
		} else {
			c.logger.Info("GitHub crawl finished", "stored", n)
		}
	}

	if c.gitlab != nil {
		if n, err := c.CrawlGitlab(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("GitLab crawl failed", "stored", n, "error", err)
		} else {
			c.logger.Info("GitLab crawl finished", "stored", n)
		}
	}
}

// CrawlGithub walks creation-date windows from the stored cursor up to until.
// A window whose search hits the result cap is halved until it fits. The cursor
// advances in the same transaction that stores the window's records.
func (c *Crawler) CrawlGithub(ctx context.Context, until time.Time) (int, error) {
	start := c.opts.Since
	if v, ok, err := c.store.GetCursor(ctx, CursorGithubCreatedBefore); err != nil {
		return 0, err
	} else if ok {
		start = time.Unix(v, 0).UTC()
	}

	total := 0
	for start.Before(until) {
		end := start.Add(c.opts.Window)
		if end.After(until) {
			end = until
		}

		names, err := c.searchWindow(ctx, start, end)
		if err != nil {
			return total, err
		}
		for len(names) >= searchResultCap && end.Sub(start) > minSearchWindow {
			end = start.Add((end.Sub(start) / 2).Truncate(time.Second))
			c.logger.Warn("Search window hit the result cap, narrowing", "host", model.HostGithub, "from", start, "to", end)
			if names, err = c.searchWindow(ctx, start, end); err != nil {
				return total, err
			}
		}

		logger := c.logger.With("host", model.HostGithub, "from", start, "to", end)
		if len(names) >= searchResultCap {
			logger.Warn("Search window is at the result cap, repositories beyond it are missed", "count", len(names))
		}
		logger.Info("Found repositories in window", "count", len(names))

		repos, err := c.fetchAll(ctx, names, func(ctx context.Context, name string) (model.FetchedRepository, error) {
			rec, err := c.github.GetRepository(ctx, name)
			return model.FetchedRepository{Record: rec}, err
		})
		if err != nil {
			return total, err
		}

		if err := c.store.SaveBatch(ctx, repos, CursorGithubCreatedBefore, end.Unix()); err != nil {
			return total, err
		}
		total += len(repos)
		start = end
	}
	return total, nil
}

// searchWindow searches [start, end). Search ranges are inclusive on both ends.
func (c *Crawler) searchWindow(ctx context.Context, start, end time.Time) ([]string, error) {
	return c.github.SearchRepositoriesCreatedBetween(ctx, start, end.Add(-time.Second))
}

// CrawlGitlab follows the keyset listing from the stored cursor for at most MaxPages
// pages, stopping early once the cursor stops moving. Each page is stored together
// with the cursor that follows it.
func (c *Crawler) CrawlGitlab(ctx context.Context) (int, error) {
	cursor := c.opts.GitlabStartID
	if v, ok, err := c.store.GetCursor(ctx, CursorGitlabIDAfter); err != nil {
		return 0, err
	} else if ok {
		cursor = v
	}

	total := 0
	for page := 0; page < c.opts.MaxPages; page++ {
		paths, next, err := c.gitlab.ListRepositoriesAfter(ctx, cursor)
		if err != nil {
			return total, err
		}
		c.logger.Info("Listed GitLab page", "id_after", cursor, "next", next, "count", len(paths))

		repos, err := c.fetchAll(ctx, paths, func(ctx context.Context, path string) (model.FetchedRepository, error) {
			raw, err := c.gitlab.GetRepository(ctx, path)
			if err != nil {
				return model.FetchedRepository{}, err
			}
			rec, err := gitlab.NormalizeProject(raw, c.now())
			if err != nil {
				return model.FetchedRepository{}, err
			}
			return model.FetchedRepository{Record: rec, Raw: raw}, nil
		})
		if err != nil {
			return total, err
		}

		if len(repos) > 0 || next != cursor {
			if err := c.store.SaveBatch(ctx, repos, CursorGitlabIDAfter, next); err != nil {
				return total, err
			}
		}
		total += len(repos)

		if next == cursor {
			break
		}
		cursor = next
	}
	return total, nil
}

// fetchAll runs fetch for every id with bounded parallelism and returns what was fetched.
// Failures specific to one repository are logged and skipped. Cancellation and errors
// that mean the host is unavailable abort the whole batch.
func (c *Crawler) fetchAll(ctx context.Context, ids []string, fetch func(context.Context, string) (model.FetchedRepository, error)) ([]model.FetchedRepository, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	fetched := make([]*model.FetchedRepository, len(ids))
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			repo, err := fetch(gctx, id)
			switch {
			case err == nil:
				fetched[i] = &repo
				return nil
			case errors.Is(err, context.Canceled) || hostUnavailable(err):
				return fmt.Errorf("fetch %s: %w", id, err)
			default:
				c.logger.Error("Skipping repository", "repo", id, "error", err)
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	repos := make([]model.FetchedRepository, 0, len(ids))
	for _, r := range fetched {
		if r != nil {
			repos = append(repos, *r)
		}
	}
	return repos, nil
}

// hostUnavailable reports whether err says the host is throttling or failing every
// request right now, as opposed to rejecting a single repository.
func hostUnavailable(err error) bool {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return true
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return transientStatus(ghErr.Response.StatusCode)
	}

	var apiErr *custom_errors.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.StatusCode)
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
