// internal/gitlab/client.go
package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	custom_errors "repo-metadata-fetcher/internal/errors"
	"repo-metadata-fetcher/internal/model"
)

const (
	// DefaultBaseURL is the REST v4 root of gitlab.com.
	DefaultBaseURL = "https://gitlab.com/api/v4"

	pageSize    = 100
	maxAttempts = 3
	retryDelay  = 3 * time.Second

	// bounds how much of an error body ends up in a log line
	maxLoggedBody = 4096
)

// Client issues raw REST v4 requests against GitLab.
// It holds one http.Client for its lifetime and no locks; share it across
// goroutines only with your own synchronization.
type Client struct {
	http       *http.Client
	baseURL    string
	token      string
	starFilter int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewClient creates a Client. An empty baseURL selects DefaultBaseURL.
// Projects with star_count <= starFilter are dropped from listings.
func NewClient(baseURL, token string, starFilter int, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:       &http.Client{},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		starFilter: starFilter,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

type projectSummary struct {
	PathWithNamespace string `json:"path_with_namespace"`
	StarCount         int    `json:"star_count"`
}

// statusError reports a non-200 answer; it is what the retry loop retries on.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// ListRepositoriesAfter lists one keyset page of projects with id > idAfter and returns
// the paths of those above the star filter together with the cursor for the next page.
//
// Only the HTTP status is retried (3 attempts, 3s apart). Once a 200 arrives the call
// returns, even when the Link header or the body cannot be parsed: a missing next link
// leaves the cursor unchanged, which is how the end of the listing looks, and an
// unparsable body yields no repositories. A 200 with a bad payload is therefore never
// retried; callers that care must compare the returned cursor with the one they sent.
func (c *Client) ListRepositoriesAfter(ctx context.Context, idAfter int64) ([]string, int64, error) {
	params := url.Values{}
	params.Set("pagination", "keyset")
	params.Set("per_page", strconv.Itoa(pageSize))
	params.Set("order_by", "id")
	params.Set("sort", "asc")
	params.Set("id_after", strconv.FormatInt(idAfter, 10))
	endpoint := c.baseURL + "/projects?" + params.Encode()

	var (
		header     http.Header
		body       []byte
		attempts   int
		lastStatus int
	)
	operation := func() error {
		attempts++
		resp, err := c.get(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("GitLab request failed", "attempt", attempts, "error", err)
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			lastStatus = resp.StatusCode
			c.logger.Warn("GitLab API responded with unexpected status",
				"attempt", attempts, "status", resp.StatusCode, "body", truncate(data))
			return &statusError{code: resp.StatusCode}
		}
		if err != nil {
			// A 200 whose body cannot be read counts as a malformed payload, not a retry.
			c.logger.Warn("Failed to read GitLab response body", "error", err)
		}
		header = resp.Header
		body = data
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), maxAttempts-1), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Info("Retrying GitLab request", "in", wait.String(), "error", err)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, idAfter, ctxErr
		}
		return nil, idAfter, &custom_errors.APIError{
			Op:         "list projects",
			Attempts:   attempts,
			StatusCode: lastStatus,
			Err:        err,
		}
	}

	next := idAfter
	if cursor, err := nextCursor(header); err != nil {
		c.logger.Warn("Could not read next cursor, maybe we're done", "error", err, "id_after", idAfter)
		c.logger.Debug("GitLab response without usable next link", "content", truncate(body), "headers", header)
	} else if cursor <= idAfter {
		c.logger.Warn("Ignoring non-increasing next cursor", "id_after", idAfter, "next", cursor)
	} else {
		next = cursor
	}

	var projects []projectSummary
	if err := json.Unmarshal(body, &projects); err != nil {
		c.logger.Warn("Failed to decode GitLab projects", "error", err)
		projects = nil
	}

	repos := make([]string, 0, len(projects))
	for _, p := range projects {
		if p.StarCount > c.starFilter {
			repos = append(repos, p.PathWithNamespace)
		}
	}

	c.logger.Debug("Listed GitLab projects", "id_after", idAfter, "next", next, "received", len(projects), "kept", len(repos))
	return repos, next, nil
}

// GetRepository fetches a single project by numeric id or full path, with license and
// statistics expanded. The body is returned verbatim; see NormalizeProject for the
// common record shape.
func (c *Client) GetRepository(ctx context.Context, idOrPath string) (model.RawProject, error) {
	endpoint := c.baseURL + "/projects/" + url.PathEscape(idOrPath) + "?license=true&statistics=true"

	var project model.RawProject
	if err := c.getJSON(ctx, "get project", endpoint, &project); err != nil {
		return nil, err
	}
	return project, nil
}

// GetUserStatus returns the status of the user the token belongs to.
func (c *Client) GetUserStatus(ctx context.Context) (map[string]any, error) {
	var status map[string]any
	if err := c.getJSON(ctx, "get user status", c.baseURL+"/user/status", &status); err != nil {
		return nil, err
	}
	return status, nil
}

// getJSON performs a single GET without retries and decodes a 200 body into v.
func (c *Client) getJSON(ctx context.Context, op, endpoint string, v any) error {
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
		c.logger.Warn("GitLab API responded with unexpected status", "op", op, "status", resp.StatusCode, "body", string(data))
		return &custom_errors.APIError{
			Op:         op,
			Attempts:   1,
			StatusCode: resp.StatusCode,
			Err:        &statusError{code: resp.StatusCode},
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Accept", "application/json")
	return c.http.Do(req)
}

// nextCursor extracts id_after from the rel="next" entry of the Link header.
func nextCursor(h http.Header) (int64, error) {
	link, ok := nextLink(h.Values("Link"))
	if !ok {
		return 0, errors.New("no next link")
	}
	u, err := url.Parse(link)
	if err != nil {
		return 0, fmt.Errorf("parse next link %q: %w", link, err)
	}
	raw := u.Query().Get("id_after")
	if raw == "" {
		return 0, fmt.Errorf("next link %q has no id_after", link)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("next link %q: %w", link, err)
	}
	return id, nil
}

// nextLink finds the target of rel="next" in RFC 8288 Link header values.
func nextLink(values []string) (string, bool) {
	for _, value := range values {
		for _, entry := range strings.Split(value, ",") {
			parts := strings.Split(entry, ";")
			target := strings.TrimSpace(parts[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, param := range parts[1:] {
				key, val, found := strings.Cut(strings.TrimSpace(param), "=")
				if !found || !strings.EqualFold(strings.TrimSpace(key), "rel") {
					continue
				}
				for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(val), `"`)) {
					if strings.EqualFold(rel, "next") {
						return target[1 : len(target)-1], true
					}
				}
			}
		}
	}
	return "", false
}

func truncate(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "..."
	}
	return string(b)
}
