// internal/model/models.go
package model

import "time"

// Hosts a RepositoryRecord can come from.
const (
	HostGithub = "github"
	HostGitlab = "gitlab"
)

// RepositoryRecord is the normalized metadata of a repository on either host.
// Nullable attributes are pointers so that "not reported" stays distinguishable from
// a zero value.
type RepositoryRecord struct {
	Host             string    `json:"host"`
	HostID           int64     `json:"host_id"`
	FullName         string    `json:"full_name"`
	Description      *string   `json:"description"`
	Fork             bool      `json:"fork"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Homepage         *string   `json:"homepage"`
	Size             int       `json:"size"`
	WatchersCount    int       `json:"watchers_count"`
	ForksCount       int       `json:"forks_count"`
	OpenIssuesCount  int       `json:"open_issues_count"`
	NetworkCount     int       `json:"network_count"`
	SubscribersCount int       `json:"subscribers_count"`
	Language         *string   `json:"language"`
	Archived         bool      `json:"archived"`
	Disabled         *bool     `json:"disabled"`
	OwnerLogin       string    `json:"owner_login"`
	OwnerType        string    `json:"owner_type"`
	LicenseKey       *string   `json:"license_key"`
	LicenseName      *string   `json:"license_name"`
	Timestamp        time.Time `json:"timestamp"`
}

// RawProject is a GitLab project body decoded verbatim.
type RawProject map[string]any

// FetchedRepository is a record ready to be stored, with the host's raw body when one was kept.
type FetchedRepository struct {
	Record *RepositoryRecord
	Raw    RawProject
}

// Rate is the request budget of a single GitHub rate limit resource.
type Rate struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// RateLimitSnapshot reflects the GitHub API budget at the time it was captured.
// Nothing in this module acts on it.
type RateLimitSnapshot struct {
	Core       Rate      `json:"core"`
	Search     Rate      `json:"search"`
	CapturedAt time.Time `json:"captured_at"`
}

// CrawlCursor is a named, persisted crawl position.
type CrawlCursor struct {
	Name      string    `json:"name"`
	Value     int64     `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
