// internal/gitlab/normalize.go
package gitlab

import (
	"encoding/json"
	"fmt"
	"time"

	"repo-metadata-fetcher/internal/model"
)

type rawProject struct {
	ID                int64           `json:"id"`
	PathWithNamespace string          `json:"path_with_namespace"`
	Description       *string         `json:"description"`
	ForkedFromProject json.RawMessage `json:"forked_from_project"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         *time.Time      `json:"updated_at"`
	LastActivityAt    time.Time       `json:"last_activity_at"`
	WebURL            *string         `json:"web_url"`
	StarCount         int             `json:"star_count"`
	ForksCount        int             `json:"forks_count"`
	OpenIssuesCount   int             `json:"open_issues_count"`
	Archived          bool            `json:"archived"`
	Namespace         struct {
		FullPath string `json:"full_path"`
		Kind     string `json:"kind"`
	} `json:"namespace"`
	License *struct {
		Key  *string `json:"key"`
		Name *string `json:"name"`
	} `json:"license"`
	Statistics *struct {
		RepositorySize int64 `json:"repository_size"`
	} `json:"statistics"`
}

// NormalizeProject maps a project body from GetRepository onto the common record.
// GitLab reports no primary language or disabled flag, so those stay nil; stars are
// reported as watchers and repository_size (bytes) is converted to KB.
func NormalizeProject(raw model.RawProject, capturedAt time.Time) (*model.RepositoryRecord, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode project: %w", err)
	}
	var p rawProject
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	if p.ID == 0 || p.PathWithNamespace == "" {
		return nil, fmt.Errorf("project body lacks id or path_with_namespace")
	}

	rec := &model.RepositoryRecord{
		Host:            model.HostGitlab,
		HostID:          p.ID,
		FullName:        p.PathWithNamespace,
		Description:     p.Description,
		Fork:            len(p.ForkedFromProject) > 0 && string(p.ForkedFromProject) != "null",
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.LastActivityAt,
		Homepage:        p.WebURL,
		WatchersCount:   p.StarCount,
		ForksCount:      p.ForksCount,
		OpenIssuesCount: p.OpenIssuesCount,
		Archived:        p.Archived,
		OwnerLogin:      p.Namespace.FullPath,
		OwnerType:       p.Namespace.Kind,
		Timestamp:       capturedAt,
	}
	if p.UpdatedAt != nil {
		rec.UpdatedAt = *p.UpdatedAt
	}
	if p.Statistics != nil {
		rec.Size = int(p.Statistics.RepositorySize / 1024)
	}
	if p.License != nil {
		rec.LicenseKey = p.License.Key
		rec.LicenseName = p.License.Name
	}

	return rec, nil
}
