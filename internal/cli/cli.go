// internal/cli/cli.go

// Package cli implements the repocrawl command line: one-shot calls against the
// GitHub and GitLab clients with JSON output.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"repo-metadata-fetcher/internal/model"
)

// GithubAPI is what the github subcommands call.
type GithubAPI interface {
	SearchRepositoriesCreatedBetween(ctx context.Context, start, end time.Time) ([]string, error)
	GetRepository(ctx context.Context, fullName string) (*model.RepositoryRecord, error)
	GetRepositoryByID(ctx context.Context, id int64) (*model.RepositoryRecord, error)
	GetRateLimitSnapshot(ctx context.Context) (*model.RateLimitSnapshot, error)
}

// GitlabAPI is what the gitlab subcommands call.
type GitlabAPI interface {
	ListRepositoriesAfter(ctx context.Context, idAfter int64) ([]string, int64, error)
	GetRepository(ctx context.Context, idOrPath string) (model.RawProject, error)
	GetUserStatus(ctx context.Context) (map[string]any, error)
}

// Clients builds API clients on demand so that a command only needs the token of
// the host it talks to.
type Clients struct {
	Github func(logger *slog.Logger) (GithubAPI, error)
	Gitlab func(logger *slog.Logger) (GitlabAPI, error)
}

type loggerKey struct{}

func loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// NewRootCommand assembles the command tree. Logs go to errOut, results to the
// command's output stream.
func NewRootCommand(clients Clients, errOut io.Writer) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          "repocrawl",
		Short:        "Query GitHub and GitLab repository metadata",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newGithubCmd(clients))
	root.AddCommand(newGitlabCmd(clients))
	return root
}

func newGithubCmd(clients Clients) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "github",
		Short: "GitHub repository search and details",
	}

	var from, to string
	search := &cobra.Command{
		Use:   "search",
		Short: "List repositories created in a date range that match the star filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDate(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			end, err := parseDate(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			gh, err := githubClient(cmd, clients)
			if err != nil {
				return err
			}
			names, err := gh.SearchRepositoriesCreatedBetween(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), names)
		},
	}
	search.Flags().StringVar(&from, "from", "", "first creation date (YYYY-MM-DD or RFC 3339)")
	search.Flags().StringVar(&to, "to", "", "last creation date (YYYY-MM-DD or RFC 3339)")
	_ = search.MarkFlagRequired("from")
	_ = search.MarkFlagRequired("to")

	var repoID int64
	repo := &cobra.Command{
		Use:   "repo <owner/name> | --id <id>",
		Short: "Show the normalized record of one repository",
		Args: func(cmd *cobra.Command, args []string) error {
			byID := cmd.Flags().Changed("id")
			if byID && len(args) > 0 {
				return errors.New("pass either <owner/name> or --id, not both")
			}
			if !byID && len(args) != 1 {
				return errors.New("requires <owner/name> or --id")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			gh, err := githubClient(cmd, clients)
			if err != nil {
				return err
			}
			var rec *model.RepositoryRecord
			if cmd.Flags().Changed("id") {
				rec, err = gh.GetRepositoryByID(cmd.Context(), repoID)
			} else {
				rec, err = gh.GetRepository(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	repo.Flags().Int64Var(&repoID, "id", 0, "numeric GitHub repository id")

	rateLimit := &cobra.Command{
		Use:   "rate-limit",
		Short: "Show the remaining API budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gh, err := githubClient(cmd, clients)
			if err != nil {
				return err
			}
			snapshot, err := gh.GetRateLimitSnapshot(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snapshot)
		},
	}

	cmd.AddCommand(search, repo, rateLimit)
	return cmd
}

type listResult struct {
	Repositories []string `json:"repositories"`
	Next         int64    `json:"next"`
}

func newGitlabCmd(clients Clients) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gitlab",
		Short: "GitLab project listing and details",
	}

	var after int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List one keyset page of projects above the star filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gl, err := gitlabClient(cmd, clients)
			if err != nil {
				return err
			}
			repos, next, err := gl.ListRepositoriesAfter(cmd.Context(), after)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), listResult{Repositories: repos, Next: next})
		},
	}
	list.Flags().Int64Var(&after, "after", 0, "list projects with an id greater than this")

	repo := &cobra.Command{
		Use:   "repo <id-or-path>",
		Short: "Show the raw project body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gl, err := gitlabClient(cmd, clients)
			if err != nil {
				return err
			}
			project, err := gl.GetRepository(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), project)
		},
	}

	status := &cobra.Command{
		Use:   "user-status",
		Short: "Show the status of the token's user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gl, err := gitlabClient(cmd, clients)
			if err != nil {
				return err
			}
			s, err := gl.GetUserStatus(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}

	cmd.AddCommand(list, repo, status)
	return cmd
}

func githubClient(cmd *cobra.Command, clients Clients) (GithubAPI, error) {
	if clients.Github == nil {
		return nil, errors.New("github is not configured")
	}
	return clients.Github(loggerFrom(cmd.Context()))
}

func gitlabClient(cmd *cobra.Command, clients Clients) (GitlabAPI, error) {
	if clients.Gitlab == nil {
		return nil, errors.New("gitlab is not configured")
	}
	return clients.Gitlab(loggerFrom(cmd.Context()))
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
