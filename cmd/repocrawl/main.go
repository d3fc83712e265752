// cmd/repocrawl/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"repo-metadata-fetcher/internal/cli"
	"repo-metadata-fetcher/internal/config"
	"repo-metadata-fetcher/internal/github"
	"repo-metadata-fetcher/internal/gitlab"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	clients := cli.Clients{
		Github: func(logger *slog.Logger) (cli.GithubAPI, error) {
			if cfg.GithubToken == "" {
				return nil, errors.New("GITHUB_TOKEN is not set")
			}
			return github.NewClient(cfg.GithubToken, cfg.GithubStarFilter, logger), nil
		},
		Gitlab: func(logger *slog.Logger) (cli.GitlabAPI, error) {
			if cfg.GitlabToken == "" {
				return nil, errors.New("GITLAB_TOKEN is not set")
			}
			return gitlab.NewClient(cfg.GitlabBaseURL, cfg.GitlabToken, cfg.GitlabStarFilter, logger), nil
		},
	}

	return cli.NewRootCommand(clients, os.Stderr).ExecuteContext(ctx)
}
