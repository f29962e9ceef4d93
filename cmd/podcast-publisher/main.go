package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"podcast-publisher/internal/config"
	"podcast-publisher/internal/feed"
	"podcast-publisher/internal/metadata"
	"podcast-publisher/internal/publisher"
	"podcast-publisher/internal/staging"
	"podcast-publisher/internal/vcs"
)

var version = "0.1.0"

func main() {
	logger := log.New(os.Stdout, "podcast-publisher ", log.LstdFlags|log.Lmsgprefix)
	if err := newRootCmd(logger).Execute(); err != nil {
		logger.Printf("%s", diagnose(err))
		os.Exit(1)
	}
}

func newRootCmd(logger *log.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "podcast-publisher",
		Short:         "Publish staged audio files to a static podcast feed",
		Long:          "Moves new audio files from the staging directory into the published tree, adds them to feed.xml and pushes the result with git.",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			_, err = buildPublisher(cfg, logger).Run(ctx)
			return err
		},
	}

	rootCmd.SetVersionTemplate("podcast-publisher version {{.Version}}\n")
	rootCmd.AddCommand(newWatchCmd(logger))

	return rootCmd
}

func newWatchCmd(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Publish whenever new files land in the staging directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pub := buildPublisher(cfg, logger)
			run := func() error {
				_, err := pub.Run(ctx)
				if err != nil {
					logger.Printf("%s", diagnose(err))
				}
				return err
			}

			// The first run creates the staging directory when it is missing.
			_ = run()

			watcher, err := staging.NewWatcher(cfg.StagingDir, cfg.RefreshDebounce, run, logger)
			if err != nil {
				return fmt.Errorf("watch %s: %w", cfg.StagingDir, err)
			}
			defer func() {
				if err := watcher.Close(); err != nil {
					logger.Printf("error closing watcher: %v", err)
				}
			}()

			logger.Printf("watching %s (feed: %s)", cfg.StagingDir, cfg.FeedFile)
			<-ctx.Done()
			logger.Println("shutdown complete")
			return nil
		},
	}
}

func buildPublisher(cfg config.Config, logger *log.Logger) *publisher.Publisher {
	var git publisher.VersionControl
	if cfg.GitEnabled {
		git = vcs.NewGit(cfg.PublishDir,
			vcs.WithBinary(cfg.GitBinary),
			vcs.WithRemote(cfg.GitRemote, cfg.GitBranch),
			vcs.WithLogger(logger),
		)
	}

	opts := publisher.Options{
		PublishDir: cfg.PublishDir,
		StagingDir: cfg.StagingDir,
		FeedFile:   cfg.FeedFile,
		Render: feed.RenderOptions{
			BaseURL: cfg.BaseURL,
			Author:  cfg.Feed.Author,
		},
		Channel: feed.ChannelMetadata{
			Title:       cfg.Feed.Title,
			Link:        cfg.BaseURL,
			Description: cfg.Feed.Description,
			Language:    cfg.Feed.Language,
			Author:      cfg.Feed.Author,
			FeedURL:     feedURL(cfg),
		},
		PruneMissing: cfg.PruneMissing,
	}

	return publisher.New(opts, metadata.NewReader(cfg.Extensions), git, logger)
}

// feedURL is the public URL of the feed file, which normally sits inside the
// published tree.
func feedURL(cfg config.Config) string {
	rel, err := filepath.Rel(cfg.PublishDir, cfg.FeedFile)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(cfg.FeedFile)
	}
	return cfg.BaseURL + filepath.ToSlash(rel)
}

// diagnose prefixes err with the kind of failure so the operator knows which
// step stopped the run.
func diagnose(err error) string {
	switch {
	case errors.Is(err, feed.ErrMalformedFeed):
		return fmt.Sprintf("malformed feed: %v", err)
	case errors.Is(err, feed.ErrDuplicateGUID):
		return fmt.Sprintf("duplicate episode: %v", err)
	case errors.Is(err, metadata.ErrUnreadableMedia):
		return fmt.Sprintf("unreadable audio: %v", err)
	case errors.Is(err, staging.ErrIOFailure):
		return fmt.Sprintf("file error: %v", err)
	case errors.Is(err, vcs.ErrVCSFailure):
		return fmt.Sprintf("git error (feed updated locally, not pushed): %v", err)
	default:
		return fmt.Sprintf("error: %v", err)
	}
}
