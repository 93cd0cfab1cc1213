package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pagesync/pagesync/internal/config"
	"github.com/pagesync/pagesync/internal/notion"
	"github.com/pagesync/pagesync/internal/sync"
	"github.com/pagesync/pagesync/internal/tracker"
	"github.com/pagesync/pagesync/internal/transport"
)

var syncCmd = &cobra.Command{
	Use:   "sync [project...]",
	Short: "Run a reconciliation pass for the named projects (default: all)",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&updateSchema, "update-schema", false,
		"create or fix record properties to match the configuration")
	syncCmd.Flags().BoolVar(&deleteOrphans, "delete-orphans", false,
		"delete record properties the configuration no longer names")
}

func runSync(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	keys := args
	if len(keys) == 0 {
		keys = cfg.ProjectKeys()
	}
	for _, key := range keys {
		if cfg.Projects[key] == nil {
			return fmt.Errorf("unknown project %q (configured: %v)", key, cfg.ProjectKeys())
		}
	}

	notionToken := viper.GetString("notion_token")
	if notionToken == "" {
		return errors.New("NOTION_TOKEN is not set")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := transport.NewRetrying(nil, nil, logger).Client()
	api := notion.NewClient(notionToken, httpClient)

	var failed []error
	for _, key := range keys {
		logger.Info("starting sync", "project", key, "dry", dryRun)
		if err := runProject(ctx, key, cfg.Projects[key], api, logger); err != nil {
			if ctx.Err() != nil {
				return err
			}
			logger.Error("project sync failed", "project", key, "error", err)
			failed = append(failed, fmt.Errorf("project %s: %w", key, err))
			continue
		}
		logger.Info("finished sync", "project", key)
	}
	return errors.Join(failed...)
}

func runProject(ctx context.Context, key string, project *config.Project, api *notion.Client, logger *slog.Logger) error {
	settings := make(map[string]any, len(project.Settings)+1)
	maps.Copy(settings, project.Settings)
	switch project.Tracker {
	case "github":
		if _, ok := settings["token"]; !ok {
			settings["token"] = viper.GetString("github_token")
		}
	case "bugzilla":
		if _, ok := settings["api_key"]; !ok {
			settings["api_key"] = viper.GetString("bugzilla_api_key")
		}
	}

	trk, err := tracker.New(ctx, project.Tracker, &tracker.Config{
		Dry:        dryRun,
		HTTPClient: transport.NewRetrying(nil, nil, logger).Client(),
		Logger:     logger,
		Fields:     project.BuildFields(),
		Users:      tracker.NewUserMap(project.Users),
		Settings:   settings,
	})
	if err != nil {
		return err
	}

	opts := sync.Options{
		ProjectKey: key,
		Tracker:    trk,
		Notion:     api,

		MilestonesID: project.Milestones,
		TasksID:      project.Tasks,
		SprintsID:    project.Sprints,

		MilestonesBodySync:        project.MilestonesBodySync,
		MilestonesBodySyncIfEmpty: project.MilestonesBodySyncIfEmpty,
		TasksBodySync:             project.TasksBodySync,
		MilestonesTrackerPrefix:   project.MilestonesTrackerPrefix,
		MilestonesExtraLabel:      project.MilestonesExtraLabel,
		TasksNotionPrefix:         project.TasksNotionPrefix,
		SprintsMergeByName:        project.SprintsMergeByName,
		MilestoneLabelPrefix:      project.MilestoneLabelPrefix,

		UpdateSchema:       updateSchema,
		DeleteOrphans:      deleteOrphans,
		ArchiveUnparseable: project.ArchiveUnparseable,

		Dry:    dryRun,
		Logger: logger,
	}

	if project.Mode == config.ModeLabel {
		s, err := sync.NewLabelSync(opts)
		if err != nil {
			return err
		}
		return s.Run(ctx)
	}
	s, err := sync.NewProjectSync(opts)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}
