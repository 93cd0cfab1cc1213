package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pagesync/pagesync/internal/notion"
	"github.com/pagesync/pagesync/internal/tracker"
)

// LabelSync mirrors every issue of the tracker's configured repositories
// into the tasks collection, no milestone links required. Issues attach
// to milestone pages through labels: a label carrying the configured
// prefix names the milestone page it belongs to.
type LabelSync struct {
	*engine

	milestonesByTitle map[string]*notion.Record
}

// NewLabelSync builds the label-based engine for one project. The
// tracker must be able to enumerate all issues.
func NewLabelSync(opts Options) (*LabelSync, error) {
	if _, ok := opts.Tracker.(tracker.AllIssuesLister); !ok {
		return nil, fmt.Errorf("tracker %q cannot list all issues", opts.Tracker.Name())
	}
	e, err := newEngine(opts)
	if err != nil {
		return nil, err
	}
	return &LabelSync{engine: e}, nil
}

// Run performs one full mirroring pass.
func (s *LabelSync) Run(ctx context.Context) error {
	now := time.Now()

	if err := s.initialize(ctx); err != nil {
		return err
	}
	if s.sprintsDB != nil {
		if err := s.syncSprints(ctx); err != nil {
			return err
		}
	}

	issues, err := s.trk.(tracker.AllIssuesLister).AllIssues(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("synchronizing tasks", "count", len(issues))

	var g group
	for _, issue := range issues {
		g.Go(func() error {
			return s.syncTask(ctx, issue, s.findTaskParents(issue), s.taskRecords[issue.Repo][issue.ID])
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return s.stampTimestamp(ctx, s.tasksDB, now)
}

// initialize validates the tasks schema and loads everything the pass
// reads: linked task records, milestone pages by title, and sprints. The
// milestones collection is not validated; only its titles are matched.
func (s *LabelSync) initialize(ctx context.Context) error {
	var g group
	g.Go(func() error {
		ok, err := s.tasksDB.ValidateSchema(ctx, s.opts.UpdateSchema, s.opts.DeleteOrphans)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("tasks schema failed to validate")
		}
		return nil
	})
	g.Go(func() error {
		records, err := s.discoverRecords(ctx, s.tasksDB, "files")
		if err != nil {
			return err
		}
		s.taskRecords = records
		return nil
	})
	g.Go(func() error { return s.loadMilestonePages(ctx) })
	if s.sprintsDB != nil {
		g.Go(func() error { return s.loadSprintRecords(ctx) })
	}
	return g.Wait()
}

func (s *LabelSync) loadMilestonePages(ctx context.Context) error {
	records, err := s.milestonesDB.ListAll(ctx, nil)
	if err != nil {
		return err
	}
	s.milestonesByTitle = make(map[string]*notion.Record, len(records))
	for _, rec := range records {
		if title := rec.TitleText(s.fields.MilestonesTitle); title != "" {
			s.milestonesByTitle[title] = rec
		}
	}
	return nil
}

// findTaskParents matches the issue's milestone labels against milestone
// page titles. Labels without a matching page are left alone; they may
// name milestones tracked elsewhere.
func (s *LabelSync) findTaskParents(issue *tracker.Issue) []string {
	var ids []string
	for _, label := range issue.Labels {
		if !strings.HasPrefix(label, s.opts.MilestoneLabelPrefix) {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(label, s.opts.MilestoneLabelPrefix))
		if rec, ok := s.milestonesByTitle[name]; ok {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}
