package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/pagesync/pagesync/internal/notion"
	"github.com/pagesync/pagesync/internal/property"
	"github.com/pagesync/pagesync/internal/tracker"
)

// ProjectSync reconciles a Milestones/Tasks/Sprints record set with the
// tracker. Milestones are authoritative in the record store and push to
// the tracker; tasks are authoritative in the tracker and pull into the
// record store. Sprints mirror the tracker's iterations.
type ProjectSync struct {
	*engine

	milestoneRecords map[string]map[string]*notion.Record
}

// NewProjectSync builds the engine for one project.
func NewProjectSync(opts Options) (*ProjectSync, error) {
	e, err := newEngine(opts)
	if err != nil {
		return nil, err
	}
	return &ProjectSync{engine: e}, nil
}

// Run performs one full reconciliation pass. Mutations already applied
// when an error aborts the pass are left in place; re-running is the
// recovery path, every step is idempotent.
func (s *ProjectSync) Run(ctx context.Context) error {
	now := time.Now()

	if err := s.initialize(ctx); err != nil {
		return err
	}

	if s.sprintsDB != nil {
		if err := s.syncSprints(ctx); err != nil {
			return err
		}
	}

	collected, err := s.syncMilestones(ctx)
	if err != nil {
		return err
	}
	if err := s.collectAdditional(ctx, collected); err != nil {
		return err
	}
	if err := s.syncTasks(ctx, collected); err != nil {
		return err
	}

	var g group
	g.Go(func() error { return s.stampTimestamp(ctx, s.milestonesDB, now) })
	g.Go(func() error { return s.stampTimestamp(ctx, s.tasksDB, now) })
	if s.sprintsDB != nil {
		g.Go(func() error { return s.stampTimestamp(ctx, s.sprintsDB, now) })
	}
	return g.Wait()
}

// initialize validates the schemas and discovers linked records, all in
// parallel.
func (s *ProjectSync) initialize(ctx context.Context) error {
	var g group
	g.Go(func() error {
		ok, err := s.milestonesDB.ValidateSchema(ctx, s.opts.UpdateSchema, s.opts.DeleteOrphans)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("milestones schema failed to validate")
		}
		return nil
	})
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
		records, err := s.discoverRecords(ctx, s.milestonesDB, "url")
		if err != nil {
			return err
		}
		s.milestoneRecords = records
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
	if s.sprintsDB != nil {
		g.Go(func() error { return s.loadSprintRecords(ctx) })
	}
	return g.Wait()
}

// syncMilestones pushes every linked milestone to the tracker and
// returns the task set to reconcile afterwards: the already-linked task
// records plus every sub-issue of a milestone.
func (s *ProjectSync) syncMilestones(ctx context.Context) (map[string]map[string]*notion.Record, error) {
	collected := make(map[string]map[string]*notion.Record, len(s.taskRecords))
	for repo, entries := range s.taskRecords {
		collected[repo] = make(map[string]*notion.Record, len(entries))
		for id, rec := range entries {
			collected[repo][id] = rec
		}
	}

	for repo, entries := range s.milestoneRecords {
		refs := make([]tracker.IssueRef, 0, len(entries))
		for id := range entries {
			refs = append(refs, tracker.IssueRef{Repo: repo, ID: id})
		}
		issues, err := s.trk.GetIssuesByNumber(ctx, refs, true)
		if err != nil {
			return nil, err
		}
		s.logger.Info("synchronizing milestones", "repo", repo, "count", len(entries))

		var g group
		for _, ref := range refs {
			issue := issues[ref.Key()]
			if issue == nil {
				s.logger.Warn("milestone issue not found on tracker", "issue", ref.Key())
				continue
			}
			rec := entries[ref.ID]
			g.Go(func() error { return s.syncMilestone(ctx, issue, rec) })

			for _, sub := range issue.SubIssues {
				if collected[sub.Repo] == nil {
					collected[sub.Repo] = make(map[string]*notion.Record)
				}
				if _, ok := collected[sub.Repo][sub.ID]; !ok {
					collected[sub.Repo][sub.ID] = nil
				}
			}
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return collected, nil
}

// collectAdditional lets the tracker add issues beyond what records and
// milestones reference, e.g. board items without a milestone.
func (s *ProjectSync) collectAdditional(ctx context.Context, collected map[string]map[string]*notion.Record) error {
	seen := make(map[string]map[string]bool, len(collected))
	for repo, entries := range collected {
		seen[repo] = make(map[string]bool, len(entries))
		for id := range entries {
			seen[repo][id] = true
		}
	}
	if err := s.trk.CollectAdditionalTasks(ctx, seen); err != nil {
		return err
	}
	for repo, ids := range seen {
		for id := range ids {
			if collected[repo] == nil {
				collected[repo] = make(map[string]*notion.Record)
			}
			if _, ok := collected[repo][id]; !ok {
				collected[repo][id] = nil
			}
		}
	}
	return nil
}

func (s *ProjectSync) syncTasks(ctx context.Context, collected map[string]map[string]*notion.Record) error {
	for repo, entries := range collected {
		refs := make([]tracker.IssueRef, 0, len(entries))
		for id := range entries {
			refs = append(refs, tracker.IssueRef{Repo: repo, ID: id})
		}
		issues, err := s.trk.GetIssuesByNumber(ctx, refs, false)
		if err != nil {
			return err
		}
		s.logger.Info("synchronizing tasks", "repo", repo, "count", len(issues))

		var g group
		for _, issue := range issues {
			g.Go(func() error {
				return s.syncTask(ctx, issue, s.findTaskParents(issue), entries[issue.ID])
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// findTaskParents resolves an issue's tracker parents to milestone
// record ids; parents without a linked milestone record are dropped.
func (s *ProjectSync) findTaskParents(issue *tracker.Issue) []string {
	var ids []string
	for _, parent := range issue.Parents {
		if rec := s.milestoneRecords[parent.Repo][parent.ID]; rec != nil {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

// syncMilestone builds the desired tracker state of one milestone from
// its record and pushes it. The tracker adapter diffs field by field;
// the comparison here only drives logging.
func (s *ProjectSync) syncMilestone(ctx context.Context, issue *tracker.Issue, rec *notion.Record) error {
	f := s.fields

	body := issue.Description
	if s.opts.MilestonesBodySync || (s.opts.MilestonesBodySyncIfEmpty && issue.Description == "") {
		blocks, err := s.milestonesDB.PageBlocks(ctx, rec.ID)
		if err != nil {
			return err
		}
		converter := notion.MarkdownConverter{StripImages: true, Mention: func(userID string) string {
			return s.trackerMention(ctx, userID)
		}}
		body = converter.Convert(blocks)
	}

	// Assignees added on the tracker side without a record identity stay
	// on the issue; the record's assignee list joins them.
	var assignees []tracker.User
	for _, user := range issue.Assignees {
		if user.RecordUserID == "" {
			assignees = append(assignees, user)
		}
	}
	for _, userID := range rec.PeopleIDs(f.MilestonesAssignee) {
		user := s.trk.Users().ByRecord(userID)
		if !tracker.ContainsUser(assignees, user) {
			assignees = append(assignees, user)
		}
	}

	labels := append([]string(nil), issue.Labels...)
	if s.opts.MilestonesExtraLabel != "" && !issue.HasLabel(s.opts.MilestonesExtraLabel) {
		labels = append(labels, s.opts.MilestonesExtraLabel)
	}

	startStr, endStr := rec.DateValues(f.MilestonesDates)

	desired := issue.Clone()
	desired.Title = s.opts.MilestonesTrackerPrefix + rec.TitleText(f.MilestonesTitle)
	desired.Description = body
	desired.State = rec.StatusName(f.MilestonesStatus)
	desired.Priority = rec.SelectName(f.MilestonesPriority)
	desired.Assignees = assignees
	desired.Labels = labels
	desired.RecordURL = rec.URL
	desired.StartDate = parseStoredDate(startStr)
	desired.EndDate = parseStoredDate(endStr)

	if !milestoneChanged(issue, desired) {
		s.logger.Debug("unchanged milestone", "issue", issue.Key(), "title", issue.Title)
		return nil
	}
	s.logger.Info("updating milestone", "issue", issue.Key(), "title", issue.Title, "record", rec.URL)
	if err := s.trk.UpdateMilestoneIssue(ctx, issue, desired); err != nil {
		return fmt.Errorf("milestone %s: %w", issue.Key(), err)
	}
	return nil
}

// trackerMention maps a record user id to a tracker mention for body
// conversion. Unmapped users get "" so the converter falls back to
// non-pinging plain text.
func (s *ProjectSync) trackerMention(ctx context.Context, userID string) string {
	user := s.trk.Users().ByRecord(userID)
	if user.TrackerHandle == "" {
		return ""
	}
	return s.trk.Mention(ctx, user.TrackerHandle)
}

func milestoneChanged(old, new *tracker.Issue) bool {
	if old.Title != new.Title ||
		old.Description != new.Description ||
		old.State != new.State ||
		old.Priority != new.Priority ||
		old.RecordURL != new.RecordURL {
		return true
	}
	if !sameDate(old.StartDate, new.StartDate) || !sameDate(old.EndDate, new.EndDate) {
		return true
	}
	if !sameStringSet(old.Labels, new.Labels) {
		return true
	}
	if len(old.Assignees) != len(new.Assignees) {
		return true
	}
	for _, user := range new.Assignees {
		if !tracker.ContainsUser(old.Assignees, user) {
			return true
		}
	}
	return false
}

func sameDate(a, b *property.Date) bool {
	if a == nil || b == nil {
		return (a == nil || a.Time.IsZero()) && (b == nil || b.Time.IsZero())
	}
	return a.Time.Equal(b.Time)
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if !set[s] {
			return false
		}
	}
	return true
}
