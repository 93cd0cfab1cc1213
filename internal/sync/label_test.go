package sync

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pagesync/pagesync/internal/notion"
	"github.com/pagesync/pagesync/internal/property"
	"github.com/pagesync/pagesync/internal/tracker"
)

func TestLabelSyncLinksMilestonesByLabel(t *testing.T) {
	store := newFakeStore()
	store.schemas["db-t"] = tasksSchema()
	store.records["db-m"] = []*notion.Record{{
		ID: "m1",
		Properties: map[string]property.Envelope{
			"Project": titleEnv("Alpha"),
		},
	}}

	trk := newFakeTracker()
	trk.issues["app#9"] = &tracker.Issue{
		IssueRef:  tracker.IssueRef{Repo: "app", ID: "9"},
		Title:     "Polish the onboarding",
		Labels:    []string{"ms: Alpha", "enhancement"},
		URL:       "https://trk.test/app/9",
		CreatedAt: time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC),
	}

	opts := testOptions(store, trk)
	opts.MilestoneLabelPrefix = "ms:"
	s, err := NewLabelSync(opts)
	if err != nil {
		t.Fatalf("NewLabelSync: %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(store.created) != 1 {
		t.Fatalf("expected one task created, got %d", len(store.created))
	}
	if ids := relationIDs(store.created[0].Properties, "Project"); len(ids) != 1 || ids[0] != "m1" {
		t.Errorf("label must link the task to the milestone page, got %v", ids)
	}

	if !strings.Contains(store.descriptions["db-t"], "Last Issue Tracker Sync (proj):") {
		t.Errorf("tasks description not stamped: %q", store.descriptions["db-t"])
	}
	if store.descriptions["db-m"] != "" {
		t.Errorf("the milestones collection is read-only here, got stamp %q", store.descriptions["db-m"])
	}
}

func TestLabelSyncIgnoresUnknownMilestoneLabels(t *testing.T) {
	store := newFakeStore()
	store.schemas["db-t"] = tasksSchema()

	trk := newFakeTracker()
	trk.issues["app#9"] = &tracker.Issue{
		IssueRef:  tracker.IssueRef{Repo: "app", ID: "9"},
		Title:     "Polish the onboarding",
		Labels:    []string{"ms: Elsewhere"},
		URL:       "https://trk.test/app/9",
		CreatedAt: time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC),
	}

	opts := testOptions(store, trk)
	opts.MilestoneLabelPrefix = "ms:"
	s, err := NewLabelSync(opts)
	if err != nil {
		t.Fatalf("NewLabelSync: %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(store.created) != 1 {
		t.Fatalf("expected one task created, got %d", len(store.created))
	}
	if ids := relationIDs(store.created[0].Properties, "Project"); len(ids) != 0 {
		t.Errorf("a label naming no known page must not link, got %v", ids)
	}
}

// rejectingTracker cannot enumerate issues; NewLabelSync must refuse it.
type rejectingTracker struct{ *fakeTracker }

func (rejectingTracker) AllIssues() {} // wrong shape on purpose

func TestLabelSyncRequiresAllIssues(t *testing.T) {
	opts := testOptions(newFakeStore(), newFakeTracker())
	opts.Tracker = rejectingTracker{newFakeTracker()}
	if _, err := NewLabelSync(opts); err == nil {
		t.Fatal("a tracker without issue enumeration must be rejected")
	}
}
