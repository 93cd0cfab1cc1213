// Package config loads the TOML configuration file: the record-store
// connection and one section per sync project. Secrets (API tokens) are
// never part of the file; they come from the environment at wiring time.
package config

import (
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/pagesync/pagesync/internal/tracker"
)

// Mode selects the reconciliation strategy of a project.
type Mode string

const (
	// ModeProject syncs milestones bidirectionally and pulls their tasks.
	ModeProject Mode = "project"
	// ModeLabel mirrors every tracker issue and links milestones by label.
	ModeLabel Mode = "label"
)

// Config is the parsed configuration file.
type Config struct {
	Projects map[string]*Project `toml:"projects"`
}

// Project is one sync project: a tracker, the database ids, and the
// knobs of the engine.
type Project struct {
	Tracker string `toml:"tracker"`
	Mode    Mode   `toml:"mode"`

	Milestones string `toml:"milestones"`
	Tasks      string `toml:"tasks"`
	Sprints    string `toml:"sprints"`

	MilestonesBodySync        bool   `toml:"milestones_body_sync"`
	MilestonesBodySyncIfEmpty bool   `toml:"milestones_body_sync_if_empty"`
	TasksBodySync             bool   `toml:"tasks_body_sync"`
	MilestonesTrackerPrefix   string `toml:"milestones_tracker_prefix"`
	MilestonesExtraLabel      string `toml:"milestones_extra_label"`
	TasksNotionPrefix         string `toml:"tasks_notion_prefix"`
	SprintsMergeByName        bool   `toml:"sprints_merge_by_name"`
	MilestoneLabelPrefix      string `toml:"milestone_label_prefix"`
	ArchiveUnparseable        bool   `toml:"archive_unparseable"`

	// Fields renames record properties, keyed by the engine's field keys
	// (e.g. tasks_title = "Name"). An explicit empty string disables the
	// field.
	Fields map[string]string `toml:"fields"`

	// Statuses tunes the status model of the record schema.
	Statuses StatusConfig `toml:"statuses"`

	// Users maps tracker handles to record-store user ids.
	Users map[string]string `toml:"users"`

	// RepositoryNames renames repo namespaces in the repository select.
	RepositoryNames map[string]string `toml:"repository_names"`

	// Settings holds tracker-specific keys (base_url, repositories,
	// board ids) passed through to the adapter.
	Settings map[string]any `toml:"settings"`
}

// StatusConfig overrides the status vocabulary of the record schema.
type StatusConfig struct {
	DefaultOpen []string `toml:"default_open"` // single value; slice keeps the TOML forgiving
	Closed      []string `toml:"closed"`
	Canceled    string   `toml:"canceled"`
	InProgress  string   `toml:"in_progress"`
	Priorities  []string `toml:"priorities"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if len(cfg.Projects) == 0 {
		return nil, fmt.Errorf("config %s defines no projects", path)
	}
	for key, project := range cfg.Projects {
		if err := project.validate(); err != nil {
			return nil, fmt.Errorf("project %q: %w", key, err)
		}
	}
	return &cfg, nil
}

// ProjectKeys returns the project names, sorted.
func (c *Config) ProjectKeys() []string {
	keys := make([]string, 0, len(c.Projects))
	for key := range c.Projects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (p *Project) validate() error {
	if p.Tracker == "" {
		return fmt.Errorf("missing tracker name")
	}
	switch p.Mode {
	case "":
		p.Mode = ModeProject
	case ModeProject, ModeLabel:
	default:
		return fmt.Errorf("unknown mode %q", p.Mode)
	}
	if p.Milestones == "" || p.Tasks == "" {
		return fmt.Errorf("milestones and tasks database ids are required")
	}
	if p.Mode == ModeLabel && p.MilestoneLabelPrefix == "" {
		return fmt.Errorf("label mode requires milestone_label_prefix")
	}
	for key := range p.Fields {
		if _, ok := fieldSetters[key]; !ok {
			return fmt.Errorf("unknown field key %q", key)
		}
	}
	return nil
}

// BuildFields produces the record field configuration: stock names,
// adjusted by the tracker's conventions, then by the per-project
// overrides.
func (p *Project) BuildFields() tracker.Fields {
	f := tracker.DefaultFields()
	applyTrackerDefaults(&f, p.Tracker)

	for key, name := range p.Fields {
		fieldSetters[key](&f, name)
	}

	if len(p.Statuses.DefaultOpen) > 0 {
		f.DefaultOpenState = p.Statuses.DefaultOpen[0]
	}
	if len(p.Statuses.Closed) > 0 {
		f.ClosedStates = p.Statuses.Closed
	}
	if p.Statuses.Canceled != "" {
		f.CanceledState = p.Statuses.Canceled
	}
	if p.Statuses.InProgress != "" {
		f.InProgressState = p.Statuses.InProgress
	}
	if len(p.Statuses.Priorities) > 0 {
		f.PriorityValues = p.Statuses.Priorities
	}
	if len(p.RepositoryNames) > 0 {
		f.RepositoryMap = p.RepositoryNames
	}
	return f
}

// applyTrackerDefaults adjusts the stock field set to a tracker's
// conventions. Bugzilla schemas track review requests and use the
// bug lifecycle states for the open/closed split.
func applyTrackerDefaults(f *tracker.Fields, trackerName string) {
	if trackerName == "bugzilla" {
		f.TasksReviewURL = "Review URL"
		f.TasksWhiteboard = "Whiteboard"
		f.DefaultOpenState = "NEW"
		f.ClosedStates = []string{"RESOLVED"}
		f.InProgressState = "ASSIGNED"
	}
}

// fieldSetters maps configuration keys to field assignments.
var fieldSetters = map[string]func(*tracker.Fields, string){
	"tasks_title":              func(f *tracker.Fields, v string) { f.TasksTitle = v },
	"tasks_assignee":           func(f *tracker.Fields, v string) { f.TasksAssignee = v },
	"tasks_text_assignee":      func(f *tracker.Fields, v string) { f.TasksTextAssignee = v },
	"tasks_dates":              func(f *tracker.Fields, v string) { f.TasksDates = v },
	"tasks_planned_dates":      func(f *tracker.Fields, v string) { f.TasksPlannedDates = v },
	"tasks_open_close":         func(f *tracker.Fields, v string) { f.TasksOpenClose = v },
	"tasks_priority":           func(f *tracker.Fields, v string) { f.TasksPriority = v },
	"tasks_status":             func(f *tracker.Fields, v string) { f.TasksStatus = v },
	"tasks_milestone_relation": func(f *tracker.Fields, v string) { f.TasksMilestoneRelation = v },
	"tasks_sprint_relation":    func(f *tracker.Fields, v string) { f.TasksSprintRelation = v },
	"tasks_review_url":         func(f *tracker.Fields, v string) { f.TasksReviewURL = v },
	"tasks_labels":             func(f *tracker.Fields, v string) { f.TasksLabels = v },
	"tasks_whiteboard":         func(f *tracker.Fields, v string) { f.TasksWhiteboard = v },
	"tasks_repository":         func(f *tracker.Fields, v string) { f.TasksRepository = v },
	"milestones_title":         func(f *tracker.Fields, v string) { f.MilestonesTitle = v },
	"milestones_assignee":      func(f *tracker.Fields, v string) { f.MilestonesAssignee = v },
	"milestones_priority":      func(f *tracker.Fields, v string) { f.MilestonesPriority = v },
	"milestones_status":        func(f *tracker.Fields, v string) { f.MilestonesStatus = v },
	"milestones_dates":         func(f *tracker.Fields, v string) { f.MilestonesDates = v },
	"issue_field":              func(f *tracker.Fields, v string) { f.IssueField = v },
	"sprint_title":             func(f *tracker.Fields, v string) { f.SprintTitle = v },
	"sprint_status":            func(f *tracker.Fields, v string) { f.SprintStatus = v },
	"sprint_dates":             func(f *tracker.Fields, v string) { f.SprintDates = v },
	"sprint_tracker_id":        func(f *tracker.Fields, v string) { f.SprintTrackerID = v },
}
