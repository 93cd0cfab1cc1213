// Package sync contains the reconciliation engines. ProjectSync keeps a
// Milestones/Tasks/Sprints record set and an issue tracker consistent:
// milestones push record state to the tracker, tasks pull tracker state
// into records. LabelSync is the flat variant that mirrors every issue
// of the configured repositories and links milestones through labels.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pagesync/pagesync/internal/notion"
	"github.com/pagesync/pagesync/internal/property"
	"github.com/pagesync/pagesync/internal/tracker"
)

// taskBodyWarning is appended to the body of newly created task records.
const taskBodyWarning = "ℹ️ _This task synchronizes with %s. Any changes you make here will be overwritten._"

// lastSyncMessage is the timestamp line stamped into each collection
// description after a pass.
const lastSyncMessage = "Last Issue Tracker Sync (%s): %s"

// MissingIdentityLinkError reports a record whose issue link is present
// but unusable: no tracker recognizes it. The engine logs these (or
// archives the record, when configured) and continues.
type MissingIdentityLinkError struct {
	RecordID string
	URL      string
}

func (e *MissingIdentityLinkError) Error() string {
	return fmt.Sprintf("record %s has unparseable issue link %q", e.RecordID, e.URL)
}

// SprintMergeConflictError reports a merge-by-name hit whose stored
// dates disagree with the tracker sprint. Merging would silently move a
// sprint, so this is fatal.
type SprintMergeConflictError struct {
	Name   string
	Field  string // "start" or "end"
	Stored string
	Wanted string
}

func (e *SprintMergeConflictError) Error() string {
	return fmt.Sprintf("could not merge sprint %q, %s dates mismatch: %s != %s",
		e.Name, e.Field, e.Stored, e.Wanted)
}

// Options configures a sync engine for one project.
type Options struct {
	ProjectKey string
	Tracker    tracker.Tracker
	Notion     notion.API

	MilestonesID string
	TasksID      string
	SprintsID    string // empty disables sprint syncing

	// Body sync is expensive (one content fetch per page); both default
	// off.
	MilestonesBodySync        bool
	MilestonesBodySyncIfEmpty bool
	TasksBodySync             bool

	MilestonesTrackerPrefix string
	MilestonesExtraLabel    string
	TasksNotionPrefix       string

	SprintsMergeByName bool

	// MilestoneLabelPrefix links tasks to milestones through labels;
	// LabelSync only.
	MilestoneLabelPrefix string

	UpdateSchema  bool
	DeleteOrphans bool
	// ArchiveUnparseable archives records whose issue link no tracker
	// recognizes instead of just logging them.
	ArchiveUnparseable bool

	Dry    bool
	Logger *slog.Logger
}

// engine holds the state shared by both sync variants.
type engine struct {
	opts   Options
	trk    tracker.Tracker
	fields *tracker.Fields
	logger *slog.Logger
	dry    bool

	milestonesDB *notion.Database
	tasksDB      *notion.Database
	sprintsDB    *notion.Database

	// Populated during the discovery phase.
	taskRecords map[string]map[string]*notion.Record // repo -> issue id -> record

	sprintsByID    map[string]*notion.Record // tracker sprint id -> record
	sprintsByTitle map[string]*notion.Record
}

func newEngine(opts Options) (*engine, error) {
	if opts.Tracker == nil {
		return nil, errors.New("sync requires a tracker")
	}
	if opts.MilestonesID == "" || opts.TasksID == "" {
		return nil, errors.New("sync requires milestones and tasks database ids")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sync", "project", opts.ProjectKey)

	e := &engine{
		opts:   opts,
		trk:    opts.Tracker,
		fields: opts.Tracker.Fields(),
		logger: logger,
		dry:    opts.Dry,
	}

	e.milestonesDB = notion.NewDatabase(opts.Notion, opts.MilestonesID,
		e.milestoneDescriptors(), opts.Dry, logger)

	e.tasksDB = notion.NewDatabase(opts.Notion, opts.TasksID, e.taskDescriptors(), opts.Dry, logger)

	if opts.SprintsID != "" {
		e.sprintsDB = notion.NewDatabase(opts.Notion, opts.SprintsID, []*property.Descriptor{
			property.RichText(e.fields.SprintTrackerID),
			property.Title(e.fields.SprintTitle),
			property.Status(e.fields.SprintStatus),
			property.DateProp(e.fields.SprintDates),
		}, opts.Dry, logger)
	}
	return e, nil
}

// milestoneDescriptors builds the milestones-collection property set.
// The engine only ever reads these (the issue link drives discovery),
// but schema validation still needs the full set so orphan deletion
// cannot misfire.
func (e *engine) milestoneDescriptors() []*property.Descriptor {
	f := e.fields
	props := []*property.Descriptor{
		property.URL(f.IssueField),
		property.Title(f.MilestonesTitle),
	}
	addIf := func(name string, desc func(string) *property.Descriptor) {
		if name != "" {
			props = append(props, desc(name))
		}
	}
	addIf(f.MilestonesStatus, property.Status)
	addIf(f.MilestonesAssignee, property.People)
	addIf(f.MilestonesDates, property.DateProp)
	if f.MilestonesPriority != "" {
		props = append(props, property.Select(f.MilestonesPriority, f.PriorityValues))
	}
	return props
}

// taskDescriptors builds the tasks-collection property set from the
// field configuration. An empty field name disables the property.
func (e *engine) taskDescriptors() []*property.Descriptor {
	f := e.fields
	props := []*property.Descriptor{
		property.Relation(f.TasksMilestoneRelation, e.opts.MilestonesID, true),
		property.Title(f.TasksTitle),
		property.Files(f.IssueField),
	}
	addIf := func(name string, desc func(string) *property.Descriptor) {
		if name != "" {
			props = append(props, desc(name))
		}
	}
	addIf(f.TasksStatus, property.Status)
	addIf(f.TasksAssignee, property.People)
	addIf(f.TasksTextAssignee, property.RichTextSpaceSet)
	addIf(f.TasksReviewURL, property.Files)
	addIf(f.TasksWhiteboard, property.RichText)
	addIf(f.TasksDates, property.DateProp)
	addIf(f.TasksPlannedDates, property.DateProp)
	addIf(f.TasksOpenClose, property.DateProp)
	if f.TasksPriority != "" {
		props = append(props, property.Select(f.TasksPriority, f.PriorityValues))
	}
	if f.TasksLabels != "" {
		// No fixed option list: the store accumulates labels as they appear.
		props = append(props, property.MultiSelect(f.TasksLabels, nil))
	}
	if f.TasksRepository != "" {
		props = append(props, property.Select(f.TasksRepository, nil))
	}
	if e.opts.SprintsID != "" && f.TasksSprintRelation != "" {
		props = append(props, property.Relation(f.TasksSprintRelation, e.opts.SprintsID, true))
	}
	return props
}

// group runs phase members concurrently and joins every error: one
// failing member never hides what its siblings found.
type group struct {
	wg sync.WaitGroup
	mu sync.Mutex

	errs []error
}

func (g *group) Go(fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(); err != nil {
			g.mu.Lock()
			g.errs = append(g.errs, err)
			g.mu.Unlock()
		}
	}()
}

func (g *group) Wait() error {
	g.wg.Wait()
	return errors.Join(g.errs...)
}

// discoverRecords finds all records carrying a recognized issue link,
// keyed repo -> issue id. linkKind is the wire type of the issue-link
// property: "url" for milestones, "files" for tasks.
func (e *engine) discoverRecords(ctx context.Context, db *notion.Database, linkKind string) (map[string]map[string]*notion.Record, error) {
	filter := map[string]any{
		"property": e.fields.IssueField,
		linkKind:   map[string]any{"is_not_empty": true},
	}
	records, err := db.ListAll(ctx, filter)
	if err != nil {
		return nil, err
	}

	repos := make(map[string]map[string]*notion.Record)
	for _, rec := range records {
		var link string
		if linkKind == "files" {
			link = rec.FirstFileURL(e.fields.IssueField)
		} else {
			link = rec.URLValue(e.fields.IssueField)
		}
		if link == "" {
			continue
		}

		ref := e.trk.ParseIssueRef(link)
		if ref == nil {
			if err := e.handleUnparseableLink(ctx, db, rec, link); err != nil {
				return nil, err
			}
			continue
		}
		if !e.trk.IsRepoAllowed(ref.Repo) {
			continue
		}
		if repos[ref.Repo] == nil {
			repos[ref.Repo] = make(map[string]*notion.Record)
		}
		repos[ref.Repo][ref.ID] = rec
	}
	return repos, nil
}

func (e *engine) handleUnparseableLink(ctx context.Context, db *notion.Database, rec *notion.Record, link string) error {
	linkErr := &MissingIdentityLinkError{RecordID: rec.ID, URL: link}
	if !e.opts.ArchiveUnparseable {
		e.logger.Warn("skipping record", "error", linkErr)
		return nil
	}
	e.logger.Warn("archiving record", "error", linkErr)
	return db.Archive(ctx, rec.ID)
}

// loadSprintRecords lists the sprint collection and indexes it two ways:
// by every tracker id in the id property (newline-joined after merges)
// and by title.
func (e *engine) loadSprintRecords(ctx context.Context) error {
	records, err := e.sprintsDB.ListAll(ctx, nil)
	if err != nil {
		return err
	}
	e.sprintsByID = make(map[string]*notion.Record)
	e.sprintsByTitle = make(map[string]*notion.Record)
	for _, rec := range records {
		for _, id := range strings.Split(rec.RichTextValue(e.fields.SprintTrackerID), "\n") {
			if id != "" {
				e.sprintsByID[id] = rec
			}
		}
		if title := rec.TitleText(e.fields.SprintTitle); title != "" {
			e.sprintsByTitle[title] = rec
		}
	}
	return nil
}

// syncSprints mirrors the tracker's sprints into the sprint collection.
func (e *engine) syncSprints(ctx context.Context) error {
	sprints, err := e.trk.GetSprints(ctx)
	if err != nil {
		return err
	}
	for _, sprint := range sprints {
		if err := e.syncSprint(ctx, sprint); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) syncSprint(ctx context.Context, sprint *tracker.Sprint) error {
	dates := &property.DateRange{
		Start: property.NewDate(sprint.StartDate),
		End:   property.NewDate(sprint.EndDate),
	}
	fields := map[string]any{
		e.fields.SprintTitle:  sprint.Name,
		e.fields.SprintDates:  dates,
		e.fields.SprintStatus: string(sprint.Status),
	}

	if rec, ok := e.sprintsByID[sprint.ID]; ok {
		changed, err := e.sprintsDB.Update(ctx, rec, fields)
		if err != nil {
			return err
		}
		if changed {
			e.logger.Info("updated sprint", "sprint", sprint.Name, "id", sprint.ID)
		}
		return nil
	}

	if e.opts.SprintsMergeByName {
		if rec, ok := e.sprintsByTitle[sprint.Name]; ok {
			return e.mergeSprint(ctx, sprint, rec)
		}
	}

	e.logger.Info("creating sprint", "sprint", sprint.Name,
		"start", sprint.StartDate.Format("2006-01-02"), "end", sprint.EndDate.Format("2006-01-02"))
	fields[e.fields.SprintTrackerID] = sprint.ID
	rec, err := e.sprintsDB.Create(ctx, fields)
	if err != nil {
		return err
	}
	e.sprintsByID[sprint.ID] = rec
	return nil
}

// mergeSprint attaches a tracker sprint to an existing record of the
// same title, e.g. when two boards run the same iteration. The record's
// dates must match exactly; a mismatch means the name collision is
// accidental.
func (e *engine) mergeSprint(ctx context.Context, sprint *tracker.Sprint, rec *notion.Record) error {
	storedStart, storedEnd := rec.DateValues(e.fields.SprintDates)
	wantStart := sprint.StartDate.Format("2006-01-02")
	wantEnd := sprint.EndDate.Format("2006-01-02")
	if storedStart != wantStart {
		return &SprintMergeConflictError{Name: sprint.Name, Field: "start", Stored: storedStart, Wanted: wantStart}
	}
	if storedEnd != wantEnd {
		return &SprintMergeConflictError{Name: sprint.Name, Field: "end", Stored: storedEnd, Wanted: wantEnd}
	}

	ids := strings.Split(rec.RichTextValue(e.fields.SprintTrackerID), "\n")
	e.logger.Info("merging sprint", "sprint", sprint.Name, "id", sprint.ID, "with", strings.Join(ids, ","))
	ids = append(ids, sprint.ID)
	if _, err := e.sprintsDB.Update(ctx, rec, map[string]any{
		e.fields.SprintTrackerID: strings.Join(ids, "\n"),
	}); err != nil {
		return err
	}
	e.sprintsByID[sprint.ID] = rec
	return nil
}

// taskFields builds the desired record state for one tracker issue.
// old is the existing record, nil on create; some fields (status, the
// planned dates floor) depend on it.
func (e *engine) taskFields(issue *tracker.Issue, parentIDs []string, old *notion.Record) map[string]any {
	f := e.fields
	fields := map[string]any{
		f.TasksTitle: e.trk.TaskTitle(e.opts.TasksNotionPrefix, issue),
		f.IssueField: []property.FileRef{
			{Name: e.trk.FormatIssueRefShort(issue), URL: issue.URL},
		},
		f.TasksMilestoneRelation: parentIDs,
	}
	setIf := func(name string, value any) {
		if name != "" {
			fields[name] = value
		}
	}

	// Assignees: the people property only takes mapped identities; the
	// text property carries every tracker handle.
	var recordUsers, handles []string
	for _, user := range issue.Assignees {
		if user.RecordUserID != "" {
			recordUsers = append(recordUsers, user.RecordUserID)
		}
		if user.TrackerHandle != "" {
			handles = append(handles, user.TrackerHandle)
		}
	}
	setIf(f.TasksAssignee, recordUsers)
	setIf(f.TasksTextAssignee, strings.Join(handles, " "))

	setIf(f.TasksPriority, issue.Priority)

	prevStatus := ""
	if old != nil {
		prevStatus = old.StatusName(f.TasksStatus)
	}
	status := tracker.DeriveStatus(issue.State, prevStatus, issue.ClosedAt != nil, f)
	setIf(f.TasksStatus, status)

	var review []property.FileRef
	if issue.ReviewURL != "" {
		review = []property.FileRef{
			{Name: e.trk.FormatReviewRefShort(issue.ReviewURL), URL: issue.ReviewURL},
		}
	}
	setIf(f.TasksReviewURL, review)

	setIf(f.TasksLabels, issue.Labels)
	setIf(f.TasksWhiteboard, issue.Whiteboard)
	setIf(f.TasksRepository, f.MappedRepository(issue.Repo))

	setIf(f.TasksDates, e.taskDates(issue, status, old))
	if f.TasksOpenClose != "" {
		openClose := &property.DateRange{Start: property.NewDateTime(issue.CreatedAt)}
		if issue.ClosedAt != nil {
			openClose.End = property.NewDateTime(*issue.ClosedAt)
		}
		fields[f.TasksOpenClose] = openClose
	}

	if e.sprintsDB != nil && f.TasksSprintRelation != "" {
		var sprintIDs []string
		if issue.Sprint != nil {
			if rec, ok := e.sprintsByTitle[issue.Sprint.Name]; ok {
				sprintIDs = []string{rec.ID}
			}
		}
		fields[f.TasksSprintRelation] = sprintIDs
	}

	return fields
}

// taskDates decides the date range of a task. Sprint dates win; explicit
// issue dates come next, floored at the creation date and any manually
// planned start; a closed dateless issue spans creation to close.
func (e *engine) taskDates(issue *tracker.Issue, status string, old *notion.Record) *property.DateRange {
	var plannedStart *property.Date
	if e.fields.TasksPlannedDates != "" && old != nil {
		if start, _ := old.DateValues(e.fields.TasksPlannedDates); start != "" {
			plannedStart = parseStoredDate(start)
		}
	}

	var start, end *property.Date
	switch {
	case issue.Sprint != nil:
		start = property.NewDate(issue.Sprint.StartDate)
		end = property.NewDate(issue.Sprint.EndDate)
	case issue.StartDate != nil || issue.EndDate != nil:
		start = laterDate(issue.StartDate, property.NewDateTime(issue.CreatedAt), plannedStart)
		end = issue.EndDate
		if end == nil && issue.ClosedAt != nil {
			end = property.NewDateTime(*issue.ClosedAt)
		}
	case e.fields.IsClosedState(status):
		start = laterDate(property.NewDateTime(issue.CreatedAt), plannedStart)
		if issue.ClosedAt != nil {
			end = property.NewDateTime(*issue.ClosedAt)
		}
	}

	if start != nil && end != nil && start.Time.After(end.Time) {
		e.logger.Warn("issue ends before it starts",
			"issue", issue.URL, "start", start.Time, "end", end.Time)
		end = start
	}
	if start == nil && end == nil {
		return nil
	}
	return &property.DateRange{Start: start, End: end}
}

func laterDate(dates ...*property.Date) *property.Date {
	var latest *property.Date
	for _, d := range dates {
		if d == nil || d.Time.IsZero() {
			continue
		}
		if latest == nil || d.Time.After(latest.Time) {
			latest = d
		}
	}
	return latest
}

// parseStoredDate reads a stored date property value, which is either a
// bare date or a full timestamp.
func parseStoredDate(s string) *property.Date {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return property.NewDate(t)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return property.NewDateTime(t)
	}
	return nil
}

// syncTask reconciles one tracker issue into the tasks collection.
// parents is resolved by the concrete engine (milestone links or label
// matching); old is nil when the task is new.
func (e *engine) syncTask(ctx context.Context, issue *tracker.Issue, parentIDs []string, old *notion.Record) error {
	fields := e.taskFields(issue, parentIDs, old)

	if old != nil {
		changed, err := e.tasksDB.Update(ctx, old, fields)
		if err != nil {
			return fmt.Errorf("task %s: %w", issue.Key(), err)
		}
		if changed {
			e.logger.Info("updated task", "issue", issue.Key(), "title", issue.Title)
		} else {
			e.logger.Debug("unchanged task", "issue", issue.Key())
		}
		if !e.opts.TasksBodySync {
			return nil
		}
		return e.writeTaskBody(ctx, old.ID, issue)
	}

	e.logger.Info("adding task", "issue", issue.Key(), "title", issue.Title)
	rec, err := e.tasksDB.Create(ctx, fields)
	if err != nil {
		return fmt.Errorf("task %s: %w", issue.Key(), err)
	}
	if e.opts.TasksBodySync {
		return e.writeTaskBody(ctx, rec.ID, issue)
	}
	return e.tasksDB.AppendParagraphs(ctx, rec, e.bodyWarning())
}

func (e *engine) bodyWarning() string {
	return fmt.Sprintf(taskBodyWarning, e.trk.DisplayName())
}

func (e *engine) writeTaskBody(ctx context.Context, pageID string, issue *tracker.Issue) error {
	body := e.bodyWarning() + "\n\n" + issue.Description
	return e.tasksDB.ReplaceContents(ctx, pageID, notion.MarkdownBlocks(body))
}

// stampTimestamp records the sync time in the collection description,
// replacing this project's previous stamp or prepending a fresh one.
func (e *engine) stampTimestamp(ctx context.Context, db *notion.Database, now time.Time) error {
	if e.dry {
		return nil
	}
	stamp := fmt.Sprintf(lastSyncMessage, e.opts.ProjectKey, now.UTC().Format("2006-01-02T15:04:05Z"))

	pattern := regexp.QuoteMeta(fmt.Sprintf(lastSyncMessage, e.opts.ProjectKey, "TIMESTAMP"))
	pattern = strings.Replace(pattern, "TIMESTAMP", `\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`, 1)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("building timestamp pattern: %w", err)
	}

	description, err := db.Description(ctx)
	if err != nil {
		return err
	}
	if re.MatchString(description) {
		description = re.ReplaceAllLiteralString(description, stamp)
	} else {
		description = stamp + "\n\n" + description
	}
	return db.SetDescription(ctx, description)
}
