// Package github implements the tracker interface on the GitHub GraphQL
// API, including ProjectV2 board fields, iteration sprints and sub-issue
// hierarchies.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pagesync/pagesync/internal/property"
	"github.com/pagesync/pagesync/internal/tracker"
)

// Name is the registry identifier.
const Name = "github"

// DefaultChunkSize is the initial batch size for bulk issue fetches. The
// server rejects overly large queries with a validation timeout; the
// fetch loop halves the chunk and retries down to a floor of one.
const DefaultChunkSize = 100

// ErrChunkTooSmall reports a bulk fetch that still failed with a
// validation timeout at chunk size one; retrying cannot help.
var ErrChunkTooSmall = errors.New("query validation timed out at minimum chunk size")

func init() {
	tracker.Register(Name, func(ctx context.Context, cfg *tracker.Config) (tracker.Tracker, error) {
		return New(ctx, cfg)
	})
}

// repoGroup binds a set of repositories to their task and milestone
// boards.
type repoGroup struct {
	repos               []string
	tasksProjectID      string
	milestonesProjectID string
}

// Tracker is the GitHub adapter.
type Tracker struct {
	client *Client
	fields tracker.Fields
	users  *tracker.UserMap
	labels *LabelCache
	logger *slog.Logger
	dry    bool

	allowedRepos         map[string]bool
	taskProjects         map[string]*ProjectV2
	milestoneProjects    map[string]*ProjectV2
	allTaskProjects      []*ProjectV2
	allMilestoneProjects []*ProjectV2

	// Read caches, safe to populate redundantly: last write wins and
	// the values are idempotent lookups.
	mu       sync.Mutex
	userIDs  map[string]string   // login -> node id
	rawCache map[string]*ghIssue // ref key -> wire issue
}

// New builds a configured GitHub tracker.
func New(_ context.Context, cfg *tracker.Config) (*Tracker, error) {
	token, err := cfg.GetRequired("token")
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		client:            NewClient(token, cfg.HTTPClient),
		fields:            cfg.Fields,
		users:             cfg.Users,
		logger:            logger.With("component", "github"),
		dry:               cfg.Dry,
		allowedRepos:      make(map[string]bool),
		taskProjects:      make(map[string]*ProjectV2),
		milestoneProjects: make(map[string]*ProjectV2),
		userIDs:           make(map[string]string),
		rawCache:          make(map[string]*ghIssue),
	}
	t.labels = NewLabelCache(t.client)

	groups, err := parseRepoGroups(cfg.Settings["repositories"])
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		for _, repo := range group.repos {
			t.allowedRepos[repo] = true
		}
		if group.tasksProjectID != "" {
			board := NewProjectV2(t.client, group.tasksProjectID, projectTaskFields)
			t.allTaskProjects = append(t.allTaskProjects, board)
			for _, repo := range group.repos {
				t.taskProjects[repo] = board
			}
		}
		if group.milestonesProjectID != "" {
			board := NewProjectV2(t.client, group.milestonesProjectID, projectMilestoneFields)
			t.allMilestoneProjects = append(t.allMilestoneProjects, board)
			for _, repo := range group.repos {
				t.milestoneProjects[repo] = board
			}
		}
	}
	return t, nil
}

// parseRepoGroups accepts either one group or a list of groups from the
// project configuration.
func parseRepoGroups(v any) ([]repoGroup, error) {
	groupFrom := func(m map[string]any) repoGroup {
		g := repoGroup{}
		switch repos := m["repositories"].(type) {
		case []string:
			g.repos = repos
		case []any:
			for _, r := range repos {
				if s, ok := r.(string); ok {
					g.repos = append(g.repos, s)
				}
			}
		}
		g.tasksProjectID, _ = m["tasks_project_id"].(string)
		g.milestonesProjectID, _ = m["milestones_project_id"].(string)
		return g
	}

	switch val := v.(type) {
	case nil:
		return nil, errors.New("github tracker requires a repositories setting")
	case map[string]any:
		return []repoGroup{groupFrom(val)}, nil
	case []map[string]any:
		groups := make([]repoGroup, 0, len(val))
		for _, m := range val {
			groups = append(groups, groupFrom(m))
		}
		return groups, nil
	case []any:
		groups := make([]repoGroup, 0, len(val))
		for _, item := range val {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("malformed repository group %T", item)
			}
			groups = append(groups, groupFrom(m))
		}
		return groups, nil
	default:
		return nil, fmt.Errorf("malformed repositories setting %T", v)
	}
}

// Name returns the tracker identifier.
func (t *Tracker) Name() string { return Name }

// DisplayName returns the human-readable tracker name.
func (t *Tracker) DisplayName() string { return "GitHub" }

// Fields returns the record field configuration.
func (t *Tracker) Fields() *tracker.Fields { return &t.fields }

// Users returns the identity map.
func (t *Tracker) Users() *tracker.UserMap { return t.users }

// ParseIssueRef recognizes github.com issue URLs. Anything else,
// including pull request URLs and foreign trackers, returns nil.
func (t *Tracker) ParseIssueRef(url string) *tracker.IssueRef {
	parts := strings.Split(url, "/")
	if len(parts) < 7 || parts[2] != "github.com" || parts[5] != "issues" {
		return nil
	}
	if _, err := strconv.Atoi(parts[6]); err != nil {
		return nil
	}
	return &tracker.IssueRef{Repo: parts[3] + "/" + parts[4], ID: parts[6]}
}

// IsRepoAllowed enforces the configured repository allow-list.
func (t *Tracker) IsRepoAllowed(repo string) bool { return t.allowedRepos[repo] }

// Repositories lists all configured repositories.
func (t *Tracker) Repositories() []string {
	repos := make([]string, 0, len(t.allowedRepos))
	for repo := range t.allowedRepos {
		repos = append(repos, repo)
	}
	return repos
}

// FormatIssueRefShort renders "owner/repo#number".
func (t *Tracker) FormatIssueRefShort(issue *tracker.Issue) string {
	return issue.Repo + "#" + issue.ID
}

// FormatReviewRefShort renders a short label for a pull request URL.
func (t *Tracker) FormatReviewRefShort(url string) string {
	parts := strings.Split(url, "/")
	if len(parts) >= 7 && parts[2] == "github.com" && parts[5] == "pull" {
		return parts[3] + "/" + parts[4] + "#" + parts[6]
	}
	return url
}

// TaskTitle decorates the record title for a synced task.
func (t *Tracker) TaskTitle(prefix string, issue *tracker.Issue) string {
	return prefix + issue.Title
}

// Mention renders a GitHub mention.
func (t *Tracker) Mention(_ context.Context, handle string) string {
	if handle == "" {
		return ""
	}
	return "@" + handle
}

// GetIssuesByNumber bulk-fetches issues grouped per repository, batching
// with an adaptive chunk size.
func (t *Tracker) GetIssuesByNumber(ctx context.Context, refs []tracker.IssueRef, includeSubIssues bool) (map[string]*tracker.Issue, error) {
	byRepo := make(map[string][]tracker.IssueRef)
	for _, ref := range refs {
		byRepo[ref.Repo] = append(byRepo[ref.Repo], ref)
	}

	res := make(map[string]*tracker.Issue, len(refs))
	for repo, repoRefs := range byRepo {
		if err := t.fetchRepoIssues(ctx, repo, repoRefs, includeSubIssues, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (t *Tracker) fetchRepoIssues(ctx context.Context, repo string, refs []tracker.IssueRef, includeSubIssues bool, res map[string]*tracker.Issue) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	chunkSize := DefaultChunkSize
	for i := 0; i < len(refs); {
		chunk := refs[i:min(i+chunkSize, len(refs))]

		var b strings.Builder
		b.WriteString(issueFieldsFragment)
		fmt.Fprintf(&b, "\nquery {\n  repository(owner: %q, name: %q) {\n", owner, name)
		for _, ref := range chunk {
			fmt.Fprintf(&b, "    issue%s: issue(number: %s) { ...issueFields", ref.ID, ref.ID)
			if includeSubIssues {
				b.WriteString(" subIssues(first: 100) { nodes { number } }")
			}
			b.WriteString(" }\n")
		}
		b.WriteString("  }\n}")
		t.logger.Debug("fetching issues", "repo", repo, "from", i, "count", len(chunk))

		var resp struct {
			Repository map[string]*ghIssue `json:"repository"`
		}
		if err := t.client.Do(ctx, b.String(), nil, &resp); err != nil {
			if isValidationTimeout(err) {
				if chunkSize <= 1 {
					return fmt.Errorf("fetching %s issues: %w", repo, ErrChunkTooSmall)
				}
				chunkSize /= 2
				t.logger.Info("decreasing chunk size after validation timeout", "chunk", chunkSize)
				continue
			}
			return fmt.Errorf("fetching %s issues: %w", repo, err)
		}

		for _, ref := range chunk {
			gh := resp.Repository["issue"+ref.ID]
			if gh == nil {
				t.logger.Warn("issue not found", "repo", repo, "id", ref.ID)
				continue
			}
			issue, err := t.parseIssue(ref, gh, includeSubIssues)
			if err != nil {
				return err
			}
			res[ref.Key()] = issue
		}
		i += chunkSize
	}
	return nil
}

// parseIssue converts the wire issue. An issue sitting on both the task
// and the milestone board has no well-defined sync direction; that is
// surfaced as an AmbiguousProjectMembershipError for a human to fix.
func (t *Tracker) parseIssue(ref tracker.IssueRef, gh *ghIssue, includeSubIssues bool) (*tracker.Issue, error) {
	var taskItem, milestoneItem *ghProjectItem
	if board := t.taskProjects[ref.Repo]; board != nil {
		taskItem = board.findItem(gh)
	}
	if board := t.milestoneProjects[ref.Repo]; board != nil {
		milestoneItem = board.findItem(gh)
	}
	if taskItem != nil && milestoneItem != nil {
		return nil, &tracker.AmbiguousProjectMembershipError{
			Ref:      ref,
			Projects: []string{t.taskProjects[ref.Repo].NodeID, t.milestoneProjects[ref.Repo].NodeID},
		}
	}
	item := taskItem
	if item == nil {
		item = milestoneItem
	}

	state := t.fields.DefaultOpenState
	if gh.State != "OPEN" {
		state = t.fields.ClosedStates[0]
	}
	if item != nil && item.Status != nil {
		state = item.Status.Name
	}

	issue := &tracker.Issue{
		IssueRef:    tracker.IssueRef{Repo: ref.Repo, ID: ref.ID},
		Title:       gh.Title,
		Description: gh.Body,
		State:       state,
		URL:         fmt.Sprintf("https://github.com/%s/issues/%s", ref.Repo, ref.ID),
		CreatedAt:   gh.CreatedAt,
		ClosedAt:    gh.ClosedAt,
	}

	for _, assignee := range gh.Assignees.Nodes {
		issue.Assignees = append(issue.Assignees, t.users.ByTracker(assignee.Login))
		t.cacheUserID(assignee.Login, assignee.ID)
	}
	for _, label := range gh.Labels.Nodes {
		issue.Labels = append(issue.Labels, label.Name)
	}

	if item != nil {
		if item.Priority != nil {
			issue.Priority = item.Priority.Name
		}
		if item.StartDate != nil && item.StartDate.Date != "" {
			if d, err := time.Parse("2006-01-02", item.StartDate.Date); err == nil {
				issue.StartDate = property.NewDate(d)
			}
		}
		if item.TargetDate != nil && item.TargetDate.Date != "" {
			if d, err := time.Parse("2006-01-02", item.TargetDate.Date); err == nil {
				issue.EndDate = property.NewDate(d)
			}
		}
		if item.Link != nil {
			issue.RecordURL = item.Link.Text
		}
		if item.Sprint != nil && item.Sprint.IterationID != "" {
			issue.Sprint = iterationSprint(ghIteration{
				ID:        item.Sprint.IterationID,
				Title:     item.Sprint.Title,
				StartDate: item.Sprint.StartDate,
				Duration:  item.Sprint.Duration,
			}, time.Now())
		}
	}

	if gh.Parent != nil {
		issue.Parents = []tracker.IssueRef{{
			Repo: gh.Parent.Repository.NameWithOwner,
			ID:   strconv.Itoa(gh.Parent.Number),
		}}
	}
	if includeSubIssues && gh.SubIssues != nil {
		for _, sub := range gh.SubIssues.Nodes {
			issue.SubIssues = append(issue.SubIssues, tracker.IssueRef{
				Repo:    ref.Repo,
				ID:      strconv.Itoa(sub.Number),
				Parents: []tracker.IssueRef{issue.IssueRef},
			})
		}
	}

	t.mu.Lock()
	t.rawCache[ref.Key()] = gh
	t.mu.Unlock()

	return issue, nil
}

func (t *Tracker) cacheUserID(login, id string) {
	t.mu.Lock()
	t.userIDs[strings.ToLower(login)] = id
	t.mu.Unlock()
}

func (t *Tracker) raw(key string) *ghIssue {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rawCache[key]
}

// resolveUserIDs looks up node ids for logins, fetching the ones not
// yet cached in a single aliased query.
func (t *Tracker) resolveUserIDs(ctx context.Context, logins []string) (map[string]string, error) {
	res := make(map[string]string, len(logins))
	var remaining []string

	t.mu.Lock()
	for _, login := range logins {
		if id, ok := t.userIDs[strings.ToLower(login)]; ok {
			res[login] = id
		} else {
			remaining = append(remaining, login)
		}
	}
	t.mu.Unlock()

	if len(remaining) == 0 {
		return res, nil
	}

	var b strings.Builder
	b.WriteString("query {\n")
	for i, login := range remaining {
		fmt.Fprintf(&b, "  user_%d: user(login: %q) { id }\n", i, login)
	}
	b.WriteString("}")

	var resp map[string]*struct {
		ID string `json:"id"`
	}
	if err := t.client.Do(ctx, b.String(), nil, &resp); err != nil {
		return nil, fmt.Errorf("resolving user ids: %w", err)
	}
	for i, login := range remaining {
		if node := resp[fmt.Sprintf("user_%d", i)]; node != nil {
			res[login] = node.ID
			t.cacheUserID(login, node.ID)
		}
	}
	return res, nil
}

// UpdateMilestoneIssue pushes the record-derived desired state to the
// issue: title/body/state, assignees, label additions and board fields.
// Each step diffs old against new and skips its mutation when nothing
// changed.
func (t *Tracker) UpdateMilestoneIssue(ctx context.Context, old, new *tracker.Issue) error {
	gh := t.raw(old.Key())
	if gh == nil {
		return fmt.Errorf("issue %s was not fetched before update", old.Key())
	}
	if err := t.updateIssueBasic(ctx, gh, old, new); err != nil {
		return err
	}
	if err := t.updateIssueAssignees(ctx, gh, old, new); err != nil {
		return err
	}
	if err := t.updateIssueLabels(ctx, gh, old, new); err != nil {
		return err
	}
	return t.updateIssueProject(ctx, gh, old, new)
}

func (t *Tracker) updateIssueBasic(ctx context.Context, gh *ghIssue, old, new *tracker.Issue) error {
	if old.Title == new.Title && old.State == new.State && old.Description == new.Description {
		return nil
	}

	state := "OPEN"
	if t.fields.IsClosedState(new.State) {
		state = "CLOSED"
	}
	input := map[string]any{"id": gh.ID, "state": state}
	if new.Title != old.Title {
		input["title"] = new.Title
	}
	if new.Description != old.Description {
		input["body"] = new.Description
	}

	if t.dry {
		t.logger.Info("dry run: would update issue", "issue", old.Key(), "state", state)
		return nil
	}
	const mutation = `mutation($input: UpdateIssueInput!) {
  updateIssue(input: $input) { clientMutationId }
}`
	if err := t.client.Do(ctx, mutation, map[string]any{"input": input}, nil); err != nil {
		return fmt.Errorf("updating issue %s: %w", old.Key(), err)
	}
	return nil
}

func (t *Tracker) updateIssueAssignees(ctx context.Context, gh *ghIssue, old, new *tracker.Issue) error {
	// Assignees with no record identity were added on the tracker side;
	// a milestone push keeps them instead of kicking them off.
	desired := make(map[string]bool)
	for _, user := range old.Assignees {
		if user.RecordUserID == "" && user.TrackerHandle != "" {
			desired[user.TrackerHandle] = true
		}
	}
	for _, user := range new.Assignees {
		if user.TrackerHandle != "" {
			desired[user.TrackerHandle] = true
		}
	}

	logins := make([]string, 0, len(desired))
	for login := range desired {
		logins = append(logins, login)
	}
	ids, err := t.resolveUserIDs(ctx, logins)
	if err != nil {
		return err
	}
	newIDs := make(map[string]bool, len(ids))
	for _, id := range ids {
		newIDs[id] = true
	}

	oldIDs := make(map[string]bool, len(gh.Assignees.Nodes))
	for _, assignee := range gh.Assignees.Nodes {
		oldIDs[assignee.ID] = true
	}

	var add, remove []string
	for id := range newIDs {
		if !oldIDs[id] {
			add = append(add, id)
		}
	}
	for id := range oldIDs {
		if !newIDs[id] {
			remove = append(remove, id)
		}
	}
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	if t.dry {
		t.logger.Info("dry run: would change assignees", "issue", old.Key(), "add", add, "remove", remove)
		return nil
	}

	var b strings.Builder
	b.WriteString("mutation {\n")
	if len(remove) > 0 {
		fmt.Fprintf(&b, "  removeAssigneesFromAssignable(input: {assignableId: %q, assigneeIds: %s}) { clientMutationId }\n",
			gh.ID, quoteList(remove))
	}
	if len(add) > 0 {
		fmt.Fprintf(&b, "  addAssigneesToAssignable(input: {assignableId: %q, assigneeIds: %s}) { clientMutationId }\n",
			gh.ID, quoteList(add))
	}
	b.WriteString("}")
	if err := t.client.Do(ctx, b.String(), nil, nil); err != nil {
		return fmt.Errorf("updating assignees of %s: %w", old.Key(), err)
	}
	return nil
}

func (t *Tracker) updateIssueLabels(ctx context.Context, gh *ghIssue, old, new *tracker.Issue) error {
	// Labels are add-only: removing record-side labels from the issue
	// would fight tracker-side labeling.
	var added []string
	for _, label := range new.Labels {
		if !old.HasLabel(label) {
			added = append(added, label)
		}
	}
	if len(added) == 0 {
		return nil
	}

	ids, err := t.labels.Get(ctx, old.Repo, added)
	if err != nil {
		return err
	}
	labelIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		labelIDs = append(labelIDs, id)
	}
	if len(labelIDs) == 0 {
		return nil
	}

	if t.dry {
		t.logger.Info("dry run: would add labels", "issue", old.Key(), "labels", added)
		return nil
	}
	mutation := fmt.Sprintf(
		"mutation {\n  addLabelsToLabelable(input: {labelableId: %q, labelIds: %s}) { clientMutationId }\n}",
		gh.ID, quoteList(labelIDs))
	if err := t.client.Do(ctx, mutation, nil, nil); err != nil {
		return fmt.Errorf("adding labels to %s: %w", old.Key(), err)
	}
	return nil
}

func (t *Tracker) updateIssueProject(ctx context.Context, gh *ghIssue, old, new *tracker.Issue) error {
	board := t.milestoneProjects[old.Repo]
	if board == nil {
		return nil
	}
	if t.dry {
		return nil
	}

	item := board.findItem(gh)
	itemID := ""
	if item != nil {
		itemID = item.ID
	} else {
		var err error
		itemID, err = board.addItem(ctx, gh.ID)
		if err != nil {
			return err
		}
		item = &ghProjectItem{ID: itemID}
	}

	updates := []fieldUpdate{
		{Field: "Status", Value: new.State, Old: selectName(item.Status)},
		{Field: "Priority", Value: new.Priority, Old: selectName(item.Priority)},
		{Field: "Start Date", Value: dateString(new.StartDate), Old: dateValue(item.StartDate)},
		{Field: "Target Date", Value: dateString(new.EndDate), Old: dateValue(item.TargetDate)},
		{Field: "Link", Value: new.RecordURL, Old: textValue(item.Link)},
	}
	// Unset selects cannot be written; drop them rather than failing
	// option resolution.
	filtered := updates[:0]
	for _, upd := range updates {
		if upd.Value == "" && upd.Old == "" {
			continue
		}
		if upd.Value == "" {
			continue
		}
		filtered = append(filtered, upd)
	}
	return board.UpdateItemFields(ctx, itemID, filtered)
}

// GetSprints lists the iterations of every task board.
func (t *Tracker) GetSprints(ctx context.Context) ([]*tracker.Sprint, error) {
	now := time.Now()
	var sprints []*tracker.Sprint
	for _, board := range t.allTaskProjects {
		boardSprints, err := board.Sprints(ctx, now)
		if err != nil {
			return nil, err
		}
		sprints = append(sprints, boardSprints...)
	}
	return sprints, nil
}

// CollectAdditionalTasks adds task-board issues that are not yet in the
// collected set, e.g. sprint items without a milestone.
func (t *Tracker) CollectAdditionalTasks(ctx context.Context, collected map[string]map[string]bool) error {
	added := 0
	for _, board := range t.allTaskProjects {
		refs, err := board.IssueRefs(ctx)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if !t.IsRepoAllowed(ref.Repo) {
				continue
			}
			if collected[ref.Repo] == nil {
				collected[ref.Repo] = make(map[string]bool)
			}
			if !collected[ref.Repo][ref.ID] {
				collected[ref.Repo][ref.ID] = true
				added++
			}
		}
	}
	t.logger.Info("collected additional board tasks", "count", added)
	return nil
}

// AllIssues enumerates every issue of every allowed repository; the
// label-based sync uses this instead of record discovery.
func (t *Tracker) AllIssues(ctx context.Context) ([]*tracker.Issue, error) {
	var issues []*tracker.Issue
	for repo := range t.allowedRepos {
		repoIssues, err := t.allRepoIssues(ctx, repo)
		if err != nil {
			return nil, err
		}
		issues = append(issues, repoIssues...)
	}
	return issues, nil
}

func (t *Tracker) allRepoIssues(ctx context.Context, repo string) ([]*tracker.Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	query := issueFieldsFragment + `
query($owner: String!, $name: String!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    issues(first: 100, after: $cursor) {
      nodes { ...issueFields }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

	var issues []*tracker.Issue
	cursor := ""
	for {
		vars := map[string]any{"owner": owner, "name": name}
		if cursor != "" {
			vars["cursor"] = cursor
		}
		var resp struct {
			Repository struct {
				Issues struct {
					Nodes    []*ghIssue `json:"nodes"`
					PageInfo ghPageInfo `json:"pageInfo"`
				} `json:"issues"`
			} `json:"repository"`
		}
		if err := t.client.Do(ctx, query, vars, &resp); err != nil {
			return nil, fmt.Errorf("listing %s issues: %w", repo, err)
		}
		for _, gh := range resp.Repository.Issues.Nodes {
			ref := tracker.IssueRef{Repo: repo, ID: strconv.Itoa(gh.Number)}
			issue, err := t.parseIssue(ref, gh, false)
			if err != nil {
				return nil, err
			}
			issues = append(issues, issue)
		}
		if !resp.Repository.Issues.PageInfo.HasNextPage {
			return issues, nil
		}
		cursor = resp.Repository.Issues.PageInfo.EndCursor
	}
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = strconv.Quote(item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func selectName(v *ghSelectValue) string {
	if v == nil {
		return ""
	}
	return v.Name
}

func dateValue(v *ghDateValue) string {
	if v == nil {
		return ""
	}
	return v.Date
}

func textValue(v *ghTextValue) string {
	if v == nil {
		return ""
	}
	return v.Text
}

func dateString(d *property.Date) string {
	if d == nil || d.Time.IsZero() {
		return ""
	}
	return d.Time.Format("2006-01-02")
}
