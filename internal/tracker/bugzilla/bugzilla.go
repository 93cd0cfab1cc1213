package bugzilla

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pagesync/pagesync/internal/tracker"
)

// Name is the registry identifier.
const Name = "bugzilla"

// DefaultChunkSize is the number of bugs fetched per request. Unlike
// GitHub's adaptive batching, chunks are fixed and fetched concurrently.
const DefaultChunkSize = 100

// maxConcurrentChunks bounds the fan-out of one bulk fetch.
const maxConcurrentChunks = 4

// reviewState is the synthetic state for a bug with an open review
// request. Bugzilla has no such status of its own; the record-store
// status set does.
const reviewState = "IN REVIEW"

// recordURLPrefix identifies record-store links among see_also URLs.
const recordURLPrefix = "https://www.notion.so/"

// unassignedPrefix marks Bugzilla's placeholder assignee accounts.
const unassignedPrefix = "nobody@"

// includeFields is the bug fields requested on every fetch.
const includeFields = "id,summary,status,product,cf_user_story,assigned_to,priority," +
	"depends_on,blocks,attachments,comments,see_also,creation_time,cf_last_resolved"

func init() {
	tracker.Register(Name, func(ctx context.Context, cfg *tracker.Config) (tracker.Tracker, error) {
		return New(ctx, cfg)
	})
}

// Tracker is the Bugzilla adapter.
type Tracker struct {
	client          *Client
	baseURL         string
	repoName        string // installation hostname, doubles as the repo key
	allowedProducts []string
	chunkSize       int

	fields tracker.Fields
	users  *tracker.UserMap
	logger *slog.Logger
	dry    bool

	mentionMu sync.Mutex
	mentions  map[string]string // login -> display name
}

// New builds a configured Bugzilla tracker.
func New(_ context.Context, cfg *tracker.Config) (*Tracker, error) {
	baseURL, err := cfg.GetRequired("base_url")
	if err != nil {
		return nil, err
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("malformed bugzilla base_url %q", baseURL)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		client:          NewClient(baseURL, cfg.GetString("api_key"), cfg.HTTPClient),
		baseURL:         baseURL,
		repoName:        parsed.Host,
		allowedProducts: cfg.GetStringSlice("allowed_products"),
		chunkSize:       DefaultChunkSize,
		fields:          cfg.Fields,
		users:           cfg.Users,
		logger:          logger.With("component", "bugzilla"),
		dry:             cfg.Dry,
		mentions:        make(map[string]string),
	}
	if size := cfg.Settings["chunk_size"]; size != nil {
		if n, ok := size.(int); ok && n > 0 {
			t.chunkSize = n
		}
	}
	return t, nil
}

// Name returns the tracker identifier.
func (t *Tracker) Name() string { return Name }

// DisplayName returns the human-readable tracker name.
func (t *Tracker) DisplayName() string { return "Bugzilla" }

// Fields returns the record field configuration.
func (t *Tracker) Fields() *tracker.Fields { return &t.fields }

// Users returns the identity map.
func (t *Tracker) Users() *tracker.UserMap { return t.users }

// ParseIssueRef recognizes show_bug.cgi URLs of this installation only.
func (t *Tracker) ParseIssueRef(ref string) *tracker.IssueRef {
	parsed, err := url.Parse(ref)
	if err != nil {
		return nil
	}
	if parsed.Scheme+"://"+parsed.Host != t.baseURL || parsed.Path != "/show_bug.cgi" {
		return nil
	}
	id := parsed.Query().Get("id")
	if id == "" {
		return nil
	}
	if _, err := strconv.Atoi(id); err != nil {
		return nil
	}
	return &tracker.IssueRef{Repo: parsed.Host, ID: id}
}

// IsRepoAllowed accepts only this installation's hostname.
func (t *Tracker) IsRepoAllowed(repo string) bool { return repo == t.repoName }

// Repositories lists the single configured installation.
func (t *Tracker) Repositories() []string { return []string{t.repoName} }

// FormatIssueRefShort renders "bug 42".
func (t *Tracker) FormatIssueRefShort(issue *tracker.Issue) string {
	return "bug " + issue.ID
}

// FormatReviewRefShort renders the revision name of a review URL, e.g.
// "D12345" for a Phabricator link.
func (t *Tracker) FormatReviewRefShort(reviewURL string) string {
	parsed, err := url.Parse(reviewURL)
	if err != nil {
		return reviewURL
	}
	if name := strings.Trim(parsed.Path, "/"); name != "" {
		return name
	}
	return reviewURL
}

// TaskTitle appends the bug reference so tasks remain findable by bug
// number.
func (t *Tracker) TaskTitle(prefix string, issue *tracker.Issue) string {
	return fmt.Sprintf("%s%s - bug %s", prefix, issue.Title, issue.ID)
}

// Mention resolves a login to the account's display name, cached per
// process. Lookup failures fall back to the bare login.
func (t *Tracker) Mention(ctx context.Context, handle string) string {
	if handle == "" {
		return ""
	}
	t.mentionMu.Lock()
	cached, ok := t.mentions[handle]
	t.mentionMu.Unlock()
	if ok {
		return cached
	}

	var resp struct {
		Users []struct {
			Name     string `json:"name"`
			RealName string `json:"real_name"`
		} `json:"users"`
	}
	params := url.Values{"names": {handle}}
	if err := t.client.Get(ctx, "/user", params, &resp); err != nil || len(resp.Users) == 0 {
		t.logger.Warn("user lookup failed", "handle", handle, "error", err)
		return handle
	}
	name := resp.Users[0].RealName
	if name == "" {
		name = resp.Users[0].Name
	}

	t.mentionMu.Lock()
	t.mentions[handle] = name
	t.mentionMu.Unlock()
	return name
}

// GetIssuesByNumber fetches bugs in fixed-size chunks, fanning the
// chunks out concurrently and merging results as they complete.
func (t *Tracker) GetIssuesByNumber(ctx context.Context, refs []tracker.IssueRef, includeSubIssues bool) (map[string]*tracker.Issue, error) {
	res := make(map[string]*tracker.Issue, len(refs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChunks)

	for start := 0; start < len(refs); start += t.chunkSize {
		chunk := refs[start:min(start+t.chunkSize, len(refs))]
		g.Go(func() error {
			issues, err := t.fetchChunk(ctx, chunk, includeSubIssues)
			if err != nil {
				return err
			}
			mu.Lock()
			for key, issue := range issues {
				res[key] = issue
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func (t *Tracker) fetchChunk(ctx context.Context, refs []tracker.IssueRef, includeSubIssues bool) (map[string]*tracker.Issue, error) {
	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	params := url.Values{
		"id":             {strings.Join(ids, ",")},
		"include_fields": {includeFields},
	}
	t.logger.Debug("fetching bugs", "count", len(ids))

	var resp struct {
		Bugs []*bzBug `json:"bugs"`
	}
	if err := t.client.Get(ctx, "/bug", params, &resp); err != nil {
		return nil, fmt.Errorf("fetching bugs: %w", err)
	}

	res := make(map[string]*tracker.Issue, len(resp.Bugs))
	for _, bug := range resp.Bugs {
		issue := t.parseBug(bug, includeSubIssues)
		res[issue.Key()] = issue
	}
	return res, nil
}

func (t *Tracker) isAllowedProduct(product string) bool {
	if len(t.allowedProducts) == 0 {
		return true
	}
	for _, allowed := range t.allowedProducts {
		if allowed == product {
			return true
		}
	}
	return false
}

func (t *Tracker) parseBug(bug *bzBug, includeSubIssues bool) *tracker.Issue {
	id := strconv.Itoa(bug.ID)

	description := bug.CfUserStory
	if description == "" && len(bug.Comments) > 0 {
		description = bug.Comments[0].Text
	}
	priority := bug.Priority
	if priority == "--" {
		priority = ""
	}

	issue := &tracker.Issue{
		IssueRef:    tracker.IssueRef{Repo: t.repoName, ID: id},
		Title:       bug.Summary,
		Description: description,
		State:       bug.Status,
		Priority:    priority,
		URL:         fmt.Sprintf("%s/show_bug.cgi?id=%d", t.baseURL, bug.ID),
		CreatedAt:   bug.CreationTime,
	}

	if bug.AssignedTo != "" && !strings.HasPrefix(bug.AssignedTo, unassignedPrefix) {
		issue.Assignees = []tracker.User{t.users.ByTracker(bug.AssignedTo)}
	}
	if bug.CfLastResolved != "" && t.fields.IsClosedState(bug.Status) {
		if closed, err := time.Parse(time.RFC3339, bug.CfLastResolved); err == nil {
			issue.ClosedAt = &closed
		}
	}

	// A pending review request carries the review URL base64-encoded in
	// its attachment data. An actively worked bug with one counts as in
	// review.
	for _, att := range bug.Attachments {
		if att.IsObsolete != 0 || att.ContentType != "text/x-phabricator-request" {
			continue
		}
		if data, err := base64.StdEncoding.DecodeString(att.Data); err == nil {
			issue.ReviewURL = string(data)
			if bug.Status == "ASSIGNED" || bug.Status == "REOPENED" {
				issue.State = reviewState
			}
		}
		break
	}

	for _, seeAlso := range bug.SeeAlso {
		if strings.HasPrefix(seeAlso, recordURLPrefix) {
			issue.RecordURL = seeAlso
			break
		}
	}

	for _, parentID := range bug.Blocks {
		issue.Parents = append(issue.Parents, tracker.IssueRef{
			Repo: t.repoName,
			ID:   strconv.Itoa(parentID),
		})
	}
	if includeSubIssues && t.isAllowedProduct(bug.Product) {
		for _, subID := range bug.DependsOn {
			issue.SubIssues = append(issue.SubIssues, tracker.IssueRef{
				Repo:    t.repoName,
				ID:      strconv.Itoa(subID),
				Parents: []tracker.IssueRef{issue.IssueRef},
			})
		}
	}
	return issue
}

// UpdateMilestoneIssue pushes changed fields to the bug in one PUT.
// Nothing is sent when every field already matches.
func (t *Tracker) UpdateMilestoneIssue(ctx context.Context, old, new *tracker.Issue) error {
	data := map[string]any{}

	if old.Title != new.Title {
		data["summary"] = new.Title
	}
	if old.Priority != new.Priority {
		data["priority"] = new.Priority
	}
	if new.Description != "" && old.Description != new.Description {
		data["cf_user_story"] = new.Description
	}

	if old.State != new.State {
		data["status"] = new.State
		oldClosed := t.fields.IsClosedState(old.State)
		newClosed := t.fields.IsClosedState(new.State)
		if !oldClosed && newClosed {
			data["resolution"] = "FIXED"
		} else if oldClosed && !newClosed {
			data["resolution"] = ""
		}
	}

	// Bugzilla has a single assignee. One added on the tracker side with
	// no record identity stays put.
	var oldAssignee, newAssignee *tracker.User
	if len(old.Assignees) > 0 {
		oldAssignee = &old.Assignees[0]
	}
	if len(new.Assignees) > 0 {
		newAssignee = &new.Assignees[0]
	}
	if !assigneesEqual(oldAssignee, newAssignee) {
		if oldAssignee == nil || oldAssignee.RecordUserID != "" {
			if newAssignee != nil {
				data["assigned_to"] = newAssignee.TrackerHandle
			} else {
				data["assigned_to"] = nil
			}
		}
	}

	if old.RecordURL != new.RecordURL && new.RecordURL != "" {
		seeAlso := map[string]any{"add": []string{new.RecordURL}}
		if old.RecordURL != "" {
			seeAlso["remove"] = []string{old.RecordURL}
		}
		data["see_also"] = seeAlso
	}

	// Dates and sub-issue links have no Bugzilla equivalent and are
	// managed on the tracker itself.

	if len(data) == 0 {
		return nil
	}
	if t.dry {
		t.logger.Info("dry run: would update bug", "bug", old.ID, "fields", fieldNames(data))
		return nil
	}
	if err := t.client.Put(ctx, "/bug/"+new.ID, data); err != nil {
		return fmt.Errorf("updating bug %s: %w", new.ID, err)
	}
	return nil
}

func assigneesEqual(a, b *tracker.User) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func fieldNames(data map[string]any) []string {
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	return names
}

// GetSprints returns nothing; Bugzilla has no sprint concept.
func (t *Tracker) GetSprints(context.Context) ([]*tracker.Sprint, error) {
	return nil, nil
}

// CollectAdditionalTasks is a no-op; every synced bug arrives through a
// record reference or a milestone's dependency tree.
func (t *Tracker) CollectAdditionalTasks(context.Context, map[string]map[string]bool) error {
	return nil
}

// bzBug is the wire shape of one bug with the requested include_fields.
type bzBug struct {
	ID             int            `json:"id"`
	Summary        string         `json:"summary"`
	Status         string         `json:"status"`
	Product        string         `json:"product"`
	CfUserStory    string         `json:"cf_user_story"`
	AssignedTo     string         `json:"assigned_to"`
	Priority       string         `json:"priority"`
	DependsOn      []int          `json:"depends_on"`
	Blocks         []int          `json:"blocks"`
	Attachments    []bzAttachment `json:"attachments"`
	Comments       []bzComment    `json:"comments"`
	SeeAlso        []string       `json:"see_also"`
	CreationTime   time.Time      `json:"creation_time"`
	CfLastResolved string         `json:"cf_last_resolved"`
}

type bzAttachment struct {
	IsObsolete  int    `json:"is_obsolete"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}

type bzComment struct {
	Text string `json:"text"`
}
