package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/pagesync/pagesync/internal/tracker"
)

// graphQLHandler fakes the GraphQL endpoint. Each incoming query string
// is passed to respond, which returns either a data object or an error
// list.
type graphQLHandler struct {
	t        *testing.T
	respond  func(query string) (data any, errs []GraphQLError)
	requests []string
}

func (h *graphQLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var payload struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		h.t.Errorf("malformed request body: %v", err)
	}
	h.requests = append(h.requests, payload.Query)

	data, errs := h.respond(payload.Query)
	resp := map[string]any{}
	if data != nil {
		resp["data"] = data
	}
	if len(errs) > 0 {
		resp["errors"] = errs
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestTracker(t *testing.T, handler *graphQLHandler, settings map[string]any) *Tracker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	if settings == nil {
		settings = map[string]any{
			"token": "test-token",
			"repositories": map[string]any{
				"repositories": []any{"mozilla/app"},
			},
		}
	}
	cfg := &tracker.Config{
		Fields:   tracker.DefaultFields(),
		Users:    tracker.NewUserMap(map[string]string{"alice": "rec-alice"}),
		Settings: settings,
	}
	tr, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr.client.Endpoint = srv.URL
	return tr
}

func wireIssue(number int, state string, extra map[string]any) map[string]any {
	issue := map[string]any{
		"id":         fmt.Sprintf("I_%d", number),
		"number":     number,
		"title":      fmt.Sprintf("Issue %d", number),
		"body":       "body",
		"state":      state,
		"url":        fmt.Sprintf("https://github.com/mozilla/app/issues/%d", number),
		"createdAt":  "2026-01-05T12:00:00Z",
		"repository": map[string]any{"nameWithOwner": "mozilla/app"},
		"labels":     map[string]any{"nodes": []any{}},
		"assignees":  map[string]any{"nodes": []any{}},
		"projectItems": map[string]any{
			"nodes": []any{},
		},
	}
	for k, v := range extra {
		issue[k] = v
	}
	return issue
}

var issueAliasRe = regexp.MustCompile(`issue(\d+): issue`)

// issuesFromQuery builds a repository data object answering every
// aliased issue selection in the query.
func issuesFromQuery(query string, build func(number string) map[string]any) map[string]any {
	repo := map[string]any{}
	for _, m := range issueAliasRe.FindAllStringSubmatch(query, -1) {
		repo["issue"+m[1]] = build(m[1])
	}
	return map[string]any{"repository": repo}
}

func TestParseIssueRef(t *testing.T) {
	handler := &graphQLHandler{t: t, respond: func(string) (any, []GraphQLError) { return nil, nil }}
	tr := newTestTracker(t, handler, nil)

	tests := []struct {
		url  string
		want *tracker.IssueRef
	}{
		{"https://github.com/mozilla/app/issues/42", &tracker.IssueRef{Repo: "mozilla/app", ID: "42"}},
		{"https://github.com/mozilla/app/issues/42#issuecomment-1", nil},
		{"https://github.com/mozilla/app/pull/42", nil},
		{"https://bugzilla.mozilla.org/show_bug.cgi?id=42", nil},
		{"https://github.com/mozilla/app", nil},
		{"not a url", nil},
	}
	for _, tt := range tests {
		got := tr.ParseIssueRef(tt.url)
		if tt.want == nil {
			if got != nil {
				t.Errorf("ParseIssueRef(%q) = %+v, want nil", tt.url, got)
			}
			continue
		}
		if got == nil || got.Repo != tt.want.Repo || got.ID != tt.want.ID {
			t.Errorf("ParseIssueRef(%q) = %+v, want %+v", tt.url, got, tt.want)
		}
	}
}

func TestGetIssuesByNumberChunkHalving(t *testing.T) {
	// Queries with more than two issue aliases time out; the fetch loop
	// must halve its chunk until the server accepts it.
	handler := &graphQLHandler{t: t}
	handler.respond = func(query string) (any, []GraphQLError) {
		if len(issueAliasRe.FindAllString(query, -1)) > 2 {
			return nil, []GraphQLError{{Message: "Timeout on validation of query"}}
		}
		return issuesFromQuery(query, func(number string) map[string]any {
			n := 0
			fmt.Sscanf(number, "%d", &n)
			return wireIssue(n, "OPEN", nil)
		}), nil
	}
	tr := newTestTracker(t, handler, nil)

	refs := make([]tracker.IssueRef, 0, 7)
	for i := 1; i <= 7; i++ {
		refs = append(refs, tracker.IssueRef{Repo: "mozilla/app", ID: fmt.Sprintf("%d", i)})
	}
	issues, err := tr.GetIssuesByNumber(context.Background(), refs, false)
	if err != nil {
		t.Fatalf("GetIssuesByNumber: %v", err)
	}
	if len(issues) != 7 {
		t.Fatalf("got %d issues, want 7", len(issues))
	}
	if issues["mozilla/app#3"].Title != "Issue 3" {
		t.Errorf("issue 3 title = %q", issues["mozilla/app#3"].Title)
	}
	// The chunk halves from 100 down to 1 over six rejected attempts,
	// then each ref is fetched individually.
	if len(handler.requests) < 8 {
		t.Errorf("got %d requests, expected halving retries plus chunked fetches", len(handler.requests))
	}
}

func TestGetIssuesByNumberChunkFloor(t *testing.T) {
	handler := &graphQLHandler{t: t}
	handler.respond = func(string) (any, []GraphQLError) {
		return nil, []GraphQLError{{Message: "Timeout on validation of query"}}
	}
	tr := newTestTracker(t, handler, nil)

	_, err := tr.GetIssuesByNumber(context.Background(),
		[]tracker.IssueRef{{Repo: "mozilla/app", ID: "1"}}, false)
	if !errors.Is(err, ErrChunkTooSmall) {
		t.Fatalf("err = %v, want ErrChunkTooSmall", err)
	}
}

func TestParseIssueStateMapping(t *testing.T) {
	settings := map[string]any{
		"token": "t",
		"repositories": map[string]any{
			"repositories":     []any{"mozilla/app"},
			"tasks_project_id": "PVT_tasks",
		},
	}
	handler := &graphQLHandler{t: t}
	handler.respond = func(query string) (any, []GraphQLError) {
		return issuesFromQuery(query, func(number string) map[string]any {
			switch number {
			case "1": // open, not on a board
				return wireIssue(1, "OPEN", nil)
			case "2": // closed, not on a board
				return wireIssue(2, "CLOSED", map[string]any{"closedAt": "2026-02-01T10:00:00Z"})
			default: // on the task board with a discrete status
				return wireIssue(3, "OPEN", map[string]any{
					"projectItems": map[string]any{"nodes": []any{
						map[string]any{
							"id":      "ITEM_3",
							"project": map[string]any{"id": "PVT_tasks"},
							"status":  map[string]any{"name": "In progress"},
						},
					}},
				})
			}
		}), nil
	}
	tr := newTestTracker(t, handler, settings)

	issues, err := tr.GetIssuesByNumber(context.Background(), []tracker.IssueRef{
		{Repo: "mozilla/app", ID: "1"},
		{Repo: "mozilla/app", ID: "2"},
		{Repo: "mozilla/app", ID: "3"},
	}, false)
	if err != nil {
		t.Fatalf("GetIssuesByNumber: %v", err)
	}
	if got := issues["mozilla/app#1"].State; got != "Backlog" {
		t.Errorf("open off-board state = %q, want Backlog", got)
	}
	if got := issues["mozilla/app#2"].State; got != "Done" {
		t.Errorf("closed off-board state = %q, want Done", got)
	}
	if issues["mozilla/app#2"].ClosedAt == nil {
		t.Error("closed issue lost its closedAt")
	}
	if got := issues["mozilla/app#3"].State; got != "In progress" {
		t.Errorf("board state = %q, want In progress", got)
	}
}

func TestParseIssueAmbiguousBoards(t *testing.T) {
	settings := map[string]any{
		"token": "t",
		"repositories": map[string]any{
			"repositories":          []any{"mozilla/app"},
			"tasks_project_id":      "PVT_tasks",
			"milestones_project_id": "PVT_miles",
		},
	}
	handler := &graphQLHandler{t: t}
	handler.respond = func(query string) (any, []GraphQLError) {
		return issuesFromQuery(query, func(string) map[string]any {
			return wireIssue(1, "OPEN", map[string]any{
				"projectItems": map[string]any{"nodes": []any{
					map[string]any{"id": "A", "project": map[string]any{"id": "PVT_tasks"}},
					map[string]any{"id": "B", "project": map[string]any{"id": "PVT_miles"}},
				}},
			})
		}), nil
	}
	tr := newTestTracker(t, handler, settings)

	_, err := tr.GetIssuesByNumber(context.Background(),
		[]tracker.IssueRef{{Repo: "mozilla/app", ID: "1"}}, false)
	var ambiguous *tracker.AmbiguousProjectMembershipError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("err = %v, want AmbiguousProjectMembershipError", err)
	}
	if ambiguous.Ref.Key() != "mozilla/app#1" {
		t.Errorf("error ref = %s", ambiguous.Ref.Key())
	}
}

func TestParseIssueSubIssuesAndParent(t *testing.T) {
	handler := &graphQLHandler{t: t}
	handler.respond = func(query string) (any, []GraphQLError) {
		return issuesFromQuery(query, func(string) map[string]any {
			return wireIssue(10, "OPEN", map[string]any{
				"parent": map[string]any{
					"number":     9,
					"repository": map[string]any{"nameWithOwner": "mozilla/app"},
				},
				"subIssues": map[string]any{"nodes": []any{
					map[string]any{"number": 11},
					map[string]any{"number": 12},
				}},
			})
		}), nil
	}
	tr := newTestTracker(t, handler, nil)

	issues, err := tr.GetIssuesByNumber(context.Background(),
		[]tracker.IssueRef{{Repo: "mozilla/app", ID: "10"}}, true)
	if err != nil {
		t.Fatalf("GetIssuesByNumber: %v", err)
	}
	issue := issues["mozilla/app#10"]
	if len(issue.Parents) != 1 || issue.Parents[0].ID != "9" {
		t.Errorf("parents = %+v", issue.Parents)
	}
	if len(issue.SubIssues) != 2 || issue.SubIssues[0].ID != "11" {
		t.Errorf("sub-issues = %+v", issue.SubIssues)
	}
	if len(issue.SubIssues) > 0 && len(issue.SubIssues[0].Parents) != 1 {
		t.Error("sub-issue refs must carry their parent ref")
	}
}

func TestUpdateMilestoneIssueNoChangeMakesNoMutation(t *testing.T) {
	handler := &graphQLHandler{t: t}
	handler.respond = func(query string) (any, []GraphQLError) {
		if strings.Contains(query, "mutation") {
			t.Errorf("unexpected mutation:\n%s", query)
		}
		return issuesFromQuery(query, func(string) map[string]any {
			return wireIssue(1, "OPEN", nil)
		}), nil
	}
	tr := newTestTracker(t, handler, nil)

	issues, err := tr.GetIssuesByNumber(context.Background(),
		[]tracker.IssueRef{{Repo: "mozilla/app", ID: "1"}}, false)
	if err != nil {
		t.Fatalf("GetIssuesByNumber: %v", err)
	}
	old := issues["mozilla/app#1"]
	if err := tr.UpdateMilestoneIssue(context.Background(), old, old.Clone()); err != nil {
		t.Fatalf("UpdateMilestoneIssue: %v", err)
	}
}

func TestUpdateAssigneesPreservesCommunityContributors(t *testing.T) {
	handler := &graphQLHandler{t: t}
	handler.respond = func(query string) (any, []GraphQLError) {
		if strings.Contains(query, "mutation") {
			return map[string]any{}, nil
		}
		return issuesFromQuery(query, func(string) map[string]any {
			return wireIssue(1, "OPEN", map[string]any{
				"assignees": map[string]any{"nodes": []any{
					map[string]any{"id": "U_alice", "login": "alice"},
					map[string]any{"id": "U_rando", "login": "rando"},
				}},
			})
		}), nil
	}
	tr := newTestTracker(t, handler, nil)

	issues, err := tr.GetIssuesByNumber(context.Background(),
		[]tracker.IssueRef{{Repo: "mozilla/app", ID: "1"}}, false)
	if err != nil {
		t.Fatalf("GetIssuesByNumber: %v", err)
	}
	old := issues["mozilla/app#1"]

	// The record dropped alice; rando has no record identity and must
	// survive the push.
	desired := old.Clone()
	desired.Assignees = nil
	if err := tr.UpdateMilestoneIssue(context.Background(), old, desired); err != nil {
		t.Fatalf("UpdateMilestoneIssue: %v", err)
	}

	var mutation string
	for _, q := range handler.requests {
		if strings.Contains(q, "removeAssigneesFromAssignable") {
			mutation = q
		}
	}
	if mutation == "" {
		t.Fatal("expected an assignee removal mutation")
	}
	if !strings.Contains(mutation, "U_alice") {
		t.Error("alice was not removed")
	}
	if strings.Contains(mutation, "U_rando") {
		t.Error("community contributor rando must not be removed")
	}
}

func TestUpdateLabelsAddsOnly(t *testing.T) {
	handler := &graphQLHandler{t: t}
	handler.respond = func(query string) (any, []GraphQLError) {
		switch {
		case strings.Contains(query, "label_0:"):
			return map[string]any{"repository": map[string]any{
				"label_0": map[string]any{"id": "L_sync"},
			}}, nil
		case strings.Contains(query, "mutation"):
			return map[string]any{}, nil
		default:
			return issuesFromQuery(query, func(string) map[string]any {
				return wireIssue(1, "OPEN", map[string]any{
					"labels": map[string]any{"nodes": []any{
						map[string]any{"id": "L_old", "name": "existing"},
					}},
				})
			}), nil
		}
	}
	tr := newTestTracker(t, handler, nil)

	issues, err := tr.GetIssuesByNumber(context.Background(),
		[]tracker.IssueRef{{Repo: "mozilla/app", ID: "1"}}, false)
	if err != nil {
		t.Fatalf("GetIssuesByNumber: %v", err)
	}
	old := issues["mozilla/app#1"]
	desired := old.Clone()
	desired.Labels = []string{"synced"} // "existing" dropped record-side

	if err := tr.UpdateMilestoneIssue(context.Background(), old, desired); err != nil {
		t.Fatalf("UpdateMilestoneIssue: %v", err)
	}

	var addMutation string
	for _, q := range handler.requests {
		if strings.Contains(q, "addLabelsToLabelable") {
			addMutation = q
		}
		if strings.Contains(q, "removeLabels") {
			t.Errorf("labels must never be removed:\n%s", q)
		}
	}
	if !strings.Contains(addMutation, "L_sync") {
		t.Errorf("missing label add mutation, got:\n%s", addMutation)
	}
}

func TestUpdateBoardFieldsWritesOnlyChanged(t *testing.T) {
	settings := map[string]any{
		"token": "t",
		"repositories": map[string]any{
			"repositories":          []any{"mozilla/app"},
			"milestones_project_id": "PVT_miles",
		},
	}
	handler := &graphQLHandler{t: t}
	handler.respond = func(query string) (any, []GraphQLError) {
		switch {
		case strings.Contains(query, "fields(first: 50)"):
			return map[string]any{"node": map[string]any{"fields": map[string]any{"nodes": []any{
				map[string]any{"id": "FIELD_status", "name": "Status", "dataType": "SINGLE_SELECT",
					"options": []any{map[string]any{"id": "OPT_in_progress", "name": "In progress"}}},
				map[string]any{"id": "FIELD_priority", "name": "Priority", "dataType": "SINGLE_SELECT",
					"options": []any{
						map[string]any{"id": "OPT_p1", "name": "P1"},
						map[string]any{"id": "OPT_p2", "name": "P2"},
					}},
			}}}}, nil
		case strings.Contains(query, "mutation"):
			return map[string]any{}, nil
		default:
			return issuesFromQuery(query, func(string) map[string]any {
				return wireIssue(1, "OPEN", map[string]any{
					"projectItems": map[string]any{"nodes": []any{
						map[string]any{
							"id":       "ITEM_1",
							"project":  map[string]any{"id": "PVT_miles"},
							"status":   map[string]any{"name": "In progress"},
							"priority": map[string]any{"name": "P1"},
						},
					}},
				})
			}), nil
		}
	}
	tr := newTestTracker(t, handler, settings)

	issues, err := tr.GetIssuesByNumber(context.Background(),
		[]tracker.IssueRef{{Repo: "mozilla/app", ID: "1"}}, false)
	if err != nil {
		t.Fatalf("GetIssuesByNumber: %v", err)
	}
	old := issues["mozilla/app#1"]

	// Only the priority moves; the status already matches and must not
	// be rewritten alongside it.
	desired := old.Clone()
	desired.Priority = "P2"
	if err := tr.UpdateMilestoneIssue(context.Background(), old, desired); err != nil {
		t.Fatalf("UpdateMilestoneIssue: %v", err)
	}

	var fieldMutation string
	for _, q := range handler.requests {
		if strings.Contains(q, "updateProjectV2ItemFieldValue") {
			fieldMutation = q
		}
	}
	if fieldMutation == "" {
		t.Fatal("expected a board field mutation")
	}
	if got := strings.Count(fieldMutation, "updateProjectV2ItemFieldValue"); got != 1 {
		t.Errorf("mutation carries %d field updates, want only the changed one:\n%s", got, fieldMutation)
	}
	if !strings.Contains(fieldMutation, "FIELD_priority") || !strings.Contains(fieldMutation, "OPT_p2") {
		t.Errorf("priority update missing:\n%s", fieldMutation)
	}
	if strings.Contains(fieldMutation, "FIELD_status") {
		t.Errorf("unchanged status field was written:\n%s", fieldMutation)
	}
}

func TestDryRunMakesNoMutations(t *testing.T) {
	handler := &graphQLHandler{t: t}
	handler.respond = func(query string) (any, []GraphQLError) {
		if strings.Contains(query, "mutation") {
			t.Errorf("dry run issued a mutation:\n%s", query)
		}
		return issuesFromQuery(query, func(string) map[string]any {
			return wireIssue(1, "OPEN", nil)
		}), nil
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &tracker.Config{
		Dry:    true,
		Fields: tracker.DefaultFields(),
		Users:  tracker.NewUserMap(nil),
		Settings: map[string]any{
			"token": "t",
			"repositories": map[string]any{
				"repositories": []any{"mozilla/app"},
			},
		},
	}
	tr, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr.client.Endpoint = srv.URL

	issues, err := tr.GetIssuesByNumber(context.Background(),
		[]tracker.IssueRef{{Repo: "mozilla/app", ID: "1"}}, false)
	if err != nil {
		t.Fatalf("GetIssuesByNumber: %v", err)
	}
	old := issues["mozilla/app#1"]
	desired := old.Clone()
	desired.Title = "renamed"
	desired.State = "Done"
	if err := tr.UpdateMilestoneIssue(context.Background(), old, desired); err != nil {
		t.Fatalf("UpdateMilestoneIssue: %v", err)
	}
}

func TestFormatRefs(t *testing.T) {
	handler := &graphQLHandler{t: t, respond: func(string) (any, []GraphQLError) { return nil, nil }}
	tr := newTestTracker(t, handler, nil)

	issue := &tracker.Issue{IssueRef: tracker.IssueRef{Repo: "mozilla/app", ID: "42"}}
	if got := tr.FormatIssueRefShort(issue); got != "mozilla/app#42" {
		t.Errorf("FormatIssueRefShort = %q", got)
	}
	if got := tr.FormatReviewRefShort("https://github.com/mozilla/app/pull/7"); got != "mozilla/app#7" {
		t.Errorf("FormatReviewRefShort = %q", got)
	}
	if got := tr.Mention(context.Background(), "alice"); got != "@alice" {
		t.Errorf("Mention = %q", got)
	}
}
