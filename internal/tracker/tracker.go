// Package tracker defines the issue-tracker abstraction the
// reconciliation engine runs against, plus the shared data model and the
// plugin registry. Each external system provides an adapter implementing
// the Tracker interface and registers it at init time.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Tracker is the uniform issue-tracker contract. Implementations are
// stateless across calls except for internal read caches (label ids,
// board schemas) that may be populated redundantly when raced.
type Tracker interface {
	// Name returns the lowercase identifier, e.g. "github".
	Name() string

	// DisplayName returns the human-readable name.
	DisplayName() string

	// Fields returns the record field configuration for this tracker.
	Fields() *Fields

	// Users returns the identity map between tracker handles and
	// record-store user ids.
	Users() *UserMap

	// ParseIssueRef recognizes this backend's issue URLs only. Foreign
	// URLs return nil so multiple trackers can share one record
	// collection without claiming each other's links.
	ParseIssueRef(url string) *IssueRef

	// IsRepoAllowed enforces the configured repository allow-list.
	IsRepoAllowed(repo string) bool

	// Repositories lists all configured repository namespaces.
	Repositories() []string

	// GetIssuesByNumber bulk-fetches full issues for the given refs,
	// batching per backend rules. The result is keyed by IssueRef.Key.
	GetIssuesByNumber(ctx context.Context, refs []IssueRef, includeSubIssues bool) (map[string]*Issue, error)

	// UpdateMilestoneIssue diffs old against new field by field and
	// issues only the necessary mutations. An assignee whose identity
	// has no record-side mapping is never removed. A no-op diff makes
	// zero calls.
	UpdateMilestoneIssue(ctx context.Context, old, new *Issue) error

	// GetSprints lists the tracker's sprints with status derived from
	// their date ranges at call time.
	GetSprints(ctx context.Context) ([]*Sprint, error)

	// CollectAdditionalTasks adds issues the tracker considers relevant
	// beyond what the records already reference (e.g. board items
	// without a milestone) into the repo -> issue-id set.
	CollectAdditionalTasks(ctx context.Context, collected map[string]map[string]bool) error

	// FormatIssueRefShort renders the short human label for an issue
	// link, e.g. "org/app#42" or "bug 42".
	FormatIssueRefShort(issue *Issue) string

	// FormatReviewRefShort renders the short label for a review URL.
	FormatReviewRefShort(url string) string

	// TaskTitle decorates the record title for a synced task.
	TaskTitle(prefix string, issue *Issue) string

	// Mention renders a tracker mention for a handle, e.g. "@handle".
	// Backends that resolve handles remotely honor the context.
	Mention(ctx context.Context, handle string) string
}

// AllIssuesLister is implemented by trackers that can enumerate every
// issue in their configured repositories; the label-based sync needs it.
type AllIssuesLister interface {
	AllIssues(ctx context.Context) ([]*Issue, error)
}

// Config carries everything an adapter needs at construction. Settings
// holds backend-specific keys from the project configuration.
type Config struct {
	Dry        bool
	HTTPClient *http.Client
	Logger     *slog.Logger
	Fields     Fields
	Users      *UserMap
	Settings   map[string]any
}

// GetString returns a settings value, or "" when absent.
func (c *Config) GetString(key string) string {
	s, _ := c.Settings[key].(string)
	return s
}

// GetRequired returns a settings value, failing when absent or empty.
func (c *Config) GetRequired(key string) (string, error) {
	s := c.GetString(key)
	if s == "" {
		return "", fmt.Errorf("missing required tracker setting %q", key)
	}
	return s, nil
}

// GetStringSlice returns a list-valued setting.
func (c *Config) GetStringSlice(key string) []string {
	switch v := c.Settings[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// GetBool returns a boolean setting, false when absent.
func (c *Config) GetBool(key string) bool {
	b, _ := c.Settings[key].(bool)
	return b
}

// AmbiguousProjectMembershipError reports an issue discovered on two
// mutually exclusive project boards. It is never auto-resolved: the
// remediation (removing the issue from one board) is a human action.
type AmbiguousProjectMembershipError struct {
	Ref      IssueRef
	Projects []string
}

func (e *AmbiguousProjectMembershipError) Error() string {
	return fmt.Sprintf("issue %s is on multiple exclusive project boards: %s",
		e.Ref.Key(), strings.Join(e.Projects, ", "))
}
