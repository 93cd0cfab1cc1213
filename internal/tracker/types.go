package tracker

import (
	"strings"
	"time"

	"github.com/pagesync/pagesync/internal/property"
)

// SprintStatus is a sprint's position relative to today.
type SprintStatus string

const (
	SprintFuture  SprintStatus = "Future"
	SprintCurrent SprintStatus = "Current"
	SprintPast    SprintStatus = "Past"
)

// Sprint is one tracker iteration, mirrored into the Sprint record
// collection.
type Sprint struct {
	ID        string
	Name      string
	Status    SprintStatus
	StartDate time.Time
	EndDate   time.Time
}

// StatusAt derives the sprint status from its date range at the given
// time.
func (s *Sprint) StatusAt(now time.Time) SprintStatus {
	today := now.Truncate(24 * time.Hour)
	switch {
	case s.StartDate.After(today):
		return SprintFuture
	case s.EndDate.Before(today):
		return SprintPast
	default:
		return SprintCurrent
	}
}

// IssueRef identifies a tracker issue without its payload. Equality is
// by (Repo, ID); parent links are carried as refs, never as embedded
// issue pointers, so cyclic hierarchies cannot form reference cycles.
type IssueRef struct {
	Repo    string
	ID      string
	Parents []IssueRef
}

// Key returns the map key form of the reference.
func (r IssueRef) Key() string { return r.Repo + "#" + r.ID }

// Issue is the full tracker-issue payload. It is produced fresh on each
// fetch and never cached across reconciliation passes; mutation goes
// through Tracker.UpdateMilestoneIssue which diffs old against new.
type Issue struct {
	IssueRef

	Title       string
	Description string
	// State is the tracker's discrete status label. Empty means the
	// tracker only knows open/closed for this issue; the record status
	// is then derived through DeriveStatus.
	State     string
	Priority  string
	Assignees []User
	Labels    []string

	URL       string
	ReviewURL string
	// RecordURL is the back-link to the synced record, empty if none.
	RecordURL string

	CreatedAt time.Time
	ClosedAt  *time.Time
	StartDate *property.Date
	EndDate   *property.Date

	Sprint    *Sprint
	SubIssues []IssueRef

	Whiteboard string
}

// HasLabel reports whether the issue carries the label, case-sensitive.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Clone returns a copy with its own slices, for building a desired
// state next to the fetched one.
func (i *Issue) Clone() *Issue {
	out := *i
	out.Assignees = append([]User(nil), i.Assignees...)
	out.Labels = append([]string(nil), i.Labels...)
	out.SubIssues = append([]IssueRef(nil), i.SubIssues...)
	out.Parents = append([]IssueRef(nil), i.Parents...)
	return &out
}

// User is a bidirectional identity: a tracker handle, a record-store
// user id, or both. A user with only one side known is still valid; a
// community contributor without a record identity must never be dropped
// from assignee computations.
type User struct {
	TrackerHandle string
	RecordUserID  string
}

// Equal compares users case-insensitively on the tracker handle. Users
// known only by record id compare by that id.
func (u User) Equal(other User) bool {
	if u.TrackerHandle == "" && other.TrackerHandle == "" {
		return u.RecordUserID == other.RecordUserID
	}
	return strings.EqualFold(u.TrackerHandle, other.TrackerHandle)
}

// UserMap is the static two-way mapping between tracker handles and
// record-store user ids.
type UserMap struct {
	trackerToRecord map[string]string
	recordToTracker map[string]string
}

// NewUserMap builds the map from a tracker-handle to record-user-id
// table. Handle lookup is case-insensitive.
func NewUserMap(trackerToRecord map[string]string) *UserMap {
	m := &UserMap{
		trackerToRecord: make(map[string]string, len(trackerToRecord)),
		recordToTracker: make(map[string]string, len(trackerToRecord)),
	}
	for handle, recordID := range trackerToRecord {
		m.trackerToRecord[strings.ToLower(handle)] = recordID
		m.recordToTracker[recordID] = handle
	}
	return m
}

// ByTracker returns the user for a tracker handle, with the record side
// filled in when known.
func (m *UserMap) ByTracker(handle string) User {
	return User{
		TrackerHandle: handle,
		RecordUserID:  m.trackerToRecord[strings.ToLower(handle)],
	}
}

// ByRecord returns the user for a record user id, with the tracker side
// filled in when known.
func (m *UserMap) ByRecord(recordID string) User {
	return User{
		TrackerHandle: m.recordToTracker[recordID],
		RecordUserID:  recordID,
	}
}

// ContainsUser reports whether the assignee set already holds the user.
func ContainsUser(users []User, u User) bool {
	for _, existing := range users {
		if existing.Equal(u) {
			return true
		}
	}
	return false
}
