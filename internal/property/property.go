// Package property defines the per-field codecs that translate domain
// values to and from the remote record store's wire representation.
//
// Each Descriptor knows how to encode a domain value into the wire shape
// for its field kind, and how to decide whether an already-stored wire
// value differs from a desired domain value. Diff is what keeps repeat
// reconciliation passes from issuing needless writes: a malformed or
// absent remote envelope always reads as "different" so the next write
// repairs it.
package property

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Kind identifies a field type in the remote schema.
type Kind string

const (
	KindTitle            Kind = "title"
	KindRichText         Kind = "rich_text"
	KindRichTextSpaceSet Kind = "rich_text_space_set"
	KindNumber           Kind = "number"
	KindSelect           Kind = "select"
	KindMultiSelect      Kind = "multi_select"
	KindRelation         Kind = "relation"
	KindDate             Kind = "date"
	KindStatus           Kind = "status"
	KindPeople           Kind = "people"
	KindURL              Kind = "url"
	KindFiles            Kind = "files"
)

// WireType returns the wire-level type name. The space-set flavor is a
// presentation detail on top of rich_text.
func (k Kind) WireType() string {
	if k == KindRichTextSpaceSet {
		return string(KindRichText)
	}
	return string(k)
}

// Envelope is the decoded wire value of one field as returned by the
// remote store, e.g. {"type":"select","select":{"name":"P1"}}.
type Envelope map[string]any

// InvalidOptionError reports a desired select value outside the
// configured option set. This is a configuration bug, never retried.
type InvalidOptionError struct {
	Property string
	Value    string
	Options  []string
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("invalid option %q for property %q, must be one of %v",
		e.Value, e.Property, e.Options)
}

// Descriptor declares how one domain field maps to the remote schema.
// Descriptors are built once at engine initialization and are immutable
// afterwards.
type Descriptor struct {
	Name   string
	Kind   Kind
	Schema map[string]any

	encode func(v any) (map[string]any, error)
	diff   func(env Envelope, v any) bool
}

// Encode returns the wire fragment for a desired domain value. It is a
// pure function of its input; no network I/O happens here.
func (d *Descriptor) Encode(v any) (map[string]any, error) {
	return d.encode(v)
}

// Diff reports whether the stored envelope differs from the desired
// domain value. An absent or malformed envelope is different.
func (d *Descriptor) Diff(env Envelope, v any) bool {
	return d.diff(env, v)
}

// SchemaFragment returns the schema definition for this property, used
// when creating or updating the remote database schema.
func (d *Descriptor) SchemaFragment() map[string]any {
	frag := map[string]any{"name": d.Name, "type": d.Kind.WireType()}
	for k, v := range d.Schema {
		frag[k] = v
	}
	return frag
}

// logger is shared by the codecs for the occasional warning (case-only
// label differences). Swap it in tests if needed.
var logger = slog.Default().With("component", "property")

// Date is a domain date that may carry a time component. The remote
// store truncates date-times to minute precision, so Diff does the same
// before comparing.
type Date struct {
	Time    time.Time
	HasTime bool
}

// NewDate returns a date-only value.
func NewDate(t time.Time) *Date { return &Date{Time: t} }

// NewDateTime returns a value with a time component.
func NewDateTime(t time.Time) *Date { return &Date{Time: t, HasTime: true} }

// wireString formats the date the way the store stores it: date-only as
// 2006-01-02, date-times truncated to the minute with millisecond
// precision, matching the remote normalization.
func (d *Date) wireString() string {
	if d == nil || d.Time.IsZero() {
		return ""
	}
	if !d.HasTime {
		return d.Time.Format("2006-01-02")
	}
	return d.Time.Truncate(time.Minute).Format("2006-01-02T15:04:05.000Z07:00")
}

// encodeString formats the date for an outgoing write, without the diff
// truncation.
func (d *Date) encodeString() string {
	if d == nil || d.Time.IsZero() {
		return ""
	}
	if !d.HasTime {
		return d.Time.Format("2006-01-02")
	}
	return d.Time.Format(time.RFC3339)
}

// DateRange is a date or date range value for KindDate properties.
type DateRange struct {
	Start *Date
	End   *Date
}

// IsZero reports whether neither end of the range is set.
func (r *DateRange) IsZero() bool {
	return r == nil || (r.Start == nil && r.End == nil)
}

// FileRef is one entry of a files property: a named external link.
type FileRef struct {
	Name string
	URL  string
}

// --- envelope access helpers -------------------------------------------

// envString digs a string out of an envelope, returning "" when any hop
// is missing or of the wrong shape.
func envString(v any, path ...string) string {
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return ""
		}
		v = m[key]
	}
	s, _ := v.(string)
	return s
}

func envList(env Envelope, key string) ([]any, bool) {
	v, ok := env[key]
	if !ok {
		return nil, false
	}
	l, ok := v.([]any)
	return l, ok
}

// plainText joins the plain_text runs of a title/rich_text envelope list.
func plainText(items []any) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString(envString(item, "plain_text"))
	}
	return b.String()
}

func stringSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func lowerSet(set map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(set))
	for k := range set {
		out[strings.ToLower(k)] = struct{}{}
	}
	return out
}

// NormalizeID strips separator punctuation from a record id so ids that
// arrive with or without dashes compare equal.
func NormalizeID(id string) string {
	return strings.ReplaceAll(id, "-", "")
}

func toStrings(v any) []string {
	switch vv := v.(type) {
	case nil:
		return nil
	case []string:
		return vv
	case string:
		if vv == "" {
			return nil
		}
		return []string{vv}
	default:
		return nil
	}
}
