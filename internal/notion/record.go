package notion

import (
	"strings"

	"github.com/pagesync/pagesync/internal/property"
)

// Record is one item ("page") in a database. Properties hold the raw
// wire envelopes keyed by property name; the accessors below decode the
// handful of shapes the engine reads back.
type Record struct {
	ID         string                       `json:"id"`
	URL        string                       `json:"url"`
	Archived   bool                         `json:"archived"`
	Properties map[string]property.Envelope `json:"properties"`

	// Placeholder marks a synthetic record returned by a dry-mode
	// create. It carries an id for bookkeeping but must not be used for
	// follow-up content operations.
	Placeholder bool `json:"-"`
}

func (r *Record) envelope(name string) property.Envelope {
	if r == nil || r.Properties == nil {
		return nil
	}
	return r.Properties[name]
}

// TitleText returns the record title as plain text.
func (r *Record) TitleText(name string) string {
	return joinedPlainText(r.envelope(name), "title")
}

// RichTextValue returns a rich-text property as plain text.
func (r *Record) RichTextValue(name string) string {
	return joinedPlainText(r.envelope(name), "rich_text")
}

// SelectName returns the selected option name, or "" when cleared.
func (r *Record) SelectName(name string) string {
	sel, _ := r.envelope(name)["select"].(map[string]any)
	s, _ := sel["name"].(string)
	return s
}

// StatusName returns the status option name, or "" when absent.
func (r *Record) StatusName(name string) string {
	st, _ := r.envelope(name)["status"].(map[string]any)
	s, _ := st["name"].(string)
	return s
}

// URLValue returns a url property, or "" when cleared.
func (r *Record) URLValue(name string) string {
	s, _ := r.envelope(name)["url"].(string)
	return s
}

// PeopleIDs returns the user ids of a people property.
func (r *Record) PeopleIDs(name string) []string {
	items, _ := r.envelope(name)["people"].([]any)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		m, _ := item.(map[string]any)
		if id, _ := m["id"].(string); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// RelationIDs returns the normalized related record ids.
func (r *Record) RelationIDs(name string) []string {
	items, _ := r.envelope(name)["relation"].([]any)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		m, _ := item.(map[string]any)
		if id, _ := m["id"].(string); id != "" {
			ids = append(ids, property.NormalizeID(id))
		}
	}
	return ids
}

// DateValues returns the raw start and end strings of a date property,
// "" for an unset side.
func (r *Record) DateValues(name string) (start, end string) {
	date, _ := r.envelope(name)["date"].(map[string]any)
	start, _ = date["start"].(string)
	end, _ = date["end"].(string)
	return start, end
}

// FirstFileURL returns the link of the first entry of a files property,
// or "" when the property is empty. The issue-link property stores the
// issue URL this way.
func (r *Record) FirstFileURL(name string) string {
	items, _ := r.envelope(name)["files"].([]any)
	for _, item := range items {
		m, _ := item.(map[string]any)
		if ext, _ := m["external"].(map[string]any); ext != nil {
			if u, _ := ext["url"].(string); u != "" {
				return u
			}
		}
		if f, _ := m["file"].(map[string]any); f != nil {
			if u, _ := f["url"].(string); u != "" {
				return u
			}
		}
	}
	return ""
}

func joinedPlainText(env property.Envelope, key string) string {
	items, _ := env[key].([]any)
	var b strings.Builder
	for _, item := range items {
		m, _ := item.(map[string]any)
		s, _ := m["plain_text"].(string)
		b.WriteString(s)
	}
	return b.String()
}
