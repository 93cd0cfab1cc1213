package property

import (
	"strings"
)

// Title is the page title property. Every database has exactly one; it
// cannot be deleted and its wire id is always "title".
func Title(name string) *Descriptor {
	return &Descriptor{
		Name: name,
		Kind: KindTitle,
		encode: func(v any) (map[string]any, error) {
			s, _ := v.(string)
			return map[string]any{"title": []any{textRun(s)}}, nil
		},
		diff: func(env Envelope, v any) bool {
			s, _ := v.(string)
			items, ok := envList(env, "title")
			if !ok || len(items) == 0 {
				return true
			}
			return plainText(items) != s
		},
	}
}

// RichText is a plain-text property.
func RichText(name string) *Descriptor {
	return &Descriptor{
		Name:   name,
		Kind:   KindRichText,
		Schema: map[string]any{"rich_text": map[string]any{}},
		encode: func(v any) (map[string]any, error) {
			s, _ := v.(string)
			return map[string]any{"rich_text": []any{textRun(s)}}, nil
		},
		diff: func(env Envelope, v any) bool {
			s, _ := v.(string)
			items, ok := envList(env, "rich_text")
			if !ok || len(items) == 0 {
				return true
			}
			return plainText(items) != s
		},
	}
}

// RichTextSpaceSet is a rich-text property holding a set of words joined
// by spaces; the diff treats word order as insignificant.
func RichTextSpaceSet(name string) *Descriptor {
	d := RichText(name)
	d.Kind = KindRichTextSpaceSet
	d.diff = func(env Envelope, v any) bool {
		s, _ := v.(string)
		items, ok := envList(env, "rich_text")
		if !ok || len(items) == 0 {
			return true
		}
		return !setsEqual(stringSet(strings.Fields(plainText(items))), stringSet(strings.Fields(s)))
	}
	return d
}

// Number is a numeric property.
func Number(name string) *Descriptor {
	return &Descriptor{
		Name:   name,
		Kind:   KindNumber,
		Schema: map[string]any{"number": map[string]any{}},
		encode: func(v any) (map[string]any, error) {
			return map[string]any{"number": v}, nil
		},
		diff: func(env Envelope, v any) bool {
			stored, ok := env["number"]
			if !ok {
				return true
			}
			return toFloat(stored) != toFloat(v)
		},
	}
}

// Select is a single-select with a fixed option set. Encoding a value
// outside the set fails with InvalidOptionError; encoding "" clears the
// selection. An empty option list disables validation.
func Select(name string, options []string) *Descriptor {
	optionList := make([]any, len(options))
	for i, opt := range options {
		optionList[i] = map[string]any{"name": opt}
	}
	allowed := stringSet(options)

	return &Descriptor{
		Name:   name,
		Kind:   KindSelect,
		Schema: map[string]any{"select": map[string]any{"options": optionList}},
		encode: func(v any) (map[string]any, error) {
			s, _ := v.(string)
			if s == "" {
				return map[string]any{"select": nil}, nil
			}
			if len(allowed) > 0 {
				if _, ok := allowed[s]; !ok {
					return nil, &InvalidOptionError{Property: name, Value: s, Options: options}
				}
			}
			return map[string]any{"select": map[string]any{"name": s}}, nil
		},
		diff: func(env Envelope, v any) bool {
			s, _ := v.(string)
			if _, ok := env["select"]; !ok {
				return true
			}
			return envString(env["select"], "name") != s
		},
	}
}

// MultiSelect is a label set with a fixed option set. Set comparison is
// case-sensitive; a case-insensitive match is logged but still reported
// as different, never silently normalized.
func MultiSelect(name string, options []string) *Descriptor {
	optionList := make([]any, len(options))
	for i, opt := range options {
		optionList[i] = map[string]any{"name": opt}
	}
	allowed := stringSet(options)

	return &Descriptor{
		Name:   name,
		Kind:   KindMultiSelect,
		Schema: map[string]any{"multi_select": map[string]any{"options": optionList}},
		encode: func(v any) (map[string]any, error) {
			vals := toStrings(v)
			encoded := make([]any, 0, len(vals))
			for _, val := range vals {
				if len(allowed) > 0 {
					if _, ok := allowed[val]; !ok {
						return nil, &InvalidOptionError{Property: name, Value: val, Options: options}
					}
				}
				encoded = append(encoded, map[string]any{"name": val})
			}
			return map[string]any{"multi_select": encoded}, nil
		},
		diff: func(env Envelope, v any) bool {
			items, ok := envList(env, "multi_select")
			if !ok {
				return true
			}
			stored := make(map[string]struct{}, len(items))
			for _, item := range items {
				stored[envString(item, "name")] = struct{}{}
			}
			desired := stringSet(toStrings(v))
			if setsEqual(stored, desired) {
				return false
			}
			if setsEqual(lowerSet(stored), lowerSet(desired)) {
				logger.Warn("labels differ only by case", "property", name,
					"stored", setKeys(stored), "desired", setKeys(desired))
			}
			return true
		},
	}
}

// Relation references pages in another database. Ids are normalized
// (dashes stripped) before set comparison. dual declares a
// bi-directional relation in the schema.
func Relation(name, relatedDatabaseID string, dual bool) *Descriptor {
	relType := "single_property"
	if dual {
		relType = "dual_property"
	}
	return &Descriptor{
		Name: name,
		Kind: KindRelation,
		Schema: map[string]any{"relation": map[string]any{
			"database_id": relatedDatabaseID,
			"type":        relType,
			relType:       map[string]any{},
		}},
		encode: func(v any) (map[string]any, error) {
			ids := toStrings(v)
			rels := make([]any, 0, len(ids))
			for _, id := range ids {
				rels = append(rels, map[string]any{"id": NormalizeID(id)})
			}
			return map[string]any{"relation": rels}, nil
		},
		diff: func(env Envelope, v any) bool {
			items, _ := envList(env, "relation")
			stored := make(map[string]struct{}, len(items))
			for _, item := range items {
				stored[NormalizeID(envString(item, "id"))] = struct{}{}
			}
			desired := make(map[string]struct{})
			for _, id := range toStrings(v) {
				desired[NormalizeID(id)] = struct{}{}
			}
			return !setsEqual(stored, desired)
		},
	}
}

// DateProp is a date or date-range property. The store only keeps
// date-times to the minute, so the diff truncates the desired value the
// same way; without that every pass would report a spurious difference.
func DateProp(name string) *Descriptor {
	return &Descriptor{
		Name:   name,
		Kind:   KindDate,
		Schema: map[string]any{"date": map[string]any{}},
		encode: func(v any) (map[string]any, error) {
			r, _ := v.(*DateRange)
			if r.IsZero() {
				return map[string]any{"date": nil}, nil
			}
			val := map[string]any{}
			if r.Start != nil {
				val["start"] = r.Start.encodeString()
			} else {
				val["start"] = nil
			}
			if r.End != nil {
				val["end"] = r.End.encodeString()
			} else {
				val["end"] = nil
			}
			return map[string]any{"date": val}, nil
		},
		diff: func(env Envelope, v any) bool {
			r, _ := v.(*DateRange)
			storedStart := envString(env["date"], "start")
			storedEnd := envString(env["date"], "end")

			var wantStart, wantEnd string
			if r != nil {
				wantStart = r.Start.wireString()
				wantEnd = r.End.wireString()
			}
			return storedStart != wantStart || storedEnd != wantEnd
		},
	}
}

// Status is the status dropdown. It is special: the backing API cannot
// create or delete it, it just exists on certain databases, so schema
// validation never mutates it; it is only read and written per record.
func Status(name string) *Descriptor {
	return &Descriptor{
		Name:   name,
		Kind:   KindStatus,
		Schema: map[string]any{"status": map[string]any{}},
		encode: func(v any) (map[string]any, error) {
			s, _ := v.(string)
			return map[string]any{"status": map[string]any{"name": s}}, nil
		},
		diff: func(env Envelope, v any) bool {
			s, _ := v.(string)
			if _, ok := env["status"]; !ok {
				return true
			}
			return envString(env["status"], "name") != s
		},
	}
}

// People is a user-list property. Encoding an empty list still emits an
// explicit empty people value rather than omitting the field, so a
// cleared assignee actually clears remotely.
func People(name string) *Descriptor {
	return &Descriptor{
		Name: name,
		Kind: KindPeople,
		encode: func(v any) (map[string]any, error) {
			ids := toStrings(v)
			people := make([]any, 0, len(ids))
			for _, id := range ids {
				people = append(people, map[string]any{"object": "user", "id": id})
			}
			return map[string]any{"people": people}, nil
		},
		diff: func(env Envelope, v any) bool {
			items, ok := envList(env, "people")
			if !ok {
				return true
			}
			stored := make(map[string]struct{}, len(items))
			for _, item := range items {
				stored[envString(item, "id")] = struct{}{}
			}
			return !setsEqual(stored, stringSet(toStrings(v)))
		},
	}
}

// URL is a link property.
func URL(name string) *Descriptor {
	return &Descriptor{
		Name:   name,
		Kind:   KindURL,
		Schema: map[string]any{"url": map[string]any{}},
		encode: func(v any) (map[string]any, error) {
			s, _ := v.(string)
			if s == "" {
				return map[string]any{"url": nil}, nil
			}
			return map[string]any{"url": s}, nil
		},
		diff: func(env Envelope, v any) bool {
			s, _ := v.(string)
			if _, ok := env["url"]; !ok {
				return true
			}
			stored, _ := env["url"].(string)
			return stored != s
		},
	}
}

// Files is a list of named external links. The diff compares the set of
// link URLs.
func Files(name string) *Descriptor {
	return &Descriptor{
		Name:   name,
		Kind:   KindFiles,
		Schema: map[string]any{"files": map[string]any{}},
		encode: func(v any) (map[string]any, error) {
			refs, _ := v.([]FileRef)
			files := make([]any, 0, len(refs))
			for _, ref := range refs {
				files = append(files, map[string]any{
					"name":     ref.Name,
					"type":     "external",
					"external": map[string]any{"url": ref.URL},
				})
			}
			return map[string]any{"files": files}, nil
		},
		diff: func(env Envelope, v any) bool {
			refs, _ := v.([]FileRef)
			items, ok := envList(env, "files")
			if !ok {
				return true
			}
			stored := make(map[string]struct{}, len(items))
			for _, item := range items {
				if u := envString(item, "external", "url"); u != "" {
					stored[u] = struct{}{}
				} else if u := envString(item, "file", "url"); u != "" {
					stored[u] = struct{}{}
				}
			}
			desired := make(map[string]struct{}, len(refs))
			for _, ref := range refs {
				desired[ref.URL] = struct{}{}
			}
			return !setsEqual(stored, desired)
		},
	}
}

func textRun(s string) map[string]any {
	return map[string]any{"text": map[string]any{"content": s}}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func setKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}
