// Package notion is the record store facade: paginated reads, diffed
// writes, archival and schema validation for one database, built on the
// property codecs.
package notion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/pagesync/pagesync/internal/property"
)

// API is the slice of the REST client the database facade needs. Tests
// substitute a fake; production wiring passes *Client.
type API interface {
	QueryDatabase(ctx context.Context, databaseID string, filter map[string]any, startCursor string) (*Page, error)
	RetrieveDatabase(ctx context.Context, databaseID string) (*DatabaseInfo, error)
	UpdateDatabase(ctx context.Context, databaseID string, payload map[string]any) error
	CreatePage(ctx context.Context, databaseID string, properties map[string]any) (*Record, error)
	UpdatePage(ctx context.Context, pageID string, properties map[string]any) error
	ArchivePage(ctx context.Context, pageID string) error
	ListBlocks(ctx context.Context, blockID, startCursor string) (*BlockPage, error)
	AppendBlocks(ctx context.Context, blockID string, children []map[string]any) error
	DeleteBlock(ctx context.Context, blockID string) error
}

// SchemaValidationError reports a live schema that cannot support the
// configured properties, e.g. a required relation field missing outright.
type SchemaValidationError struct {
	DatabaseID string
	Problems   []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("database %s schema unusable: %s", e.DatabaseID, strings.Join(e.Problems, "; "))
}

// Database wraps one remote database with its configured property
// descriptors. In dry mode every mutating call is a logged no-op.
type Database struct {
	api    API
	id     string
	props  map[string]*property.Descriptor
	order  []string
	dry    bool
	logger *slog.Logger
}

// NewDatabase builds the facade. The descriptor list fixes which fields
// the engine may read or write; it is immutable afterwards.
func NewDatabase(api API, databaseID string, props []*property.Descriptor, dry bool, logger *slog.Logger) *Database {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Database{
		api:    api,
		id:     databaseID,
		props:  make(map[string]*property.Descriptor, len(props)),
		dry:    dry,
		logger: logger.With("component", "notion", "database", databaseID),
	}
	for _, p := range props {
		d.props[p.Name] = p
		d.order = append(d.order, p.Name)
	}
	return d
}

// ID returns the remote database id.
func (d *Database) ID() string { return d.id }

// Property returns the descriptor registered under name, or nil.
func (d *Database) Property(name string) *property.Descriptor { return d.props[name] }

// ListAll fetches every record, following pagination until exhausted. A
// page that repeats the previous cursor aborts rather than looping.
func (d *Database) ListAll(ctx context.Context, filter map[string]any) ([]*Record, error) {
	var records []*Record
	cursor := ""
	for {
		page, err := d.api.QueryDatabase(ctx, d.id, filter, cursor)
		if err != nil {
			return nil, fmt.Errorf("querying database %s: %w", d.id, err)
		}
		records = append(records, page.Results...)
		if !page.HasMore || page.NextCursor == "" {
			return records, nil
		}
		if page.NextCursor == cursor {
			return nil, fmt.Errorf("database %s returned repeating pagination cursor %q", d.id, cursor)
		}
		cursor = page.NextCursor
	}
}

// encodeFields turns a field map into wire properties, failing on the
// first field without a descriptor or with an invalid value.
func (d *Database) encodeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		desc, ok := d.props[name]
		if !ok {
			return nil, fmt.Errorf("no property %q configured on database %s", name, d.id)
		}
		frag, err := desc.Encode(value)
		if err != nil {
			return nil, err
		}
		out[name] = frag
	}
	return out, nil
}

// Diff reports whether any field in fields differs from the record's
// stored state. Fields without a descriptor are ignored.
func (d *Database) Diff(rec *Record, fields map[string]any) bool {
	changed := false
	for name, value := range fields {
		desc, ok := d.props[name]
		if !ok {
			continue
		}
		if desc.Diff(rec.envelope(name), value) {
			d.logger.Debug("property changed", "record", rec.ID, "property", name)
			changed = true
		}
	}
	return changed
}

// Create encodes fields and creates a record. In dry mode it returns a
// placeholder record with a synthetic id: usable for identity
// bookkeeping, not for content operations.
func (d *Database) Create(ctx context.Context, fields map[string]any) (*Record, error) {
	props, err := d.encodeFields(fields)
	if err != nil {
		return nil, err
	}
	if d.dry {
		d.logger.Info("dry run: would create record", "fields", len(props))
		return &Record{ID: "dry-" + uuid.NewString(), Placeholder: true}, nil
	}
	rec, err := d.api.CreatePage(ctx, d.id, props)
	if err != nil {
		return nil, fmt.Errorf("creating record in %s: %w", d.id, err)
	}
	return rec, nil
}

// Update writes fields that differ from the record's stored state. When
// nothing differs it returns false without any network call; repeated
// reconciliation passes cost zero writes.
func (d *Database) Update(ctx context.Context, rec *Record, fields map[string]any) (bool, error) {
	if !d.Diff(rec, fields) {
		return false, nil
	}
	props, err := d.encodeFields(fields)
	if err != nil {
		return false, err
	}
	if d.dry {
		d.logger.Info("dry run: would update record", "record", rec.ID, "url", rec.URL)
		return true, nil
	}
	if err := d.api.UpdatePage(ctx, rec.ID, props); err != nil {
		return false, fmt.Errorf("updating record %s: %w", rec.ID, err)
	}
	return true, nil
}

// Archive soft-deletes a record. Idempotent: archiving twice succeeds.
func (d *Database) Archive(ctx context.Context, recordID string) error {
	if d.dry {
		d.logger.Info("dry run: would archive record", "record", recordID)
		return nil
	}
	if err := d.api.ArchivePage(ctx, recordID); err != nil {
		return fmt.Errorf("archiving record %s: %w", recordID, err)
	}
	return nil
}

// Description returns the database description as plain text.
func (d *Database) Description(ctx context.Context) (string, error) {
	info, err := d.api.RetrieveDatabase(ctx, d.id)
	if err != nil {
		return "", fmt.Errorf("retrieving database %s: %w", d.id, err)
	}
	var b strings.Builder
	for _, item := range info.Description {
		if text, _ := item["text"].(map[string]any); text != nil {
			s, _ := text["content"].(string)
			b.WriteString(s)
		}
	}
	return b.String(), nil
}

// SetDescription replaces the database description.
func (d *Database) SetDescription(ctx context.Context, desc string) error {
	if d.dry {
		return nil
	}
	payload := map[string]any{
		"description": []any{map[string]any{"type": "text", "text": map[string]any{"content": desc}}},
	}
	if err := d.api.UpdateDatabase(ctx, d.id, payload); err != nil {
		return fmt.Errorf("setting description on %s: %w", d.id, err)
	}
	return nil
}

// PageBlocks fetches all content blocks of a page.
func (d *Database) PageBlocks(ctx context.Context, pageID string) ([]Block, error) {
	var blocks []Block
	cursor := ""
	for {
		page, err := d.api.ListBlocks(ctx, pageID, cursor)
		if err != nil {
			return nil, fmt.Errorf("listing blocks of %s: %w", pageID, err)
		}
		blocks = append(blocks, page.Results...)
		if !page.HasMore || page.NextCursor == "" {
			return blocks, nil
		}
		if page.NextCursor == cursor {
			return nil, fmt.Errorf("page %s returned repeating pagination cursor %q", pageID, cursor)
		}
		cursor = page.NextCursor
	}
}

// AppendParagraphs appends plain paragraphs to a page body. Placeholder
// records are skipped: dry-created records have no remote content area.
func (d *Database) AppendParagraphs(ctx context.Context, rec *Record, paragraphs ...string) error {
	if d.dry || rec.Placeholder {
		return nil
	}
	children := make([]map[string]any, 0, len(paragraphs))
	for _, p := range paragraphs {
		children = append(children, map[string]any{
			"object": "block",
			"type":   "paragraph",
			"paragraph": map[string]any{
				"rich_text": []any{map[string]any{"type": "text", "text": map[string]any{"content": p}}},
			},
		})
	}
	if err := d.api.AppendBlocks(ctx, rec.ID, children); err != nil {
		return fmt.Errorf("appending content to %s: %w", rec.ID, err)
	}
	return nil
}

// ReplaceContents deletes the page's existing blocks and appends the
// given ones.
func (d *Database) ReplaceContents(ctx context.Context, pageID string, children []map[string]any) error {
	if d.dry {
		return nil
	}
	existing, err := d.PageBlocks(ctx, pageID)
	if err != nil {
		return err
	}
	for _, block := range existing {
		if err := d.api.DeleteBlock(ctx, block.ID()); err != nil {
			return fmt.Errorf("deleting block %s: %w", block.ID(), err)
		}
	}
	if len(children) == 0 {
		return nil
	}
	if err := d.api.AppendBlocks(ctx, pageID, children); err != nil {
		return fmt.Errorf("appending content to %s: %w", pageID, err)
	}
	return nil
}

// ValidateSchema compares the configured descriptors against the live
// schema. Mismatches are logged; mutation only happens when allowed.
// Deleting an orphan property is refused for title and status kinds,
// the API cannot remove those. A relation or title property missing
// outright with no permission to create it makes the database unusable
// and returns a SchemaValidationError.
func (d *Database) ValidateSchema(ctx context.Context, allowCreate, allowDelete bool) (bool, error) {
	info, err := d.api.RetrieveDatabase(ctx, d.id)
	if err != nil {
		return false, fmt.Errorf("retrieving database %s: %w", d.id, err)
	}
	current := info.Properties

	if allowDelete {
		for name, schema := range current {
			if _, ok := d.props[name]; ok {
				continue
			}
			typ, _ := schema["type"].(string)
			if typ == "status" || typ == "title" {
				continue
			}
			if d.dry {
				d.logger.Info("dry run: would delete orphan property", "property", name)
				continue
			}
			if err := d.api.UpdateDatabase(ctx, d.id, map[string]any{"properties": map[string]any{name: nil}}); err != nil {
				return false, fmt.Errorf("deleting orphan property %q: %w", name, err)
			}
		}
	}

	ok := true
	var fatal []string
	for _, name := range d.order {
		desc := d.props[name]
		frag := desc.SchemaFragment()

		// The title property always has the wire id "title"; rename it
		// through that id instead of creating a second one.
		var patch map[string]any
		if desc.Kind == property.KindTitle {
			patch = map[string]any{"title": map[string]any{"name": name}}
		} else {
			patch = map[string]any{name: frag}
		}

		live, exists := current[name]
		switch {
		case !exists:
			ok = false
			if desc.Kind == property.KindRelation || desc.Kind == property.KindTitle {
				fatal = append(fatal, fmt.Sprintf("required %s property %q missing", desc.Kind, name))
			}
			if !allowCreate || d.dry {
				d.logger.Warn("missing property", "property", name, "type", frag["type"])
				continue
			}
			if err := d.api.UpdateDatabase(ctx, d.id, map[string]any{"properties": patch}); err != nil {
				return false, fmt.Errorf("creating property %q: %w", name, err)
			}
		case live["type"] != frag["type"]:
			ok = false
			if !allowCreate || d.dry {
				d.logger.Warn("property type mismatch",
					"property", name, "have", live["type"], "want", frag["type"])
				continue
			}
			if err := d.api.UpdateDatabase(ctx, d.id, map[string]any{"properties": patch}); err != nil {
				return false, fmt.Errorf("updating property %q: %w", name, err)
			}
		case frag["type"] == "select":
			if !selectOptionsMatch(live, frag) {
				if !allowCreate || d.dry {
					d.logger.Warn("select options mismatch", "property", name)
					continue
				}
				if err := d.api.UpdateDatabase(ctx, d.id, map[string]any{"properties": patch}); err != nil {
					return false, fmt.Errorf("updating property %q: %w", name, err)
				}
			}
		}
	}

	if len(fatal) > 0 && (!allowCreate || d.dry) {
		return false, &SchemaValidationError{DatabaseID: d.id, Problems: fatal}
	}
	if ok {
		d.logger.Debug("schema up to date")
	}
	return ok, nil
}

func selectOptionsMatch(live, want map[string]any) bool {
	return optionNames(live) != "" && optionNames(live) == optionNames(want)
}

// optionNames renders a select schema's option set as a sorted key; the
// two sides come from different decoders so shapes vary.
func optionNames(schema map[string]any) string {
	sel, _ := schema["select"].(map[string]any)
	opts, _ := sel["options"].([]any)
	names := make(map[string]struct{}, len(opts))
	for _, o := range opts {
		if m, ok := o.(map[string]any); ok {
			if n, _ := m["name"].(string); n != "" {
				names[n] = struct{}{}
			}
		}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}
