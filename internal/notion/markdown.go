package notion

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Block is one raw content block of a page.
type Block map[string]any

// ID returns the block id.
func (b Block) ID() string {
	s, _ := b["id"].(string)
	return s
}

// Type returns the block type name.
func (b Block) Type() string {
	s, _ := b["type"].(string)
	return s
}

// MentionResolver maps a record-store user id to a tracker mention
// string (e.g. "@handle"). Returning "" keeps the plain text, with the
// "@" stripped so nobody unrelated gets pinged on the tracker side.
type MentionResolver func(userID string) string

// MarkdownConverter renders page blocks to tracker markdown. It covers
// the block types the synced pages actually use; unknown types render as
// their plain text.
type MarkdownConverter struct {
	StripImages bool
	Mention     MentionResolver
}

// Convert renders blocks to a markdown string.
func (c *MarkdownConverter) Convert(blocks []Block) string {
	var out []string
	numbered := 0
	for _, block := range blocks {
		typ := block.Type()
		if typ != "numbered_list_item" {
			numbered = 0
		}
		body, _ := block[typ].(map[string]any)
		text := c.richText(body)

		switch typ {
		case "paragraph":
			out = append(out, text)
		case "heading_1":
			out = append(out, "# "+text)
		case "heading_2":
			out = append(out, "## "+text)
		case "heading_3":
			out = append(out, "### "+text)
		case "bulleted_list_item":
			out = append(out, "- "+text)
		case "numbered_list_item":
			numbered++
			out = append(out, fmt.Sprintf("%d. %s", numbered, text))
		case "quote":
			out = append(out, "> "+text)
		case "code":
			lang, _ := body["language"].(string)
			out = append(out, "```"+lang+"\n"+text+"\n```")
		case "divider":
			out = append(out, "---")
		case "to_do":
			mark := " "
			if checked, _ := body["checked"].(bool); checked {
				mark = "x"
			}
			out = append(out, fmt.Sprintf("- [%s] %s", mark, text))
		case "image":
			if c.StripImages {
				continue
			}
			if u := imageURL(body); u != "" {
				out = append(out, fmt.Sprintf("![image](%s)", u))
			}
		default:
			if text != "" {
				out = append(out, text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n\n"))
}

// richText renders the rich_text runs of a block body, substituting user
// mentions and applying basic annotations.
func (c *MarkdownConverter) richText(body map[string]any) string {
	runs, _ := body["rich_text"].([]any)
	var b strings.Builder
	for _, raw := range runs {
		run, _ := raw.(map[string]any)
		text, _ := run["plain_text"].(string)

		if runType, _ := run["type"].(string); runType == "mention" {
			text = c.mentionText(run, text)
		}

		if ann, _ := run["annotations"].(map[string]any); ann != nil {
			if v, _ := ann["code"].(bool); v {
				text = "`" + text + "`"
			}
			if v, _ := ann["bold"].(bool); v {
				text = "**" + text + "**"
			}
			if v, _ := ann["italic"].(bool); v {
				text = "*" + text + "*"
			}
		}
		if href, _ := run["href"].(string); href != "" {
			text = fmt.Sprintf("[%s](%s)", text, href)
		}
		b.WriteString(text)
	}
	return b.String()
}

func (c *MarkdownConverter) mentionText(run map[string]any, fallback string) string {
	mention, _ := run["mention"].(map[string]any)
	if typ, _ := mention["type"].(string); typ == "user" && c.Mention != nil {
		user, _ := mention["user"].(map[string]any)
		if id, _ := user["id"].(string); id != "" {
			if handle := c.Mention(id); handle != "" {
				return handle
			}
		}
	}
	return strings.ReplaceAll(fallback, "@", "")
}

func imageURL(body map[string]any) string {
	for _, key := range []string{"external", "file"} {
		if m, _ := body[key].(map[string]any); m != nil {
			if u, _ := m["url"].(string); u != "" {
				return u
			}
		}
	}
	return ""
}

// MarkdownBlocks parses tracker markdown into page content blocks.
// Emphasis, code spans and links survive as rich-text annotations;
// images are dropped. Headings deeper than three levels clamp to
// heading_3, the deepest the store supports.
func MarkdownBlocks(markdown string) []map[string]any {
	source := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var blocks []map[string]any
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		blocks = append(blocks, blockify(node, source)...)
	}
	return blocks
}

func blockify(node ast.Node, source []byte) []map[string]any {
	switch n := node.(type) {
	case *ast.Heading:
		runs := inlineRuns(n, source, inlineStyle{})
		return []map[string]any{richTextBlock(fmt.Sprintf("heading_%d", min(n.Level, 3)), runs)}
	case *ast.Paragraph, *ast.TextBlock:
		runs := inlineRuns(node, source, inlineStyle{})
		if len(runs) == 0 {
			// An image-only paragraph vanishes entirely.
			return nil
		}
		return []map[string]any{richTextBlock("paragraph", runs)}
	case *ast.List:
		typ := "bulleted_list_item"
		if n.IsOrdered() {
			typ = "numbered_list_item"
		}
		var blocks []map[string]any
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			blocks = append(blocks, containerBlocks(item, typ, source)...)
		}
		return blocks
	case *ast.Blockquote:
		return containerBlocks(n, "quote", source)
	case *ast.FencedCodeBlock:
		return []map[string]any{codeBlock(codeText(n, source), string(n.Language(source)))}
	case *ast.CodeBlock:
		return []map[string]any{codeBlock(codeText(n, source), "")}
	case *ast.ThematicBreak:
		return []map[string]any{{"object": "block", "type": "divider", "divider": map[string]any{}}}
	default:
		runs := inlineRuns(node, source, inlineStyle{})
		if len(runs) == 0 {
			return nil
		}
		return []map[string]any{richTextBlock("paragraph", runs)}
	}
}

// containerBlocks renders a list item or blockquote: its own text
// becomes one block of the given type, nested blocks follow flattened.
// The store nests children under their parent block, but flat siblings
// read the same and keep the append calls simple.
func containerBlocks(node ast.Node, typ string, source []byte) []map[string]any {
	var runs []any
	var nested []map[string]any
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.(type) {
		case *ast.Paragraph, *ast.TextBlock:
			if len(runs) > 0 {
				runs = append(runs, styledRun(" ", inlineStyle{}))
			}
			runs = append(runs, inlineRuns(child, source, inlineStyle{})...)
		default:
			nested = append(nested, blockify(child, source)...)
		}
	}
	var blocks []map[string]any
	if len(runs) > 0 {
		blocks = append(blocks, richTextBlock(typ, runs))
	}
	return append(blocks, nested...)
}

// inlineStyle accumulates the annotations active at one point of the
// inline tree.
type inlineStyle struct {
	bold   bool
	italic bool
	code   bool
	link   string
}

// inlineRuns flattens a node's inline tree into rich-text runs, carrying
// the accumulated style into every leaf.
func inlineRuns(parent ast.Node, source []byte, style inlineStyle) []any {
	var runs []any
	for node := parent.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Text:
			content := string(n.Segment.Value(source))
			if n.SoftLineBreak() || n.HardLineBreak() {
				content += " "
			}
			if content != "" {
				runs = append(runs, styledRun(content, style))
			}
		case *ast.String:
			runs = append(runs, styledRun(string(n.Value), style))
		case *ast.CodeSpan:
			st := style
			st.code = true
			runs = append(runs, inlineRuns(n, source, st)...)
		case *ast.Emphasis:
			st := style
			if n.Level >= 2 {
				st.bold = true
			} else {
				st.italic = true
			}
			runs = append(runs, inlineRuns(n, source, st)...)
		case *ast.Link:
			st := style
			st.link = string(n.Destination)
			runs = append(runs, inlineRuns(n, source, st)...)
		case *ast.AutoLink:
			st := style
			st.link = string(n.URL(source))
			runs = append(runs, styledRun(string(n.Label(source)), st))
		case *ast.Image:
			// Dropped; tracker-hosted images are not mirrored.
		default:
			runs = append(runs, inlineRuns(node, source, style)...)
		}
	}
	return runs
}

func styledRun(content string, style inlineStyle) map[string]any {
	text := map[string]any{"content": content}
	if style.link != "" {
		text["link"] = map[string]any{"url": style.link}
	}
	run := map[string]any{"type": "text", "text": text}
	ann := map[string]any{}
	if style.bold {
		ann["bold"] = true
	}
	if style.italic {
		ann["italic"] = true
	}
	if style.code {
		ann["code"] = true
	}
	if len(ann) > 0 {
		run["annotations"] = ann
	}
	return run
}

func richTextBlock(typ string, runs []any) map[string]any {
	return map[string]any{
		"object": "block",
		"type":   typ,
		typ:      map[string]any{"rich_text": runs},
	}
}

func codeText(node ast.Node, source []byte) string {
	var b strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return strings.TrimRight(b.String(), "\n")
}

func codeBlock(code, lang string) map[string]any {
	if lang == "" {
		lang = "plain text"
	}
	return map[string]any{
		"object": "block",
		"type":   "code",
		"code": map[string]any{
			"language":  lang,
			"rich_text": []any{map[string]any{"type": "text", "text": map[string]any{"content": code}}},
		},
	}
}
