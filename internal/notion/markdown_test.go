package notion

import (
	"strings"
	"testing"
)

func paragraphBlock(runs ...any) Block {
	return Block{"type": "paragraph", "paragraph": map[string]any{"rich_text": runs}}
}

func plainRun(text string) map[string]any {
	return map[string]any{"type": "text", "plain_text": text}
}

func mentionRun(userID, fallback string) map[string]any {
	return map[string]any{
		"type":       "mention",
		"plain_text": fallback,
		"mention":    map[string]any{"type": "user", "user": map[string]any{"id": userID}},
	}
}

func TestConvertMentionSubstitution(t *testing.T) {
	c := &MarkdownConverter{Mention: func(id string) string {
		if id == "user-1" {
			return "@alice"
		}
		return ""
	}}

	got := c.Convert([]Block{
		paragraphBlock(plainRun("ping "), mentionRun("user-1", "@Alice")),
		paragraphBlock(mentionRun("user-2", "@Bob Stranger")),
	})
	// Mapped users become tracker mentions; unmapped ones keep their
	// display text with the "@" stripped so nobody gets pinged.
	want := "ping @alice\n\nBob Stranger"
	if got != want {
		t.Errorf("Convert = %q, want %q", got, want)
	}
}

func TestConvertImageStripping(t *testing.T) {
	blocks := []Block{
		paragraphBlock(plainRun("text")),
		{"type": "image", "image": map[string]any{"external": map[string]any{"url": "https://img.test/a.png"}}},
	}

	stripped := (&MarkdownConverter{StripImages: true}).Convert(blocks)
	if strings.Contains(stripped, "img.test") {
		t.Errorf("image survived stripping: %q", stripped)
	}
	kept := (&MarkdownConverter{}).Convert(blocks)
	if !strings.Contains(kept, "![image](https://img.test/a.png)") {
		t.Errorf("image missing without stripping: %q", kept)
	}
}

func TestConvertNumberedListReset(t *testing.T) {
	numbered := func(text string) Block {
		return Block{"type": "numbered_list_item", "numbered_list_item": map[string]any{
			"rich_text": []any{plainRun(text)},
		}}
	}
	c := &MarkdownConverter{}

	got := c.Convert([]Block{numbered("one"), numbered("two"), paragraphBlock(plainRun("break")), numbered("again")})
	want := "1. one\n\n2. two\n\nbreak\n\n1. again"
	if got != want {
		t.Errorf("Convert = %q, want %q", got, want)
	}
}

func TestConvertAnnotationsAndLinks(t *testing.T) {
	run := map[string]any{
		"type":        "text",
		"plain_text":  "hot",
		"annotations": map[string]any{"bold": true},
		"href":        "https://example.test/doc",
	}
	code := map[string]any{
		"type":        "text",
		"plain_text":  "x := 1",
		"annotations": map[string]any{"code": true},
	}
	c := &MarkdownConverter{}

	got := c.Convert([]Block{paragraphBlock(run, plainRun(" and "), code)})
	want := "[**hot**](https://example.test/doc) and `x := 1`"
	if got != want {
		t.Errorf("Convert = %q, want %q", got, want)
	}
}

func TestConvertCodeBlock(t *testing.T) {
	blocks := []Block{{"type": "code", "code": map[string]any{
		"language":  "go",
		"rich_text": []any{plainRun("fmt.Println(1)")},
	}}}

	got := (&MarkdownConverter{}).Convert(blocks)
	if got != "```go\nfmt.Println(1)\n```" {
		t.Errorf("Convert = %q", got)
	}
}

func blockRuns(t *testing.T, b map[string]any) []map[string]any {
	t.Helper()
	typ, _ := b["type"].(string)
	body, _ := b[typ].(map[string]any)
	raw, _ := body["rich_text"].([]any)
	runs := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		m, _ := r.(map[string]any)
		runs = append(runs, m)
	}
	return runs
}

func runsContent(runs []map[string]any) string {
	var b strings.Builder
	for _, run := range runs {
		text, _ := run["text"].(map[string]any)
		s, _ := text["content"].(string)
		b.WriteString(s)
	}
	return b.String()
}

func TestMarkdownBlocksStructure(t *testing.T) {
	tests := []struct {
		name      string
		markdown  string
		wantTypes []string
		wantTexts []string
	}{
		{
			name:      "heading and paragraph",
			markdown:  "# Title\n\nsome body",
			wantTypes: []string{"heading_1", "paragraph"},
			wantTexts: []string{"Title", "some body"},
		},
		{
			name:      "deep heading clamps",
			markdown:  "##### deep",
			wantTypes: []string{"heading_3"},
			wantTexts: []string{"deep"},
		},
		{
			name:      "bulleted list",
			markdown:  "- first\n- second",
			wantTypes: []string{"bulleted_list_item", "bulleted_list_item"},
			wantTexts: []string{"first", "second"},
		},
		{
			name:      "numbered list",
			markdown:  "1. first\n2. second",
			wantTypes: []string{"numbered_list_item", "numbered_list_item"},
			wantTexts: []string{"first", "second"},
		},
		{
			name:      "nested list flattens",
			markdown:  "- outer\n  - inner",
			wantTypes: []string{"bulleted_list_item", "bulleted_list_item"},
			wantTexts: []string{"outer", "inner"},
		},
		{
			name:      "quote",
			markdown:  "> wise words",
			wantTypes: []string{"quote"},
			wantTexts: []string{"wise words"},
		},
		{
			name:      "divider",
			markdown:  "above\n\n---\n\nbelow",
			wantTypes: []string{"paragraph", "divider", "paragraph"},
			wantTexts: []string{"above", "", "below"},
		},
		{
			name:      "lone image dropped",
			markdown:  "![shot](https://img.test/a.png)",
			wantTypes: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			blocks := MarkdownBlocks(tc.markdown)
			if len(blocks) != len(tc.wantTypes) {
				t.Fatalf("got %d blocks, want %d: %+v", len(blocks), len(tc.wantTypes), blocks)
			}
			for i, b := range blocks {
				if typ, _ := b["type"].(string); typ != tc.wantTypes[i] {
					t.Errorf("block %d type = %q, want %q", i, typ, tc.wantTypes[i])
				}
				if tc.wantTexts[i] == "" {
					continue
				}
				if got := runsContent(blockRuns(t, b)); got != tc.wantTexts[i] {
					t.Errorf("block %d text = %q, want %q", i, got, tc.wantTexts[i])
				}
			}
		})
	}
}

func TestMarkdownBlocksInlineAnnotations(t *testing.T) {
	blocks := MarkdownBlocks("some **bold** and *em* with `code` and a [link](https://example.test/doc)")
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	runs := blockRuns(t, blocks[0])
	if got := runsContent(runs); got != "some bold and em with code and a link" {
		t.Fatalf("content = %q", got)
	}

	annotation := func(content, key string) bool {
		for _, run := range runs {
			text, _ := run["text"].(map[string]any)
			if s, _ := text["content"].(string); s != content {
				continue
			}
			ann, _ := run["annotations"].(map[string]any)
			v, _ := ann[key].(bool)
			return v
		}
		return false
	}
	if !annotation("bold", "bold") {
		t.Error("bold run lost its annotation")
	}
	if !annotation("em", "italic") {
		t.Error("italic run lost its annotation")
	}
	if !annotation("code", "code") {
		t.Error("code span lost its annotation")
	}

	var linkURL string
	for _, run := range runs {
		text, _ := run["text"].(map[string]any)
		if s, _ := text["content"].(string); s == "link" {
			linkURL, _ = text["link"].(map[string]any)["url"].(string)
		}
	}
	if linkURL != "https://example.test/doc" {
		t.Errorf("link url = %q", linkURL)
	}
}

func TestMarkdownBlocksImageInParagraphDropped(t *testing.T) {
	blocks := MarkdownBlocks("before ![shot](https://img.test/a.png) after")
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	got := runsContent(blockRuns(t, blocks[0]))
	if strings.Contains(got, "img.test") || strings.Contains(got, "shot") {
		t.Errorf("image leaked into text: %q", got)
	}
	if !strings.Contains(got, "before") || !strings.Contains(got, "after") {
		t.Errorf("surrounding text lost: %q", got)
	}
}

func TestMarkdownBlocksCodeFence(t *testing.T) {
	blocks := MarkdownBlocks("```go\nfmt.Println(1)\nfmt.Println(2)\n```")
	if len(blocks) != 1 || blocks[0]["type"] != "code" {
		t.Fatalf("blocks = %+v", blocks)
	}
	body, _ := blocks[0]["code"].(map[string]any)
	if body["language"] != "go" {
		t.Errorf("language = %v", body["language"])
	}
	if got := runsContent(blockRuns(t, blocks[0])); got != "fmt.Println(1)\nfmt.Println(2)" {
		t.Errorf("code text = %q", got)
	}

	// An unlabeled fence gets the store's plain-text language.
	blocks = MarkdownBlocks("```\nx\n```")
	body, _ = blocks[0]["code"].(map[string]any)
	if body["language"] != "plain text" {
		t.Errorf("default language = %v", body["language"])
	}
}

func TestMarkdownBlocksBodyWithNotice(t *testing.T) {
	// The shape written for synced task bodies: a leading notice
	// paragraph with emphasis, then the issue description.
	blocks := MarkdownBlocks("ℹ️ _This task synchronizes with GitHub._\n\nSteps to reproduce:\n\n1. open the app\n2. crash")
	if len(blocks) != 4 {
		t.Fatalf("got %d blocks: %+v", len(blocks), blocks)
	}
	runs := blockRuns(t, blocks[0])
	var italic bool
	for _, run := range runs {
		text, _ := run["text"].(map[string]any)
		if s, _ := text["content"].(string); strings.Contains(s, "synchronizes") {
			ann, _ := run["annotations"].(map[string]any)
			italic, _ = ann["italic"].(bool)
		}
	}
	if !italic {
		t.Error("notice emphasis was dropped")
	}
	if blocks[2]["type"] != "numbered_list_item" || blocks[3]["type"] != "numbered_list_item" {
		t.Errorf("steps lost their list structure: %+v", blocks)
	}
}
