package anvil

import "testing"

func TestExtractTagContent(t *testing.T) {
	cases := []struct {
		name    string
		content string
		tag     string
		want    string
		found   bool
	}{
		{"present", "before <summary>the gist</summary> after", "summary", "the gist", true},
		{"absent", "no tags here", "summary", "", false},
		{"unterminated", "<summary>never closed", "summary", "", false},
		{"empty tag name", "<summary>x</summary>", "", "", false},
		{"trims whitespace", "<s>\n  padded \n</s>", "s", "padded", true},
		{"first occurrence wins", "<s>one</s><s>two</s>", "s", "one", true},
	}
	for _, tc := range cases {
		got, found := extractTagContent(tc.content, tc.tag)
		if got != tc.want || found != tc.found {
			t.Errorf("%s: extractTagContent = (%q, %v), want (%q, %v)", tc.name, got, found, tc.want, tc.found)
		}
	}
}

func TestRemoveTagWithPrefix(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"single block", "hello <forge_feedback>internal</forge_feedback> world", "hello  world"},
		{"multiple blocks", "<forge_a>x</forge_a>keep<forge_b>y</forge_b>", "keep"},
		{"no blocks", "plain text", "plain text"},
		{"unterminated removed to end", "keep <forge_note>dangling", "keep"},
		{"other tags untouched", "<note>visible</note>", "<note>visible</note>"},
		{"lone angle bracket", "a < b and c", "a < b and c"},
	}
	for _, tc := range cases {
		if got := removeTagWithPrefix(tc.content, "forge_"); got != tc.want {
			t.Errorf("%s: removeTagWithPrefix = %q, want %q", tc.name, got, tc.want)
		}
	}
}
