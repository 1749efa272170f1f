package anvil

import "strings"

// extractTagContent returns the text between the first <tag> and its closing
// </tag>, or "" and false when the tag is absent or unterminated.
func extractTagContent(content, tag string) (string, bool) {
	if tag == "" {
		return "", false
	}
	open := "<" + tag + ">"
	close := "</" + tag + ">"
	start := strings.Index(content, open)
	if start < 0 {
		return "", false
	}
	inner := content[start+len(open):]
	end := strings.Index(inner, close)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(inner[:end]), true
}

// removeTagWithPrefix strips every <PREFIXname>…</PREFIXname> block from
// content. Used to hide internal feedback tags (prefix "forge_") from the
// user-visible text. Unterminated blocks are removed to end of input.
func removeTagWithPrefix(content, prefix string) string {
	var out strings.Builder
	rest := content
	for {
		start := strings.Index(rest, "<"+prefix)
		if start < 0 {
			out.WriteString(rest)
			break
		}
		nameEnd := strings.IndexByte(rest[start:], '>')
		if nameEnd < 0 {
			out.WriteString(rest[:start])
			break
		}
		name := rest[start+1 : start+nameEnd]
		if !isIdentName(name) {
			// Not a well-formed tag; keep the literal text and move on.
			out.WriteString(rest[:start+nameEnd+1])
			rest = rest[start+nameEnd+1:]
			continue
		}
		out.WriteString(rest[:start])
		closing := "</" + name + ">"
		closeIdx := strings.Index(rest[start:], closing)
		if closeIdx < 0 {
			break
		}
		rest = rest[start+closeIdx+len(closing):]
	}
	return strings.TrimSpace(out.String())
}

func isIdentName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}
