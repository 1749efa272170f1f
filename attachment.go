package anvil

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// AttachmentKind classifies how an attachment folds into context.
type AttachmentKind string

const (
	// AttachmentImage becomes an image message (base64 data URL).
	AttachmentImage AttachmentKind = "image"
	// AttachmentText becomes an annotated <file_content> user message.
	AttachmentText AttachmentKind = "text"
)

// Attachment is a file referenced from an event value, already resolved to
// content the context can carry.
type Attachment struct {
	Path    string         `json:"path"`
	Kind    AttachmentKind `json:"kind"`
	Content string         `json:"content"`
}

// AttachmentService resolves the file references in an event value into
// attachments. Implementations read the filesystem (and may render binary
// formats such as PDF to text first).
type AttachmentService interface {
	Attachments(ctx context.Context, eventValue string) ([]Attachment, error)
}

// ParseAttachmentPaths extracts @-prefixed file paths from text. Quoted paths
// (@"a path/with spaces.txt") may contain whitespace; unquoted paths end at
// the first whitespace. Duplicates are removed and results sorted.
func ParseAttachmentPaths(text string) []string {
	seen := map[string]struct{}{}
	rest := text
	for {
		at := strings.IndexByte(rest, '@')
		if at < 0 {
			break
		}
		rest = rest[at+1:]
		if rest == "" {
			break
		}
		var path string
		if rest[0] == '"' {
			rest = rest[1:]
			if end := strings.IndexByte(rest, '"'); end >= 0 {
				path = rest[:end]
				rest = rest[end+1:]
			} else {
				path = rest
				rest = ""
			}
		} else {
			end := strings.IndexFunc(rest, unicode.IsSpace)
			if end < 0 {
				path = rest
				rest = ""
			} else {
				path = rest[:end]
				rest = rest[end:]
			}
		}
		if path != "" {
			seen[path] = struct{}{}
		}
	}
	var paths []string
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// foldAttachment adds one attachment to the context: images become image
// messages, text becomes an annotated file-content user message.
func foldAttachment(c Context, a Attachment) Context {
	switch a.Kind {
	case AttachmentImage:
		return c.AddMessage(ImageMessage(a.Content))
	default:
		content := "<file_content path=\"" + a.Path + "\">" + a.Content + "</file_content>"
		return c.AddMessage(UserMessage(content))
	}
}
