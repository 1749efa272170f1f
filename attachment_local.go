package anvil

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxAttachmentBytes caps how much of a single attachment is read.
const maxAttachmentBytes = 10 * 1024 * 1024 // 10 MB

// LocalAttachments resolves @-referenced paths against the local filesystem.
// Images become base64 data URLs, PDFs are rendered to plain text, everything
// else is read verbatim as text.
type LocalAttachments struct {
	// Root anchors relative paths. Empty means the process working directory.
	Root string
}

var _ AttachmentService = (*LocalAttachments)(nil)

// Attachments implements AttachmentService.
func (s *LocalAttachments) Attachments(_ context.Context, eventValue string) ([]Attachment, error) {
	var out []Attachment
	for _, path := range ParseAttachmentPaths(eventValue) {
		resolved := path
		if !filepath.IsAbs(resolved) && s.Root != "" {
			resolved = filepath.Join(s.Root, resolved)
		}
		info, err := os.Stat(resolved)
		if err != nil || info.IsDir() || info.Size() > maxAttachmentBytes {
			continue // unreadable references are silently skipped
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			continue
		}
		attachment, err := resolveAttachment(path, data)
		if err != nil {
			continue
		}
		out = append(out, attachment)
	}
	return out, nil
}

func resolveAttachment(path string, data []byte) (Attachment, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		mime := "image/" + strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		if mime == "image/jpg" {
			mime = "image/jpeg"
		}
		url := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
		return Attachment{Path: path, Kind: AttachmentImage, Content: url}, nil
	case ".pdf":
		text, err := pdfToText(data)
		if err != nil {
			return Attachment{}, err
		}
		return Attachment{Path: path, Kind: AttachmentText, Content: text}, nil
	default:
		return Attachment{Path: path, Kind: AttachmentText, Content: string(data)}, nil
	}
}

// pdfToText extracts plain text from a PDF document page by page.
func pdfToText(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty PDF content")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var text strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
	}
	return strings.TrimSpace(text.String()), nil
}
