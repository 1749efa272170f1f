// Package patch implements the search/replace block format consumed by the
// fs_replace tool:
//
//	<<<<<<< SEARCH
//	exact text
//	=======
//	replacement text
//	>>>>>>> REPLACE
//
// Multiple blocks may appear; each applies to the first match only. The
// SEARCH marker, the divider, and the REPLACE marker must each start at the
// beginning of a line.
package patch

import (
	"fmt"
	"strings"
)

const (
	markerSearch  = "<<<<<<< SEARCH"
	markerDivider = "======="
	markerReplace = ">>>>>>> REPLACE"
)

// Block is one parsed search/replace pair.
type Block struct {
	Search  string
	Replace string
}

// BlockErrorKind classifies block parse failures.
type BlockErrorKind string

const (
	// ErrKindSearchNewline means the SEARCH marker was not followed by a newline.
	ErrKindSearchNewline BlockErrorKind = "missing newline after SEARCH marker"
	// ErrKindSeparator means no divider was found between search and replace.
	ErrKindSeparator BlockErrorKind = "missing separator between search and replace content"
	// ErrKindReplaceMarker means the REPLACE marker is absent.
	ErrKindReplaceMarker BlockErrorKind = "missing REPLACE marker"
	// ErrKindMarkerPosition means a marker did not start at the beginning of a line.
	ErrKindMarkerPosition BlockErrorKind = "invalid marker position - must start at beginning of line"
)

// BlockError reports a malformed block by its 1-based position.
type BlockError struct {
	Position int
	Kind     BlockErrorKind
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("error in block %d: %s", e.Position, e.Kind)
}

// ErrNoBlocks is returned when the input contains no search/replace blocks.
type noBlocksError struct{}

func (noBlocksError) Error() string { return "no search/replace blocks found in content" }

// ErrNoBlocks is the sentinel for block-free input.
var ErrNoBlocks error = noBlocksError{}

// atLineStart reports whether the text preceding a marker ends with a newline
// (or is empty).
func atLineStart(prefix string) bool {
	return prefix == "" || strings.HasSuffix(prefix, "\n")
}

// Parse extracts every search/replace block from input, in order.
func Parse(input string) ([]Block, error) {
	if !strings.Contains(input, markerSearch) {
		return nil, ErrNoBlocks
	}

	var blocks []Block
	rest := input
	for position := 1; ; position++ {
		idx := strings.Index(rest, markerSearch)
		if idx < 0 {
			break
		}
		if !atLineStart(rest[:idx]) {
			return nil, &BlockError{Position: position, Kind: ErrKindMarkerPosition}
		}

		after := rest[idx+len(markerSearch):]
		after, ok := strings.CutPrefix(strings.TrimPrefix(after, "\r"), "\n")
		if !ok {
			return nil, &BlockError{Position: position, Kind: ErrKindSearchNewline}
		}

		divider := findLineMarker(after, markerDivider)
		if divider < 0 {
			return nil, &BlockError{Position: position, Kind: ErrKindSeparator}
		}
		search := after[:divider]

		after = after[divider+len(markerDivider):]
		after, ok = strings.CutPrefix(strings.TrimPrefix(after, "\r"), "\n")
		if !ok {
			return nil, &BlockError{Position: position, Kind: ErrKindSeparator}
		}

		replaceEnd := findLineMarker(after, markerReplace)
		if replaceEnd < 0 {
			return nil, &BlockError{Position: position, Kind: ErrKindReplaceMarker}
		}
		replace := after[:replaceEnd]

		blocks = append(blocks, Block{
			Search:  strings.TrimSuffix(search, "\n"),
			Replace: strings.TrimSuffix(replace, "\n"),
		})
		rest = after[replaceEnd+len(markerReplace):]
	}

	if len(blocks) == 0 {
		return nil, ErrNoBlocks
	}
	return blocks, nil
}

// findLineMarker returns the index of marker at the start of a line, or -1.
func findLineMarker(s, marker string) int {
	offset := 0
	for {
		idx := strings.Index(s[offset:], marker)
		if idx < 0 {
			return -1
		}
		abs := offset + idx
		if atLineStart(s[:abs]) {
			return abs
		}
		offset = abs + len(marker)
	}
}
