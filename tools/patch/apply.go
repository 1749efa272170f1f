package patch

import (
	"fmt"
	"strings"
)

// Apply applies every block to content in order. Each search text replaces
// its first match only. An empty search text appends the replacement to the
// end of the content. A block whose search text is absent fails with the
// block position so the model can correct it.
func Apply(content string, blocks []Block) (string, error) {
	for i, block := range blocks {
		if block.Search == "" {
			if content != "" && !strings.HasSuffix(content, "\n") {
				content += "\n"
			}
			content += block.Replace
			continue
		}
		idx := strings.Index(content, block.Search)
		if idx < 0 {
			return "", fmt.Errorf("block %d: search text not found in content", i+1)
		}
		content = content[:idx] + block.Replace + content[idx+len(block.Search):]
	}
	return content, nil
}
