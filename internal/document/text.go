package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TextStrategy reads files whose extension suggests plain text. Invalid
// UTF-8 sequences are dropped.
type TextStrategy struct {
	extensions map[string]bool
}

// NewTextStrategy accepts .txt and .md unless other extensions are given.
func NewTextStrategy(exts ...string) TextStrategy {
	if len(exts) == 0 {
		exts = []string{".txt", ".md"}
	}
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[strings.ToLower(e)] = true
	}
	return TextStrategy{extensions: m}
}

func (TextStrategy) Name() string { return "text" }

func (s TextStrategy) Pages(path string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !s.extensions[ext] {
		return nil, fmt.Errorf("extension %q is not plain text", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return []string{strings.ToValidUTF8(string(data), "")}, nil
}
