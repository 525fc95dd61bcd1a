package bootstrap

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPattern matches every Turtle file under ./ontology.
const DefaultPattern = "ontology/**/*.ttl"

// SchemaSource resolves schema files from glob patterns. Relative patterns
// are resolved against Root.
type SchemaSource struct {
	Root     string
	Patterns []string
}

// NewSchemaSource creates a source. No patterns means DefaultPattern.
func NewSchemaSource(root string, patterns ...string) *SchemaSource {
	if len(patterns) == 0 {
		patterns = []string{DefaultPattern}
	}
	return &SchemaSource{Root: root, Patterns: patterns}
}

// Files returns the matching regular files, deduplicated and sorted.
func (s *SchemaSource) Files() ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	for _, pattern := range s.Patterns {
		if !filepath.IsAbs(pattern) && s.Root != "" {
			pattern = filepath.Join(s.Root, pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			info, err := os.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no schema files match %v", s.Patterns)
	}
	sort.Strings(files)
	return files, nil
}

// Load concatenates the matching files in path order. Each file ends with a
// newline so statements never run together.
func (s *SchemaSource) Load() ([]byte, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", f, err)
		}
		buf.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}
