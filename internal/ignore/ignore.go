// Package ignore reads gitignore-style exclusion files for corpus
// directories and matches relative paths against the resulting patterns.
package ignore

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultFiles are the exclusion files looked up in a corpus directory.
var DefaultFiles = []string{".ratlrignore", ".gitignore"}

// Parser reads and parses gitignore-style files.
type Parser struct {
	// IgnoreFiles is the list of ignore file names to look for.
	IgnoreFiles []string

	// FallbackPatterns are returned when no ignore files are found.
	FallbackPatterns []string
}

// NewParser creates a parser.
func NewParser(ignoreFiles, fallbackPatterns []string) *Parser {
	return &Parser{
		IgnoreFiles:      ignoreFiles,
		FallbackPatterns: fallbackPatterns,
	}
}

// ParseDir reads every ignore file present in dir and returns the combined
// patterns, or the fallback patterns when none exists.
func (p *Parser) ParseDir(dir string) ([]string, error) {
	var patterns []string
	foundAny := false

	for _, ignoreFile := range p.IgnoreFiles {
		filePatterns, err := parseFile(filepath.Join(dir, ignoreFile))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
		foundAny = true
	}

	if !foundAny {
		return p.FallbackPatterns, nil
	}
	return deduplicate(patterns), nil
}

func parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pattern := parseLine(scanner.Text()); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseLine returns "" for blank lines, comments and negations, which are
// not supported.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ""
	}
	return toGlobPattern(line)
}

// toGlobPattern converts a gitignore pattern to one of the glob shapes
// Match understands.
func toGlobPattern(pattern string) string {
	// A leading slash anchors to the root, which every pattern here is.
	pattern = strings.TrimPrefix(pattern, "/")

	if strings.HasSuffix(pattern, "/") {
		pattern = pattern + "**"
	}

	// Slash-free names match at any depth.
	if !strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") && !strings.HasPrefix(pattern, "*") {
		pattern = "**/" + pattern
	}

	// Extension-free names are treated as directories.
	if !strings.HasSuffix(pattern, "/**") && !strings.HasSuffix(pattern, "/*") && !strings.Contains(pattern, ".") {
		pattern = pattern + "/**"
	}

	return pattern
}

func deduplicate(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}

// Matcher reports whether slash-separated relative paths are excluded.
type Matcher struct {
	patterns []string
}

// NewMatcher creates a matcher over patterns produced by a Parser.
func NewMatcher(patterns []string) *Matcher {
	return &Matcher{patterns: patterns}
}

// Excluded reports whether rel matches any pattern.
func (m *Matcher) Excluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range m.patterns {
		if match(p, rel) {
			return true
		}
	}
	return false
}

func match(pattern, rel string) bool {
	dirs := strings.Split(rel, "/")
	dirs = dirs[:len(dirs)-1]

	switch {
	case strings.HasPrefix(pattern, "**/") && strings.HasSuffix(pattern, "/**"):
		name := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		for _, d := range dirs {
			if ok, _ := path.Match(name, d); ok {
				return true
			}
		}
		return false
	case strings.HasSuffix(pattern, "/**"):
		return strings.HasPrefix(rel, strings.TrimSuffix(pattern, "**"))
	case strings.HasPrefix(pattern, "**/"):
		ok, _ := path.Match(strings.TrimPrefix(pattern, "**/"), path.Base(rel))
		return ok
	case !strings.Contains(pattern, "/"):
		ok, _ := path.Match(pattern, path.Base(rel))
		return ok
	default:
		ok, _ := path.Match(pattern, rel)
		return ok
	}
}
