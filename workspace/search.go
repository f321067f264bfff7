package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"patchloop/fault"
)

const (
	searchAllLimit  = 100
	searchFileLimit = 50
)

// searchAllFiles scans every Python file in the repository for the
// pattern, skipping test, git and docs paths.
func (w *Workspace) searchAllFiles(term string, caseSensitive bool) (string, error) {
	pattern := term
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fault.New(fault.InvalidToolCall, "invalid search pattern %q: %v", term, err)
	}

	matches, err := doublestar.Glob(os.DirFS(w.Dir), "**/*.py")
	if err != nil {
		return "", fault.Wrap(fault.RuntimeError, err, "walking repository")
	}

	var out []string
	for _, rel := range matches {
		if skippedPath(rel) {
			continue
		}
		if re.MatchString(rel) {
			out = append(out, fmt.Sprintf("%s | Filename match", rel))
		}

		data, err := os.ReadFile(filepath.Join(w.Dir, rel))
		if err != nil {
			continue
		}
		content := string(data)
		if !re.MatchString(content) {
			continue
		}
		for i, line := range strings.Split(content, "\n") {
			if re.MatchString(line) {
				out = append(out, fmt.Sprintf("%s:%d | %s", rel, i+1, strings.TrimRight(line, " \t")))
			}
		}
	}

	if len(out) == 0 {
		return "", fault.New(fault.SearchTermNotFound, "'%s' not found in any project file", term)
	}
	return limitLines(strings.Join(out, "\n"), searchAllLimit), nil
}

// skippedPath reports whether a repo-relative path is excluded from
// whole-project searches.
func skippedPath(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		lower := strings.ToLower(part)
		if part == ".git" || lower == "docs" || strings.Contains(lower, "test") {
			return true
		}
	}
	return false
}

// searchInFile returns pattern matches in one Python file with line
// numbers.
func (w *Workspace) searchInFile(path, term string) (string, error) {
	if !strings.HasSuffix(path, ".py") {
		return "", fault.New(fault.InvalidFilePath, "Error: file '%s' is not a python file.", path)
	}
	data, err := os.ReadFile(w.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fault.New(fault.FileNotFound, "file '%s' does not exist", path)
		}
		return "", fault.Wrap(fault.RuntimeError, err, "reading %s", path)
	}

	re, err := regexp.Compile(term)
	if err != nil {
		// Fall back to a literal scan when the term is not a valid
		// pattern; models pass code fragments here.
		re = regexp.MustCompile(regexp.QuoteMeta(term))
	}

	var out []string
	for i, line := range strings.Split(string(data), "\n") {
		if re.MatchString(line) {
			out = append(out, fmt.Sprintf("%d | %s", i+1, strings.TrimRight(line, " \t")))
		}
	}
	if len(out) == 0 {
		return "", fault.New(fault.SearchTermNotFound, "'%s' not found in file '%s'", term, path)
	}
	return limitLines(strings.Join(out, "\n"), searchFileLimit), nil
}
