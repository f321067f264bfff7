package workspace

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"patchloop/fault"
)

// readFile returns file content, optionally restricted to a 1-indexed
// line range or filtered down to lines matching a search term.
func (w *Workspace) readFile(path string, startLine, endLine int, searchTerm string) (string, error) {
	if searchTerm != "" {
		return w.searchInFile(path, searchTerm)
	}

	data, err := os.ReadFile(w.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fault.New(fault.FileNotFound, "file '%s' does not exist", path)
		}
		return "", fault.Wrap(fault.RuntimeError, err, "reading %s", path)
	}
	content := string(data)

	if startLine > 0 || endLine > 0 {
		lines := strings.Split(content, "\n")
		start := 0
		if startLine > 0 {
			start = startLine - 1
		}
		if start > len(lines) {
			start = len(lines)
		}
		end := len(lines)
		if endLine > 0 && endLine < end {
			end = endLine
		}
		if end < start {
			end = start
		}
		return fmt.Sprintf("Lines %d-%d of %s:\n%s", start+1, end, path, strings.Join(lines[start:end], "\n")), nil
	}

	return limitLines(content, readLineLimit), nil
}

// saveFile writes a new source file. Test and reproduction files are
// rejected; those go through run_code so they stay out of the final
// patch.
func (w *Workspace) saveFile(path, content string) (string, error) {
	lower := strings.ToLower(path)
	if strings.Contains(lower, "test") || strings.Contains(lower, "reproduce") {
		return "", fault.New(fault.InvalidToolCall,
			"Error: You cannot use this tool to create test or files to reproduce the error.")
	}
	return w.saveVetted(path, content)
}

// applyCodeEdit replaces exactly one occurrence of search in the file.
// It refuses to run before the solution approval gate is open.
func (w *Workspace) applyCodeEdit(path, search, replace string) (string, error) {
	if !w.Approved() {
		return "", fault.New(fault.ApprovalRequired,
			"Error: You cannot use this tool before you have approval on your proposed solution. Call get_approval_for_solution first with your proposed solutions.")
	}

	resolved := w.resolve(path)
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fault.New(fault.FileNotFound, "file '%s' does not exist", path)
		}
		return "", fault.Wrap(fault.RuntimeError, err, "reading %s", path)
	}
	original := string(data)

	switch hits := strings.Count(original, search); hits {
	case 0:
		return "", fault.New(fault.SearchTermNotFound,
			"Error: search string not found in file %s. You need to share the exact code you want to replace.", path)
	case 1:
		edited := strings.Replace(original, search, replace, 1)
		if err := w.VetPython(edited); err != nil {
			return "", fault.New(fault.SyntaxError, "code edit failed. %s", err.Error())
		}
		if err := os.WriteFile(resolved, []byte(edited), 0644); err != nil {
			return "", fault.Wrap(fault.RuntimeError, err, "writing %s", path)
		}
		return "ok, code edit applied successfully", nil
	default:
		return "", fault.New(fault.MultipleMatches,
			"Error: search string found %d times in file '%s'.\nPlease reformulate your search and replace to apply only one change.", hits, path)
	}
}

var solutionSplitRe = regexp.MustCompile(`Solution \d+:`)

// approveSolution opens the edit gate once at least two meaningfully
// distinct solutions have been proposed. A single string enumerating
// "Solution 1: ... Solution 2: ..." counts as multiple.
func (w *Workspace) approveSolution(solutions []string, selected int, reason string) (string, error) {
	total := 0
	for _, s := range solutions {
		if n := len(solutionSplitRe.FindAllString(s, -1)); n > 1 {
			total += n
		} else {
			total++
		}
	}
	if total < 2 {
		return "", fault.New(fault.InvalidToolCall,
			"Error: solutions must be a list with length at least 2.")
	}

	w.mu.Lock()
	w.approved = true
	w.mu.Unlock()
	w.logger.Info("solution approved", "solutions", total, "selected", selected)
	return "Approved", nil
}
