package workspace

import (
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// patchExtensions are the source extensions included in the final patch.
var patchExtensions = []string{"py", "toml", "cfg", "txt"}

// gitDiff returns the unstaged diff of the working tree.
func (w *Workspace) gitDiff() string {
	out, _, err := w.run(w.CommandTimeout, "git", "diff")
	if err != nil {
		w.logger.Warn("git diff failed", "err", err)
		return ""
	}
	return out
}

// FinalPatch stages every tracked-extension file except generated test
// files and returns the staged diff. When the diff is empty or staging
// fails, the last progress checkpoint is returned instead, so the run
// always ends with the best patch available.
func (w *Workspace) FinalPatch() string {
	var files []string
	for _, ext := range patchExtensions {
		matches, err := doublestar.Glob(os.DirFS(w.Dir), "**/*."+ext)
		if err != nil {
			continue
		}
		for _, rel := range matches {
			if strings.HasPrefix(rel, ".git/") || w.isGenerated(rel) {
				continue
			}
			files = append(files, rel)
		}
	}

	if len(files) > 0 {
		args := append([]string{"add", "--"}, files...)
		if _, _, err := w.run(w.CommandTimeout, "git", args...); err != nil {
			w.logger.Warn("git add failed", "err", err)
			return w.Checkpoint()
		}
	}

	out, _, err := w.run(w.CommandTimeout, "git", "diff", "--cached")
	if err != nil || strings.TrimSpace(out) == "" {
		return w.Checkpoint()
	}
	return out
}
