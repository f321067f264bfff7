package workspace

import (
	"patchloop/fault"
	"patchloop/tooling"
)

// FinishTool and TestFindFinishTool are the terminal tool names the
// loop watches for.
const (
	FinishTool         = "finish"
	TestFindFinishTool = "test_patch_find_finish"
)

// RegisterFixTools registers the bug-fixing tool surface.
func (w *Workspace) RegisterFixTools(r *tooling.Registry) error {
	if err := w.registerSharedTools(r); err != nil {
		return err
	}

	if err := r.Register(tooling.Spec{
		Name:        "save_file",
		Description: "Writes text content to the given path. Edits with syntax errors are rejected. Do not use this tool to create test or reproduction files.",
		Params: map[string]tooling.ParamSpec{
			"file_path": {Type: "string", Description: "target filesystem path", Required: true},
			"content":   {Type: "string", Description: "text data to write", Required: true},
		},
		Order: []string{"file_path", "content"},
	}, func(args map[string]any) (string, error) {
		path, _ := tooling.StringArg(args, "file_path")
		content, _ := tooling.StringArg(args, "content")
		return w.saveFile(path, content)
	}); err != nil {
		return err
	}

	if err := r.Register(tooling.Spec{
		Name:        "apply_code_edit",
		Description: "Performs targeted text replacement within a source file. The search text must match exactly once. Requires prior solution approval.",
		Params: map[string]tooling.ParamSpec{
			"file_path": {Type: "string", Description: "target file for modification", Required: true},
			"search":    {Type: "string", Description: "exact text pattern to locate and replace", Required: true},
			"replace":   {Type: "string", Description: "new text content to substitute", Required: true},
		},
		Order: []string{"file_path", "search", "replace"},
	}, func(args map[string]any) (string, error) {
		path, _ := tooling.StringArg(args, "file_path")
		search, _ := tooling.StringArg(args, "search")
		replace, _ := tooling.StringArg(args, "replace")
		return w.applyCodeEdit(path, search, replace)
	}); err != nil {
		return err
	}

	if err := r.Register(tooling.Spec{
		Name:        "get_approval_for_solution",
		Description: "Proposes at least two meaningfully different solutions and selects one. Approval unlocks apply_code_edit.",
		Params: map[string]tooling.ParamSpec{
			"solutions":            {Type: "array", Description: "detailed solution proposals, each explaining why it beats the others", Required: true},
			"selected_solution":    {Type: "integer", Description: "index of the chosen solution", Required: true},
			"reason_for_selection": {Type: "string", Description: "why the chosen solution wins", Required: true},
		},
		Order: []string{"solutions", "selected_solution", "reason_for_selection"},
	}, func(args map[string]any) (string, error) {
		solutions, ok := tooling.StringSliceArg(args, "solutions")
		if !ok {
			return "", fault.New(fault.InvalidToolCall, "Error: solutions must be a list with length at least 2.")
		}
		selected, _ := tooling.IntArg(args, "selected_solution")
		reason, _ := tooling.StringArg(args, "reason_for_selection")
		return w.approveSolution(solutions, selected, reason)
	}); err != nil {
		return err
	}

	if err := r.Register(tooling.Spec{
		Name:        "run_code",
		Description: "Saves the given Python code to a file and runs it. Use for bug reproduction and scratch experiments; these files are excluded from the final patch.",
		Params: map[string]tooling.ParamSpec{
			"content":   {Type: "string", Description: "code to write to the file", Required: true},
			"file_path": {Type: "string", Description: "where to save the code, relative to the repository root", Required: true},
		},
		Order: []string{"content", "file_path"},
	}, func(args map[string]any) (string, error) {
		content, _ := tooling.StringArg(args, "content")
		path, _ := tooling.StringArg(args, "file_path")
		return w.runCode(content, path)
	}); err != nil {
		return err
	}

	if err := w.registerTestRunTool(r); err != nil {
		return err
	}

	return r.Register(tooling.Spec{
		Name:        FinishTool,
		Description: "Signals completion of the task. Provide the problem, your investigation and your solution.",
		Params: map[string]tooling.ParamSpec{
			"investigation_summary": {Type: "string", Description: "detailed summary of the investigation and the applied solution", Required: true},
		},
		Order: []string{"investigation_summary"},
	}, func(args map[string]any) (string, error) {
		return "finish", nil
	})
}

// RegisterTestFindTools registers the test discovery tool surface. The
// discovery agent gets the test runner too, so it can confirm that a
// candidate test actually exercises the reported bug.
func (w *Workspace) RegisterTestFindTools(r *tooling.Registry) error {
	if err := w.registerSharedTools(r); err != nil {
		return err
	}
	if err := w.registerTestRunTool(r); err != nil {
		return err
	}

	return r.Register(tooling.Spec{
		Name:        TestFindFinishTool,
		Description: "Signals completion of the test discovery workflow with the list of relevant test function names.",
		Params: map[string]tooling.ParamSpec{
			"test_func_names": {Type: "array", Description: `test function names with file path, e.g. ["path/test_file.py::test_name"]`, Required: true},
		},
		Order: []string{"test_func_names"},
	}, func(args map[string]any) (string, error) {
		names, ok := tooling.StringSliceArg(args, "test_func_names")
		if !ok {
			return "", fault.New(fault.InvalidToolCall, "Error: test_func_names must be a list of strings.")
		}
		w.mu.Lock()
		w.testFuncNames = names
		w.mu.Unlock()
		return "finish", nil
	})
}

// registerTestRunTool registers run_repo_tests; both workflows carry it.
func (w *Workspace) registerTestRunTool(r *tooling.Registry) error {
	return r.Register(tooling.Spec{
		Name:        "run_repo_tests",
		Description: "Runs the repository tests for the given test files and reports failures.",
		Params: map[string]tooling.ParamSpec{
			"files_to_test": {Type: "array", Description: "paths of the test files to run", Required: true},
			"timeout_secs":  {Type: "integer", Description: "maximum seconds to allow for the test run"},
		},
		Order: []string{"files_to_test", "timeout_secs"},
	}, func(args map[string]any) (string, error) {
		files, _ := tooling.StringSliceArg(args, "files_to_test")
		timeoutSecs, _ := tooling.IntArg(args, "timeout_secs")
		return w.runRepoTests(files, timeoutSecs)
	})
}

// registerSharedTools registers the read and search tools common to
// both workflows.
func (w *Workspace) registerSharedTools(r *tooling.Registry) error {
	if err := r.Register(tooling.Spec{
		Name:        "get_file_content",
		Description: "Retrieves file contents with optional line range or search term filtering.",
		Params: map[string]tooling.ParamSpec{
			"file_path":         {Type: "string", Description: "filesystem path to the target file", Required: true},
			"search_start_line": {Type: "integer", Description: "optional 1-indexed first line to include"},
			"search_end_line":   {Type: "integer", Description: "optional 1-indexed last line to include"},
			"search_term":       {Type: "string", Description: "optional text pattern, returns only matching lines"},
		},
		Order: []string{"file_path", "search_start_line", "search_end_line", "search_term"},
	}, func(args map[string]any) (string, error) {
		path, _ := tooling.StringArg(args, "file_path")
		start, _ := tooling.IntArg(args, "search_start_line")
		end, _ := tooling.IntArg(args, "search_end_line")
		term, _ := tooling.StringArg(args, "search_term")
		return w.readFile(path, start, end, term)
	}); err != nil {
		return err
	}

	if err := r.Register(tooling.Spec{
		Name:        "search_in_all_files_content",
		Description: "Searches a text pattern across all Python files in the project, excluding test paths. Use it to locate references to a function, class or variable.",
		Params: map[string]tooling.ParamSpec{
			"search_term":    {Type: "string", Description: "text pattern to locate", Required: true},
			"case_sensitive": {Type: "boolean", Description: "whether matching is case-sensitive"},
		},
		Order: []string{"search_term", "case_sensitive"},
	}, func(args map[string]any) (string, error) {
		term, _ := tooling.StringArg(args, "search_term")
		caseSensitive, _ := tooling.BoolArg(args, "case_sensitive")
		return w.searchAllFiles(term, caseSensitive)
	}); err != nil {
		return err
	}

	return r.Register(tooling.Spec{
		Name:        "search_in_specified_file",
		Description: "Locates text patterns within one Python file, returning matching lines with line numbers.",
		Params: map[string]tooling.ParamSpec{
			"file_path":   {Type: "string", Description: "target file for pattern matching", Required: true},
			"search_term": {Type: "string", Description: "text pattern to find", Required: true},
		},
		Order: []string{"file_path", "search_term"},
	}, func(args map[string]any) (string, error) {
		path, _ := tooling.StringArg(args, "file_path")
		term, _ := tooling.StringArg(args, "search_term")
		return w.searchInFile(path, term)
	})
}
