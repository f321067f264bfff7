package agentloop

import "fmt"

// responseFormat is the strict triplet contract every reply must follow.
const responseFormat = `Your response must always follow this exact format, nothing else:

next_thought: <your reasoning about what to do next>
next_tool_name: <the name of one of the available tools>
next_tool_args: <a JSON object with the arguments for the tool>

Do not generate the observation yourself; it will be provided to you
after the tool has run.`

// stopInstruction closes every rendered conversation.
const stopInstruction = `What should you do next? Respond with exactly one next_thought, next_tool_name and next_tool_args. STOP after next_tool_args. DO NOT generate "observation:".`

// repeatDirective is injected when the previous action repeated the one
// before it.

const repeatDirective = `You are repeating the same tool call with the same arguments. That call was already executed and its observation is above. Do something different.`

const fixSystemTemplate = `You are an autonomous software engineer fixing a bug in a Python repository.
You work in small steps: think, call exactly one tool, read its observation, repeat.
Before editing any code you must propose at least two different solutions with
get_approval_for_solution and select one. Reproduce the problem with run_code,
apply the fix with apply_code_edit, then confirm with run_repo_tests. When the
relevant tests pass, call the finish tool.

Available tools:

%s

%s`

const testFindSystemTemplate = `You are an autonomous software engineer preparing to fix a bug in a Python
repository. Your only task right now is to locate the existing test functions
that cover the buggy behavior. Search the repository, read the candidate test
files, and when you are confident, call test_patch_find_finish with the list of
test function names in "path/to/test_file.py::test_name" form. Do not modify
any files.

Available tools:

%s

%s`

const fixInstanceTemplate = `Problem statement:

%s

Relevant test functions:

%s

Fix the underlying bug so these tests pass. Do not modify the tests themselves.`

const testFindInstanceTemplate = `Problem statement:

%s

Find the test functions relevant to this problem.`

// FixSystemPrompt renders the bug-fixing system prompt around the tool docs.
func FixSystemPrompt(toolDocs string) string {
	return fmt.Sprintf(fixSystemTemplate, toolDocs, responseFormat)
}

// TestFindSystemPrompt renders the test discovery system prompt.
func TestFindSystemPrompt(toolDocs string) string {
	return fmt.Sprintf(testFindSystemTemplate, toolDocs, responseFormat)
}

// FixInstancePrompt renders the per-run task prompt for the fix loop.
func FixInstancePrompt(problem string, testNames []string) string {
	tests := "(none found; locate them yourself before fixing)"
	if len(testNames) > 0 {
		tests = ""
		for i, name := range testNames {
			if i > 0 {
				tests += "\n"
			}
			tests += "- " + name
		}
	}
	return fmt.Sprintf(fixInstanceTemplate, problem, tests)
}

// TestFindInstancePrompt renders the per-run task prompt for test discovery.
func TestFindInstancePrompt(problem string) string {
	return fmt.Sprintf(testFindInstanceTemplate, problem)
}
