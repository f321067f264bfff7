// Package testreport interprets pytest-style output into a verdict the
// agent loop can act on. pytest output is hostile input here: it may
// contain nested test sessions, ANSI color codes, expected failures and
// megabytes of traceback, and the verdict has to stay stable across all
// of it.
package testreport

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Verdict is the analyzed outcome of one test run.
type Verdict struct {
	// RawSummary is the observation text shown to the model.
	RawSummary string
	// Succeeded reports that no genuine test failed. Expected failures
	// (xfail) do not count.
	Succeeded bool
	// FailedCount is the number of genuine failures.
	FailedCount int
	// FailureBodies holds up to two individual failure sections.
	FailureBodies []string
	// Truncated reports that at least one failure body was cut down.
	Truncated bool
	// DependencyError reports that the output shows a missing or broken
	// dependency rather than a test failure.
	DependencyError bool
}

const (
	maxFailureBodies  = 2
	maxFailureLength  = 20000 // characters per failure body
	truncateHeadLines = 400
	truncateTailLines = 100
)

var (
	sessionStartRe = regexp.MustCompile(`(?i)={5,}\s*test session starts\s*={5,}`)
	shortSummaryRe = regexp.MustCompile(`(?i)={5,}\s*short test summary info\s*={5,}`)
	sectionRe      = regexp.MustCompile(`={5,}.*?={5,}`)
	failuresRe     = regexp.MustCompile(`(?i)={5,}\s*FAILURES\s*={5,}`)
	errorsRe       = regexp.MustCompile(`(?i)={5,}\s*ERRORS\s*={5,}`)
	warningsRe     = regexp.MustCompile(`(?i)={5,}\s*warnings summary\s*={5,}`)
	separatorRe    = regexp.MustCompile(`_{5,}\s+(.+?)\s+_{5,}`)
	summaryLineRe  = regexp.MustCompile(`(?i)={3,}.*?\b\d+\.\d+s\s*(\([^)]+\))?\s*={3,}`)
	countWordRe    = regexp.MustCompile(`(\d+)\s+(\w+)`)
	ansiRe         = regexp.MustCompile(`\x1b\[[0-9;]*m`)
)

// Analyze parses test runner output into a Verdict.
func Analyze(output string) Verdict {
	if strings.TrimSpace(output) == "" {
		return Verdict{RawSummary: "Invalid test output."}
	}

	// More than one session banner means the repo's own tests ran
	// pytest recursively. Only the outermost (final) session's verdict
	// counts; nested sessions are payload.
	if starts := sessionStartRe.FindAllStringIndex(output, -1); len(starts) > 1 {
		output = output[starts[len(starts)-1][0]:]
	}

	v := analyzeSession(output)
	v.DependencyError = DependencyDetected(output)
	return v
}

func analyzeSession(output string) Verdict {
	if !strings.Contains(output, "test session starts") {
		switch {
		case strings.Contains(output, "ERROR:") || strings.Contains(output, "FAILED") || strings.Contains(output, "failed"):
			return Verdict{
				RawSummary:  fmt.Sprintf("Tests failed with error output: %s...", head(output, 200)),
				FailedCount: 1,
			}
		case strings.Contains(output, "Successfully ran all tests"):
			return Verdict{RawSummary: "Successfully ran all tests.", Succeeded: true}
		default:
			return Verdict{RawSummary: fmt.Sprintf("Unexpected test output (no session start): %s...", head(output, 100))}
		}
	}

	shortSummary := extractShortSummary(output)

	failedCount := 0
	if shortSummary != "" {
		failedCount = len(FailedTestNames(shortSummary))
	}
	if failedCount == 0 {
		failedCount = parseSummaryLineFailures(output)
	}

	if failedCount == 0 {
		return Verdict{RawSummary: "Successfully ran all tests.", Succeeded: true}
	}

	bodies, truncated, processed := extractFailureBodies(output)
	if len(bodies) == 0 {
		return Verdict{
			RawSummary:  fmt.Sprintf("Tests failed (%d failures) but failure details not found in output.%s", failedCount, shortSummary),
			FailedCount: failedCount,
		}
	}

	var b strings.Builder
	b.WriteString("=================================== FAILURES ===================================\n")
	b.WriteString(strings.Join(bodies, "\n"))
	if remaining := failedCount - processed; remaining > 0 {
		fmt.Fprintf(&b, "\n\n... and %d more actual failures (showing first %d failures only)", remaining, maxFailureBodies)
	}
	b.WriteString(shortSummary)

	return Verdict{
		RawSummary:    b.String(),
		FailedCount:   failedCount,
		FailureBodies: bodies,
		Truncated:     truncated,
	}
}

// extractShortSummary returns the short test summary section with xfail
// lines removed, or "" when the section is absent or empty after
// filtering.
func extractShortSummary(output string) string {
	loc := shortSummaryRe.FindStringIndex(output)
	if loc == nil {
		return ""
	}
	start := loc[1]
	end := len(output)
	if next := sectionRe.FindStringIndex(output[start+1:]); next != nil {
		end = start + 1 + next[0]
	}

	var kept []string
	for _, line := range strings.Split(strings.TrimSpace(output[start:end]), "\n") {
		if strings.Contains(line, "XFail:") || strings.Contains(strings.ToLower(line), "xfail") {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) == 0 {
		return ""
	}
	return "\n\n=========================== short test summary info ============================\n" +
		strings.Join(kept, "\n")
}

// FailedTestNames extracts the distinct failing test identifiers from
// FAILED lines, with color codes and parametrization suffixes removed.
func FailedTestNames(output string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "FAILED") {
			continue
		}
		fields := strings.Split(line, " ")
		if len(fields) < 2 {
			continue
		}
		name := ansiRe.ReplaceAllString(fields[1], "")
		if i := strings.Index(name, "["); i >= 0 {
			name = name[:i]
		}
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// parseSummaryLineFailures reads the trailing "=== N failed, M passed
// in 1.23s ===" line. Counts appear in any order and any subset. The
// failed count wins outright; error counts are a fallback for runs that
// never reached the tests, and an xfail mention disqualifies them.
func parseSummaryLineFailures(output string) int {
	lines := summaryLineRe.FindAllString(output, -1)
	if len(lines) == 0 {
		return 0
	}
	last := lines[len(lines)-1]
	xfailLine := strings.Contains(strings.ToLower(last), "xfail")
	failed, errored := 0, 0
	for _, m := range countWordRe.FindAllStringSubmatch(last, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		switch strings.ToLower(m[2]) {
		case "failed":
			failed += n
		case "error", "errors":
			if !xfailLine {
				errored += n
			}
		}
	}
	if failed > 0 {
		return failed
	}
	return errored
}

// extractFailureBodies slices the FAILURES (or ERRORS) section out of
// the output, splits it on test separators, drops xfail chunks, and
// keeps the first two genuine bodies, each bounded in size.
func extractFailureBodies(output string) (bodies []string, truncated bool, processed int) {
	sectionStart, other := -1, errorsRe
	if loc := failuresRe.FindStringIndex(output); loc != nil {
		sectionStart = loc[0]
	} else if loc := errorsRe.FindStringIndex(output); loc != nil {
		sectionStart = loc[0]
		other = failuresRe
	}
	if sectionStart < 0 {
		return nil, false, 0
	}

	sectionEnd := len(output)
	for _, endRe := range []*regexp.Regexp{shortSummaryRe, warningsRe, other, summaryLineRe} {
		if loc := endRe.FindStringIndex(output[sectionStart+20:]); loc != nil {
			if end := sectionStart + 20 + loc[0]; end < sectionEnd {
				sectionEnd = end
			}
		}
	}
	content := strings.TrimSpace(output[sectionStart:sectionEnd])

	separators := separatorRe.FindAllStringSubmatchIndex(content, -1)
	if len(separators) == 0 {
		return []string{content}, false, 1
	}

	for i, sep := range separators {
		if processed >= maxFailureBodies {
			break
		}
		testName := content[sep[2]:sep[3]]
		bodyStart := sep[1]
		bodyEnd := len(content)
		if i+1 < len(separators) {
			bodyEnd = separators[i+1][0]
		}
		body := strings.TrimSpace(content[bodyStart:bodyEnd])
		if body == "" {
			continue
		}
		if isExpectedFailure(testName, body) {
			continue
		}

		full := content[sep[0]:sep[1]] + "\n" + body
		bounded, cut := boundFailure(full)
		bodies = append(bodies, bounded)
		truncated = truncated || cut
		processed++
	}
	return bodies, truncated, processed
}

func isExpectedFailure(testName, body string) bool {
	return strings.Contains(strings.ToUpper(body), "XFAIL") ||
		strings.Contains(body, "@pytest.mark.xfail") ||
		strings.Contains(strings.ToLower(testName), "xfail")
}

// boundFailure keeps a long failure body readable: the head carries the
// test name and setup, the tail carries the actual assertion.
func boundFailure(body string) (string, bool) {
	if len(body) <= maxFailureLength {
		return body, false
	}
	lines := strings.Split(body, "\n")
	if len(lines) > truncateHeadLines+truncateTailLines {
		middle := len(lines) - truncateHeadLines
		return strings.Join(lines[:truncateHeadLines], "\n") +
			fmt.Sprintf("\n\n... (truncated %d lines of detailed traceback) ...\n\n", middle) +
			strings.Join(lines[len(lines)-truncateTailLines:], "\n"), true
	}
	return body[:maxFailureLength] +
		fmt.Sprintf("\n\n... (truncated, full failure was %d characters)", len(body)), true
}

// dependencySignatures marks output caused by a broken environment
// rather than by the code under test.
var dependencySignatures = []string{
	"ModuleNotFoundError",
	"No module named",
	"missing module named",
	"missing dependency",
	"ImportError",
	"Failed to import",
	"Could not import",
	"cannot import",
	"cannot open shared object file",
	"undefined symbol",
	"bad magic number",
	"incompatible library",
	"pkg_resources.DistributionNotFound",
	"pkg_resources.VersionConflict",
	"INTERNALERROR",
	"Could not find a version that satisfies the requirement",
	"ERROR: No matching distribution found for",
	"not configured",
}

// DependencyDetected reports whether the output matches any known
// dependency failure signature. The check is case-insensitive.
func DependencyDetected(output string) bool {
	lower := strings.ToLower(output)
	for _, sig := range dependencySignatures {
		if strings.Contains(lower, strings.ToLower(sig)) {
			return true
		}
	}
	return false
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
