// Package actionlog stores the agent's step history and renders it as
// conversation messages. Recent actions are rendered with their full
// observation; older ones collapse to a one-line summary so the prompt
// stays bounded while the full record is retained.
package actionlog

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"patchloop/fault"
	"patchloop/inference"
)

// Action is one completed agent step: the parsed triplet, the tool
// observation, and the inference accounting that produced it.
type Action struct {
	Thought     string
	ToolNames   []string
	ToolArgs    []map[string]any
	Observation []string
	IsError     bool
	RawResponse string
	Attempts    int
	ErrorCounts fault.Counter
	Deleted     bool
}

// observationText renders the observation the way the model saw the tool
// output: a single result verbatim, multiple results as a JSON array.
func (a Action) observationText() string {
	switch len(a.Observation) {
	case 0:
		return ""
	case 1:
		return a.Observation[0]
	default:
		b, err := json.Marshal(a.Observation)
		if err != nil {
			return strings.Join(a.Observation, "\n")
		}
		return string(b)
	}
}

func (a Action) observationLines() int {
	n := 0
	for _, o := range a.Observation {
		n += strings.Count(o, "\n") + 1
	}
	return n
}

// signature computes a deterministic identity for the action's tool calls
// (names + hash of arguments).
func (a Action) signature() string {
	names, _ := json.Marshal(a.ToolNames)
	args, _ := json.Marshal(a.ToolArgs)
	h := sha256.Sum256(append(names, args...))
	return fmt.Sprintf("%x", h[:8])
}

// Log is the ordered action history with a rendering window.
type Log struct {
	// KeepRecent is how many trailing actions render with their full
	// observation. Zero or negative keeps everything full.
	KeepRecent int

	actions []Action
}

// New returns an empty log with the given rendering window.
func New(keepRecent int) *Log {
	return &Log{KeepRecent: keepRecent}
}

// Append records the action and reports whether it repeats the previous
// non-deleted action's tool calls. Appending never fails; the caller
// decides what to do with a repeat.
func (l *Log) Append(a Action) (repeated bool) {
	for i := len(l.actions) - 1; i >= 0; i-- {
		if l.actions[i].Deleted {
			continue
		}
		repeated = l.actions[i].signature() == a.signature()
		break
	}
	l.actions = append(l.actions, a)
	return repeated
}

// Len returns the number of actions, deleted ones included.
func (l *Log) Len() int { return len(l.actions) }

// Last returns the most recent non-deleted action.
func (l *Log) Last() (Action, bool) {
	for i := len(l.actions) - 1; i >= 0; i-- {
		if !l.actions[i].Deleted {
			return l.actions[i], true
		}
	}
	return Action{}, false
}

// Delete soft-deletes the action at index i. Deleted actions are skipped
// by Render but stay in the record.
func (l *Log) Delete(i int) {
	if i >= 0 && i < len(l.actions) {
		l.actions[i].Deleted = true
	}
}

// ErrorTotals merges every action's error histogram into one counter.
func (l *Log) ErrorTotals() fault.Counter {
	total := fault.NewCounter()
	for _, a := range l.actions {
		total.Merge(a.ErrorCounts)
	}
	return total
}

// Render converts the history into assistant/user message pairs. The
// trailing KeepRecent actions carry their observation verbatim; earlier
// ones carry a one-line summary. The cut index is recomputed on every
// call, so an action that was recent last step ages out naturally.
// Render never mutates the stored actions.
func (l *Log) Render() []inference.Message {
	cut := len(l.actions) - l.KeepRecent
	if l.KeepRecent <= 0 {
		cut = 0
	}

	msgs := make([]inference.Message, 0, 2*len(l.actions))
	for i, a := range l.actions {
		if a.Deleted {
			continue
		}
		msgs = append(msgs, inference.Message{
			Role:    inference.RoleAssistant,
			Content: renderTriplet(a),
		})
		var body string
		if i < cut {
			body = summarize(a)
		} else {
			body = a.observationText()
		}
		msgs = append(msgs, inference.Message{
			Role:    inference.RoleUser,
			Content: "observation: " + body,
		})
	}
	return msgs
}

// renderTriplet reconstructs the assistant's side of the exchange in the
// wire format the model was asked to produce.
func renderTriplet(a Action) string {
	var name, args string
	if len(a.ToolNames) == 1 {
		name = a.ToolNames[0]
	} else {
		b, _ := json.Marshal(a.ToolNames)
		name = string(b)
	}
	if len(a.ToolArgs) == 1 {
		b, _ := json.Marshal(a.ToolArgs[0])
		args = string(b)
	} else {
		b, _ := json.Marshal(a.ToolArgs)
		args = string(b)
	}
	return fmt.Sprintf("next_thought: %s\nnext_tool_name: %s\nnext_tool_args: %s", a.Thought, name, args)
}

// summarize produces the collapsed form of an aged-out observation. The
// body is never included, only its shape.
func summarize(a Action) string {
	tool := "unknown"
	if len(a.ToolNames) > 0 {
		tool = strings.Join(a.ToolNames, ",")
	}
	status := "ok"
	if a.IsError {
		status = "error"
	}
	return fmt.Sprintf("[%s from %s, %d lines omitted]", status, tool, a.observationLines())
}
