// Package agentloop drives the agent: it renders the conversation from
// the action log, asks the inference client for the next triplet,
// dispatches the named tools and appends the resulting action, until
// the model finishes or a budget runs out. Two workflows compose the
// loop: test discovery feeding into the bug-fixing run.
package agentloop

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RunContext carries the run-scoped identity, deadline, event stream
// and log sink. It is constructed once and handed to every component.
type RunContext struct {
	RunID    string
	Deadline time.Time
	Events   *EventEmitter
	Logger   *slog.Logger
}

// NewRunContext builds a RunContext with the given wall-clock budget.
// A fresh UUID is assigned when runID is empty.
func NewRunContext(runID string, timeout time.Duration, logger *slog.Logger) RunContext {
	if runID == "" {
		runID = uuid.New().String()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return RunContext{
		RunID:    runID,
		Deadline: time.Now().Add(timeout),
		Events:   NewEventEmitter(runID, 256),
		Logger:   logger.With("run_id", runID),
	}
}

// Expired reports whether the wall-clock deadline has passed.
func (rc RunContext) Expired() bool {
	return !rc.Deadline.IsZero() && time.Now().After(rc.Deadline)
}

// Remaining returns the time left before the deadline.
func (rc RunContext) Remaining() time.Duration {
	if rc.Deadline.IsZero() {
		return 0
	}
	return time.Until(rc.Deadline)
}

// Close shuts the event stream down.
func (rc RunContext) Close() {
	if rc.Events != nil {
		rc.Events.Close()
	}
}
