package inference

import (
	"context"
	"log/slog"
	"time"

	"patchloop/fault"
	"patchloop/protocol"
)

// DefaultMaxRetries is the per-step inference attempt budget.
const DefaultMaxRetries = 5

// Client turns a conversation into a parsed triplet. Each attempt may
// use a different model from the rotation, and parse failures are fed
// back to the model as observations so it can correct itself.
type Client struct {
	Backend     Backend
	Models      []string
	MaxRetries  int
	Backoff     Backoff
	Temperature float64
	RunID       string
	Logger      *slog.Logger

	// RequiredParams reports a tool's required parameters in declared
	// order, for the parser's positional recovery. May be nil.
	RequiredParams func(tool string) []string
}

// modelFor picks the model for an attempt: the requested model's
// rotation position advanced by the attempt number.
func (c *Client) modelFor(requested string, attempt int) string {
	if len(c.Models) == 0 {
		return requested
	}
	index := -1
	for i, m := range c.Models {
		if m == requested {
			index = i
			break
		}
	}
	return c.Models[((index+attempt)%len(c.Models)+len(c.Models))%len(c.Models)]
}

// Step runs one inference round: complete, validate, parse, and retry
// on failure up to the attempt budget. Network-kind failures sleep and
// rotate; parse failures additionally append the bad reply and the
// error to the conversation as a self-correction exchange. Failures
// whose kind is not retryable end the step immediately. Exhaustion
// returns the last error; the step fails, not the process.
func (c *Client) Step(ctx context.Context, messages []Message, model string) (Result, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	outgoing := cleanMessages(messages)
	counter := fault.NewCounter()
	var lastErr error
	var raw string

	for attempt := 0; attempt < maxRetries; attempt++ {
		attemptModel := c.modelFor(model, attempt)
		logger.Debug("inference attempt",
			"model", attemptModel, "attempt", attempt+1, "messages", len(outgoing))

		var err error
		raw, err = c.Backend.Complete(ctx, Request{
			RunID:       c.RunID,
			Model:       attemptModel,
			Temperature: c.Temperature,
			Messages:    outgoing,
		})
		if err == nil {
			err = Validate(raw)
		}
		if err == nil {
			var triplet protocol.Triplet
			triplet, err = protocol.Parse(raw, c.RequiredParams)
			if err == nil {
				return Result{
					Triplet:  triplet,
					Raw:      raw,
					Attempts: attempt + 1,
					Errors:   counter,
					Messages: outgoing,
				}, nil
			}
		}

		lastErr = err
		kind := fault.KindOf(err)
		counter.Add(kind)
		logger.Warn("inference attempt failed",
			"model", attemptModel, "attempt", attempt+1, "kind", string(kind), "err", err)

		if ctx.Err() != nil {
			return Result{Attempts: attempt + 1, Errors: counter, Messages: outgoing}, fault.Wrap(fault.Timeout, ctx.Err(), "inference cancelled")
		}

		// Retrying a bad credential or an unclassified failure only
		// burns the budget.
		if !fault.Retryable(kind) {
			return Result{Attempts: attempt + 1, Errors: counter, Messages: outgoing},
				fault.Wrap(kind, err, "inference failed without retry")
		}

		// Malformed replies go back to the model so the next attempt
		// can fix its own formatting. Transport failures have nothing
		// useful to show it.
		if raw != "" && !isTransportKind(kind) {
			outgoing = append(outgoing,
				Message{Role: RoleAssistant, Content: raw},
				Message{Role: RoleUser, Content: "observation: " + err.Error()},
			)
		}

		if attempt+1 < maxRetries {
			select {
			case <-ctx.Done():
				return Result{Attempts: attempt + 1, Errors: counter, Messages: outgoing}, fault.Wrap(fault.Timeout, ctx.Err(), "inference cancelled")
			case <-time.After(c.Backoff.Delay(attempt)):
			}
		}
	}

	return Result{Attempts: maxRetries, Errors: counter, Messages: outgoing},
		fault.Wrap(fault.KindOf(lastErr), lastErr, "inference retries exhausted after %d attempts", maxRetries)
}

// isTransportKind reports whether a failure came from the transport
// rather than from the reply's content.
func isTransportKind(kind fault.Kind) bool {
	switch kind {
	case fault.RateLimitExceeded, fault.ReservedTokenPresent, fault.EmptyResponse,
		fault.Timeout, fault.NetworkError, fault.AuthenticationError, fault.ResourceExhausted:
		return true
	}
	return false
}
