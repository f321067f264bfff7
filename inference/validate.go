package inference

import (
	"strings"

	"patchloop/fault"
)

// Validate rejects raw replies that cannot possibly parse: empty text,
// leaked reserved control tokens, upstream failure sentinels embedded
// in the body, and replies cut off before the argument object closed.
func Validate(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) == 0 {
		return fault.New(fault.EmptyResponse, "empty response")
	}
	if strings.Contains(raw, "<|reserved_token_") {
		return fault.New(fault.ReservedTokenPresent, "reserved token present in response")
	}
	// Some proxies tunnel upstream failures as ordinary reply text.
	if strings.Contains(raw, "API request failed with status 429") {
		return fault.New(fault.RateLimitExceeded, "rate limit reported in response body")
	}
	if strings.Contains(raw, "Read timed out") {
		return fault.New(fault.Timeout, "upstream read timeout reported in response body")
	}
	if strings.Contains(raw, "Network unreachable") || strings.Contains(raw, "Connection refused") {
		return fault.New(fault.NetworkError, "upstream network failure reported in response body")
	}
	if !strings.HasSuffix(trimmed, "}") && !strings.HasSuffix(trimmed, "}]") {
		return fault.New(fault.InvalidResponse,
			"incomplete response, your response must be shorter to fit within context limit")
	}
	return nil
}
