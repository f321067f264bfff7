package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"patchloop/fault"
)

// DefaultProxyTimeout bounds a single proxy round trip. It is distinct
// from the retry budget and from the run's wall-clock deadline.
const DefaultProxyTimeout = 120 * time.Second

// ProxyBackend sends completion requests to the sandbox inference proxy.
type ProxyBackend struct {
	URL    string
	Client *http.Client
}

// NewProxyBackend creates a backend for the proxy at baseURL.
func NewProxyBackend(baseURL string) *ProxyBackend {
	return &ProxyBackend{
		URL:    strings.TrimRight(baseURL, "/"),
		Client: &http.Client{Timeout: DefaultProxyTimeout},
	}
}

type proxyRequest struct {
	RunID       string    `json:"run_id"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Model       string    `json:"model"`
}

// Complete posts the request to /api/inference and normalizes the reply
// to plain text. The proxy answers either with an OpenAI-style choices
// envelope or with a bare JSON string.
func (b *ProxyBackend) Complete(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(proxyRequest{
		RunID:       req.RunID,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		Model:       req.Model,
	})
	if err != nil {
		return "", fault.Wrap(fault.Unknown, err, "encoding proxy request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL+"/api/inference", bytes.NewReader(body))
	if err != nil {
		return "", fault.Wrap(fault.Unknown, err, "building proxy request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(httpReq)
	if err != nil {
		return "", classifyTransport(err, req.Model)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, req.Model)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.Wrap(fault.NetworkError, err, "reading proxy response for model %s", req.Model)
	}

	return normalizeReply(raw, req.Model)
}

// classifyTransport maps transport-level failures to fault kinds.
func classifyTransport(err error, model string) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fault.Wrap(fault.Timeout, err, "request timeout for model %s", model)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fault.Wrap(fault.Timeout, err, "request timeout for model %s", model)
	default:
		return fault.Wrap(fault.NetworkError, err, "connection failed for model %s", model)
	}
}

// classifyStatus maps HTTP status codes to fault kinds.
func classifyStatus(status int, model string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fault.New(fault.RateLimitExceeded, "API request failed with status 429 for model %s", model)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fault.New(fault.AuthenticationError, "HTTP error %d for model %s", status, model)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fault.New(fault.Timeout, "HTTP error %d for model %s", status, model)
	default:
		return fault.New(fault.NetworkError, "HTTP error %d for model %s", status, model)
	}
}

// normalizeReply extracts the completion text from the proxy's reply.
func normalizeReply(raw []byte, model string) (string, error) {
	var envelope struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Choices) > 0 {
		return strings.TrimLeft(envelope.Choices[0].Message.Content, " \t\n"), nil
	}

	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		return strings.TrimLeft(strings.Trim(bare, "\n"), " \t\n"), nil
	}

	return "", fault.New(fault.InvalidResponse,
		"unexpected response shape for model %s: %s", model, firstN(string(raw), 200))
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:n], len(s))
}
