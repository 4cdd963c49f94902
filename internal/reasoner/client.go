// internal/reasoner/client.go
// Package reasoner talks to the remote reasoning service. One Submit
// call covers one turn: post the current state (initial page snapshot
// or a tool result), then drain the service's newline-delimited JSON
// stream until it closes. The stream must be consumed in full even
// after an interrupt appears; the service keeps emitting state
// snapshots and only the last non-error one reflects where the session
// actually paused.
package reasoner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gleaner/api/schemas"
	"github.com/xkilldash9x/gleaner/internal/config"
)

// Stream lines carry base64 screenshots, so individual lines can run to
// several megabytes.
const maxLineBytes = 32 * 1024 * 1024

// Client implements schemas.Reasoner over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a reasoner client from configuration.
func NewClient(cfg config.ReasonerConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: logger.Named("reasoner_client"),
	}
}

// submitRequest is the envelope for both turn kinds. Exactly one field
// is set.
type submitRequest struct {
	Input  *schemas.InitialState `json:"input,omitempty"`
	Resume *schemas.ToolResult   `json:"resume,omitempty"`
}

// streamEvent is one NDJSON line from the service.
type streamEvent struct {
	SessionID string         `json:"session_id"`
	Values    map[string]any `json:"values"`
	Error     string         `json:"error"`
}

// interruptEntry mirrors the service's interrupt wrapping: the tool
// call sits under a "value" key.
type interruptEntry struct {
	Value schemas.ToolCall `json:"value"`
}

// Submit posts one turn and drains the response stream. sessionID is
// empty on the first turn; the service allocates one and reports it on
// every stream line. An empty Interrupts slice in the result means the
// session ran to completion.
func (c *Client) Submit(ctx context.Context, sessionID string, initial *schemas.InitialState, resume *schemas.ToolResult) (*schemas.TurnResult, error) {
	if (initial == nil) == (resume == nil) {
		return nil, fmt.Errorf("exactly one of initial or resume must be set")
	}

	payload, err := json.Marshal(submitRequest{Input: initial, Resume: resume})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submit payload: %w", err)
	}

	url := c.baseURL + "/runs"
	if sessionID != "" {
		url = c.baseURL + "/runs/" + sessionID + "/events"
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var result *schemas.TurnResult
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/x-ndjson")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("Reasoner request failed, retrying...", zap.Error(err))
			return fmt.Errorf("reasoner request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if resp.StatusCode >= 500 {
				c.logger.Warn("Reasoner returned server error, retrying...",
					zap.Int("status", resp.StatusCode))
				return fmt.Errorf("reasoner returned status %d", resp.StatusCode)
			}
			return backoff.Permanent(fmt.Errorf("reasoner returned status %d: %s",
				resp.StatusCode, strings.TrimSpace(string(respBody))))
		}

		// Once stream bytes flow, a retry would replay a turn the
		// service may have partially applied. Drain errors are final.
		turn, err := c.drain(resp.Body)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.logger.Debug("Turn complete.",
			zap.String("session_id", turn.SessionID),
			zap.Int("interrupts", len(turn.Interrupts)),
			zap.Duration("duration", time.Since(start)))
		result = turn
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

// drain consumes the whole NDJSON stream. Every line is read even after
// an error event: the service flushes its remaining state either way,
// and abandoning the body mid-stream would poison connection reuse. The
// last non-error snapshot wins; an error event anywhere fails the turn
// after the drain finishes.
func (c *Client) drain(body io.Reader) (*schemas.TurnResult, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var (
		last      *streamEvent
		streamErr string
		sessionID string
		lines     int
	)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines++

		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			c.logger.Warn("Skipping undecodable stream line.",
				zap.Int("line", lines), zap.Error(err))
			continue
		}
		if ev.SessionID != "" {
			sessionID = ev.SessionID
		}
		if ev.Error != "" {
			if streamErr == "" {
				streamErr = ev.Error
			}
			continue
		}
		last = &ev
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading stream: %v", schemas.ErrStream, err)
	}
	if streamErr != "" {
		return nil, fmt.Errorf("%w: %s", schemas.ErrStream, streamErr)
	}
	if last == nil {
		return nil, fmt.Errorf("%w: stream closed without a state snapshot", schemas.ErrStream)
	}

	interrupts, err := extractInterrupts(last.Values)
	if err != nil {
		return nil, err
	}
	return &schemas.TurnResult{
		SessionID:  sessionID,
		Interrupts: interrupts,
	}, nil
}

// extractInterrupts pulls the paused tool calls out of a state
// snapshot. A snapshot without the interrupt key means the session
// completed. A present-but-malformed payload is an error: the session
// is paused on something this process cannot see, and resuming blind
// would desynchronize it.
func extractInterrupts(values map[string]any) ([]schemas.ToolCall, error) {
	raw, ok := values["__interrupt__"]
	if !ok {
		return nil, nil
	}

	// Round-trip through JSON to decode the loosely typed snapshot
	// value into the concrete interrupt shape.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable interrupt payload: %v", schemas.ErrStream, err)
	}
	var entries []interruptEntry
	if err := json.Unmarshal(encoded, &entries); err != nil {
		return nil, fmt.Errorf("%w: malformed interrupt payload: %v", schemas.ErrStream, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: interrupt event with no entries", schemas.ErrStream)
	}

	calls := make([]schemas.ToolCall, 0, len(entries))
	for _, e := range entries {
		if e.Value.Action == "" {
			return nil, fmt.Errorf("%w: interrupt entry missing action", schemas.ErrStream)
		}
		calls = append(calls, e.Value)
	}
	return calls, nil
}
