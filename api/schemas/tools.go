// api/schemas/tools.go
// Wire types shared with the remote reasoning service. Field names match
// the service's resume/interrupt envelopes exactly; do not rename them
// without coordinating a protocol change.
package schemas

import "fmt"

// Action names the primitive the reasoning service wants performed.
type Action string

const (
	ActionClick       Action = "click"
	ActionType        Action = "type_text"
	ActionScroll      Action = "scroll"
	ActionDrag        Action = "drag"
	ActionWait        Action = "wait"
	ActionScreenshot  Action = "screenshot"
	ActionCollectData Action = "collect_data"
)

// Viewport holds page dimensions in device-independent pixels. It is
// re-measured before every coordinate conversion because window size can
// change between actions.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ToolCall is the pause payload extracted from an interrupt envelope.
// Args is action-specific and left loosely typed; the accessor helpers
// below absorb the JSON number/float mismatch.
type ToolCall struct {
	Action            Action         `json:"action"`
	Args              map[string]any `json:"args"`
	RequestScreenshot bool           `json:"request_screenshot"`
}

// IntArg reads an integer argument, tolerating JSON float decoding.
// ok is false when the argument is absent or not numeric.
func (t ToolCall) IntArg(name string) (int, bool) {
	v, present := t.Args[name]
	if !present {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

// StringArg reads a string argument.
func (t ToolCall) StringArg(name string) (string, bool) {
	s, ok := t.Args[name].(string)
	return s, ok
}

// StringSliceArg reads a list-of-strings argument (collect_data).
func (t ToolCall) StringSliceArg(name string) ([]string, bool) {
	raw, ok := t.Args[name].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func (t ToolCall) String() string {
	return fmt.Sprintf("%s(%v)", t.Action, t.Args)
}

// Snapshot is a captured page image plus the viewport it was taken at.
type Snapshot struct {
	ImageBase64 string   `json:"screenshot"`
	Viewport    Viewport `json:"viewport"`
}

// ToolResult is the resume payload sent back after executing a tool
// call. Result is always set; the screenshot and viewport ride along
// only when the call asked for a fresh capture and the capture worked.
type ToolResult struct {
	Result     string    `json:"result"`
	Screenshot string    `json:"screenshot,omitempty"`
	Viewport   *Viewport `json:"viewport,omitempty"`
}

// InitialState is the first submission for a new session: the task
// framing plus an opening look at the page.
type InitialState struct {
	JobID       string    `json:"task_id"`
	TargetURL   string    `json:"target_url"`
	Instruction string    `json:"instruction"`
	Screenshot  string    `json:"screenshot,omitempty"`
	Viewport    *Viewport `json:"viewport,omitempty"`
}

// TurnResult is the distilled outcome of one submit-and-drain round
// trip: the session identity (assigned by the service on the first
// turn) and any pending tool calls from the authoritative final
// snapshot. An empty Interrupts slice means the run is complete.
type TurnResult struct {
	SessionID  string
	Interrupts []ToolCall
}
