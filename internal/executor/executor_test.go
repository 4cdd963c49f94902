// internal/executor/executor_test.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gleaner/api/schemas"
)

// mockPage implements the Page interface with scriptable behavior.
type mockPage struct {
	viewport    schemas.Viewport
	viewportErr error

	// evalResults maps a call index to the value marshaled into out.
	evalFn  func(expr string, out any) error
	evals   []string
	mouse   []*input.DispatchMouseEventParams
	keys    []*input.DispatchKeyEventParams
	slept   []time.Duration
	evalErr error
}

func (m *mockPage) Viewport(ctx context.Context) (schemas.Viewport, error) {
	return m.viewport, m.viewportErr
}

func (m *mockPage) Evaluate(ctx context.Context, expr string, out any) error {
	m.evals = append(m.evals, expr)
	if m.evalErr != nil {
		return m.evalErr
	}
	if m.evalFn != nil {
		return m.evalFn(expr, out)
	}
	return nil
}

func (m *mockPage) DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error {
	m.mouse = append(m.mouse, p)
	return nil
}

func (m *mockPage) DispatchKeyEvent(ctx context.Context, p *input.DispatchKeyEventParams) error {
	m.keys = append(m.keys, p)
	return nil
}

func (m *mockPage) Sleep(ctx context.Context, d time.Duration) error {
	m.slept = append(m.slept, d)
	return nil
}

func newTestExecutor(sink CollectSink) *Executor {
	return New(zap.NewNop(), sink)
}

func call(action schemas.Action, args map[string]any) schemas.ToolCall {
	return schemas.ToolCall{Action: action, Args: args}
}

func TestClickTranslatesGridToPixels(t *testing.T) {
	page := &mockPage{
		viewport: schemas.Viewport{Width: 800, Height: 600},
		evalFn: func(expr string, out any) error {
			target := out.(*describeTarget)
			*target = describeTarget{
				Found: true, Tag: "button", ID: "send", Role: "button",
				Background: "dark", Color: "light", Text: "Send message",
			}
			return nil
		},
	}

	outcome := newTestExecutor(nil).Perform(context.Background(), page, "job-1",
		call(schemas.ActionClick, map[string]any{"x": float64(50), "y": float64(50)}))

	assert.Contains(t, outcome, `Clicked <button id="send"`)
	assert.Contains(t, outcome, "(400, 300)")
	assert.Contains(t, outcome, `text: "Send message"`)

	// Mouse-down then mouse-up at the converted point.
	require.Len(t, page.mouse, 2)
	assert.Equal(t, input.MousePressed, page.mouse[0].Type)
	assert.Equal(t, input.MouseReleased, page.mouse[1].Type)
	assert.Equal(t, float64(400), page.mouse[0].X)
	assert.Equal(t, float64(300), page.mouse[0].Y)
}

func TestClickNoElementIsNonFatalOutcome(t *testing.T) {
	page := &mockPage{
		viewport: schemas.Viewport{Width: 800, Height: 600},
		evalFn: func(expr string, out any) error {
			*out.(*describeTarget) = describeTarget{Found: false}
			return nil
		},
	}

	outcome := newTestExecutor(nil).Perform(context.Background(), page, "job-1",
		call(schemas.ActionClick, map[string]any{"x": float64(50), "y": float64(50)}))

	assert.Equal(t, "No element found at (400, 300)", outcome)
	assert.Empty(t, page.mouse, "no mouse events for a missing element")
}

func TestClickViewportErrorEncodedAsText(t *testing.T) {
	page := &mockPage{viewportErr: errors.New("no window")}

	outcome := newTestExecutor(nil).Perform(context.Background(), page, "job-1",
		call(schemas.ActionClick, map[string]any{"x": float64(10), "y": float64(10)}))

	assert.Equal(t, "click failed: no window", outcome)
}

func TestClickMissingArgs(t *testing.T) {
	outcome := newTestExecutor(nil).Perform(context.Background(), &mockPage{}, "job-1",
		call(schemas.ActionClick, map[string]any{"x": float64(10)}))
	assert.Equal(t, "click failed: missing x/y coordinates", outcome)
}

func TestTypeIntoFocusedInput(t *testing.T) {
	page := &mockPage{
		evalFn: func(expr string, out any) error {
			*out.(*typeResult) = typeResult{Typed: true, Tag: "input"}
			return nil
		},
	}

	outcome := newTestExecutor(nil).Perform(context.Background(), page, "job-1",
		call(schemas.ActionType, map[string]any{"text": "hello"}))

	assert.Equal(t, "Typed: hello", outcome)
	assert.Empty(t, page.keys)
}

func TestTypeFallsBackToKeyEvents(t *testing.T) {
	page := &mockPage{
		evalFn: func(expr string, out any) error {
			*out.(*typeResult) = typeResult{Typed: false, Tag: "div"}
			return nil
		},
	}

	outcome := newTestExecutor(nil).Perform(context.Background(), page, "job-1",
		call(schemas.ActionType, map[string]any{"text": "hi"}))

	assert.Contains(t, outcome, "Typed (synthesized key events): hi")
	// keyDown+keyUp per character.
	require.Len(t, page.keys, 4)
	assert.Equal(t, input.KeyDown, page.keys[0].Type)
	assert.Equal(t, "h", page.keys[0].Text)
	assert.Equal(t, input.KeyUp, page.keys[1].Type)
}

func TestScrollDefaultsAmount(t *testing.T) {
	page := &mockPage{
		evalFn: func(expr string, out any) error {
			*out.(*scrollResult) = scrollResult{Target: "window"}
			return nil
		},
	}

	outcome := newTestExecutor(nil).Perform(context.Background(), page, "job-1",
		call(schemas.ActionScroll, map[string]any{"direction": "down"}))

	assert.Equal(t, "Scrolled down by 300px", outcome)
}

func TestScrollTargetedArea(t *testing.T) {
	page := &mockPage{
		viewport: schemas.Viewport{Width: 1000, Height: 1000},
		evalFn: func(expr string, out any) error {
			*out.(*scrollResult) = scrollResult{Target: "element"}
			return nil
		},
	}

	outcome := newTestExecutor(nil).Perform(context.Background(), page, "job-1",
		call(schemas.ActionScroll, map[string]any{
			"direction": "up", "amount": float64(800),
			"x": float64(60), "y": float64(50),
		}))

	assert.Equal(t, "Scrolled up by 800px at grid position (60, 50)", outcome)
}

func TestScrollUnknownDirection(t *testing.T) {
	outcome := newTestExecutor(nil).Perform(context.Background(), &mockPage{}, "job-1",
		call(schemas.ActionScroll, map[string]any{"direction": "sideways"}))
	assert.Equal(t, `scroll failed: unknown direction "sideways"`, outcome)
}

func TestDragDispatchesPressMoveRelease(t *testing.T) {
	page := &mockPage{viewport: schemas.Viewport{Width: 1000, Height: 500}}

	outcome := newTestExecutor(nil).Perform(context.Background(), page, "job-1",
		call(schemas.ActionDrag, map[string]any{
			"start_x": float64(10), "start_y": float64(20),
			"end_x": float64(90), "end_y": float64(80),
		}))

	assert.Equal(t, "Dragged from (10, 20) to (90, 80)", outcome)
	require.Len(t, page.mouse, 3)
	assert.Equal(t, input.MousePressed, page.mouse[0].Type)
	assert.Equal(t, input.MouseMoved, page.mouse[1].Type)
	assert.Equal(t, input.MouseReleased, page.mouse[2].Type)
	assert.Equal(t, float64(100), page.mouse[0].X)
	assert.Equal(t, float64(900), page.mouse[2].X)
	assert.Equal(t, float64(400), page.mouse[2].Y)
}

func TestWaitIsBounded(t *testing.T) {
	page := &mockPage{}

	outcome := newTestExecutor(nil).Perform(context.Background(), page, "job-1",
		call(schemas.ActionWait, map[string]any{"ms": float64(60000)}))

	assert.Equal(t, "Waited 10000ms", outcome)
	require.Len(t, page.slept, 1)
	assert.Equal(t, 10*time.Second, page.slept[0])
}

func TestScreenshotAcknowledgesOnly(t *testing.T) {
	page := &mockPage{}

	outcome := newTestExecutor(nil).Perform(context.Background(), page, "job-1",
		call(schemas.ActionScreenshot, map[string]any{"reason": "check state"}))

	assert.Equal(t, "Screenshot requested: check state", outcome)
	assert.Empty(t, page.evals)
	assert.Empty(t, page.mouse)
}

func TestCollectDataFeedsSink(t *testing.T) {
	var gotJob string
	var gotItems []string
	sink := func(jobID string, items []string) {
		gotJob = jobID
		gotItems = items
	}

	outcome := newTestExecutor(sink).Perform(context.Background(), &mockPage{}, "job-7",
		call(schemas.ActionCollectData, map[string]any{
			"data": []any{"Item 1: details", "Item 2: details"},
		}))

	assert.Equal(t, "Successfully collected 2 items. Data submitted for processing.", outcome)
	assert.Equal(t, "job-7", gotJob)
	assert.Equal(t, []string{"Item 1: details", "Item 2: details"}, gotItems)
}

func TestCollectDataRejectsNonStringList(t *testing.T) {
	outcome := newTestExecutor(nil).Perform(context.Background(), &mockPage{}, "job-1",
		call(schemas.ActionCollectData, map[string]any{"data": "not a list"}))
	assert.Equal(t, "collect_data failed: data must be a list of strings", outcome)
}

func TestUnsupportedAction(t *testing.T) {
	outcome := newTestExecutor(nil).Perform(context.Background(), &mockPage{}, "job-1",
		call(schemas.Action("teleport"), nil))
	assert.Equal(t, "teleport failed: unsupported action", outcome)
}

func TestEvaluateErrorEncodedAsText(t *testing.T) {
	page := &mockPage{
		viewport: schemas.Viewport{Width: 800, Height: 600},
		evalErr:  fmt.Errorf("execution context destroyed"),
	}

	outcome := newTestExecutor(nil).Perform(context.Background(), page, "job-1",
		call(schemas.ActionClick, map[string]any{"x": float64(50), "y": float64(50)}))

	assert.Equal(t, "click failed: execution context destroyed", outcome)
}
