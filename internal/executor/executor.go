// internal/executor/executor.go
// Package executor performs one primitive browser action against a live
// page. Every action returns a short human-readable outcome string and
// never an error: failures are encoded as "<action> failed: <reason>"
// text that flows back to the reasoning service as an ordinary tool
// result. The service, not this package, decides how to react to a
// failure description.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gleaner/api/schemas"
	"github.com/xkilldash9x/gleaner/internal/grid"
)

// maxWait bounds the wait action so a confused reasoning service can
// never park a run indefinitely.
const maxWait = 10 * time.Second

// defaultScrollAmount matches the service-side tool schema default.
const defaultScrollAmount = 300

const mouseLeft = input.MouseButton("left")

// Page is the minimal surface the executor needs from a live tab. The
// production implementation wraps chromedp; tests substitute a mock.
type Page interface {
	// Viewport measures current page dimensions in CSS pixels. Queried
	// fresh before every coordinate conversion.
	Viewport(ctx context.Context) (schemas.Viewport, error)
	// Evaluate runs a JavaScript expression in the page and unmarshals
	// its JSON result into out.
	Evaluate(ctx context.Context, expr string, out any) error
	// DispatchMouseEvent sends a raw CDP mouse event.
	DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error
	// DispatchKeyEvent sends a raw CDP key event.
	DispatchKeyEvent(ctx context.Context, p *input.DispatchKeyEventParams) error
	// Sleep pauses cooperatively, respecting ctx cancellation.
	Sleep(ctx context.Context, d time.Duration) error
}

// CollectSink receives data submitted by collect_data calls. Optional;
// when nil, collected items are only logged.
type CollectSink func(jobID string, items []string)

// Executor dispatches tool calls to their action implementations.
type Executor struct {
	logger *zap.Logger
	sink   CollectSink
}

// New creates an executor. sink may be nil.
func New(logger *zap.Logger, sink CollectSink) *Executor {
	return &Executor{
		logger: logger.Named("executor"),
		sink:   sink,
	}
}

// Perform executes one tool call against the page and describes the
// outcome. It never returns an error.
func (e *Executor) Perform(ctx context.Context, page Page, jobID string, call schemas.ToolCall) string {
	e.logger.Debug("Executing action.",
		zap.String("job_id", jobID),
		zap.String("action", string(call.Action)))

	switch call.Action {
	case schemas.ActionClick:
		return e.click(ctx, page, call)
	case schemas.ActionType:
		return e.typeText(ctx, page, call)
	case schemas.ActionScroll:
		return e.scroll(ctx, page, call)
	case schemas.ActionDrag:
		return e.drag(ctx, page, call)
	case schemas.ActionWait:
		return e.wait(ctx, page, call)
	case schemas.ActionScreenshot:
		// Capture happens in the caller layer that holds surface
		// access; the executor only acknowledges.
		if reason, ok := call.StringArg("reason"); ok && reason != "" {
			return "Screenshot requested: " + reason
		}
		return "Screenshot requested"
	case schemas.ActionCollectData:
		return e.collectData(jobID, call)
	default:
		return fmt.Sprintf("%s failed: unsupported action", call.Action)
	}
}

func (e *Executor) click(ctx context.Context, page Page, call schemas.ToolCall) string {
	gx, okX := call.IntArg("x")
	gy, okY := call.IntArg("y")
	if !okX || !okY {
		return "click failed: missing x/y coordinates"
	}

	vp, err := page.Viewport(ctx)
	if err != nil {
		return fmt.Sprintf("click failed: %v", err)
	}
	px, py := grid.ToPixel(float64(gx), float64(gy), vp)

	var target describeTarget
	if err := page.Evaluate(ctx, describeAndFocusScript(px, py), &target); err != nil {
		return fmt.Sprintf("click failed: %v", err)
	}
	if !target.Found {
		return fmt.Sprintf("No element found at (%d, %d)", px, py)
	}

	if err := e.dispatchClick(ctx, page, float64(px), float64(py)); err != nil {
		return fmt.Sprintf("click failed: %v", err)
	}

	return describeClick(target, px, py)
}

// dispatchClick sends the mouse-down/mouse-up pair at the point. The
// final click event is synthesized by the browser from the pair.
func (e *Executor) dispatchClick(ctx context.Context, page Page, x, y float64) error {
	press := input.DispatchMouseEvent(input.MousePressed, x, y).
		WithButton(mouseLeft).
		WithClickCount(1)
	if err := page.DispatchMouseEvent(ctx, press); err != nil {
		return err
	}
	release := input.DispatchMouseEvent(input.MouseReleased, x, y).
		WithButton(mouseLeft).
		WithClickCount(1)
	return page.DispatchMouseEvent(ctx, release)
}

// describeClick composes the confirmation text: tag, identity, ARIA
// hints, a coarse color classification, and trimmed text content.
func describeClick(t describeTarget, px, py int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Clicked <%s", t.Tag)
	if t.ID != "" {
		fmt.Fprintf(&b, " id=%q", t.ID)
	}
	if t.Classes != "" {
		fmt.Fprintf(&b, " class=%q", t.Classes)
	}
	if t.Role != "" {
		fmt.Fprintf(&b, " role=%q", t.Role)
	}
	if t.Label != "" {
		fmt.Fprintf(&b, " aria-label=%q", t.Label)
	}
	fmt.Fprintf(&b, "> at (%d, %d)", px, py)
	fmt.Fprintf(&b, " [%s text on %s background]", t.Color, t.Background)
	if t.Text != "" {
		fmt.Fprintf(&b, " text: %q", t.Text)
	}
	return b.String()
}

func (e *Executor) typeText(ctx context.Context, page Page, call schemas.ToolCall) string {
	text, ok := call.StringArg("text")
	if !ok {
		return "type_text failed: missing text argument"
	}

	var result typeResult
	if err := page.Evaluate(ctx, typeIntoFocusedScript(text), &result); err != nil {
		return fmt.Sprintf("type_text failed: %v", err)
	}
	if result.Typed {
		return "Typed: " + text
	}

	// The focused element is not a text input; best-effort fallback of
	// synthesized key events against the document.
	for _, r := range text {
		down := input.DispatchKeyEvent(input.KeyDown).WithText(string(r))
		if err := page.DispatchKeyEvent(ctx, down); err != nil {
			return fmt.Sprintf("type_text failed: %v", err)
		}
		up := input.DispatchKeyEvent(input.KeyUp)
		if err := page.DispatchKeyEvent(ctx, up); err != nil {
			return fmt.Sprintf("type_text failed: %v", err)
		}
	}
	return fmt.Sprintf("Typed (synthesized key events): %s", text)
}

func (e *Executor) scroll(ctx context.Context, page Page, call schemas.ToolCall) string {
	direction, ok := call.StringArg("direction")
	if !ok {
		return "scroll failed: missing direction"
	}
	amount, ok := call.IntArg("amount")
	if !ok || amount <= 0 {
		amount = defaultScrollAmount
	}

	var dx, dy int
	switch direction {
	case "up":
		dy = -amount
	case "down":
		dy = amount
	case "left":
		dx = -amount
	case "right":
		dx = amount
	default:
		return fmt.Sprintf("scroll failed: unknown direction %q", direction)
	}

	gx, okX := call.IntArg("x")
	gy, okY := call.IntArg("y")
	hasPoint := okX && okY

	var px, py int
	if hasPoint {
		vp, err := page.Viewport(ctx)
		if err != nil {
			return fmt.Sprintf("scroll failed: %v", err)
		}
		px, py = grid.ToPixel(float64(gx), float64(gy), vp)
	}

	var result scrollResult
	if err := page.Evaluate(ctx, scrollScript(dx, dy, hasPoint, px, py), &result); err != nil {
		return fmt.Sprintf("scroll failed: %v", err)
	}

	if hasPoint {
		return fmt.Sprintf("Scrolled %s by %dpx at grid position (%d, %d)", direction, amount, gx, gy)
	}
	return fmt.Sprintf("Scrolled %s by %dpx", direction, amount)
}

func (e *Executor) drag(ctx context.Context, page Page, call schemas.ToolCall) string {
	sx, ok1 := call.IntArg("start_x")
	sy, ok2 := call.IntArg("start_y")
	ex, ok3 := call.IntArg("end_x")
	ey, ok4 := call.IntArg("end_y")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return "drag failed: missing start/end coordinates"
	}

	vp, err := page.Viewport(ctx)
	if err != nil {
		return fmt.Sprintf("drag failed: %v", err)
	}
	spx, spy := grid.ToPixel(float64(sx), float64(sy), vp)
	epx, epy := grid.ToPixel(float64(ex), float64(ey), vp)

	events := []*input.DispatchMouseEventParams{
		input.DispatchMouseEvent(input.MousePressed, float64(spx), float64(spy)).
			WithButton(mouseLeft).
			WithClickCount(1),
		input.DispatchMouseEvent(input.MouseMoved, float64(epx), float64(epy)).
			WithButton(mouseLeft),
		input.DispatchMouseEvent(input.MouseReleased, float64(epx), float64(epy)).
			WithButton(mouseLeft).
			WithClickCount(1),
	}
	for _, ev := range events {
		if err := page.DispatchMouseEvent(ctx, ev); err != nil {
			return fmt.Sprintf("drag failed: %v", err)
		}
	}

	return fmt.Sprintf("Dragged from (%d, %d) to (%d, %d)", sx, sy, ex, ey)
}

func (e *Executor) wait(ctx context.Context, page Page, call schemas.ToolCall) string {
	ms, ok := call.IntArg("ms")
	if !ok || ms < 0 {
		return "wait failed: missing or negative ms argument"
	}

	d := time.Duration(ms) * time.Millisecond
	if d > maxWait {
		d = maxWait
	}
	if err := page.Sleep(ctx, d); err != nil {
		return fmt.Sprintf("wait failed: %v", err)
	}
	return fmt.Sprintf("Waited %dms", d.Milliseconds())
}

func (e *Executor) collectData(jobID string, call schemas.ToolCall) string {
	items, ok := call.StringSliceArg("data")
	if !ok {
		return "collect_data failed: data must be a list of strings"
	}

	e.logger.Info("Data collected.",
		zap.String("job_id", jobID),
		zap.Int("items", len(items)))
	if e.sink != nil {
		e.sink(jobID, items)
	}
	return fmt.Sprintf("Successfully collected %d items. Data submitted for processing.", len(items))
}
