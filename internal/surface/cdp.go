// internal/surface/cdp.go
package surface

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gleaner/api/schemas"
	"github.com/xkilldash9x/gleaner/internal/config"
)

// ChromeDriver owns one Chrome process and mints tabs inside it. The
// browser starts lazily on the first NewTab call.
type ChromeDriver struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	initOnce sync.Once
	initErr  error

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromeDriver creates a driver. No browser is launched yet.
func NewChromeDriver(cfg config.BrowserConfig, logger *zap.Logger) *ChromeDriver {
	return &ChromeDriver{
		cfg:    cfg,
		logger: logger.Named("chrome_driver"),
	}
}

// init launches the Chrome process exactly once.
func (d *ChromeDriver) init() error {
	d.initOnce.Do(func() {
		opts := append([]chromedp.ExecAllocatorOption{},
			chromedp.DefaultExecAllocatorOptions[:]...)
		if d.cfg.Headless {
			opts = append(opts, chromedp.Flag("headless", "new"))
		} else {
			opts = append(opts, chromedp.Flag("headless", false))
		}
		for _, arg := range d.cfg.ExecArgs {
			opts = append(opts, chromedp.Flag(arg, true))
		}

		d.allocCtx, d.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		d.browserCtx, d.browserCancel = chromedp.NewContext(d.allocCtx)

		// An empty Run starts the browser and verifies the connection.
		if err := chromedp.Run(d.browserCtx); err != nil {
			d.initErr = fmt.Errorf("failed to start browser: %w", err)
			d.browserCancel()
			d.allocCancel()
			return
		}
		d.logger.Info("Browser process started.", zap.Bool("headless", d.cfg.Headless))
	})
	return d.initErr
}

// NewTab opens a background (non-focused) target at rawURL and attaches
// a chromedp session to it.
func (d *ChromeDriver) NewTab(ctx context.Context, rawURL string) (Tab, error) {
	if err := d.init(); err != nil {
		return nil, err
	}

	var targetID target.ID
	create := chromedp.ActionFunc(func(cctx context.Context) error {
		var err error
		targetID, err = target.CreateTarget(rawURL).
			WithBackground(true).
			Do(cctx)
		return err
	})
	if err := chromedp.Run(d.browserCtx, create); err != nil {
		return nil, fmt.Errorf("failed to create target: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(d.browserCtx, chromedp.WithTargetID(targetID))
	t := &chromeTab{
		targetID: targetID,
		ctx:      tabCtx,
		cancel:   tabCancel,
		logger:   d.logger.With(zap.String("target_id", string(targetID))),
	}
	return t, nil
}

// Shutdown tears the browser down along with every remaining tab.
func (d *ChromeDriver) Shutdown(ctx context.Context) error {
	if d.browserCancel != nil {
		d.browserCancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
	return nil
}

// -- Tab implementation --

// chromeTab wraps one chromedp target session. The session context is
// long-lived: cancelling it closes the tab, so per-call deadlines come
// from the caller's context via run, never from deriving a child of the
// session context.
type chromeTab struct {
	targetID target.ID
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger

	closeOnce sync.Once
}

// run executes chromedp actions against the tab while honoring the
// caller's context. The action goroutine may outlive an abandoned call;
// the session itself stays valid.
func (t *chromeTab) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := t.ctx.Err(); err != nil {
		return fmt.Errorf("tab closed: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(t.ctx, actions...)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (t *chromeTab) TargetID() string { return string(t.targetID) }

// Alive probes the tab with a trivial evaluation.
func (t *chromeTab) Alive(ctx context.Context) bool {
	if t.ctx.Err() != nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var ok bool
	return t.Evaluate(probeCtx, "true", &ok) == nil
}

func (t *chromeTab) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := t.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Navigate initiates loading without waiting for the load event; the
// manager polls readiness itself.
func (t *chromeTab) Navigate(ctx context.Context, rawURL string) error {
	return t.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		_, _, _, _, err := page.Navigate(rawURL).Do(cctx)
		return err
	}))
}

func (t *chromeTab) Viewport(ctx context.Context) (schemas.Viewport, error) {
	var vp schemas.Viewport
	err := t.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		_, _, _, _, cssVisualViewport, _, err := page.GetLayoutMetrics().Do(cctx)
		if err != nil {
			return err
		}
		if cssVisualViewport == nil {
			return fmt.Errorf("no visual viewport available")
		}
		vp.Width = int(cssVisualViewport.ClientWidth)
		vp.Height = int(cssVisualViewport.ClientHeight)
		return nil
	}))
	return vp, err
}

func (t *chromeTab) Evaluate(ctx context.Context, expr string, out any) error {
	return t.run(ctx, chromedp.Evaluate(expr, out))
}

func (t *chromeTab) DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error {
	return t.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		return p.Do(cctx)
	}))
}

func (t *chromeTab) DispatchKeyEvent(ctx context.Context, p *input.DispatchKeyEventParams) error {
	return t.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		return p.Do(cctx)
	}))
}

func (t *chromeTab) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ctx.Done():
		return fmt.Errorf("tab closed during sleep")
	case <-timer.C:
		return nil
	}
}

func (t *chromeTab) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := t.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close disposes the target. Cancelling the session context instructs
// chromedp to close the attached tab.
func (t *chromeTab) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.cancel()
	})
	return nil
}
