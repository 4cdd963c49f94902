// internal/surface/manager_test.go
package surface

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gleaner/api/schemas"
	"github.com/xkilldash9x/gleaner/internal/config"
	"github.com/xkilldash9x/gleaner/internal/executor"
)

// -- Fakes --

type fakeTab struct {
	mu         sync.Mutex
	id         string
	url        string
	alive      bool
	readyState string
	navErr     error
	closeErr   error
	closed     bool
	navigated  []string
	screenshot []byte
	shotErr    error
	vp         schemas.Viewport
	vpErr      error
}

func newFakeTab(id, url string) *fakeTab {
	return &fakeTab{
		id:         id,
		url:        url,
		alive:      true,
		readyState: "complete",
		screenshot: []byte("png-bytes"),
		vp:         schemas.Viewport{Width: 1280, Height: 720},
	}
}

func (f *fakeTab) TargetID() string { return f.id }

func (f *fakeTab) Alive(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeTab) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakeTab) Navigate(ctx context.Context, rawURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.navErr != nil {
		return f.navErr
	}
	f.navigated = append(f.navigated, rawURL)
	f.url = rawURL
	return nil
}

func (f *fakeTab) Viewport(ctx context.Context) (schemas.Viewport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vp, f.vpErr
}

func (f *fakeTab) Evaluate(ctx context.Context, expr string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if expr == "document.readyState" {
		if s, ok := out.(*string); ok {
			*s = f.readyState
		}
	}
	return nil
}

func (f *fakeTab) DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error {
	return nil
}

func (f *fakeTab) DispatchKeyEvent(ctx context.Context, p *input.DispatchKeyEventParams) error {
	return nil
}

func (f *fakeTab) Sleep(ctx context.Context, d time.Duration) error { return nil }

func (f *fakeTab) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.screenshot, f.shotErr
}

func (f *fakeTab) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.alive = false
	return f.closeErr
}

func (f *fakeTab) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeDriver struct {
	mu       sync.Mutex
	tabs     []*fakeTab
	nextErr  error
	shutdown bool
	// newTabHook mutates freshly created tabs before the manager sees
	// them.
	newTabHook func(*fakeTab)
}

func (d *fakeDriver) NewTab(ctx context.Context, rawURL string) (Tab, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.nextErr != nil {
		return nil, d.nextErr
	}
	t := newFakeTab(string(rune('A'+len(d.tabs))), rawURL)
	if d.newTabHook != nil {
		d.newTabHook(t)
	}
	d.tabs = append(d.tabs, t)
	return t, nil
}

func (d *fakeDriver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shutdown = true
	return nil
}

func newTestManager(t *testing.T, driver Driver) *Manager {
	t.Helper()
	logger := zap.NewNop()
	exec := executor.New(logger, nil)
	cfg := config.BrowserConfig{
		LoadPollInterval: time.Millisecond,
		LoadTimeout:      50 * time.Millisecond,
		SettleDelay:      0,
	}
	return NewManager(driver, exec, cfg, logger)
}

// -- Tests --

func TestOrigin(t *testing.T) {
	origin, err := Origin("https://Example.COM/path?q=1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", origin)

	origin, err = Origin("http://example.com:8080/x")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:8080", origin)

	_, err = Origin("not a url at all\x00")
	assert.Error(t, err)

	_, err = Origin("/relative/only")
	assert.Error(t, err)
}

func TestEnsureCreatesFreshSurface(t *testing.T) {
	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	s, err := m.Ensure(context.Background(), "job-1", "https://example.com/list")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Len(t, driver.tabs, 1)
	assert.NotEmpty(t, s.ID())
}

func TestEnsureReusesSameOrigin(t *testing.T) {
	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	first, err := m.Ensure(context.Background(), "job-1", "https://example.com/list")
	require.NoError(t, err)

	second, err := m.Ensure(context.Background(), "job-1", "https://example.com/other/page")
	require.NoError(t, err)

	assert.Same(t, first, second, "same-origin ensure must return the surface it already holds")
	assert.Len(t, driver.tabs, 1)
	assert.Contains(t, driver.tabs[0].navigated, "https://example.com/other/page",
		"reuse still reloads at the new address")
}

func TestEnsureRecreatesOnOriginMismatch(t *testing.T) {
	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	first, err := m.Ensure(context.Background(), "job-1", "https://example.com/list")
	require.NoError(t, err)

	second, err := m.Ensure(context.Background(), "job-1", "https://other.example.net/feed")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	require.Len(t, driver.tabs, 2)
	assert.True(t, driver.tabs[0].wasClosed(), "stale surface must be closed on mismatch")
}

func TestEnsureRecreatesWhenTabDead(t *testing.T) {
	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	_, err := m.Ensure(context.Background(), "job-1", "https://example.com/a")
	require.NoError(t, err)
	driver.tabs[0].mu.Lock()
	driver.tabs[0].alive = false
	driver.tabs[0].mu.Unlock()

	_, err = m.Ensure(context.Background(), "job-1", "https://example.com/a")
	require.NoError(t, err)
	assert.Len(t, driver.tabs, 2)
}

func TestEnsureLoadTimeout(t *testing.T) {
	driver := &fakeDriver{
		newTabHook: func(tab *fakeTab) { tab.readyState = "loading" },
	}
	m := newTestManager(t, driver)

	_, err := m.Ensure(context.Background(), "job-1", "https://example.com/a")
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrSurfaceLoadTimeout)
	require.Len(t, driver.tabs, 1)
	assert.True(t, driver.tabs[0].wasClosed(), "timed-out surface must be discarded")
}

func TestEnsureRejectsOriginlessURL(t *testing.T) {
	m := newTestManager(t, &fakeDriver{})
	_, err := m.Ensure(context.Background(), "job-1", "/no/origin/here")
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrSurfaceCreation)
}

func TestReleaseDespiteCloseError(t *testing.T) {
	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	_, err := m.Ensure(context.Background(), "job-1", "https://example.com/a")
	require.NoError(t, err)
	driver.tabs[0].mu.Lock()
	driver.tabs[0].closeErr = errors.New("target detached")
	driver.tabs[0].mu.Unlock()

	m.Release("job-1")

	m.mu.Lock()
	_, still := m.surfaces["job-1"]
	m.mu.Unlock()
	assert.False(t, still, "surface must be deregistered even when close fails")
}

func TestReleaseUnknownJobIsNoop(t *testing.T) {
	m := newTestManager(t, &fakeDriver{})
	m.Release("never-admitted")
}

func TestCaptureSnapshot(t *testing.T) {
	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	s, err := m.Ensure(context.Background(), "job-1", "https://example.com/a")
	require.NoError(t, err)

	snap := s.CaptureSnapshot(context.Background())
	require.NotNil(t, snap)
	assert.Equal(t, 1280, snap.Viewport.Width)
	assert.NotEmpty(t, snap.ImageBase64)

	driver.tabs[0].mu.Lock()
	driver.tabs[0].shotErr = errors.New("no window")
	driver.tabs[0].mu.Unlock()
	assert.Nil(t, s.CaptureSnapshot(context.Background()),
		"capture failure yields nil, not an error")
}

func TestShutdownClosesEverything(t *testing.T) {
	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	_, err := m.Ensure(context.Background(), "job-1", "https://example.com/a")
	require.NoError(t, err)
	_, err = m.Ensure(context.Background(), "job-2", "https://other.net/b")
	require.NoError(t, err)

	m.Shutdown(context.Background())

	for _, tab := range driver.tabs {
		assert.True(t, tab.wasClosed())
	}
	assert.True(t, driver.shutdown)
	m.mu.Lock()
	assert.Empty(t, m.surfaces)
	m.mu.Unlock()
}
