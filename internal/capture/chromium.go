package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	appLog "maginkcal/internal/log"
)

// Default capture parameters.
const (
	DefaultSettleTimeout  = 5 * time.Second
	DefaultCaptureTimeout = 60 * time.Second
)

// ReadySelector matches the element the document marks once fonts are
// loaded and the layout has painted.
const ReadySelector = `[data-ready="true"]`

// ErrBrowserNotFound is returned when no browser executable can be located.
var ErrBrowserNotFound = errors.New("capture: browser executable not found")

// browserCandidates are tried on PATH, in order, when no path is configured.
var browserCandidates = []string{
	"chromium-browser",
	"chromium",
	"google-chrome",
	"headless-shell",
}

// LookupBrowser resolves the browser executable: execPath if set, otherwise
// the first candidate found on PATH.
func LookupBrowser(execPath string) (string, error) {
	if execPath != "" {
		info, err := os.Stat(execPath)
		if err != nil || info.IsDir() {
			return "", fmt.Errorf("%w: %s", ErrBrowserNotFound, execPath)
		}
		return execPath, nil
	}
	for _, name := range browserCandidates {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: tried %v", ErrBrowserNotFound, browserCandidates)
}

// CompensatedViewport returns the viewport to request so that the document
// content area becomes want, given that requesting requested produced a
// content area of got (scrollbars and browser chrome eat into it).
func CompensatedViewport(want, requested, got image.Point) image.Point {
	return image.Point{
		X: requested.X + (want.X - got.X),
		Y: requested.Y + (want.Y - got.Y),
	}
}

// Chromium is a render surface backed by headless Chromium via chromedp.
type Chromium struct {
	// ExecPath is the browser executable; see LookupBrowser.
	ExecPath string
	// RemoteURL, if set, attaches to a running DevTools endpoint
	// (e.g. "ws://127.0.0.1:9222") instead of launching a browser.
	RemoteURL string
	// SettleTimeout bounds the wait for ReadySelector. When it expires the
	// capture proceeds anyway.
	SettleTimeout time.Duration
	// Timeout bounds the whole capture.
	Timeout time.Duration
}

// Check verifies the surface can start, before any render work is done.
func (c *Chromium) Check() error {
	if c.RemoteURL != "" {
		return nil
	}
	p, err := LookupBrowser(c.ExecPath)
	if err != nil {
		return err
	}
	c.ExecPath = p
	return nil
}

func (c *Chromium) allocator(parent context.Context) (context.Context, context.CancelFunc, error) {
	if c.RemoteURL != "" {
		ctx, cancel := chromedp.NewRemoteAllocator(parent, c.RemoteURL)
		return ctx, cancel, nil
	}
	if err := c.Check(); err != nil {
		return nil, nil, err
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(c.ExecPath),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("force-device-scale-factor", "1"),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
	)
	ctx, cancel := chromedp.NewExecAllocator(parent, opts...)
	return ctx, cancel, nil
}

// Snapshot loads url in a viewport whose content area is width x height,
// waits for the document to signal it has settled and captures exactly
// that area.
func (c *Chromium) Snapshot(parentCtx context.Context, url string, width, height int) (image.Image, error) {
	if url == "" {
		return nil, fmt.Errorf("capture: URL is required")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("capture: invalid size %dx%d", width, height)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}
	settle := c.SettleTimeout
	if settle <= 0 {
		settle = DefaultSettleTimeout
	}

	allocCtx, allocCancel, err := c.allocator(parentCtx)
	if err != nil {
		return nil, err
	}
	defer allocCancel()

	// 탭 컨텍스트가 취소되면 브라우저도 같이 정리된다.
	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()

	want := image.Pt(width, height)
	var client []int
	err = chromedp.Run(ctx,
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(url),
		chromedp.Evaluate(`[document.documentElement.clientWidth, document.documentElement.clientHeight]`, &client),
	)
	if err != nil {
		return nil, fmt.Errorf("capture: load %s: %w", url, err)
	}

	if len(client) == 2 {
		got := image.Pt(client[0], client[1])
		if got != want {
			vp := CompensatedViewport(want, want, got)
			appLog.Debug("compensating viewport", "content", got, "viewport", vp)
			if err := chromedp.Run(ctx, chromedp.EmulateViewport(int64(vp.X), int64(vp.Y))); err != nil {
				return nil, fmt.Errorf("capture: resize viewport: %w", err)
			}
		}
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, settle)
	err = chromedp.Run(waitCtx, chromedp.WaitVisible(ReadySelector, chromedp.ByQuery))
	waitCancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("capture: %w", ctx.Err())
		}
		appLog.Warn("document did not signal ready, capturing anyway", err, "settle", settle)
	}

	var buf []byte
	err = chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithClip(&page.Viewport{X: 0, Y: 0, Width: float64(width), Height: float64(height), Scale: 1}).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("capture: screenshot: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("capture: decode screenshot: %w", err)
	}
	return img, nil
}
