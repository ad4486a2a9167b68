package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// stepTimeout bounds a single DOM interaction so an absent element surfaces
// as an error instead of blocking until the overall deadline.
const stepTimeout = 3 * time.Second

const navigateTimeout = 30 * time.Second

// ChromeSession drives a dedicated Chrome instance over the DevTools
// protocol. One instance per worker; the profile directory and window
// geometry come from Options.
type ChromeSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

var _ Factory = NewChromeSession

// NewChromeSession launches a Chrome instance configured per opts. The
// browser lives until Close or until ctx is cancelled, whichever comes
// first.
func NewChromeSession(ctx context.Context, opts Options) (Session, error) {
	flags := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	flags = append(flags,
		chromedp.Flag("headless", opts.Headless),
		chromedp.UserDataDir(opts.ProfileDir),
		chromedp.WindowSize(opts.WindowW, opts.WindowH),
		chromedp.Flag("window-position", fmt.Sprintf("%d,0", opts.WindowX)),
		chromedp.Flag("lang", "en-US"),
	)
	if opts.Proxy != "" {
		flags = append(flags, chromedp.ProxyServer("http://"+strings.TrimPrefix(opts.Proxy, "http://")))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, flags...)
	taskCtx, cancel := chromedp.NewContext(allocCtx)

	// Launch eagerly so startup failures surface here, not on first use.
	if err := chromedp.Run(taskCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	return &ChromeSession{ctx: taskCtx, cancel: cancel, allocCancel: allocCancel}, nil
}

// run executes actions against the browser context with a per-call bound:
// the caller's deadline when it is tighter, timeout otherwise.
func (s *ChromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rctx := s.ctx
	cancel := context.CancelFunc(func() {})
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		rctx, cancel = context.WithDeadline(rctx, dl)
	} else {
		rctx, cancel = context.WithTimeout(rctx, timeout)
	}
	defer cancel()
	return chromedp.Run(rctx, actions...)
}

func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	err := s.run(ctx, navigateTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *ChromeSession) ClickText(ctx context.Context, text string) error {
	xp := fmt.Sprintf(`//*[contains(text(), %q)]`, text)
	if err := s.run(ctx, stepTimeout, chromedp.Click(xp, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %q: %w", text, err)
	}
	return nil
}

func (s *ChromeSession) ClickSelector(ctx context.Context, selector string) error {
	if err := s.run(ctx, stepTimeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (s *ChromeSession) Fill(ctx context.Context, selector, value string) error {
	err := s.run(ctx, stepTimeout,
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

func (s *ChromeSession) Exists(ctx context.Context, selector string) bool {
	var nodes []*cdp.Node
	err := s.run(ctx, stepTimeout, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	return err == nil && len(nodes) > 0
}

func (s *ChromeSession) Cookies(ctx context.Context) (map[string]string, error) {
	jar := make(map[string]string)
	err := s.run(ctx, stepTimeout, chromedp.ActionFunc(func(cctx context.Context) error {
		cookies, err := storage.GetCookies().Do(cctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			jar[c.Name] = c.Value
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return jar, nil
}

// Close shuts the browser down gracefully and releases the allocator.
func (s *ChromeSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.allocCancel()
	return err
}
