package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"replicli/internal/domain"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const (
	defaultUserAgent     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	defaultPollInterval  = 250 * time.Millisecond
	defaultLookupTimeout = 5 * time.Second
)

// ChromeDriver implements domain.Driver on a single chromedp tab.
type ChromeDriver struct {
	ctx           context.Context // tab context; every action runs under it
	cancel        context.CancelFunc
	poll          time.Duration
	lookupTimeout time.Duration
	logger        *slog.Logger
	releaseOnce   sync.Once
}

// DriverConfig holds configuration for the Chrome driver.
type DriverConfig struct {
	ProfileDir string // Chrome user data directory (persists cookies/sessions)
	Headless   bool
	ExecPath   string // optional Chrome binary
	UserAgent  string
	Logger     *slog.Logger
}

// NewChromeDriver launches Chrome with the configured profile and opens a
// blank tab. The browser lives until Release is called; it is deliberately
// not tied to a caller context so that an interrupt still goes through
// Release.
func NewChromeDriver(cfg DriverConfig) (*ChromeDriver, error) {
	if cfg.ProfileDir != "" {
		if err := os.MkdirAll(cfg.ProfileDir, 0o755); err != nil {
			return nil, fmt.Errorf("create profile dir %s: %w", cfg.ProfileDir, err)
		}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.ProfileDir))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	cancelAll := func() {
		taskCancel()
		allocCancel()
	}

	// An empty Run starts the browser so launch failures surface here.
	if err := chromedp.Run(taskCtx); err != nil {
		cancelAll()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	cfg.Logger.Info("browser started", "profile", cfg.ProfileDir, "headless", cfg.Headless)

	return &ChromeDriver{
		ctx:           taskCtx,
		cancel:        cancelAll,
		poll:          defaultPollInterval,
		lookupTimeout: defaultLookupTimeout,
		logger:        cfg.Logger,
	}, nil
}

// scope derives a run context from the tab that also ends when ctx does.
func (d *ChromeDriver) scope(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(d.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// classify turns a chromedp failure into a domain error.
func classify(ctx, runCtx context.Context, loc domain.Locator, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", loc, domain.ErrTimeout)
	}
	return fmt.Errorf("%s: %w", loc, err)
}

// queryOpts maps a locator strategy onto chromedp query options.
// BySearch accepts both CSS and XPath; it is used for XPath only because
// FromNode scoping requires a query selector.
func queryOpts(loc domain.Locator, all bool) []chromedp.QueryOption {
	if loc.By == domain.ByXPath {
		return []chromedp.QueryOption{chromedp.BySearch}
	}
	if all {
		return []chromedp.QueryOption{chromedp.ByQueryAll}
	}
	return []chromedp.QueryOption{chromedp.ByQuery}
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	d.logger.Debug("navigating", "url", url)
	runCtx, cancel := d.scope(ctx, 90*time.Second)
	defer cancel()

	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (d *ChromeDriver) WaitForPresence(ctx context.Context, loc domain.Locator, timeout time.Duration) (domain.Element, error) {
	runCtx, cancel := d.scope(ctx, timeout)
	defer cancel()

	var nodes []*cdp.Node
	err := chromedp.Run(runCtx, chromedp.Nodes(loc.Value, &nodes, queryOpts(loc, true)...))
	if err := classify(ctx, runCtx, loc, err); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%s: %w", loc, domain.ErrTimeout)
	}
	return &chromeElement{driver: d, node: nodes[0]}, nil
}

func (d *ChromeDriver) WaitAndClick(ctx context.Context, loc domain.Locator, timeout time.Duration) error {
	d.logger.Debug("click", "selector", loc.String())
	runCtx, cancel := d.scope(ctx, timeout)
	defer cancel()

	err := chromedp.Run(runCtx, chromedp.Click(loc.Value, queryOpts(loc, false)...))
	return classify(ctx, runCtx, loc, err)
}

func (d *ChromeDriver) WaitAndType(ctx context.Context, loc domain.Locator, text string, submit bool, timeout time.Duration) error {
	d.logger.Debug("type", "selector", loc.String(), "len", len(text), "submit", submit)
	runCtx, cancel := d.scope(ctx, timeout)
	defer cancel()

	if submit {
		text += kb.Enter
	}
	err := chromedp.Run(runCtx, chromedp.SendKeys(loc.Value, text, queryOpts(loc, false)...))
	return classify(ctx, runCtx, loc, err)
}

func (d *ChromeDriver) FindAll(ctx context.Context, loc domain.Locator) ([]domain.Element, error) {
	runCtx, cancel := d.scope(ctx, d.lookupTimeout)
	defer cancel()

	var nodes []*cdp.Node
	opts := append(queryOpts(loc, true), chromedp.AtLeast(0))
	err := chromedp.Run(runCtx, chromedp.Nodes(loc.Value, &nodes, opts...))
	if err := classify(ctx, runCtx, loc, err); err != nil {
		return nil, err
	}
	return d.wrap(nodes), nil
}

func (d *ChromeDriver) Click(ctx context.Context, loc domain.Locator) error {
	elems, err := d.FindAll(ctx, loc)
	if err != nil {
		return err
	}
	if len(elems) == 0 {
		return fmt.Errorf("%s: %w", loc, domain.ErrNotFound)
	}
	node := elems[0].(*chromeElement).node

	runCtx, cancel := d.scope(ctx, d.lookupTimeout)
	defer cancel()
	err = chromedp.Run(runCtx, chromedp.MouseClickNode(node))
	return classify(ctx, runCtx, loc, err)
}

func (d *ChromeDriver) WaitForURL(ctx context.Context, substr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var current string
		runCtx, cancel := d.scope(ctx, d.lookupTimeout)
		err := chromedp.Run(runCtx, chromedp.Location(&current))
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil && strings.Contains(current, substr) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("url containing %q (at %q): %w", substr, current, domain.ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.poll):
		}
	}
}

// Release closes the browser. It is safe to call more than once.
func (d *ChromeDriver) Release() error {
	var err error
	d.releaseOnce.Do(func() {
		err = chromedp.Cancel(d.ctx)
		d.cancel()
		d.logger.Info("browser released")
	})
	return err
}

func (d *ChromeDriver) wrap(nodes []*cdp.Node) []domain.Element {
	out := make([]domain.Element, len(nodes))
	for i, n := range nodes {
		out[i] = &chromeElement{driver: d, node: n}
	}
	return out
}

// chromeElement is a DOM node captured by a query. Node IDs go stale when
// the page re-renders; callers re-query instead of holding elements.
type chromeElement struct {
	driver *ChromeDriver
	node   *cdp.Node
}

func (e *chromeElement) FindAll(ctx context.Context, loc domain.Locator) ([]domain.Element, error) {
	if loc.By != domain.ByCSS {
		return nil, fmt.Errorf("%s: scoped lookups need a css locator", loc)
	}
	runCtx, cancel := e.driver.scope(ctx, e.driver.lookupTimeout)
	defer cancel()

	var nodes []*cdp.Node
	err := chromedp.Run(runCtx, chromedp.Nodes(loc.Value, &nodes,
		chromedp.ByQueryAll, chromedp.FromNode(e.node), chromedp.AtLeast(0)))
	if err := classify(ctx, runCtx, loc, err); err != nil {
		return nil, err
	}
	return e.driver.wrap(nodes), nil
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	runCtx, cancel := e.driver.scope(ctx, e.driver.lookupTimeout)
	defer cancel()

	var text string
	err := chromedp.Run(runCtx, chromedp.Text([]cdp.NodeID{e.node.NodeID}, &text, chromedp.ByNodeID))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("read text of node %d: %w", e.node.NodeID, err)
	}
	return text, nil
}

func (e *chromeElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	runCtx, cancel := e.driver.scope(ctx, e.driver.lookupTimeout)
	defer cancel()

	var (
		value string
		ok    bool
	)
	err := chromedp.Run(runCtx, chromedp.AttributeValue([]cdp.NodeID{e.node.NodeID}, name, &value, &ok, chromedp.ByNodeID))
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", false, fmt.Errorf("read attribute %s of node %d: %w", name, e.node.NodeID, err)
	}
	return value, ok, nil
}
