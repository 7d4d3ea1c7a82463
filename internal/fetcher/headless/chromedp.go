// Package headless contains the browser page loader that renders JavaScript
// with chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
)

// ErrClosed is returned by Fetch after Close.
var ErrClosed = errors.New("browser session closed")

const (
	defaultNavTimeout     = 45 * time.Second
	defaultDismissTimeout = 8 * time.Second
)

// Config controls the behavior of the browser loader.
type Config struct {
	// Headless runs Chrome without a window.
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	// DismissSelector is clicked after each navigation when present, e.g. a
	// cookie banner's decline button.
	DismissSelector string
	DismissTimeout  time.Duration
	// ExecAllocatorOptions replaces the default Chrome flags (tests only).
	ExecAllocatorOptions []chromedp.ExecAllocatorOption
}

// Fetcher implements crawler.Fetcher with one long-lived browser tab. Calls
// are serialized because a tab renders one page at a time; pagination
// actions operate on whatever the tab currently shows.
type Fetcher struct {
	cfg    Config
	logger *zap.Logger

	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc

	mu      sync.Mutex
	lastDoc atomic.Pointer[documentResponse]
	closed  bool
}

var (
	_ crawler.Fetcher = (*Fetcher)(nil)
	_ crawler.Closer  = (*Fetcher)(nil)
)

// NewChromedp prepares a browser session. Chrome is launched by Start or by
// the first Fetch.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.DismissTimeout <= 0 {
		cfg.DismissTimeout = defaultDismissTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := cfg.ExecAllocatorOptions
	if opts == nil {
		var headless any = false
		if cfg.Headless {
			headless = "new"
		}
		opts = append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("enable-automation", false),
			chromedp.Flag("lang", "cs"),
		)
		if cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
		}
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	f := &Fetcher{
		cfg:         cfg,
		logger:      logger,
		allocCancel: allocCancel,
		tab:         tab,
		tabCancel:   tabCancel,
	}
	chromedp.ListenTarget(tab, f.captureEvent)
	return f, nil
}

// Start launches the browser so that a missing Chrome binary is reported
// before any page is requested.
func (f *Fetcher) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	runCtx, cancel := f.runContext(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, f.networkSetupAction(nil)); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	return nil
}

// Close ends the browser session. It is safe to call more than once.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.tabCancel()
	f.allocCancel()
	return nil
}

// Fetch navigates to request.URL, or performs request.Action on the current
// page, waits for the settle delay and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return crawler.FetchResponse{}, ErrClosed
	}

	runCtx, cancel := f.runContext(ctx)
	defer cancel()

	f.lastDoc.Store(nil)
	start := time.Now()
	html, finalURL, err := f.render(runCtx, request)
	if err != nil {
		return crawler.FetchResponse{}, err
	}

	status, headers, responseURL := f.lastDoc.Load().resolve(request.URL, finalURL)
	if request.Action != nil && finalURL != "" {
		responseURL = finalURL
	}

	return crawler.FetchResponse{
		URL:         responseURL,
		StatusCode:  status,
		Headers:     headers,
		Body:        []byte(html),
		Duration:    time.Since(start),
		UsedBrowser: true,
	}, nil
}

// runContext derives a context from the tab that also ends when ctx does, so
// that cancelling one fetch never closes the shared tab.
func (f *Fetcher) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(f.tab, f.cfg.NavigationTimeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (f *Fetcher) render(ctx context.Context, request crawler.FetchRequest) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	var actions []chromedp.Action
	if request.Action != nil {
		sel := request.Action.ClickSelector
		if sel == "" {
			return "", "", fmt.Errorf("%w: empty click selector", crawler.ErrUnsupportedAction)
		}
		actions = append(actions,
			chromedp.WaitVisible(sel, chromedp.ByQuery),
			chromedp.Click(sel, chromedp.ByQuery),
		)
	} else {
		actions = append(actions,
			f.networkSetupAction(request.Headers),
			chromedp.Navigate(request.URL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
		if f.cfg.DismissSelector != "" {
			actions = append(actions, f.dismissAction())
		}
	}
	if request.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(request.SettleDelay))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

// dismissAction clicks the configured banner button if it shows up in time.
// A missing banner is not an error.
func (f *Fetcher) dismissAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, f.cfg.DismissTimeout)
		defer cancel()
		err := chromedp.Run(waitCtx,
			chromedp.WaitVisible(f.cfg.DismissSelector, chromedp.ByQuery),
			chromedp.Click(f.cfg.DismissSelector, chromedp.ByQuery),
		)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("dismiss banner: %w", ctx.Err())
			}
			f.logger.Debug("dismiss selector not found", zap.String("selector", f.cfg.DismissSelector))
			return nil
		}
		f.logger.Debug("banner dismissed", zap.String("selector", f.cfg.DismissSelector))
		return nil
	})
}

func (f *Fetcher) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(networkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		if doc := documentFrom(resp); doc != nil {
			f.lastDoc.Store(doc)
		}
	}
}

// documentResponse is what the browser reported for the top-level document.
type documentResponse struct {
	status int
	header http.Header
	url    string
}

// documentFrom returns nil for subresources such as scripts and images.
func documentFrom(ev *network.EventResponseReceived) *documentResponse {
	if ev.Type != network.ResourceTypeDocument || ev.Response == nil {
		return nil
	}
	header := make(http.Header, len(ev.Response.Headers))
	for key, value := range ev.Response.Headers {
		switch v := value.(type) {
		case string:
			header.Add(key, v)
		case []any:
			for _, item := range v {
				header.Add(key, fmt.Sprint(item))
			}
		default:
			header.Add(key, fmt.Sprint(v))
		}
	}
	return &documentResponse{status: int(ev.Response.Status), header: header, url: ev.Response.URL}
}

// resolve fills in what the document response did not report. Clicks that
// only re-render the page produce no document response, so the status
// defaults to 200.
func (d *documentResponse) resolve(requestURL, finalURL string) (int, http.Header, string) {
	if d == nil {
		d = &documentResponse{}
	}
	status, url := d.status, d.url
	if status == 0 {
		status = http.StatusOK
	}
	if url == "" {
		url = finalURL
	}
	if url == "" {
		url = requestURL
	}
	header := d.header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return status, header, url
}

func networkHeaders(h http.Header) network.Headers {
	out := make(network.Headers, len(h))
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
