// Package browser runs headless Chrome sessions bound to proxy endpoints
// and classifies the pages they load.
package browser

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/avitolab/listings-crawler/internal/crawler"
)

// Config controls browser session behavior.
type Config struct {
	Headless    bool
	NavTimeout  time.Duration
	DisplayBase int
}

// Factory creates chromedp sessions, one browser process per session so
// that every session is pinned to exactly one proxy.
type Factory struct {
	cfg Config
}

// NewFactory builds a session factory.
func NewFactory(cfg Config) *Factory {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	return &Factory{cfg: cfg}
}

// New launches a browser routed through the given proxy and returns the
// live session. The browser is started eagerly so that proxy-level launch
// failures surface here, not on first navigation.
func (f *Factory) New(ctx context.Context, address, username, password string) (crawler.Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ProxyServer(address),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if !f.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
		if f.cfg.DisplayBase > 0 {
			opts = append(opts, chromedp.Env(fmt.Sprintf("DISPLAY=:%d", f.cfg.DisplayBase)))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		cfg:           f.cfg,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}
	s.listen(username, password)

	if err := chromedp.Run(browserCtx, fetch.Enable().WithHandleAuthRequests(username != "")); err != nil {
		s.teardown()
		return nil, fmt.Errorf("launch browser via %s: %w", address, err)
	}
	return s, nil
}

// Session is one Chrome page pinned to a single proxy.
type Session struct {
	cfg           Config
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	mu         sync.Mutex
	lastStatus int
}

// listen wires proxy authentication and response capture. Paused requests
// must be continued or the page hangs; auth challenges get the proxy
// credentials.
func (s *Session) listen(username, password string) {
	chromedp.ListenTarget(s.browserCtx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				c := chromedp.FromContext(s.browserCtx)
				execCtx := cdp.WithExecutor(s.browserCtx, c.Target)
				_ = fetch.ContinueRequest(e.RequestID).Do(execCtx)
			}()
		case *fetch.EventAuthRequired:
			go func() {
				c := chromedp.FromContext(s.browserCtx)
				execCtx := cdp.WithExecutor(s.browserCtx, c.Target)
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: username,
					Password: password,
				}
				_ = fetch.ContinueWithAuth(e.RequestID, resp).Do(execCtx)
			}()
		case *network.EventResponseReceived:
			if e.Type == network.ResourceTypeDocument {
				s.mu.Lock()
				s.lastStatus = int(e.Response.Status)
				s.mu.Unlock()
			}
		}
	})
}

// Navigate loads the target and returns the resulting snapshot.
func (s *Session) Navigate(ctx context.Context, url string) (crawler.PageView, error) {
	navCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.NavTimeout)
	defer cancel()
	defer context.AfterFunc(ctx, cancel)()

	var (
		html     string
		finalURL string
	)
	err := chromedp.Run(navCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return crawler.PageView{}, fmt.Errorf("navigate %s: %w", url, err)
	}

	return crawler.PageView{
		URL:        finalURL,
		StatusCode: s.status(),
		HTML:       html,
	}, nil
}

// Snapshot re-reads the current page without navigating.
func (s *Session) Snapshot(ctx context.Context) (crawler.PageView, error) {
	snapCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.NavTimeout)
	defer cancel()
	defer context.AfterFunc(ctx, cancel)()

	var (
		html     string
		finalURL string
	)
	err := chromedp.Run(snapCtx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return crawler.PageView{}, fmt.Errorf("snapshot page: %w", err)
	}

	return crawler.PageView{
		URL:        finalURL,
		StatusCode: s.status(),
		HTML:       html,
	}, nil
}

// Close shuts down the browser process.
func (s *Session) Close(_ context.Context) error {
	s.teardown()
	return nil
}

func (s *Session) teardown() {
	s.browserCancel()
	s.allocCancel()
}

func (s *Session) status() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastStatus == 0 {
		return http.StatusOK
	}
	return s.lastStatus
}
