// Package browser owns the Chrome instance that renders the host chat
// application. The rest of the program never touches rod directly: it reads
// the feed through Eval and writes through SendMessage.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Config holds browser configuration.
type Config struct {
	// Bin is the Chrome binary path. Empty uses rod's managed download.
	Bin string

	// DebuggerURL attaches to an already-running Chrome instead of
	// launching one.
	DebuggerURL string

	// UserDataDir preserves the host application's login between runs.
	UserDataDir string

	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration

	// InputSelectors locate the message composer, tried in order.
	InputSelectors []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		ViewportWidth:     1280,
		ViewportHeight:    900,
		NavigationTimeout: 30 * time.Second,
		InputSelectors:    DefaultInputSelectors(),
	}
}

// DefaultInputSelectors returns the fallback list for the message composer.
func DefaultInputSelectors() []string {
	return []string{
		`div[role="textbox"][contenteditable="true"]`,
		`[class*="slateTextArea"]`,
		`textarea[placeholder]`,
	}
}

func (c Config) navigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}

// Session wraps a single Chrome page pointed at the monitored channel.
type Session struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
}

// New creates a session. Start must be called before any other method.
func New(cfg Config, log *zap.Logger) *Session {
	if len(cfg.InputSelectors) == 0 {
		cfg.InputSelectors = DefaultInputSelectors()
	}
	return &Session{cfg: cfg, log: log}
}

// Start connects to an existing Chrome or launches a new one and opens the
// working page.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		if _, err := s.browser.Version(); err == nil {
			return nil
		}
		s.log.Warn("stale browser connection, reconnecting")
		_ = s.browser.Close()
		s.browser = nil
		s.page = nil
	}

	controlURL := s.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(s.cfg.Headless)
		if s.cfg.Bin != "" {
			launch = launch.Bin(s.cfg.Bin)
		}
		if s.cfg.UserDataDir != "" {
			launch = launch.UserDataDir(s.cfg.UserDataDir)
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.ViewportWidth,
		Height:            s.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		s.log.Warn("failed to set viewport", zap.Error(err))
	}

	s.browser = browser
	s.page = page
	s.log.Info("browser connected", zap.Bool("headless", s.cfg.Headless))
	return nil
}

// Navigate loads the given URL in the working page.
func (s *Session) Navigate(ctx context.Context, url string) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}
	if err := page.Context(ctx).Timeout(s.cfg.navigationTimeout()).Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	s.log.Info("navigated", zap.String("url", url))
	return nil
}

// WaitVisible blocks until one of the selectors matches a rendered element
// or the timeout elapses. Selectors are tried in order each pass.
func (s *Session) WaitVisible(ctx context.Context, selectors []string, timeout time.Duration) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for {
		for _, sel := range selectors {
			if has, _, err := page.Context(ctx).Has(sel); err == nil && has {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no element matched %v within %s", selectors, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Eval runs a JS function in the page and returns its JSON-encoded result.
func (s *Session) Eval(ctx context.Context, js string, args ...interface{}) (json.RawMessage, error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if res == nil || res.Value.Nil() {
		return nil, errors.New("evaluate returned no value")
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal eval result: %w", err)
	}
	return raw, nil
}

// SendMessage focuses the composer, types the text, and submits it.
// It implements the dispatcher's Poster.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}

	el, err := s.findElement(ctx, page, s.cfg.InputSelectors)
	if err != nil {
		return fmt.Errorf("locate composer: %w", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("focus composer: %w", err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("type message: %w", err)
	}
	if err := el.Type(input.Enter); err != nil {
		return fmt.Errorf("submit message: %w", err)
	}
	return nil
}

// findElement tries each selector in order and returns the first match.
func (s *Session) findElement(ctx context.Context, page *rod.Page, selectors []string) (*rod.Element, error) {
	for _, sel := range selectors {
		has, el, err := page.Context(ctx).Has(sel)
		if err != nil {
			continue
		}
		if has {
			return el, nil
		}
	}
	return nil, fmt.Errorf("no element matched %v", selectors)
}

// Close shuts down the page and the browser.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	var err error
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	return err
}

func (s *Session) currentPage() (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil, errors.New("browser not started")
	}
	return s.page, nil
}
