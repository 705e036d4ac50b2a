package web

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/boddenberg/surface-exec/internal/infra/resilience"
	"github.com/boddenberg/surface-exec/internal/port"
)

// RodConfig configures the Chrome instance behind RodFactory.
type RodConfig struct {
	// ControlURL connects to a running browser; empty launches one.
	ControlURL        string
	Bin               string
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
}

// RodFactory opens one isolated browser context per session on a single
// shared Chrome. The browser is started on first use.
type RodFactory struct {
	cfg    RodConfig
	logger *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
	closed  bool
}

var _ port.SessionFactory = (*RodFactory)(nil)

// NewRodFactory creates a factory. Nothing is launched until NewSession.
func NewRodFactory(cfg RodConfig, logger *zap.Logger) *RodFactory {
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = int(DefaultHumanTiming().ViewportWidth)
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = int(DefaultHumanTiming().ViewportHeight)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodFactory{cfg: cfg, logger: logger}
}

func (f *RodFactory) ensureBrowser(ctx context.Context) (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrPoolClosed
	}
	if f.browser != nil {
		return f.browser, nil
	}

	controlURL := f.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(f.cfg.Headless)
		if f.cfg.Bin != "" {
			l = l.Bin(f.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	var browser *rod.Browser
	err := resilience.RetryWithBackoff(ctx, resilience.Config{MaxRetries: 2, InitialBackoff: 500 * time.Millisecond}, func() error {
		b := rod.New().ControlURL(controlURL)
		if err := b.Connect(); err != nil {
			return err
		}
		browser = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	f.browser = browser
	f.logger.Info("browser connected", zap.String("control_url", controlURL))
	return browser, nil
}

// NewSession opens a fresh browser context with its own cookies and,
// when opts.Proxy is set, its own proxy.
func (f *RodFactory) NewSession(ctx context.Context, opts port.SessionOptions) (port.BrowserSession, error) {
	browser, err := f.ensureBrowser(ctx)
	if err != nil {
		return nil, err
	}

	bctx, err := proto.TargetCreateBrowserContext{
		ProxyServer:     opts.Proxy,
		DisposeOnDetach: true,
	}.Call(browser)
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	s := &rodSession{
		id:        opts.SessionID,
		browser:   browser,
		contextID: bctx.BrowserContextID,
		navTO:     f.cfg.NavigationTimeout,
		headers:   make(map[string]string),
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}

	target, err := proto.TargetCreateTarget{URL: "about:blank", BrowserContextID: bctx.BrowserContextID}.Call(browser)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	page, err := browser.PageFromTarget(target.TargetID)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("attach page: %w", err)
	}
	s.page = page

	if err := f.emulate(page, opts); err != nil {
		f.logger.Warn("browser emulation incomplete", zap.String("session_id", s.id), zap.Error(err))
	}
	s.watchHeaders()
	return s, nil
}

func (f *RodFactory) emulate(page *rod.Page, opts port.SessionOptions) error {
	var errs []error
	errs = append(errs, proto.EmulationSetDeviceMetricsOverride{
		Width:             f.cfg.ViewportWidth,
		Height:            f.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}.Call(page))
	if opts.UserAgent != "" {
		errs = append(errs, page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}))
	}
	if loc := opts.Location; loc != nil {
		if loc.Locale != "" {
			errs = append(errs, proto.EmulationSetLocaleOverride{Locale: loc.Locale}.Call(page))
		}
		if loc.Timezone != "" {
			errs = append(errs, proto.EmulationSetTimezoneOverride{TimezoneID: loc.Timezone}.Call(page))
		}
	}
	return errors.Join(errs...)
}

// Close shuts the browser down. Safe to call more than once.
func (f *RodFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.browser == nil {
		return nil
	}
	return f.browser.Close()
}

// rodSession is one page in its own browser context.
type rodSession struct {
	id        string
	browser   *rod.Browser
	contextID proto.BrowserBrowserContextID
	page      *rod.Page
	navTO     time.Duration

	stopEvents context.CancelFunc

	mu      sync.Mutex
	headers map[string]string

	closeOnce sync.Once
	closeErr  error
}

var _ port.BrowserSession = (*rodSession)(nil)

// watchHeaders keeps the headers of the latest main-document response.
func (s *rodSession) watchHeaders() {
	if err := (proto.NetworkEnable{}).Call(s.page); err != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopEvents = cancel
	wait := s.page.Context(ctx).EachEvent(func(ev *proto.NetworkResponseReceived) {
		if ev.Type != proto.NetworkResourceTypeDocument || ev.Response == nil {
			return
		}
		h := make(map[string]string, len(ev.Response.Headers))
		for k, v := range ev.Response.Headers {
			h[strings.ToLower(k)] = v.Str()
		}
		s.mu.Lock()
		s.headers = h
		s.mu.Unlock()
	})
	go wait()
}

func (s *rodSession) ID() string {
	return s.id
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx).Timeout(s.navTO)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s *rodSession) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := s.page.Context(ctx).Has(selector)
	return has, err
}

func (s *rodSession) Text(ctx context.Context, selector string) (string, error) {
	has, el, err := s.page.Context(ctx).Has(selector)
	if err != nil || !has {
		return "", err
	}
	text, err := el.Text()
	return strings.TrimSpace(text), err
}

func (s *rodSession) Click(ctx context.Context, selector string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (s *rodSession) InsertText(ctx context.Context, text string) error {
	return s.page.Context(ctx).InsertText(text)
}

func (s *rodSession) Press(ctx context.Context, key port.Key) error {
	var k input.Key
	switch key {
	case port.KeyEnter:
		k = input.Enter
	case port.KeyBackspace:
		k = input.Backspace
	default:
		return fmt.Errorf("unsupported key %q", key)
	}
	return s.page.Context(ctx).Keyboard.Type(k)
}

func (s *rodSession) MoveMouse(ctx context.Context, x, y float64) error {
	return s.page.Context(ctx).Mouse.MoveTo(proto.NewPoint(x, y))
}

func (s *rodSession) Scroll(ctx context.Context, dy float64) error {
	return s.page.Context(ctx).Mouse.Scroll(0, dy, 3)
}

func (s *rodSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(true, nil)
}

func (s *rodSession) ResponseHeaders() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.headers))
	for k, v := range s.headers {
		out[k] = v
	}
	return out
}

// Close disposes of the page and its browser context.
func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		if s.stopEvents != nil {
			s.stopEvents()
		}
		var errs []error
		if s.page != nil {
			errs = append(errs, s.page.Close())
		}
		errs = append(errs, proto.TargetDisposeBrowserContext{BrowserContextID: s.contextID}.Call(s.browser))
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
