package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"siteguard/internal/logging"
)

// NavErrorKind classifies why a fetch failed, per §4.2.
type NavErrorKind string

const (
	NavErrDNS           NavErrorKind = "dns"
	NavErrTLS           NavErrorKind = "tls"
	NavErrHTTP          NavErrorKind = "http_error"
	NavErrTimeout       NavErrorKind = "timeout"
	NavErrRenderFailure NavErrorKind = "render_failure"
)

// NavigationError wraps a fetch failure with its classified kind.
type NavigationError struct {
	Kind NavErrorKind
	URL  string
	Err  error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

func classifyNavError(url string, err error) *NavigationError {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	kind := NavErrRenderFailure
	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "timeout"):
		kind = NavErrTimeout
	case strings.Contains(msg, "err_name_not_resolved"), strings.Contains(msg, "no such host"), strings.Contains(msg, "dns"):
		kind = NavErrDNS
	case strings.Contains(msg, "cert"), strings.Contains(msg, "tls"), strings.Contains(msg, "ssl"):
		kind = NavErrTLS
	}
	return &NavigationError{Kind: kind, URL: url, Err: err}
}

// FetchResult is the outcome of rendering one URL (§4.2).
type FetchResult struct {
	RawHTML       string
	HTTPStatus    int
	FinalURL      string
	Elapsed       time.Duration
	RenderTimings map[string]time.Duration
}

// Session is one pooled browser context. All operations on a Session are
// strictly sequential; ordering across sessions is not guaranteed.
type Session struct {
	id      int
	page    *rod.Page
	poisoned bool
}

// Pool is a bounded, reusable set of Sessions enforcing the anti-automation
// and resource-blocking policy from Config.
type Pool struct {
	cfg     Config
	browser *rod.Browser
	tokens  chan *Session

	mu      sync.Mutex
	closed  bool
}

// New launches (or connects to) a browser and populates the pool with
// pool_size sessions.
func New(cfg Config) (*Pool, error) {
	timer := logging.StartTimer(logging.CategoryBrowser, "New")
	defer timer.Stop()

	controlURL := cfg.DebuggerURL
	if controlURL == "" {
		url, err := launcher.New().Headless(cfg.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	p := &Pool{
		cfg:     cfg,
		browser: browser,
		tokens:  make(chan *Session, cfg.poolSize()),
	}

	for i := 0; i < cfg.poolSize(); i++ {
		sess, err := p.newSession(i)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("create session %d: %w", i, err)
		}
		p.tokens <- sess
	}

	logging.Browser("pool started with %d sessions", cfg.poolSize())
	return p, nil
}

func (p *Pool) newSession(id int) (*Session, error) {
	page, err := p.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, err
	}
	if err := configurePage(page, p.cfg); err != nil {
		_ = page.Close()
		return nil, err
	}
	return &Session{id: id, page: page}, nil
}

func configurePage(page *rod.Page, cfg Config) error {
	ua := cfg.UserAgents[rand.Intn(max(len(cfg.UserAgents), 1))%max(len(cfg.UserAgents), 1)]
	if len(cfg.UserAgents) == 0 {
		ua = ""
	}
	if ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}

	if _, err := page.EvalOnNewDocument(antiAutomationPrelude); err != nil {
		return fmt.Errorf("install anti-automation prelude: %w", err)
	}

	if cfg.BlockImages || cfg.BlockMedia {
		router := page.HijackRequests()
		router.MustAdd("*", func(hijack *rod.Hijack) {
			rt := hijack.Request.Type()
			if (cfg.BlockImages && rt == proto.NetworkResourceTypeImage) ||
				(cfg.BlockMedia && rt == proto.NetworkResourceTypeMedia) {
				hijack.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
			hijack.ContinueRequest(&proto.FetchContinueRequest{})
		})
		go router.Run()
	}

	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Acquire blocks until a session is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	select {
	case sess, ok := <-p.tokens:
		if !ok {
			return nil, errors.New("browser pool closed")
		}
		return sess, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a session to the pool. A poisoned session is disposed and
// replaced with a fresh one rather than handed out again.
func (p *Pool) Release(sess *Session) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	if sess.poisoned {
		logging.Get(logging.CategoryBrowser).Warn("disposing poisoned session %d", sess.id)
		_ = sess.page.Close()
		replacement, err := p.newSession(sess.id)
		if err != nil {
			logging.Get(logging.CategoryBrowser).Error("failed to replace poisoned session %d: %v", sess.id, err)
			return
		}
		p.tokens <- replacement
		return
	}
	p.tokens <- sess
}

// Fetch navigates a session to url and returns the rendered outcome.
func (s *Session) Fetch(ctx context.Context, url string, navTimeout time.Duration) (FetchResult, error) {
	start := time.Now()
	timings := make(map[string]time.Duration)

	page := s.page.Context(ctx).Timeout(navTimeout)

	var httpStatus int
	var statusMu sync.Mutex
	stopWatch := page.EachEvent(func(ev *proto.NetworkResponseReceived) {
		if ev.Type != proto.NetworkResourceTypeDocument {
			return
		}
		statusMu.Lock()
		httpStatus = ev.Response.Status
		statusMu.Unlock()
	})
	go stopWatch()

	navStart := time.Now()
	if err := page.Navigate(url); err != nil {
		s.poisoned = true
		return FetchResult{}, classifyNavError(url, err)
	}
	timings["navigate"] = time.Since(navStart)

	waitStart := time.Now()
	if err := page.WaitLoad(); err != nil {
		s.poisoned = true
		return FetchResult{}, classifyNavError(url, err)
	}
	timings["wait_load"] = time.Since(waitStart)

	info, err := s.page.Info()
	finalURL := url
	if err == nil && info != nil {
		finalURL = info.URL
	}

	htmlStart := time.Now()
	html, err := page.HTML()
	if err != nil {
		s.poisoned = true
		return FetchResult{}, &NavigationError{Kind: NavErrRenderFailure, URL: url, Err: err}
	}
	timings["serialize"] = time.Since(htmlStart)

	statusMu.Lock()
	status := httpStatus
	statusMu.Unlock()
	if status == 0 {
		status = 200
	}

	return FetchResult{
		RawHTML:       html,
		HTTPStatus:    status,
		FinalURL:      finalURL,
		Elapsed:       time.Since(start),
		RenderTimings: timings,
	}, nil
}

// MarkPoisoned flags a session for disposal on Release, used by callers
// that detect corruption outside of Fetch (e.g. a stuck evaluate call).
func (s *Session) MarkPoisoned() { s.poisoned = true }

// Close tears down all sessions and the underlying browser.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.tokens)
	for sess := range p.tokens {
		_ = sess.page.Close()
	}
	if p.browser != nil {
		return p.browser.Close()
	}
	return nil
}
