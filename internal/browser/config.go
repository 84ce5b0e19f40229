// Package browser implements the Browser Pool (spec §4.2): a bounded,
// reusable set of headless-browser contexts used to render pages including
// client-side-rendered sites, with anti-automation hardening.
package browser

import "time"

// Config tunes pool sizing and per-session rendering behavior.
type Config struct {
	PoolSize            int
	Headless            bool
	NavigationTimeoutMs  int
	ViewportWidth        int
	ViewportHeight       int
	BlockImages          bool
	BlockMedia           bool
	UserAgents           []string // rotation pool; a UA is picked per session
	DebuggerURL          string   // non-empty connects to an existing Chrome instead of launching one
}

// DefaultConfig returns the spec's defaults (§4.2: pool_size = 3).
func DefaultConfig() Config {
	return Config{
		PoolSize:            3,
		Headless:            true,
		NavigationTimeoutMs: 30000,
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		BlockImages:         true,
		BlockMedia:          true,
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		},
	}
}

// NavigationTimeout returns the configured navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

func (c Config) poolSize() int {
	if c.PoolSize <= 0 {
		return 3
	}
	return c.PoolSize
}

// antiAutomationPrelude is injected into every new document before any page
// script runs. It patches the handful of DOM properties automated Chrome
// leaves in a telltale state.
const antiAutomationPrelude = `
(() => {
	try {
		Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
		window.chrome = window.chrome || { runtime: {} };
		const originalQuery = window.navigator.permissions && window.navigator.permissions.query;
		if (originalQuery) {
			window.navigator.permissions.query = (params) => (
				params && params.name === 'notifications'
					? Promise.resolve({ state: Notification.permission })
					: originalQuery(params)
			);
		}
		Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
		Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
	} catch (e) {}
})();
`
