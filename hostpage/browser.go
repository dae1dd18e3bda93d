// Package hostpage drives the conversational web page that receives the
// composed prompts. It provides the readiness probe, the text-injection
// sink and the interruption watcher used by the feeder, on top of a Chrome
// instance controlled through Rod.
package hostpage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// Defaults for the chat page.
const (
	DefaultPromptSelector = "#prompt-textarea"
	DefaultBusySelector   = ".text-2xl > span:not(.invisible)"
	DefaultInjectDelay    = 300 * time.Millisecond
	DefaultNavTimeout     = 30 * time.Second
)

// DefaultSignatures are the failure messages that interrupt a delivery.
var DefaultSignatures = []string{
	"an error occurred",
	"something went wrong",
	"network error",
}

// Config configures the browser and the page selectors.
type Config struct {
	// URL of the chat page opened by Open.
	URL string `yaml:"url"`

	// RemoteURL is the DevTools WebSocket URL of an already running Chrome,
	// typically one where the user is logged in. Empty launches a local one.
	RemoteURL string `yaml:"remote_url"`

	// Headless only applies to a locally launched Chrome.
	Headless bool `yaml:"headless"`

	PromptSelector string        `yaml:"prompt_selector"`
	BusySelector   string        `yaml:"busy_selector"`
	Signatures     []string      `yaml:"signatures"`
	InjectDelay    time.Duration `yaml:"inject_delay"`
	NavTimeout     time.Duration `yaml:"nav_timeout"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.PromptSelector == "" {
		c.PromptSelector = DefaultPromptSelector
	}
	if c.BusySelector == "" {
		c.BusySelector = DefaultBusySelector
	}
	if len(c.Signatures) == 0 {
		c.Signatures = DefaultSignatures
	}
	c.Signatures = normalizeSignatures(c.Signatures)
	if c.InjectDelay <= 0 {
		c.InjectDelay = DefaultInjectDelay
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = DefaultNavTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser owns the Chrome connection.
type Browser struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewBrowser creates a Browser. Nothing is launched until Open.
func NewBrowser(cfg Config) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

// Open connects to Chrome if needed, opens a stealth tab on the chat page
// and waits for it to load.
func (b *Browser) Open(ctx context.Context) (*Page, error) {
	if b.cfg.URL == "" {
		return nil, fmt.Errorf("hostpage: no page URL configured")
	}
	rb, err := b.connect()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(rb)
	if err != nil {
		return nil, fmt.Errorf("hostpage: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(b.cfg.URL); err != nil {
		page.Close()
		return nil, fmt.Errorf("hostpage: navigate %s: %w", b.cfg.URL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("hostpage: wait load timeout", "url", b.cfg.URL, "error", err)
	}

	b.cfg.Logger.Info("hostpage: page opened", "url", b.cfg.URL)
	return &Page{page: page, cfg: b.cfg}, nil
}

// Close disconnects from Chrome and stops it if it was launched here.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return err
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("hostpage: browser is closed")
	}
	if b.browser != nil {
		return b.browser, nil
	}
	log := b.cfg.Logger

	wsURL := b.cfg.RemoteURL
	if wsURL != "" {
		log.Info("hostpage: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(b.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("hostpage: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		log.Info("hostpage: launched local chrome", "url", wsURL, "headless", b.cfg.Headless)
	}

	rb := rod.New().ControlURL(wsURL)
	if err := rb.Connect(); err != nil {
		return nil, fmt.Errorf("hostpage: connect: %w", err)
	}
	b.browser = rb
	return rb, nil
}
