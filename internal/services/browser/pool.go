package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

// Pool manages chromedp allocators keyed by egress identity. Each session's
// pages run inside the allocator bound to its identity, so the sticky
// proxy assignment holds for navigation, asset loads, and background
// requests alike.
type Pool struct {
	cfg    common.BrowserConfig
	logger arbor.ILogger

	mu         sync.Mutex
	allocators map[string]context.Context
	cancels    []context.CancelFunc
	closed     bool
}

// NewPool creates the browser pool. Allocators are created lazily on first
// use of each identity.
func NewPool(cfg common.BrowserConfig, logger arbor.ILogger) *Pool {
	return &Pool{
		cfg:        cfg,
		logger:     logger,
		allocators: make(map[string]context.Context),
	}
}

// Acquire returns a fresh browser tab context routed through the given
// egress identity (an empty or "direct" identity uses no proxy). The release
// function tears the tab down; the allocator and its Chrome process are
// reused across tabs of the same identity.
func (p *Pool) Acquire(identity string) (context.Context, func(), error) {
	allocator, err := p.allocator(identity)
	if err != nil {
		return nil, nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(allocator)

	// Start the tab so failures surface here rather than on first action.
	startCtx, cancel := context.WithTimeout(tabCtx, p.startTimeout())
	defer cancel()
	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		tabCancel()
		return nil, nil, fmt.Errorf("failed to start browser tab: %w", err)
	}

	release := func() {
		tabCancel()
		p.logger.Debug().Str("identity", identity).Msg("Browser tab released")
	}
	return tabCtx, release, nil
}

func (p *Pool) allocator(identity string) (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("browser pool is shut down")
	}
	if ctx, ok := p.allocators[identity]; ok {
		return ctx, nil
	}

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("disable-gpu", p.cfg.DisableGPU),
		chromedp.Flag("no-sandbox", p.cfg.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(p.cfg.UserAgent),
	)
	if identity != "" && identity != "direct" {
		opts = append(opts, chromedp.ProxyServer(identity))
	}

	ctx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	p.allocators[identity] = ctx
	p.cancels = append(p.cancels, cancel)

	p.logger.Info().
		Str("identity", identity).
		Bool("headless", p.cfg.Headless).
		Msg("Browser allocator created")

	return ctx, nil
}

func (p *Pool) startTimeout() time.Duration {
	if p.cfg.RequestTimeout > 0 {
		return p.cfg.RequestTimeout
	}
	return 30 * time.Second
}

// Shutdown tears down every allocator and its Chrome process.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	count := len(p.allocators)
	for _, cancel := range p.cancels {
		cancel()
	}
	p.allocators = nil
	p.cancels = nil

	p.logger.Info().Int("allocators", count).Msg("Browser pool shut down")
}
