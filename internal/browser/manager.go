package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Manager owns the browser process. The process is launched on the first
// NewPage call and shared by every tab until Shutdown. A failed launch is
// retried by the next NewPage.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// launch starts the process and returns the browser context.
	launch func() (context.Context, context.CancelFunc, error)

	mu sync.Mutex
	// allocatorCtx is the browser context. Tab contexts derive from it.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// wg tracks open tabs for a graceful shutdown.
	wg sync.WaitGroup
}

// NewManager creates a manager. Launch is deferred until a tab is requested.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}
	m.launch = m.launchChrome
	return m
}

// initialize returns the browser context, launching the process if it is
// not running yet or has exited.
func (m *Manager) initialize() (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allocatorCtx != nil {
		if m.allocatorCtx.Err() == nil {
			return m.allocatorCtx, nil
		}
		m.allocatorCancel()
		m.allocatorCtx, m.allocatorCancel = nil, nil
	}

	m.logger.Info("Launching browser...", zap.Bool("headless", m.cfg.Headless))
	ctx, cancel, err := m.launch()
	if err != nil {
		m.logger.Warn("Browser launch failed.", zap.Error(err))
		return nil, err
	}
	m.allocatorCtx = ctx
	m.allocatorCancel = cancel
	m.logger.Info("Browser launched.")
	return ctx, nil
}

func (m *Manager) launchChrome() (context.Context, context.CancelFunc, error) {
	// The process outlives any single request, so it hangs off Background.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), m.allocatorOptions()...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// The first Run starts the process and must not carry a deadline, or
	// the deadline would kill the browser. Launch time is bounded by
	// WSURLReadTimeout instead.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, nil, fmt.Errorf("browser failed to start: %w", err)
	}
	return browserCtx, func() {
		cancelBrowser()
		cancelAlloc()
	}, nil
}

// allocatorOptions assembles launch flags.
func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	ua := m.cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	// Later flags override earlier ones, and false drops a flag entirely.
	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", m.cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", m.cfg.Headless),
		chromedp.UserAgent(ua),
	)
	timeout := m.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts = append(opts, chromedp.WSURLReadTimeout(timeout))
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}

	for _, arg := range m.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// NewPage opens a new tab. The caller must Close it.
func (m *Manager) NewPage(ctx context.Context) (Page, error) {
	browserCtx, err := m.initialize()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	// An empty Run creates the target.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	m.wg.Add(1)
	return &tab{
		ctx:           tabCtx,
		cancel:        cancel,
		actionTimeout: m.cfg.ActionTimeout,
		logger:        m.logger.Named("tab"),
		done:          m.wg.Done,
	}, nil
}

// Shutdown waits for open tabs, bounded by ctx, and then stops the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	browserCtx, cancel := m.allocatorCtx, m.allocatorCancel
	m.allocatorCtx, m.allocatorCancel = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	m.logger.Info("Browser shutdown initiated. Waiting for open tabs...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	cancel()
	<-browserCtx.Done()
	return nil
}
