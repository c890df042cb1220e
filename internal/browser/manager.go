// internal/browser/manager.go
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

	"github.com/xkilldash9x/riskform-cli/internal/config"
)

const defaultLaunchTimeout = 30 * time.Second

// Manager owns the browser process. Sessions (tabs) are derived from it.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc
	// browserCtx is the first chromedp context; canceling it closes the browser.
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// wg tracks open sessions for a graceful shutdown.
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewManager launches the browser and verifies it responds.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

// launchBrowser starts the browser process. The process is parented on a
// detached context so it survives an interrupt until Shutdown closes it.
func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Launching browser...", zap.Bool("headless", m.cfg.Headless))

	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(Detach(ctx), m.buildAllocatorOptions()...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx, chromedp.WithLogf(m.logger.Sugar().Debugf))

	// The first Run allocates the browser and must not carry a timeout,
	// otherwise the timeout would later tear the whole browser down.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(m.browserCtx) }()

	timeout := m.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-started:
		if err != nil {
			m.cancelAll()
			return fmt.Errorf("browser failed to start: %w", err)
		}
	case <-timer.C:
		m.cancelAll()
		return fmt.Errorf("browser did not start within %v", timeout)
	case <-ctx.Done():
		m.cancelAll()
		return ctx.Err()
	}

	probeCtx, cancel := context.WithTimeout(m.browserCtx, timeout)
	defer cancel()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		m.cancelAll()
		return fmt.Errorf("browser failed to respond: %w", err)
	}

	m.logger.Info("Browser launched and responsive.")
	return nil
}

// buildAllocatorOptions translates the browser config into exec allocator flags.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	return allocatorOptions(m.cfg, runtime.GOOS)
}

func allocatorOptions(cfg config.BrowserConfig, goos string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range allocatorFlags(cfg, goos) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// allocatorFlags returns the command line switches passed to the browser,
// keyed by switch name without the leading dashes.
func allocatorFlags(cfg config.BrowserConfig, goos string) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":                       cfg.Headless,
		"ignore-certificate-errors":      cfg.IgnoreTLSErrors,
		"allow-running-insecure-content": cfg.AllowInsecureContent,
		"disable-extensions":             true,
		"disable-gpu":                    cfg.Headless,
	}
	if !cfg.Headless {
		flags["start-maximized"] = true
	}

	// Required when running inside containers.
	if goos == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
	}

	// Custom arguments, "--name=value" or "--name". They override the above.
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}
	return flags
}

// NewSession opens a new tab. waitTimeout bounds every element lookup.
func (m *Manager) NewSession(ctx context.Context, waitTimeout time.Duration) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx)

	s := newSession(tabCtx, tabCancel, SessionOptions{
		WaitTimeout:       waitTimeout,
		NavigationTimeout: m.cfg.NavigationTimeout,
		MaxAttempts:       m.cfg.MaxAttempts,
		RetryBackoff:      m.cfg.RetryBackoff,
		IgnoreTLSErrors:   m.cfg.IgnoreTLSErrors,
	}, m.logger)

	m.wg.Add(1)
	s.onClose = m.wg.Done

	if err := s.initialize(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}
	m.logger.Debug("Session opened.", zap.String("session_id", s.ID()))
	return s, nil
}

// Shutdown waits for open sessions, bounded by ctx, then closes the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.logger.Info("Shutting down browser...")

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			m.logger.Warn("Timed out waiting for sessions to close. Forcing browser termination.", zap.Error(ctx.Err()))
		}

		m.cancelAll()
		<-m.allocCtx.Done()
		m.logger.Info("Browser closed.")
	})
	return nil
}

func (m *Manager) cancelAll() {
	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
}
