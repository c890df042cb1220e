// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/security"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultWaitTimeout       = 10 * time.Second
	defaultNavigationTimeout = 30 * time.Second
	screenshotQuality        = 90
)

// SessionOptions tunes timeouts and retries of a Session.
type SessionOptions struct {
	WaitTimeout       time.Duration
	NavigationTimeout time.Duration
	MaxAttempts       int
	RetryBackoff      time.Duration
	IgnoreTLSErrors   bool
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = defaultWaitTimeout
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = defaultNavigationTimeout
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = 0
	}
	return o
}

// Session is a single browser tab. It is not safe for concurrent use; the
// form workflow drives it from one goroutine.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	opts   SessionOptions
	logger *zap.Logger

	onClose   func()
	closeOnce sync.Once
}

func newSession(tabCtx context.Context, cancel context.CancelFunc, opts SessionOptions, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:     id,
		ctx:    tabCtx,
		cancel: cancel,
		opts:   opts.withDefaults(),
		logger: logger.Named("session").With(zap.String("session_id", id[:8])),
	}
}

// initialize creates the tab and applies protocol-level settings.
func (s *Session) initialize(ctx context.Context) error {
	actions := []chromedp.Action{}
	if s.opts.IgnoreTLSErrors {
		actions = append(actions, security.SetIgnoreCertificateErrors(true))
	}
	// The first Run on a tab context creates the target; no timeout here.
	if err := chromedp.Run(s.ctx, actions...); err != nil {
		return err
	}
	return ctx.Err()
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// RunActions runs chromedp actions on the tab, canceled when either the
// session or ctx ends.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil {
		// Report the caller's reason for cancellation rather than the derived one.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.ctx.Err() != nil {
			return fmt.Errorf("session closed: %w", s.ctx.Err())
		}
	}
	return err
}

// Navigate loads url and waits for the document body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating.", zap.String("url", url))

	navCtx, cancel := context.WithTimeout(ctx, s.opts.NavigationTimeout)
	defer cancel()

	err := s.RunActions(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if navCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("navigation to %s timed out after %v", url, s.opts.NavigationTimeout)
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Screenshot saves a full-page JPEG of the tab to path.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	opCtx, cancel := context.WithTimeout(ctx, s.opts.WaitTimeout)
	defer cancel()

	if err := s.RunActions(opCtx, chromedp.FullScreenshot(&buf, screenshotQuality)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for screenshot: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	s.logger.Info("Screenshot saved.", zap.String("path", path))
	return nil
}

// Close closes the tab. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing session.")
		if err := chromedp.Cancel(s.ctx); err != nil {
			s.logger.Debug("Tab did not close cleanly.", zap.Error(err))
		}
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
	})
}
