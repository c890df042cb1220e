// internal/browser/interaction.go
//
// Element interactions used by the form workflow. The target UI re-renders
// asynchronously after most inputs, so Click and Fill re-resolve their
// element on every attempt, scroll it into view and retry with a linear
// backoff. Fill also reads the rendered value back and types again until it
// sticks.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const pollInterval = 100 * time.Millisecond

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsClearValue empties an input through the native value setter, so that
// framework-controlled inputs notice the change, then fires input/change.
const jsClearValue = `function() {
	if (this.disabled || this.readOnly) {
		return false;
	}
	const proto = this instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) {
		desc.set.call(this, '');
	} else {
		this.value = '';
	}
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

// xpathCountExpr returns a JS expression counting the nodes matching xpath.
func xpathCountExpr(xpath string) (string, error) {
	encoded, err := json.Marshal(xpath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength`, encoded), nil
}

// resolve waits for loc to match and returns the node at index. Negative
// indices count from the end, so -1 is the last match.
func (s *Session) resolve(ctx context.Context, loc Locator, index int) (*cdp.Node, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opts.WaitTimeout)
	defer cancel()

	var nodes []*cdp.Node
	if err := s.RunActions(opCtx, chromedp.Nodes(loc.XPath, &nodes, chromedp.BySearch)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if opCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s after %v", ErrElementNotFound, loc, s.opts.WaitTimeout)
		}
		return nil, fmt.Errorf("lookup of %s failed: %w", loc, err)
	}

	i := index
	if i < 0 {
		i = len(nodes) + index
	}
	if i < 0 || i >= len(nodes) {
		return nil, fmt.Errorf("%w: %s index %d of %d matches", ErrElementNotFound, loc, index, len(nodes))
	}
	return nodes[i], nil
}

// linearBackOff waits step, then 2*step, 3*step and so on.
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.step * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// retry runs op up to MaxAttempts times with a linear backoff in between and
// returns the number of attempts made. op wraps errors that another attempt
// cannot fix in backoff.Permanent; a canceled ctx always stops the loop.
func (s *Session) retry(ctx context.Context, desc string, op func() error) (int, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: s.opts.RetryBackoff}, uint64(s.opts.MaxAttempts-1)),
		ctx,
	)
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		s.logger.Debug("Attempt failed; retrying.",
			zap.String("element", desc),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	return attempts, err
}

// clickNode scrolls node into view and clicks it once.
func (s *Session) clickNode(ctx context.Context, node *cdp.Node) error {
	ids := []cdp.NodeID{node.NodeID}
	opCtx, cancel := context.WithTimeout(ctx, s.opts.WaitTimeout)
	defer cancel()
	return s.RunActions(opCtx,
		chromedp.ScrollIntoView(ids, chromedp.ByNodeID),
		chromedp.Click(ids, chromedp.ByNodeID),
	)
}

// Click clicks the element at index of loc. Every attempt looks the element
// up again, so a node replaced by a re-render is not clicked twice.
func (s *Session) Click(ctx context.Context, loc Locator, index int) error {
	attempts, err := s.retry(ctx, loc.String(), func() error {
		node, err := s.resolve(ctx, loc, index)
		if err != nil {
			return backoff.Permanent(err)
		}
		return s.clickNode(ctx, node)
	})
	if err != nil {
		if errors.Is(err, ErrElementNotFound) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("click on %s failed after %d attempts: %w", loc, attempts, err)
	}
	s.logger.Debug("Clicked.", zap.String("element", loc.String()), zap.Int("attempts", attempts))
	return nil
}

// WaitFor blocks until loc matches at least one element.
func (s *Session) WaitFor(ctx context.Context, loc Locator) error {
	_, err := s.resolve(ctx, loc, 0)
	return err
}

// Count returns how many elements currently match loc, without waiting.
func (s *Session) Count(ctx context.Context, loc Locator) (int, error) {
	expr, err := xpathCountExpr(loc.XPath)
	if err != nil {
		return 0, err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.opts.WaitTimeout)
	defer cancel()

	var n int
	if err := s.RunActions(opCtx, chromedp.Evaluate(expr, &n)); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", loc, err)
	}
	return n, nil
}

// WaitForCount polls until at least n elements match loc.
func (s *Session) WaitForCount(ctx context.Context, loc Locator, n int) error {
	expr, err := xpathCountExpr(loc.XPath)
	if err != nil {
		return err
	}
	var ok bool
	err = s.RunActions(ctx, chromedp.Poll(fmt.Sprintf("(%s) >= %d", expr, n), &ok,
		chromedp.WithPollingTimeout(s.opts.WaitTimeout),
		chromedp.WithPollingInterval(pollInterval),
	))
	if err != nil {
		if errors.Is(err, chromedp.ErrPollingTimeout) {
			return fmt.Errorf("%w: fewer than %d of %s after %v", ErrElementNotFound, n, loc, s.opts.WaitTimeout)
		}
		return fmt.Errorf("waiting for %d of %s failed: %w", n, loc, err)
	}
	return nil
}

// clearNode empties the node's value through the DOM.
func (s *Session) clearNode(ctx context.Context, node *cdp.Node) (bool, error) {
	var cleared bool
	opCtx, cancel := context.WithTimeout(ctx, s.opts.WaitTimeout)
	defer cancel()
	err := s.RunActions(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve node: %w", err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		return chromedp.CallFunctionOn(jsClearValue, &cleared,
			func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
				return p.WithObjectID(obj.ObjectID)
			},
		).Do(ctx)
	}))
	return cleared, err
}

// Clear empties the element at index of loc.
func (s *Session) Clear(ctx context.Context, loc Locator, index int) error {
	node, err := s.resolve(ctx, loc, index)
	if err != nil {
		return err
	}
	cleared, err := s.clearNode(ctx, node)
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", loc, err)
	}
	if !cleared {
		return fmt.Errorf("failed to clear %s: element is disabled or read-only", loc)
	}
	return nil
}

// PressTab sends a Tab key to the focused element, committing its value.
func (s *Session) PressTab(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.opts.WaitTimeout)
	defer cancel()
	return s.RunActions(opCtx, chromedp.KeyEvent(kb.Tab))
}

// errNotConfirmed marks an attempt whose rendered value differs from the
// typed one. It never carries the value, which may be a password.
var errNotConfirmed = errors.New("rendered value differs from typed value")

// Fill types value into the element at index of loc and confirms the page
// renders it. Each attempt re-resolves the element, focuses it with a click,
// clears it through the DOM and with Ctrl+A/Delete, types, and reads the
// value back. A value that never sticks yields a *ValueMismatchError.
func (s *Session) Fill(ctx context.Context, loc Locator, index int, value string) error {
	var got string
	attempts, err := s.retry(ctx, loc.String(), func() error {
		node, err := s.resolve(ctx, loc, index)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := s.clickNode(ctx, node); err != nil {
			return err
		}
		if got, err = s.typeInto(ctx, node, value); err != nil {
			return err
		}
		if strings.TrimSpace(got) != value {
			return errNotConfirmed
		}
		return nil
	})

	switch {
	case err == nil:
		s.logger.Debug("Field filled.", zap.String("element", loc.String()), zap.Int("attempts", attempts), zap.Int("length", len(value)))
		return nil
	case errors.Is(err, errNotConfirmed):
		return &ValueMismatchError{Field: loc.String(), Want: value, Got: got, Attempts: attempts}
	case errors.Is(err, ErrElementNotFound) || ctx.Err() != nil:
		return err
	default:
		return fmt.Errorf("typing into %s failed after %d attempts: %w", loc, attempts, err)
	}
}

// typeInto clears node, types value and returns the value the page renders.
func (s *Session) typeInto(ctx context.Context, node *cdp.Node, value string) (string, error) {
	if cleared, err := s.clearNode(ctx, node); err != nil || !cleared {
		s.logger.Debug("DOM clear did not apply; relying on key sequence.", zap.Error(err))
	}

	ids := []cdp.NodeID{node.NodeID}
	opCtx, cancel := context.WithTimeout(ctx, s.opts.WaitTimeout+time.Duration(len(value))*10*time.Millisecond)
	defer cancel()

	var got string
	err := s.RunActions(opCtx,
		chromedp.Focus(ids, chromedp.ByNodeID),
		chromedp.KeyEvent("a", chromedp.KeyModifiers(input.ModifierCtrl)),
		chromedp.KeyEvent(kb.Delete),
		chromedp.SendKeys(ids, value, chromedp.ByNodeID),
		chromedp.Value(ids, &got, chromedp.ByNodeID),
	)
	return got, err
}
