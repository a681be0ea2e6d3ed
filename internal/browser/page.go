package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// tab is the chromedp Page.
type tab struct {
	ctx           context.Context
	cancel        context.CancelFunc
	actionTimeout time.Duration
	logger        *zap.Logger

	closeOnce sync.Once
	done      func()
}

var _ Page = (*tab)(nil)

// opTimeout picks the bound for one operation: timeout, else the action
// timeout, stretched to the caller's deadline when that is later.
func opTimeout(ctx context.Context, timeout, actionTimeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = actionTimeout
	}
	if deadline, ok := ctx.Deadline(); ok && timeout > 0 {
		if remaining := time.Until(deadline); remaining > timeout {
			timeout = remaining
		}
	}
	return timeout
}

// run executes actions on the tab, cancelled by either the caller's ctx or
// timeout. Cancelling the derived context leaves the tab open.
func (t *tab) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	timeout = opTimeout(ctx, timeout, t.actionTimeout)
	var (
		opCtx  context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		opCtx, cancel = context.WithTimeout(t.ctx, timeout)
	} else {
		opCtx, cancel = context.WithCancel(t.ctx)
	}
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (t *tab) nodes(ctx context.Context, selector string) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	if err := t.run(ctx, 0, chromedp.Nodes(selector, &nodes, chromedp.BySearch, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}
	return nodes, nil
}

func (t *tab) nth(ctx context.Context, selector string, n int) (*cdp.Node, error) {
	nodes, err := t.nodes(ctx, selector)
	if err != nil {
		return nil, err
	}
	if n < 0 || n >= len(nodes) {
		return nil, fmt.Errorf("%w: %q[%d] (%d matches)", ErrNotFound, selector, n, len(nodes))
	}
	return nodes[n], nil
}

func (t *tab) Goto(ctx context.Context, url string) error {
	t.logger.Debug("Navigating.", zap.String("url", url))
	if err := t.run(ctx, 0, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (t *tab) WaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	if err := t.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.BySearch)); err != nil {
		return fmt.Errorf("waiting for %q: %w", selector, err)
	}
	return nil
}

func (t *tab) Count(ctx context.Context, selector string) (int, error) {
	nodes, err := t.nodes(ctx, selector)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func (t *tab) Click(ctx context.Context, selector string, nth int) error {
	node, err := t.nth(ctx, selector, nth)
	if err != nil {
		return err
	}
	if err := t.run(ctx, 0, chromedp.MouseClickNode(node)); err != nil {
		return fmt.Errorf("failed to click %q[%d]: %w", selector, nth, err)
	}
	return nil
}

func (t *tab) Attribute(ctx context.Context, selector string, nth int, name string) (string, bool, error) {
	node, err := t.nth(ctx, selector, nth)
	if err != nil {
		return "", false, err
	}
	value, ok := node.Attribute(name)
	return value, ok, nil
}

func (t *tab) Fill(ctx context.Context, selector, value string) error {
	node, err := t.nth(ctx, selector, 0)
	if err != nil {
		return err
	}
	ids := []cdp.NodeID{node.NodeID}
	// Typing, rather than only setting .value, lets the form's own input
	// handlers register the answer.
	err = t.run(ctx, 0,
		chromedp.Focus(ids, chromedp.ByNodeID),
		chromedp.SetValue(ids, "", chromedp.ByNodeID),
		chromedp.SendKeys(ids, value, chromedp.ByNodeID),
	)
	if err != nil {
		return fmt.Errorf("failed to fill %q: %w", selector, err)
	}
	return nil
}

// Close closes the tab. Repeated calls are no-ops.
func (t *tab) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		if t.done != nil {
			t.done()
		}
	})
	return nil
}
