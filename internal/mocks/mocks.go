// Package mocks holds test doubles shared across packages.
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/records"
	"github.com/xkilldash9x/formpilot/internal/submission"
)

// -- Browser --

// FillCall records one Page.Fill.
type FillCall struct {
	Selector string
	Value    string
}

// FormPage is a scripted browser.Page. Every selector is present once unless
// Counts says otherwise; the option selector renders Options.
type FormPage struct {
	OptionSelector  string
	OptionAttribute string
	Options         []string
	Counts          map[string]int

	// Hook runs before every operation; a non-nil error fails it.
	// op is one of goto, wait, count, click, attribute, fill.
	Hook func(op, selector string, nth int) error

	mu     sync.Mutex
	urls   []string
	fills  []FillCall
	clicks []string
	closed bool
}

var _ browser.Page = (*FormPage)(nil)

// NewFormPage returns a page rendering the given option labels.
func NewFormPage(optionSelector, optionAttribute string, options ...string) *FormPage {
	return &FormPage{
		OptionSelector:  optionSelector,
		OptionAttribute: optionAttribute,
		Options:         options,
		Counts:          map[string]int{},
	}
}

func (p *FormPage) hook(op, selector string, nth int) error {
	if p.Hook == nil {
		return nil
	}
	return p.Hook(op, selector, nth)
}

// SetCount overrides how many elements match selector.
func (p *FormPage) SetCount(selector string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Counts[selector] = n
}

func (p *FormPage) count(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.Counts[selector]; ok {
		return n
	}
	if selector == p.OptionSelector {
		return len(p.Options)
	}
	return 1
}

func (p *FormPage) Goto(_ context.Context, url string) error {
	if err := p.hook("goto", url, 0); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls = append(p.urls, url)
	return nil
}

func (p *FormPage) WaitReady(ctx context.Context, selector string, _ time.Duration) error {
	if err := p.hook("wait", selector, 0); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.count(selector) == 0 {
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, selector)
	}
	return nil
}

func (p *FormPage) Count(_ context.Context, selector string) (int, error) {
	if err := p.hook("count", selector, 0); err != nil {
		return 0, err
	}
	return p.count(selector), nil
}

func (p *FormPage) Click(_ context.Context, selector string, nth int) error {
	if err := p.hook("click", selector, nth); err != nil {
		return err
	}
	if nth >= p.count(selector) {
		return fmt.Errorf("%w: %s[%d]", browser.ErrNotFound, selector, nth)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, fmt.Sprintf("%s#%d", selector, nth))
	return nil
}

func (p *FormPage) Attribute(_ context.Context, selector string, nth int, name string) (string, bool, error) {
	if err := p.hook("attribute", selector, nth); err != nil {
		return "", false, err
	}
	if selector != p.OptionSelector || name != p.OptionAttribute || nth >= len(p.Options) {
		return "", false, nil
	}
	return p.Options[nth], true, nil
}

func (p *FormPage) Fill(_ context.Context, selector, value string) error {
	if err := p.hook("fill", selector, 0); err != nil {
		return err
	}
	if p.count(selector) == 0 {
		return fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills = append(p.fills, FillCall{Selector: selector, Value: value})
	return nil
}

func (p *FormPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// URLs returns every navigated URL.
func (p *FormPage) URLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}

// Fills returns every Fill call in order.
func (p *FormPage) Fills() []FillCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]FillCall(nil), p.fills...)
}

// FilledValues returns, in order, every value filled into selector.
func (p *FormPage) FilledValues(selector string) []string {
	var out []string
	for _, f := range p.Fills() {
		if f.Selector == selector {
			out = append(out, f.Value)
		}
	}
	return out
}

// Clicks returns every click as "selector#nth".
func (p *FormPage) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Closed reports whether Close was called.
func (p *FormPage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// PageOpener hands out Page on every NewPage call.
type PageOpener struct {
	Page browser.Page
	Err  error

	mu     sync.Mutex
	opened int
}

var _ browser.Opener = (*PageOpener)(nil)

func (o *PageOpener) NewPage(ctx context.Context) (browser.Page, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Page, nil
}

// Opened reports how many pages were requested.
func (o *PageOpener) Opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

// -- Archive --

// MockArchiver mocks the payload archive.
type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Archive(ctx context.Context, p submission.Payload) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

// -- Records --

// MockRecorder mocks the submission audit store.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Append(ctx context.Context, rec records.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockRecorder) List(ctx context.Context) ([]records.Record, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]records.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRecorder) Close() error {
	args := m.Called()
	return args.Error(0)
}
