// internal/formfill/fake_page_test.go
package formfill

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/riskform-cli/internal/browser"
)

// call is one recorded Page interaction.
type call struct {
	Op    string
	Loc   string
	Index int
	Value string
}

// fakePage records every interaction and simulates the alternative rows of
// the question editor.
type fakePage struct {
	mu    sync.Mutex
	calls []call
	loc   locators

	altRows        int
	obsPresent     bool
	resetOnCommit  bool
	clickErrs      map[string][]error
	fillErrs       map[string]error
	navigateErr    error
	screenshotErrs error
	screenshots    []string
	commits        int
}

func newFakePage(opts Options) *fakePage {
	return &fakePage{
		loc:        newLocators(opts),
		obsPresent: true,
		clickErrs:  map[string][]error{},
		fillErrs:   map[string]error{},
	}
}

func (f *fakePage) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// failClick makes the next len(errs) clicks on loc return errs in order. A nil
// entry lets that click succeed.
func (f *fakePage) failClick(loc browser.Locator, errs ...error) {
	f.clickErrs[loc.XPath] = append(f.clickErrs[loc.XPath], errs...)
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	f.record(call{Op: "navigate", Value: url})
	return f.navigateErr
}

func (f *fakePage) WaitFor(ctx context.Context, loc browser.Locator) error {
	f.record(call{Op: "wait", Loc: loc.XPath})
	return ctx.Err()
}

func (f *fakePage) Click(ctx context.Context, loc browser.Locator, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.record(call{Op: "click", Loc: loc.XPath, Index: index})
	if errs := f.clickErrs[loc.XPath]; len(errs) > 0 {
		f.clickErrs[loc.XPath] = errs[1:]
		if errs[0] != nil {
			return errs[0]
		}
	}
	switch loc.XPath {
	case f.loc.addAlternative.XPath:
		f.altRows++
	case f.loc.addQuestion.XPath:
		f.commits++
		if f.resetOnCommit {
			f.altRows = 0
		}
	}
	return nil
}

func (f *fakePage) Fill(ctx context.Context, loc browser.Locator, index int, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.record(call{Op: "fill", Loc: loc.XPath, Index: index, Value: value})
	if loc.XPath == f.loc.alternativeText.XPath || loc.XPath == f.loc.alternativeWeight.XPath {
		if index < -f.altRows || index >= f.altRows {
			return fmt.Errorf("%w: index %d of %d", browser.ErrElementNotFound, index, f.altRows)
		}
	}
	return f.fillErrs[loc.XPath]
}

func (f *fakePage) Clear(ctx context.Context, loc browser.Locator, index int) error {
	f.record(call{Op: "clear", Loc: loc.XPath, Index: index})
	return nil
}

func (f *fakePage) PressTab(ctx context.Context) error {
	f.record(call{Op: "tab"})
	return nil
}

func (f *fakePage) Count(ctx context.Context, loc browser.Locator) (int, error) {
	switch loc.XPath {
	case f.loc.alternativeText.XPath:
		return f.altRows, nil
	case f.loc.observation.XPath:
		if f.obsPresent {
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakePage) WaitForCount(ctx context.Context, loc browser.Locator, n int) error {
	got, _ := f.Count(ctx, loc)
	if got < n {
		return fmt.Errorf("%w: %d of %d", browser.ErrElementNotFound, got, n)
	}
	return nil
}

func (f *fakePage) Screenshot(ctx context.Context, path string) error {
	if f.screenshotErrs != nil {
		return f.screenshotErrs
	}
	f.screenshots = append(f.screenshots, path)
	return nil
}

// count returns how many recorded calls match op and loc.
func (f *fakePage) count(op string, loc browser.Locator) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op && c.Loc == loc.XPath {
			n++
		}
	}
	return n
}

// fills returns the (index, value) pairs typed into loc, in order.
func (f *fakePage) fills(loc browser.Locator) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Op == "fill" && c.Loc == loc.XPath {
			out = append(out, call{Op: c.Op, Index: c.Index, Value: c.Value})
		}
	}
	return out
}
