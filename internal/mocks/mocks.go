// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/riskform-cli/internal/browser"
)

// -- Page Mock --

// MockPage mocks formfill.Page. Expectations match on the locator XPath, so
// callers can use browser.LabeledInput and friends in On(...).
type MockPage struct {
	mock.Mock
}

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockPage) WaitFor(ctx context.Context, loc browser.Locator) error {
	args := m.Called(ctx, loc)
	return args.Error(0)
}

func (m *MockPage) Click(ctx context.Context, loc browser.Locator, index int) error {
	args := m.Called(ctx, loc, index)
	return args.Error(0)
}

func (m *MockPage) Fill(ctx context.Context, loc browser.Locator, index int, value string) error {
	args := m.Called(ctx, loc, index, value)
	return args.Error(0)
}

func (m *MockPage) Clear(ctx context.Context, loc browser.Locator, index int) error {
	args := m.Called(ctx, loc, index)
	return args.Error(0)
}

func (m *MockPage) PressTab(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockPage) Count(ctx context.Context, loc browser.Locator) (int, error) {
	args := m.Called(ctx, loc)
	return args.Int(0), args.Error(1)
}

func (m *MockPage) WaitForCount(ctx context.Context, loc browser.Locator, n int) error {
	args := m.Called(ctx, loc, n)
	return args.Error(0)
}

func (m *MockPage) Screenshot(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}
