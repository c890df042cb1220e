// Package formfill drives the risk-assessment web form: it logs in, creates a
// form and adds one question per spreadsheet row, each with the configured
// answer alternatives.
package formfill

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/riskform-cli/internal/browser"
	"github.com/xkilldash9x/riskform-cli/internal/config"
	"github.com/xkilldash9x/riskform-cli/internal/reporting"
	"github.com/xkilldash9x/riskform-cli/internal/sheet"
)

var (
	// ErrLoginFailed is returned when the login page cannot be completed.
	ErrLoginFailed = errors.New("login failed")
	// ErrCreateFormFailed is returned when a new form cannot be opened.
	ErrCreateFormFailed = errors.New("create form failed")
	// ErrTooManyFailures aborts a run after too many rows failed in a row.
	ErrTooManyFailures = errors.New("too many consecutive row failures")
)

// Page is the subset of a browser session the workflow needs.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, loc browser.Locator) error
	Click(ctx context.Context, loc browser.Locator, index int) error
	Fill(ctx context.Context, loc browser.Locator, index int, value string) error
	Clear(ctx context.Context, loc browser.Locator, index int) error
	PressTab(ctx context.Context) error
	Count(ctx context.Context, loc browser.Locator) (int, error)
	WaitForCount(ctx context.Context, loc browser.Locator, n int) error
	Screenshot(ctx context.Context, path string) error
}

// Credentials identify the account used to log in.
type Credentials struct {
	LoginURL string
	Username string
	Password string
}

// Options tunes the workflow.
type Options struct {
	Labels                 config.LabelsConfig
	Buttons                config.ButtonsConfig
	Alternatives           []config.Alternative
	ReuseAlternatives      bool
	StrictValues           bool
	QuestionInterval       time.Duration
	MaxConsecutiveFailures int
	// ScreenshotDir receives a capture of the page for every failed row.
	// Empty disables screenshots.
	ScreenshotDir string
}

// NewOptions extracts the workflow options from the application config.
func NewOptions(cfg *config.Config) Options {
	return Options{
		Labels:                 cfg.Form.Labels,
		Buttons:                cfg.Form.Buttons,
		Alternatives:           append([]config.Alternative(nil), cfg.Form.Alternatives...),
		ReuseAlternatives:      cfg.Form.ReuseAlternatives,
		StrictValues:           cfg.Form.StrictValues,
		QuestionInterval:       cfg.Form.QuestionInterval,
		MaxConsecutiveFailures: cfg.Form.MaxConsecutiveFailures,
		ScreenshotDir:          cfg.Browser.ScreenshotDir,
	}
}

// locators are built once from the configured labels and button texts.
type locators struct {
	username          browser.Locator
	password          browser.Locator
	question          browser.Locator
	questionWeight    browser.Locator
	observation       browser.Locator
	alternativeText   browser.Locator
	alternativeWeight browser.Locator

	login          browser.Locator
	createForm     browser.Locator
	addAlternative browser.Locator
	addQuestion    browser.Locator
}

func newLocators(opts Options) locators {
	return locators{
		username:          browser.LabeledInput(opts.Labels.Username),
		password:          browser.LabeledInput(opts.Labels.Password),
		question:          browser.LabeledInput(opts.Labels.Question),
		questionWeight:    browser.LabeledInput(opts.Labels.QuestionWeight),
		observation:       browser.LabeledInput(opts.Labels.Observation),
		alternativeText:   browser.LabeledInput(opts.Labels.AlternativeText),
		alternativeWeight: browser.LabeledInput(opts.Labels.AlternativeWeight),
		login:             browser.ButtonContainsFold(opts.Buttons.Login),
		createForm:        browser.ButtonExact(opts.Buttons.CreateForm),
		addAlternative:    browser.ButtonExact(opts.Buttons.AddAlternative),
		addQuestion:       browser.ButtonExact(opts.Buttons.AddQuestion),
	}
}

// Runner executes the workflow against a Page and records every row in a
// report. It is not safe for concurrent use.
type Runner struct {
	page    Page
	opts    Options
	loc     locators
	report  *reporting.Report
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

// NewRunner creates a Runner. A nil report is replaced by a throwaway one.
func NewRunner(page Page, opts Options, report *reporting.Report, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if report == nil {
		report = reporting.NewReport("", "", "")
	}

	limit := rate.Inf
	if opts.QuestionInterval > 0 {
		limit = rate.Every(opts.QuestionInterval)
	}

	return &Runner{
		page:    page,
		opts:    opts,
		loc:     newLocators(opts),
		report:  report,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("formfill"),
		now:     time.Now,
	}
}

// Report returns the report the runner writes to.
func (r *Runner) Report() *reporting.Report {
	return r.report
}

// Execute runs the whole workflow: login, form creation, then every
// question in res. Rows the reader skipped are recorded up front; the report
// keeps every row in spreadsheet order.
func (r *Runner) Execute(ctx context.Context, creds Credentials, res *sheet.Result) error {
	for _, s := range res.Skipped {
		r.report.Record(reporting.RowResult{Row: s.Row, Question: s.Text, Status: reporting.StatusSkipped, Reason: s.Reason})
	}
	if err := r.Login(ctx, creds); err != nil {
		return err
	}
	if err := r.CreateForm(ctx); err != nil {
		return err
	}
	return r.Run(ctx, res.Questions)
}

// Login opens the login page, types the credentials and submits them.
func (r *Runner) Login(ctx context.Context, creds Credentials) error {
	r.logger.Info("Logging in.", zap.String("url", creds.LoginURL), zap.String("user", creds.Username))

	if err := r.page.Navigate(ctx, creds.LoginURL); err != nil {
		return r.fatal(ctx, ErrLoginFailed, err)
	}
	if _, err := r.fill(ctx, r.loc.username, 0, creds.Username); err != nil {
		return r.fatal(ctx, ErrLoginFailed, err)
	}
	if _, err := r.fill(ctx, r.loc.password, 0, creds.Password); err != nil {
		// Never surface the typed password.
		if errors.Is(err, browser.ErrValueMismatch) {
			return fmt.Errorf("%w: password field did not accept the typed value", ErrLoginFailed)
		}
		return r.fatal(ctx, ErrLoginFailed, err)
	}
	if err := r.page.Click(ctx, r.loc.login, 0); err != nil {
		return r.fatal(ctx, ErrLoginFailed, err)
	}
	r.logger.Info("Login submitted.")
	return nil
}

// CreateForm opens a new form and waits for the question editor.
func (r *Runner) CreateForm(ctx context.Context) error {
	if err := r.page.Click(ctx, r.loc.createForm, 0); err != nil {
		return r.fatal(ctx, ErrCreateFormFailed, err)
	}
	if err := r.page.WaitFor(ctx, r.loc.question); err != nil {
		return r.fatal(ctx, ErrCreateFormFailed, err)
	}
	r.logger.Info("Form created.")
	return nil
}

// Run adds every question in order, pacing them by the question interval.
// A failed row is recorded and the loop moves on, unless the number of
// consecutive failures reaches the configured maximum.
func (r *Runner) Run(ctx context.Context, questions []sheet.Question) error {
	consecutive := 0
	for _, q := range questions {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}

		if strings.TrimSpace(q.Text) == "" || q.Weight < 1 {
			r.logger.Warn("Invalid question row; skipped.", zap.Int("row", q.Row), zap.Int("weight", q.Weight))
			r.report.Record(reporting.RowResult{Row: q.Row, Question: q.Text, Weight: q.Weight, Status: reporting.StatusSkipped, Reason: "invalid question or weight"})
			continue
		}

		warnings, err := r.AddQuestion(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			consecutive++
			row := reporting.RowResult{Row: q.Row, Question: q.Text, Weight: q.Weight, Status: reporting.StatusFailed, Reason: err.Error(), Warnings: warnings}
			row.Screenshot = r.captureFailure(ctx, q.Row)
			r.report.Record(row)
			r.logger.Error("Failed to add question.", zap.Int("row", q.Row), zap.String("question", q.Text), zap.Int("consecutive_failures", consecutive), zap.Error(err))

			if limit := r.opts.MaxConsecutiveFailures; limit > 0 && consecutive >= limit {
				return fmt.Errorf("%w: %d rows, last at row %d: %w", ErrTooManyFailures, consecutive, q.Row, err)
			}
			continue
		}

		consecutive = 0
		r.report.Record(reporting.RowResult{Row: q.Row, Question: q.Text, Weight: q.Weight, Status: reporting.StatusAdded, Warnings: warnings})
		r.logger.Info("Question added.", zap.Int("row", q.Row), zap.String("question", q.Text), zap.Int("weight", q.Weight))
	}

	s := r.report.Snapshot()
	r.logger.Info("Run complete.", zap.Int("added", s.Added), zap.Int("skipped", s.Skipped), zap.Int("failed", s.Failed))
	return nil
}

// AddQuestion fills the question editor for q and commits it. The returned
// warnings list values that did not stick when strict values are off.
func (r *Runner) AddQuestion(ctx context.Context, q sheet.Question) ([]string, error) {
	var warnings []string
	note := func(w string) {
		if w != "" {
			warnings = append(warnings, w)
		}
	}

	w, err := r.fill(ctx, r.loc.question, 0, q.Text)
	if err != nil {
		return warnings, fmt.Errorf("question text: %w", err)
	}
	note(w)

	w, err = r.fill(ctx, r.loc.questionWeight, 0, strconv.Itoa(q.Weight))
	if err != nil {
		return warnings, fmt.Errorf("question weight: %w", err)
	}
	note(w)
	if err := r.page.PressTab(ctx); err != nil {
		return warnings, fmt.Errorf("question weight: %w", err)
	}

	if err := r.clearObservation(ctx); err != nil {
		return warnings, err
	}

	if err := r.ensureAlternatives(ctx); err != nil {
		return warnings, err
	}

	n := len(r.opts.Alternatives)
	for i, alt := range r.opts.Alternatives {
		// The alternatives for this question are the last n rows.
		index := i - n
		w, err = r.fill(ctx, r.loc.alternativeText, index, alt.Text)
		if err != nil {
			return warnings, fmt.Errorf("alternative %q text: %w", alt.Text, err)
		}
		note(w)
		w, err = r.fill(ctx, r.loc.alternativeWeight, index, strconv.Itoa(alt.Weight))
		if err != nil {
			return warnings, fmt.Errorf("alternative %q weight: %w", alt.Text, err)
		}
		note(w)
	}

	if err := r.page.Click(ctx, r.loc.addQuestion, 0); err != nil {
		return warnings, fmt.Errorf("commit question: %w", err)
	}
	return warnings, nil
}

// clearObservation empties the optional observation field if it is present.
func (r *Runner) clearObservation(ctx context.Context) error {
	n, err := r.page.Count(ctx, r.loc.observation)
	if err != nil {
		return fmt.Errorf("observation: %w", err)
	}
	if n == 0 {
		r.logger.Debug("Observation field not present.")
		return nil
	}
	if err := r.page.Clear(ctx, r.loc.observation, 0); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Debug("Observation field could not be cleared.", zap.Error(err))
	}
	return nil
}

// ensureAlternatives makes sure the editor holds alternative rows for the
// current question. When rows are reused they are only added until enough
// exist; otherwise a fresh set is added for every question. Each click waits
// until the row count has grown by one.
func (r *Runner) ensureAlternatives(ctx context.Context) error {
	n := len(r.opts.Alternatives)
	current, err := r.page.Count(ctx, r.loc.alternativeText)
	if err != nil {
		return fmt.Errorf("count alternatives: %w", err)
	}

	toAdd := n
	if r.opts.ReuseAlternatives {
		toAdd = n - current
	}
	for i := 0; i < toAdd; i++ {
		if err := r.page.Click(ctx, r.loc.addAlternative, 0); err != nil {
			return fmt.Errorf("add alternative: %w", err)
		}
		current++
		if err := r.page.WaitForCount(ctx, r.loc.alternativeText, current); err != nil {
			return fmt.Errorf("add alternative: %w", err)
		}
	}
	if toAdd > 0 {
		r.logger.Debug("Alternative rows added.", zap.Int("added", toAdd), zap.Int("total", current))
	}
	return nil
}

// fill types value and applies the value-confirmation policy. A mismatch is
// returned as an error under strict values and as a warning otherwise.
func (r *Runner) fill(ctx context.Context, loc browser.Locator, index int, value string) (string, error) {
	err := r.page.Fill(ctx, loc, index, value)
	if err == nil {
		return "", nil
	}
	if !errors.Is(err, browser.ErrValueMismatch) || r.opts.StrictValues {
		return "", err
	}
	r.logger.Warn("Field value not confirmed; continuing.", zap.String("field", loc.String()))
	return fmt.Sprintf("%s: value not confirmed", loc), nil
}

// fatal wraps err with the step sentinel, keeping a caller cancellation as is.
func (r *Runner) fatal(ctx context.Context, step error, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %w", step, err)
}

// captureFailure saves a screenshot for a failed row and returns its path.
func (r *Runner) captureFailure(ctx context.Context, row int) string {
	if r.opts.ScreenshotDir == "" {
		return ""
	}
	path := filepath.Join(r.opts.ScreenshotDir, fmt.Sprintf("row-%04d-%s.jpg", row, r.now().Format("20060102-150405")))
	if err := r.page.Screenshot(ctx, path); err != nil {
		r.logger.Warn("Could not capture failure screenshot.", zap.Int("row", row), zap.Error(err))
		return ""
	}
	return path
}
