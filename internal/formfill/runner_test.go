// internal/formfill/runner_test.go
package formfill

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/riskform-cli/internal/browser"
	"github.com/xkilldash9x/riskform-cli/internal/config"
	"github.com/xkilldash9x/riskform-cli/internal/reporting"
	"github.com/xkilldash9x/riskform-cli/internal/sheet"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testOptions() Options {
	cfg := config.NewDefaultConfig()
	opts := NewOptions(cfg)
	opts.QuestionInterval = 0
	return opts
}

func questions(n int) []sheet.Question {
	qs := make([]sheet.Question, n)
	for i := range qs {
		qs[i] = sheet.Question{Row: i + 3, Text: "Pergunta " + string(rune('A'+i)), Weight: i%4 + 1}
	}
	return qs
}

func TestNewOptions(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Browser.ScreenshotDir = "/tmp/shots"
	opts := NewOptions(cfg)

	assert.Equal(t, "Pergunta", opts.Labels.Question)
	assert.Equal(t, "Adicionar Pergunta", opts.Buttons.AddQuestion)
	assert.Equal(t, []config.Alternative{{Text: "Sim", Weight: 100}, {Text: "Não", Weight: 0}}, opts.Alternatives)
	assert.True(t, opts.ReuseAlternatives)
	assert.Equal(t, 1200*time.Millisecond, opts.QuestionInterval)
	assert.Equal(t, 3, opts.MaxConsecutiveFailures)
	assert.Equal(t, "/tmp/shots", opts.ScreenshotDir)

	// The options own their alternatives.
	opts.Alternatives[0].Text = "changed"
	assert.Equal(t, "Sim", cfg.Form.Alternatives[0].Text)
}

func TestLogin(t *testing.T) {
	opts := testOptions()
	creds := Credentials{LoginURL: "https://forms.example.com/login", Username: "ana", Password: "s3gredo"}

	t.Run("success", func(t *testing.T) {
		page := newFakePage(opts)
		r := NewRunner(page, opts, nil, zaptest.NewLogger(t))

		require.NoError(t, r.Login(context.Background(), creds))

		want := []call{
			{Op: "navigate", Value: creds.LoginURL},
			{Op: "fill", Loc: page.loc.username.XPath, Value: "ana"},
			{Op: "fill", Loc: page.loc.password.XPath, Value: "s3gredo"},
			{Op: "click", Loc: page.loc.login.XPath},
		}
		if diff := cmp.Diff(want, page.calls); diff != "" {
			t.Errorf("login calls mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("navigation failure", func(t *testing.T) {
		page := newFakePage(opts)
		page.navigateErr = errors.New("net::ERR_CONNECTION_REFUSED")
		r := NewRunner(page, opts, nil, nil)

		err := r.Login(context.Background(), creds)
		require.ErrorIs(t, err, ErrLoginFailed)
		assert.Contains(t, err.Error(), "ERR_CONNECTION_REFUSED")
	})

	t.Run("strict password mismatch does not leak the value", func(t *testing.T) {
		strict := opts
		strict.StrictValues = true
		page := newFakePage(strict)
		page.fillErrs[page.loc.password.XPath] = &browser.ValueMismatchError{Field: "senha", Want: "s3gredo", Got: "s3g", Attempts: 3}
		r := NewRunner(page, strict, nil, nil)

		err := r.Login(context.Background(), creds)
		require.ErrorIs(t, err, ErrLoginFailed)
		assert.NotContains(t, err.Error(), "s3g")
	})

	t.Run("username mismatch is a warning", func(t *testing.T) {
		page := newFakePage(opts)
		page.fillErrs[page.loc.username.XPath] = &browser.ValueMismatchError{Field: "usuario", Want: "ana", Got: "an", Attempts: 3}
		r := NewRunner(page, opts, nil, nil)

		assert.NoError(t, r.Login(context.Background(), creds))
	})

	t.Run("login button missing", func(t *testing.T) {
		page := newFakePage(opts)
		page.failClick(page.loc.login, browser.ErrElementNotFound)
		r := NewRunner(page, opts, nil, nil)

		err := r.Login(context.Background(), creds)
		assert.ErrorIs(t, err, ErrLoginFailed)
		assert.ErrorIs(t, err, browser.ErrElementNotFound)
	})
}

func TestCreateForm(t *testing.T) {
	opts := testOptions()

	page := newFakePage(opts)
	r := NewRunner(page, opts, nil, nil)
	require.NoError(t, r.CreateForm(context.Background()))
	assert.Equal(t, 1, page.count("click", page.loc.createForm))
	assert.Equal(t, 1, page.count("wait", page.loc.question))

	page = newFakePage(opts)
	page.failClick(page.loc.createForm, browser.ErrElementNotFound)
	r = NewRunner(page, opts, nil, nil)
	assert.ErrorIs(t, r.CreateForm(context.Background()), ErrCreateFormFailed)
}

func TestAddQuestion_FillsEditor(t *testing.T) {
	opts := testOptions()
	page := newFakePage(opts)
	r := NewRunner(page, opts, nil, nil)

	warnings, err := r.AddQuestion(context.Background(), sheet.Question{Row: 3, Text: "Existe backup?", Weight: 4})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, []call{{Op: "fill", Value: "Existe backup?"}}, page.fills(page.loc.question))
	assert.Equal(t, []call{{Op: "fill", Value: "4"}}, page.fills(page.loc.questionWeight))
	assert.Equal(t, 1, page.count("clear", page.loc.observation))
	assert.Equal(t, 2, page.count("click", page.loc.addAlternative))
	assert.Equal(t, []call{{Op: "fill", Index: -2, Value: "Sim"}, {Op: "fill", Index: -1, Value: "Não"}}, page.fills(page.loc.alternativeText))
	assert.Equal(t, []call{{Op: "fill", Index: -2, Value: "100"}, {Op: "fill", Index: -1, Value: "0"}}, page.fills(page.loc.alternativeWeight))
	assert.Equal(t, 1, page.commits)

	// The weight is committed with Tab before the observation is touched.
	var ops []string
	for _, c := range page.calls {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, "tab", ops[2])
}

func TestAddQuestion_MissingObservationIsNotAnError(t *testing.T) {
	opts := testOptions()
	page := newFakePage(opts)
	page.obsPresent = false
	r := NewRunner(page, opts, nil, nil)

	_, err := r.AddQuestion(context.Background(), sheet.Question{Row: 3, Text: "Q", Weight: 1})
	require.NoError(t, err)
	assert.Zero(t, page.count("clear", page.loc.observation))
}

func TestRun_ReusesAlternatives(t *testing.T) {
	opts := testOptions()
	page := newFakePage(opts)
	report := reporting.NewReport("riscos.xlsx", "Planilha1", "")
	r := NewRunner(page, opts, report, zaptest.NewLogger(t))

	require.NoError(t, r.Run(context.Background(), questions(3)))

	assert.Equal(t, 2, page.count("click", page.loc.addAlternative), "alternative rows are added only once")
	assert.Equal(t, 3, page.commits)
	assert.Equal(t, reporting.Summary{Total: 3, Added: 3}, report.Snapshot())
}

func TestRun_ReusedRowsAreRestoredWhenTheEditorResets(t *testing.T) {
	opts := testOptions()
	page := newFakePage(opts)
	page.resetOnCommit = true
	r := NewRunner(page, opts, nil, nil)

	require.NoError(t, r.Run(context.Background(), questions(2)))
	assert.Equal(t, 4, page.count("click", page.loc.addAlternative))
}

func TestRun_FreshAlternativesPerQuestion(t *testing.T) {
	opts := testOptions()
	opts.ReuseAlternatives = false
	page := newFakePage(opts)
	r := NewRunner(page, opts, nil, nil)

	require.NoError(t, r.Run(context.Background(), questions(3)))
	assert.Equal(t, 6, page.count("click", page.loc.addAlternative))
	assert.Equal(t, 6, page.altRows)
}

func TestRun_FailedRowDoesNotStopTheRun(t *testing.T) {
	opts := testOptions()
	opts.ScreenshotDir = t.TempDir()
	page := newFakePage(opts)
	// The second commit fails on every attempt.
	page.failClick(page.loc.addQuestion, nil, browser.ErrElementNotFound)

	core, logs := observer.New(zap.InfoLevel)
	report := reporting.NewReport("", "", "")
	r := NewRunner(page, opts, report, zap.New(core))
	r.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	require.NoError(t, r.Run(context.Background(), questions(3)))

	assert.Equal(t, reporting.Summary{Total: 3, Added: 2, Failed: 1}, report.Snapshot())
	failed := report.Rows[1]
	assert.Equal(t, reporting.StatusFailed, failed.Status)
	assert.Equal(t, 4, failed.Row)
	assert.Contains(t, failed.Reason, "commit question")
	assert.Equal(t, filepath.Join(opts.ScreenshotDir, "row-0004-20240501-100000.jpg"), failed.Screenshot)
	assert.Equal(t, []string{failed.Screenshot}, page.screenshots)

	errLogs := logs.FilterMessage("Failed to add question.").All()
	require.Len(t, errLogs, 1)
	assert.Equal(t, int64(4), errLogs[0].ContextMap()["row"])
}

func TestRun_AbortsAfterConsecutiveFailures(t *testing.T) {
	opts := testOptions()
	page := newFakePage(opts)
	page.failClick(page.loc.addQuestion, browser.ErrElementNotFound, browser.ErrElementNotFound, browser.ErrElementNotFound, browser.ErrElementNotFound)
	report := reporting.NewReport("", "", "")
	r := NewRunner(page, opts, report, nil)

	err := r.Run(context.Background(), questions(5))
	require.ErrorIs(t, err, ErrTooManyFailures)
	assert.ErrorIs(t, err, browser.ErrElementNotFound)
	assert.Equal(t, reporting.Summary{Total: 3, Failed: 3}, report.Snapshot())
}

func TestRun_SuccessResetsFailureStreak(t *testing.T) {
	opts := testOptions()
	opts.MaxConsecutiveFailures = 2
	page := newFakePage(opts)
	page.failClick(page.loc.addQuestion, browser.ErrElementNotFound, nil, browser.ErrElementNotFound, nil)
	report := reporting.NewReport("", "", "")
	r := NewRunner(page, opts, report, nil)

	require.NoError(t, r.Run(context.Background(), questions(4)))
	assert.Equal(t, reporting.Summary{Total: 4, Added: 2, Failed: 2}, report.Snapshot())
}

func TestRun_ValueMismatchPolicy(t *testing.T) {
	mismatch := &browser.ValueMismatchError{Field: "peso", Want: "100", Got: "10", Attempts: 3}

	t.Run("lenient", func(t *testing.T) {
		opts := testOptions()
		page := newFakePage(opts)
		page.fillErrs[page.loc.alternativeWeight.XPath] = mismatch
		report := reporting.NewReport("", "", "")
		r := NewRunner(page, opts, report, nil)

		require.NoError(t, r.Run(context.Background(), questions(1)))
		require.Len(t, report.Rows, 1)
		assert.Equal(t, reporting.StatusAdded, report.Rows[0].Status)
		assert.Len(t, report.Rows[0].Warnings, 2)
		assert.True(t, strings.HasSuffix(report.Rows[0].Warnings[0], "value not confirmed"))
	})

	t.Run("strict", func(t *testing.T) {
		opts := testOptions()
		opts.StrictValues = true
		page := newFakePage(opts)
		page.fillErrs[page.loc.alternativeWeight.XPath] = mismatch
		report := reporting.NewReport("", "", "")
		r := NewRunner(page, opts, report, nil)

		require.NoError(t, r.Run(context.Background(), questions(1)))
		require.Len(t, report.Rows, 1)
		assert.Equal(t, reporting.StatusFailed, report.Rows[0].Status)
		assert.Zero(t, page.commits, "a failed row is not committed")
	})
}

func TestRun_SkipsInvalidRows(t *testing.T) {
	opts := testOptions()
	page := newFakePage(opts)
	report := reporting.NewReport("", "", "")
	r := NewRunner(page, opts, report, nil)

	qs := []sheet.Question{{Row: 3, Text: "  ", Weight: 2}, {Row: 4, Text: "Q", Weight: 0}, {Row: 5, Text: "Ok", Weight: 1}}
	require.NoError(t, r.Run(context.Background(), qs))
	assert.Equal(t, reporting.Summary{Total: 3, Added: 1, Skipped: 2}, report.Snapshot())
	assert.Equal(t, 1, page.commits)
}

func TestRun_StopsOnCancellation(t *testing.T) {
	opts := testOptions()
	page := newFakePage(opts)
	r := NewRunner(page, opts, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Run(ctx, questions(2))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, page.commits)
}

func TestRun_PacesQuestions(t *testing.T) {
	opts := testOptions()
	opts.QuestionInterval = 50 * time.Millisecond
	page := newFakePage(opts)
	r := NewRunner(page, opts, nil, nil)

	start := time.Now()
	require.NoError(t, r.Run(context.Background(), questions(3)))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestExecute_RecordsSkippedRowsAndRunsWorkflow(t *testing.T) {
	opts := testOptions()
	page := newFakePage(opts)
	report := reporting.NewReport("", "", "")
	r := NewRunner(page, opts, report, nil)

	res := &sheet.Result{
		Sheet:     "Planilha1",
		Questions: questions(2),
		Skipped:   []sheet.SkippedRow{{Row: 4, Text: "Sem peso", Reason: "missing weight"}},
	}
	res.Questions[1].Row = 5
	creds := Credentials{LoginURL: "https://forms.example.com", Username: "u", Password: "p"}
	require.NoError(t, r.Execute(context.Background(), creds, res))

	assert.Equal(t, reporting.Summary{Total: 3, Added: 2, Skipped: 1}, report.Snapshot())
	var rows []int
	for _, row := range report.Rows {
		rows = append(rows, row.Row)
	}
	assert.Equal(t, []int{3, 4, 5}, rows, "skipped rows sit in spreadsheet order")
	assert.Equal(t, reporting.StatusSkipped, report.Rows[1].Status)
	assert.Equal(t, "missing weight", report.Rows[1].Reason)
	assert.Equal(t, 1, page.count("click", page.loc.createForm))
}
