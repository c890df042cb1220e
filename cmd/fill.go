// File: cmd/fill.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/riskform-cli/internal/browser"
	"github.com/xkilldash9x/riskform-cli/internal/config"
	"github.com/xkilldash9x/riskform-cli/internal/formfill"
	"github.com/xkilldash9x/riskform-cli/internal/observability"
	"github.com/xkilldash9x/riskform-cli/internal/reporting"
)

const shutdownTimeout = 15 * time.Second

// pageProvider opens the page the workflow drives. It is the seam that lets
// tests run the fill command without a browser.
type pageProvider interface {
	// Open returns a page and a cleanup function that closes it.
	Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (formfill.Page, func(), error)
}

// defaultPageProvider launches a real browser and opens one tab.
type defaultPageProvider struct{}

func (defaultPageProvider) Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (formfill.Page, func(), error) {
	manager, err := browser.NewManager(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func() {
		// The run context may already be canceled; shut down on a fresh one.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown failed.", zap.Error(err))
		}
	}

	session, err := manager.NewSession(ctx, cfg.Form.WaitTimeout)
	if err != nil {
		shutdown()
		return nil, nil, err
	}
	return session, func() {
		session.Close()
		shutdown()
	}, nil
}

// askPassword prompts for the password on the terminal. Replaced in tests.
var askPassword = func() (string, error) {
	var password string
	prompt := &survey.Password{Message: "Password:"}
	if err := survey.AskOne(prompt, &password, survey.WithValidator(survey.Required)); err != nil {
		return "", err
	}
	return password, nil
}

func newFillCmd(v *viper.Viper, provider pageProvider) *cobra.Command {
	fillCmd := &cobra.Command{
		Use:   "fill",
		Short: "Log in and add every spreadsheet question to a new form",
		Long: `Reads the spreadsheet, opens a browser, logs in, creates a form and adds
one question per row with the configured alternatives (default "Sim"/100 and
"Não"/0). Rows that fail are recorded in the run report; the run aborts after
form.max_consecutive_failures failures in a row.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Flags override the config file and the environment.
			return bindFlags(cmd, v, map[string]string{
				"file":            "sheet.path",
				"sheet":           "sheet.name",
				"login-url":       "target.login_url",
				"user":            "target.username",
				"prompt-password": "target.prompt_password",
				"headless":        "browser.headless",
				"screenshots":     "browser.screenshot_dir",
				"strict":          "form.strict_values",
				"report":          "report.output",
				"report-format":   "report.format",
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			return runFill(cmd.Context(), cfg, provider)
		},
	}

	fillCmd.Flags().StringP("file", "f", "", "path to the .xlsx spreadsheet (env EXCEL_FILE)")
	fillCmd.Flags().String("sheet", "", "sheet name (default is the first sheet)")
	fillCmd.Flags().String("login-url", "", "login page URL (env LOGIN_URL or URL)")
	fillCmd.Flags().StringP("user", "u", "", "login user name (USER in .env)")
	fillCmd.Flags().Bool("prompt-password", false, "ask for the password when none is configured")
	fillCmd.Flags().Bool("headless", false, "run the browser without a window")
	fillCmd.Flags().String("screenshots", "", "directory for screenshots of failed rows")
	fillCmd.Flags().Bool("strict", false, "fail a row when a typed value is not confirmed")
	fillCmd.Flags().String("report", "", "write the run report to this file")
	fillCmd.Flags().String("report-format", "json", "run report format: json or text")
	return fillCmd
}

// runFill executes the whole fill workflow and writes the run report.
func runFill(ctx context.Context, cfg *config.Config, provider pageProvider) error {
	logger := observability.GetLogger()

	if cfg.Target.Password == "" && cfg.Target.PromptPassword {
		password, err := askPassword()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		cfg.Target.Password = password
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	res, err := readQuestions(cfg.Sheet)
	if err != nil {
		return err
	}
	if len(res.Questions) == 0 {
		return fmt.Errorf("no usable questions in %s (%d rows skipped)", cfg.Sheet.Path, len(res.Skipped))
	}

	report := reporting.NewReport(cfg.Sheet.Path, res.Sheet, cfg.Target.LoginURL)
	logger.Info("Starting run.", zap.String("run_id", report.RunID), zap.Int("questions", len(res.Questions)), zap.Int("skipped", len(res.Skipped)))

	page, closePage, err := provider.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	defer closePage()

	runner := formfill.NewRunner(page, formfill.NewOptions(cfg), report, logger)
	creds := formfill.Credentials{
		LoginURL: cfg.Target.LoginURL,
		Username: cfg.Target.Username,
		Password: cfg.Target.Password,
	}
	runErr := runner.Execute(ctx, creds, res)
	report.Finish(runErr)

	if err := writeReport(cfg.Report, report); err != nil {
		logger.Error("Failed to write run report.", zap.Error(err))
	}

	s := report.Snapshot()
	logger.Info("Run finished.",
		zap.String("run_id", report.RunID),
		zap.Int("added", s.Added),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", s.Failed),
		zap.Duration("duration", report.Duration()),
	)

	if runErr == nil {
		waitBeforeClose(ctx, cfg.Browser.CloseDelay)
	}
	if errors.Is(runErr, context.Canceled) {
		return context.Canceled
	}
	return runErr
}

// writeReport writes the report when an output path is configured.
func writeReport(cfg config.ReportConfig, report *reporting.Report) error {
	if cfg.Output == "" {
		return nil
	}
	rep, err := reporting.New(cfg.Format, cfg.Output)
	if err != nil {
		return err
	}
	if err := rep.Write(report); err != nil {
		rep.Close()
		return err
	}
	if err := rep.Close(); err != nil {
		return err
	}
	observability.GetLogger().Info("Run report written.", zap.String("path", cfg.Output))
	return nil
}

// waitBeforeClose keeps the browser open for d so the result can be seen.
func waitBeforeClose(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
