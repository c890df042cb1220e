// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"github.com/xuri/excelize/v2"
)

// EnvPrefix is the prefix for every environment variable the tool reads
// besides the legacy aliases bound in BindEnvironment.
const EnvPrefix = "RISKFORM"

// redactedValue replaces secrets when the configuration is printed.
const redactedValue = "********"

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Target  TargetConfig  `mapstructure:"target" yaml:"target"`
	Sheet   SheetConfig   `mapstructure:"sheet" yaml:"sheet"`
	Form    FormConfig    `mapstructure:"form" yaml:"form"`
	Report  ReportConfig  `mapstructure:"report" yaml:"report"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the browser instance driving the form.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// IgnoreTLSErrors and AllowInsecureContent work around the target site's
	// certificate and mixed-content setup.
	IgnoreTLSErrors      bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	AllowInsecureContent bool          `mapstructure:"allow_insecure_content" yaml:"allow_insecure_content"`
	ExecPath             string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args                 []string      `mapstructure:"args" yaml:"args"`
	WindowWidth          int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight         int           `mapstructure:"window_height" yaml:"window_height"`
	LaunchTimeout        time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	NavigationTimeout    time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	MaxAttempts          int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryBackoff         time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	CloseDelay           time.Duration `mapstructure:"close_delay" yaml:"close_delay"`
	ScreenshotDir        string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// TargetConfig identifies the web application and the account used to log in.
type TargetConfig struct {
	LoginURL string `mapstructure:"login_url" yaml:"login_url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	// PromptPassword asks for the password on the terminal when none is configured.
	PromptPassword bool `mapstructure:"prompt_password" yaml:"prompt_password"`
}

// SheetConfig describes where the questions live in the spreadsheet.
// HeaderRows counts every row above the data, column headers included.
type SheetConfig struct {
	Path           string `mapstructure:"path" yaml:"path"`
	Name           string `mapstructure:"name" yaml:"name"`
	HeaderRows     int    `mapstructure:"header_rows" yaml:"header_rows"`
	RiskColorCol   string `mapstructure:"risk_color_column" yaml:"risk_color_column"`
	WeightColumn   string `mapstructure:"weight_column" yaml:"weight_column"`
	RangeColumn    string `mapstructure:"range_column" yaml:"range_column"`
	QuestionColumn string `mapstructure:"question_column" yaml:"question_column"`
	// InvalidWeight is either "skip" or "default".
	InvalidWeight string `mapstructure:"invalid_weight" yaml:"invalid_weight"`
	DefaultWeight int    `mapstructure:"default_weight" yaml:"default_weight"`
	// MaxWeight bounds accepted weights; zero disables the upper bound.
	MaxWeight int `mapstructure:"max_weight" yaml:"max_weight"`
}

// LabelsConfig holds the visible label texts used to locate input fields.
type LabelsConfig struct {
	Username          string `mapstructure:"username" yaml:"username"`
	Password          string `mapstructure:"password" yaml:"password"`
	Question          string `mapstructure:"question" yaml:"question"`
	QuestionWeight    string `mapstructure:"question_weight" yaml:"question_weight"`
	Observation       string `mapstructure:"observation" yaml:"observation"`
	AlternativeText   string `mapstructure:"alternative_text" yaml:"alternative_text"`
	AlternativeWeight string `mapstructure:"alternative_weight" yaml:"alternative_weight"`
}

// ButtonsConfig holds the visible button texts the workflow clicks.
type ButtonsConfig struct {
	Login          string `mapstructure:"login" yaml:"login"`
	CreateForm     string `mapstructure:"create_form" yaml:"create_form"`
	AddAlternative string `mapstructure:"add_alternative" yaml:"add_alternative"`
	AddQuestion    string `mapstructure:"add_question" yaml:"add_question"`
}

// Alternative is one answer option attached to every question.
type Alternative struct {
	Text   string `mapstructure:"text" yaml:"text"`
	Weight int    `mapstructure:"weight" yaml:"weight"`
}

// FormConfig tunes the form-filling workflow.
type FormConfig struct {
	Labels                 LabelsConfig  `mapstructure:"labels" yaml:"labels"`
	Buttons                ButtonsConfig `mapstructure:"buttons" yaml:"buttons"`
	Alternatives           []Alternative `mapstructure:"alternatives" yaml:"alternatives"`
	ReuseAlternatives      bool          `mapstructure:"reuse_alternatives" yaml:"reuse_alternatives"`
	StrictValues           bool          `mapstructure:"strict_values" yaml:"strict_values"`
	WaitTimeout            time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	QuestionInterval       time.Duration `mapstructure:"question_interval" yaml:"question_interval"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
}

// ReportConfig controls the run report written after a fill.
type ReportConfig struct {
	// Output is the report path; empty writes no file.
	Output string `mapstructure:"output" yaml:"output"`
	// Format is "json" or "text".
	Format string `mapstructure:"format" yaml:"format"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "riskform")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.allow_insecure_content", true)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.max_attempts", 3)
	v.SetDefault("browser.retry_backoff", "300ms")
	v.SetDefault("browser.close_delay", "2s")

	// -- Sheet --
	// Two title rows, then the column header row.
	v.SetDefault("sheet.header_rows", 3)
	v.SetDefault("sheet.risk_color_column", "A")
	v.SetDefault("sheet.weight_column", "B")
	v.SetDefault("sheet.range_column", "C")
	v.SetDefault("sheet.question_column", "D")
	v.SetDefault("sheet.invalid_weight", "skip")
	v.SetDefault("sheet.default_weight", 1)
	v.SetDefault("sheet.max_weight", 0)

	// -- Form --
	v.SetDefault("form.labels.username", "Usuário")
	v.SetDefault("form.labels.password", "Senha")
	v.SetDefault("form.labels.question", "Pergunta")
	v.SetDefault("form.labels.question_weight", "Peso da Pergunta")
	v.SetDefault("form.labels.observation", "Observação")
	v.SetDefault("form.labels.alternative_text", "Texto da Alternativa")
	v.SetDefault("form.labels.alternative_weight", "Peso")
	v.SetDefault("form.buttons.login", "LOGIN")
	v.SetDefault("form.buttons.create_form", "Criar Formulário")
	v.SetDefault("form.buttons.add_alternative", "Adicionar Alternativa")
	v.SetDefault("form.buttons.add_question", "Adicionar Pergunta")
	v.SetDefault("form.alternatives", []map[string]interface{}{
		{"text": "Sim", "weight": 100},
		{"text": "Não", "weight": 0},
	})
	v.SetDefault("form.reuse_alternatives", true)
	v.SetDefault("form.strict_values", false)
	v.SetDefault("form.wait_timeout", "10s")
	v.SetDefault("form.question_interval", "1200ms")
	v.SetDefault("form.max_consecutive_failures", 3)

	// -- Report --
	v.SetDefault("report.output", "")
	v.SetDefault("report.format", "json")
}

// BindEnvironment wires the prefixed environment variables and the legacy
// variable names EXCEL_FILE, LOGIN_URL, URL and PASS. The prefixed name always
// wins over a legacy alias. USER is only read from the .env file, see
// LoadDotEnv.
func BindEnvironment(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string][]string{
		"sheet.path":       {"RISKFORM_SHEET_PATH", "EXCEL_FILE"},
		"target.login_url": {"RISKFORM_TARGET_LOGIN_URL", "LOGIN_URL", "URL"},
		"target.username":  {"RISKFORM_TARGET_USERNAME"},
		"target.password":  {"RISKFORM_TARGET_PASSWORD", "PASS"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}

// dotEnvUser is the .env key holding the login user name. The shell exports
// USER for the OS account, so the file's value is applied as
// RISKFORM_TARGET_USERNAME instead.
const dotEnvUser = "USER"

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	env, err := gotenv.Read(path)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	for key, value := range env {
		if key == dotEnvUser {
			key = EnvPrefix + "_TARGET_USERNAME"
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s from %s: %w", key, path, err)
		}
	}
	return nil
}

// NewConfigFromViper creates a new configuration instance from a viper object.
// It does not validate: commands that need a complete target call Validate.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	expanded, err := homedir.Expand(cfg.Sheet.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand sheet.path: %w", err)
	}
	cfg.Sheet.Path = expanded

	if cfg.Browser.ScreenshotDir != "" {
		if cfg.Browser.ScreenshotDir, err = homedir.Expand(cfg.Browser.ScreenshotDir); err != nil {
			return nil, fmt.Errorf("failed to expand browser.screenshot_dir: %w", err)
		}
	}
	if cfg.Report.Output != "" {
		if cfg.Report.Output, err = homedir.Expand(cfg.Report.Output); err != nil {
			return nil, fmt.Errorf("failed to expand report.output: %w", err)
		}
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Sheet.Validate(); err != nil {
		return fmt.Errorf("sheet configuration invalid: %w", err)
	}
	if err := c.Target.Validate(); err != nil {
		return fmt.Errorf("target configuration invalid: %w", err)
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Form.Validate(); err != nil {
		return fmt.Errorf("form configuration invalid: %w", err)
	}
	if f := c.Report.Format; f != "json" && f != "text" {
		return fmt.Errorf("report configuration invalid: unknown format %q (want json or text)", f)
	}
	return nil
}

// Validate checks the spreadsheet layout settings.
func (s *SheetConfig) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("path is required (hint: set EXCEL_FILE or --file)")
	}
	if s.HeaderRows < 0 {
		return fmt.Errorf("header_rows must not be negative")
	}
	for name, col := range map[string]string{
		"weight_column":   s.WeightColumn,
		"question_column": s.QuestionColumn,
	} {
		if _, err := excelize.ColumnNameToNumber(col); err != nil {
			return fmt.Errorf("%s %q is not a valid column: %w", name, col, err)
		}
	}
	switch s.InvalidWeight {
	case "skip", "default":
	default:
		return fmt.Errorf("invalid_weight must be 'skip' or 'default', got %q", s.InvalidWeight)
	}
	if s.DefaultWeight < 1 {
		return fmt.Errorf("default_weight must be a positive integer")
	}
	if s.MaxWeight < 0 {
		return fmt.Errorf("max_weight must not be negative")
	}
	return nil
}

// Validate checks the login target.
func (t *TargetConfig) Validate() error {
	if t.LoginURL == "" {
		return fmt.Errorf("login_url is required (hint: set LOGIN_URL or --login-url)")
	}
	u, err := url.Parse(t.LoginURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("login_url %q must be an absolute http(s) URL", t.LoginURL)
	}
	if t.Username == "" {
		return fmt.Errorf("username is required (hint: set USER in .env, RISKFORM_TARGET_USERNAME or --user)")
	}
	if t.Password == "" && !t.PromptPassword {
		return fmt.Errorf("password is required (hint: set PASS or use --prompt-password)")
	}
	return nil
}

// Validate checks the browser timing settings.
func (b *BrowserConfig) Validate() error {
	if b.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if b.NavigationTimeout <= 0 || b.LaunchTimeout <= 0 {
		return fmt.Errorf("launch_timeout and navigation_timeout must be positive durations")
	}
	if b.RetryBackoff < 0 || b.CloseDelay < 0 {
		return fmt.Errorf("retry_backoff and close_delay must not be negative")
	}
	return nil
}

// Validate checks the form workflow settings.
func (f *FormConfig) Validate() error {
	if len(f.Alternatives) == 0 {
		return fmt.Errorf("at least one alternative is required")
	}
	for i, alt := range f.Alternatives {
		if strings.TrimSpace(alt.Text) == "" {
			return fmt.Errorf("alternatives[%d] has an empty text", i)
		}
	}
	if f.WaitTimeout <= 0 {
		return fmt.Errorf("wait_timeout must be a positive duration")
	}
	if f.QuestionInterval < 0 {
		return fmt.Errorf("question_interval must not be negative")
	}
	if f.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("max_consecutive_failures must not be negative")
	}
	// An empty label matches every labelled input on the page.
	required := []struct{ name, value string }{
		{"labels.username", f.Labels.Username},
		{"labels.password", f.Labels.Password},
		{"labels.question", f.Labels.Question},
		{"labels.question_weight", f.Labels.QuestionWeight},
		{"labels.observation", f.Labels.Observation},
		{"labels.alternative_text", f.Labels.AlternativeText},
		{"labels.alternative_weight", f.Labels.AlternativeWeight},
		{"buttons.login", f.Buttons.Login},
		{"buttons.create_form", f.Buttons.CreateForm},
		{"buttons.add_alternative", f.Buttons.AddAlternative},
		{"buttons.add_question", f.Buttons.AddQuestion},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}
	return nil
}

// Redacted returns a copy safe for printing.
func (c *Config) Redacted() Config {
	out := *c
	if out.Target.Password != "" {
		out.Target.Password = redactedValue
	}
	out.Form.Alternatives = append([]Alternative(nil), c.Form.Alternatives...)
	out.Browser.Args = append([]string(nil), c.Browser.Args...)
	return out
}
