// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/riskform-cli/internal/config"
	"github.com/xkilldash9x/riskform-cli/internal/observability"
)

const defaultConfigName = "riskform"

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	cfgFile  string
	envFile  string
	logLevel string
}

// NewRootCommand builds the command tree. Each call returns an independent
// tree with its own viper instance, so tests can run commands in isolation.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultPageProvider{})
}

func newRootCommand(provider pageProvider) *cobra.Command {
	v := viper.New()
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "riskform",
		Short: "riskform fills the risk-assessment web form from a spreadsheet.",
		Long: `riskform reads question and weight pairs from an .xlsx workbook, logs into
the risk-assessment web application and adds every question to a new form
with the configured answer alternatives.`,
		// Version is set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before any subcommand: config sources, then logging.
			if err := initializeConfig(cmd, v, opts); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "riskform"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			var logCfg config.LoggerConfig
			if err := v.UnmarshalKey("logger", &logCfg); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "riskform"})
				return fmt.Errorf("failed to unmarshal logger config: %w", err)
			}
			observability.InitializeLogger(logCfg)
			observability.GetLogger().Debug("Starting riskform.", zap.String("version", Version), zap.String("command", cmd.Name()))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file (default is ./riskform.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with EXCEL_FILE, LOGIN_URL, USER and PASS")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(
		newFillCmd(v, provider),
		newPreviewCmd(v),
		newConfigCmd(v),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree with ctx and logs a failure. The returned
// error decides the exit code in main.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	defer observability.Sync()

	if err == nil {
		return nil
	}
	logger := observability.GetLogger()
	if errors.Is(err, context.Canceled) {
		logger.Warn("Interrupted.")
		return err
	}
	logger.Error("Command failed.", zap.Error(err))
	// The logger may be above error level; always leave a trace on stderr.
	if !logger.Core().Enabled(zap.ErrorLevel) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// initializeConfig layers defaults, the .env file, the config file and the
// environment into v. Flags are bound by each subcommand.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, opts *rootOptions) error {
	config.SetDefaults(v)

	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return err
	}

	if opts.cfgFile != "" {
		v.SetConfigFile(opts.cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment only.
	}

	if err := config.BindEnvironment(v); err != nil {
		return err
	}
	return v.BindPFlag("logger.level", cmd.Root().PersistentFlags().Lookup("log-level"))
}

// bindFlags binds each flag to its config key so that flags override the
// config file and the environment.
func bindFlags(cmd *cobra.Command, v *viper.Viper, keys map[string]string) error {
	for flag, key := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}
	return nil
}
