// Package cli is the mailsift command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsift/internal/app"
	"github.com/nhle/mailsift/internal/logging"
	"github.com/nhle/mailsift/internal/model"
)

var (
	// version is set via ldflags at build time.
	version = "dev"
	cfgFile string

	// jsonFlag enables JSON output for all commands.
	jsonFlag bool
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mailsift",
		Short: "IMAP email aggregator with categorization",
		Long: "mailsift keeps a live connection to every configured IMAP account, " +
			"stores recent and incoming mail, and categorizes it on request.",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Values from .env become MAILSIFT_* overrides; a missing file is fine.
			_ = godotenv.Load()
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("mailsift %s\n", version))
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default ~/.config/mailsift/config.yaml)")
	root.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	root.AddCommand(newServeCmd())
	root.AddCommand(newAccountCmd())
	root.AddCommand(newMailCmd())
	root.AddCommand(newConfigCmd())
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// configPath returns the --config value or the default location.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return model.DefaultConfigPath()
}

// loadConfig loads the application configuration from the config file.
func loadConfig() (*model.AppConfig, error) {
	cfg, err := model.LoadConfig(configPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openApp loads the configuration and builds the application. The caller
// closes it.
func openApp(cmd *cobra.Command) (*app.App, *model.AppConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}
