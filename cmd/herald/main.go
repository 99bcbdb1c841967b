package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/herald/internal/app"
	"github.com/foxzi/herald/internal/config"
	"github.com/foxzi/herald/internal/storage"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "herald",
	Short: "Herald - notification dispatch server",
	Long: `Herald renders versioned notification templates and dispatches them
over email, SMS, push, Telegram and WhatsApp providers.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatch server",
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("herald version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openDB opens the database of a stopped server. bbolt holds an exclusive
// file lock, so this times out while `herald serve` is running.
func openDB() (*bolt.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openConfiguredDB(cfg)
}

func openConfiguredDB(cfg *config.Config) (*bolt.DB, error) {
	db, err := storage.Open(cfg.Storage.Path, storage.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database (is the server running?): %w", err)
	}
	return db, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cmd.Context(), cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(cmd.Context())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Hostname: %s\n", cfg.Server.Hostname)
	fmt.Printf("  API:      %s (tls: %v)\n", cfg.API.ListenAddr, cfg.HasTLS())
	fmt.Printf("  Storage:  %s\n", cfg.Storage.Path)
	fmt.Printf("  Workers:  %d\n", cfg.Dispatch.Workers)
	fmt.Printf("  Drivers:  %v\n", enabledDrivers(cfg))
	if cfg.SandboxConfig().Active() {
		fmt.Printf("  Sandbox:  active\n")
	}

	return nil
}

func enabledDrivers(cfg *config.Config) []string {
	p := cfg.Providers
	var out []string
	for _, d := range []struct {
		name    string
		enabled bool
	}{
		{"fcm", p.FCM.Enabled},
		{"apns", p.APNs.Enabled},
		{"webpush", p.WebPush.Enabled},
		{"netfun", p.Netfun.Enabled},
		{"twilio", p.Twilio.Enabled},
		{"telegram", p.Telegram.Enabled},
		{"whatsapp", p.WhatsApp.Enabled},
		{"sns", p.SNS.Enabled},
		{"ses", p.SES.Enabled},
		{"smtp", p.SMTP.Enabled},
	} {
		if d.enabled {
			out = append(out, d.name)
		}
	}
	return out
}
