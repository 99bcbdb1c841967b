package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/herald/internal/config"
	"github.com/foxzi/herald/internal/dkim"
	"github.com/foxzi/herald/internal/sandbox"
)

var (
	initHostname  string
	initDomain    string
	initOutput    string
	initDKIM      bool
	initAPIKey    string
	initDataDir   string
	initMode      string
	initACME      bool
	initACMEEmail string
	initForce     bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Herald configuration",
	Long: `Interactive wizard to create a Herald configuration file.

Providers are written disabled with placeholder credentials read from the
environment; enable the ones you use.

Examples:
  # Interactive mode - prompts for missing values
  herald init

  # Non-interactive
  herald init --hostname notify.example.com --domain example.com --dkim

  # Local setup capturing every send in the sandbox
  herald init --hostname localhost --mode sandbox -o dev.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initHostname, "hostname", "", "Server hostname FQDN")
	initCmd.Flags().StringVar(&initDomain, "domain", "", "Email sender domain (default: hostname)")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().BoolVar(&initDKIM, "dkim", false, "Generate a DKIM key for the smtp driver")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/herald", "Data directory for the database and keys")
	initCmd.Flags().StringVar(&initMode, "mode", "production", "Mode of every channel: production, sandbox")
	initCmd.Flags().BoolVar(&initACME, "acme", false, "Enable Let's Encrypt TLS")
	initCmd.Flags().StringVar(&initACMEEmail, "acme-email", "", "Email for Let's Encrypt account")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Herald Configuration Wizard")
	fmt.Println("===========================")
	fmt.Println()

	if initHostname == "" {
		initHostname = prompt(reader, "Server hostname", "localhost")
	}
	if initDomain == "" {
		initDomain = initHostname
	}

	initDataDir = prompt(reader, "Data directory", initDataDir)

	mode, err := sandbox.ParseMode(initMode)
	if err != nil || mode == sandbox.ModeRedirect {
		return fmt.Errorf("invalid --mode %q (must be production or sandbox)", initMode)
	}

	if !initDKIM {
		initDKIM = yes(prompt(reader, "Generate DKIM key for email? [y/N]", "n"))
	}
	if !initACME {
		initACME = yes(prompt(reader, "Enable Let's Encrypt TLS? [y/N]", "n"))
	}
	if initACME && initACMEEmail == "" {
		initACMEEmail = prompt(reader, "Email for Let's Encrypt", "admin@"+initDomain)
	}

	if initAPIKey == "" {
		initAPIKey = generateRandomString(32)
		fmt.Printf("  Generated API key: %s\n", initAPIKey)
	}

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	fmt.Println()
	fmt.Println("Creating configuration...")

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Printf("  Warning: Could not create data directory: %v\n", err)
	}

	var dkimKeyPath, dkimName, dkimRecord string
	if initDKIM {
		dir := filepath.Join(initDataDir, "dkim")
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create DKIM directory: %w", err)
		}
		key, err := dkim.GenerateKey(dkim.AlgorithmRSA, initDomain, "herald")
		if err != nil {
			return fmt.Errorf("failed to generate DKIM key: %w", err)
		}
		dkimKeyPath = filepath.Join(dir, initDomain+".key")
		if err := key.Save(dkimKeyPath); err != nil {
			return fmt.Errorf("failed to save DKIM key: %w", err)
		}
		dkimName = key.DNSName()
		if dkimRecord, err = key.DNSRecord(); err != nil {
			return fmt.Errorf("failed to build DKIM record: %w", err)
		}
		fmt.Printf("  DKIM key saved to: %s\n", dkimKeyPath)
	}

	out := generateConfig(dkimKeyPath)

	// Round-trip through the loader
	if _, err := config.Parse([]byte(out)); err != nil {
		return fmt.Errorf("generated configuration is invalid: %w", err)
	}

	if err := os.WriteFile(initOutput, []byte(out), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("  Configuration saved to: %s\n", initOutput)
	fmt.Println()

	if dkimName != "" {
		fmt.Println("DKIM DNS Record")
		fmt.Println("===============")
		fmt.Printf("   Name:  %s\n", dkimName)
		fmt.Printf("   Type:  TXT\n")
		fmt.Printf("   Value: %s\n\n", dkimRecord)
	}

	printNextSteps()
	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func generateConfig(dkimKeyPath string) string {
	tlsSection := `  # tls:
  #   acme:
  #     enabled: true
  #     email: "admin@` + initDomain + `"
  #     domains: ["` + initHostname + `"]
  #     cache_dir: "` + initDataDir + `/certs"`
	if initACME {
		tlsSection = fmt.Sprintf(`  tls:
    acme:
      enabled: true
      email: "%s"
      domains: ["%s"]
      cache_dir: "%s/certs"`, initACMEEmail, initHostname, initDataDir)
	}

	dkimSection := fmt.Sprintf(`    dkim:
      enabled: false
      selector: "herald"
      domain: "%s"
      key_file: "%s/dkim/%s.key"`, initDomain, initDataDir, initDomain)
	if dkimKeyPath != "" {
		dkimSection = fmt.Sprintf(`    dkim:
      enabled: true
      selector: "herald"
      domain: "%s"
      key_file: "%s"`, initDomain, dkimKeyPath)
	}

	var channels strings.Builder
	for _, ch := range []string{"email", "sms", "push", "telegram", "whatsapp"} {
		fmt.Fprintf(&channels, "    %s:\n      mode: %s\n", ch, initMode)
	}

	return fmt.Sprintf(`# Herald configuration
# Generated by: herald init

server:
  hostname: "%s"

api:
  listen_addr: ":8080"
  api_key: "%s"
  max_body_bytes: 1048576  # 1 MB
  read_timeout: 30s
  write_timeout: 60s
  idle_timeout: 60s
%s

storage:
  path: "%s/herald.db"

logging:
  level: "info"
  format: "json"

metrics:
  enabled: true
  listen_addr: ":9090"
  allowed_ips: ["127.0.0.1"]

dispatch:
  workers: 10
  send_timeout: 30s
  default_locale: "en"
  default_drivers:
    email: smtp
    sms: twilio
    push: fcm
    telegram: telegram
    whatsapp: whatsapp

rate_limit:
  enabled: true
  global:
    messages_per_hour: 50000
    messages_per_day: 500000
  default_template:
    messages_per_hour: 10000

sandbox:
  channels:
%s
providers:
  smtp:
    enabled: false
    host: "smtp.%s"
    port: 587
    username: "${HERALD_SMTP_USER}"
    password: "${HERALD_SMTP_PASSWORD}"
    from: "noreply@%s"
%s
  twilio:
    enabled: false
    account_sid: "${TWILIO_ACCOUNT_SID}"
    auth_token: "${TWILIO_AUTH_TOKEN}"
    from: "+10000000000"
  fcm:
    enabled: false
    project_id: "${FCM_PROJECT_ID}"
    credentials_file: "%s/fcm.json"
  telegram:
    enabled: false
    bot_token: "${TELEGRAM_BOT_TOKEN}"
  whatsapp:
    enabled: false
    phone_number_id: "${WHATSAPP_PHONE_NUMBER_ID}"
    access_token: "${WHATSAPP_ACCESS_TOKEN}"
`,
		initHostname,
		initAPIKey,
		tlsSection,
		initDataDir,
		channels.String(),
		initDomain,
		initDomain,
		dkimSection,
		initDataDir,
	)
}

func printNextSteps() {
	fmt.Println("Next Steps")
	fmt.Println("==========")
	fmt.Println()
	fmt.Printf("1. Enable providers and set their credentials in %s\n", initOutput)
	fmt.Println()
	fmt.Println("2. Validate the configuration:")
	fmt.Printf("   herald config validate -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("3. Start the server:")
	fmt.Printf("   herald serve -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("4. Test sending:")
	fmt.Printf("   herald send -c %s --channel telegram --to <chat-id> --text \"Hello!\"\n", initOutput)
	fmt.Println()
	fmt.Println("Credentials")
	fmt.Println("-----------")
	fmt.Printf("API Key: %s\n", initAPIKey)
	fmt.Println()
}
