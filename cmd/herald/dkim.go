package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/herald/internal/dkim"
	"github.com/foxzi/herald/internal/dnscheck"
)

var (
	dkimDomain    string
	dkimSelector  string
	dkimKeyFile   string
	dkimOutDir    string
	dkimAlgorithm string
)

var dkimCmd = &cobra.Command{
	Use:   "dkim",
	Short: "DKIM key management for the smtp driver",
}

var dkimGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new DKIM key",
	Long:  `Generate an RSA 2048 or Ed25519 DKIM key and print its DNS record.`,
	RunE:  runDKIMGenerate,
}

var dkimShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the DNS record of an existing key",
	RunE:  runDKIMShow,
}

var dkimCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check SPF, DKIM and DMARC of the sender domain",
	Long: `Check that the sender domain publishes SPF, DKIM and DMARC records.
With -c the domain, selector and key come from providers.smtp.dkim and the
published DKIM key must match the signing key.`,
	RunE: runDKIMCheck,
}

func init() {
	dkimGenerateCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (required)")
	dkimGenerateCmd.Flags().StringVar(&dkimSelector, "selector", "herald", "DKIM selector")
	dkimGenerateCmd.Flags().StringVar(&dkimAlgorithm, "algorithm", dkim.AlgorithmRSA, "Key algorithm: rsa, ed25519")
	dkimGenerateCmd.Flags().StringVar(&dkimOutDir, "out", ".", "Output directory for key file")
	dkimGenerateCmd.MarkFlagRequired("domain")

	dkimShowCmd.Flags().StringVar(&dkimKeyFile, "key", "", "Path to private key file (required)")
	dkimShowCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (required)")
	dkimShowCmd.Flags().StringVar(&dkimSelector, "selector", "herald", "DKIM selector")
	dkimShowCmd.MarkFlagRequired("key")
	dkimShowCmd.MarkFlagRequired("domain")

	dkimCheckCmd.Flags().StringVar(&dkimKeyFile, "key", "", "Private key to compare against")
	dkimCheckCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name")
	dkimCheckCmd.Flags().StringVar(&dkimSelector, "selector", "herald", "DKIM selector")

	dkimCmd.AddCommand(dkimGenerateCmd, dkimShowCmd, dkimCheckCmd)
	rootCmd.AddCommand(dkimCmd)
}

func runDKIMGenerate(cmd *cobra.Command, args []string) error {
	key, err := dkim.GenerateKey(dkimAlgorithm, dkimDomain, dkimSelector)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	keyPath := filepath.Join(dkimOutDir, fmt.Sprintf("%s.%s.key", dkimDomain, dkimSelector))
	if err := key.Save(keyPath); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}

	fmt.Printf("DKIM key generated successfully\n\n")
	fmt.Printf("Private key saved to: %s\n\n", keyPath)
	return printDKIMRecord(key)
}

func runDKIMShow(cmd *cobra.Command, args []string) error {
	key, err := dkim.LoadKey(dkimKeyFile, dkimDomain, dkimSelector)
	if err != nil {
		return err
	}
	return printDKIMRecord(key)
}

func printDKIMRecord(key *dkim.Key) error {
	record, err := key.DNSRecord()
	if err != nil {
		return fmt.Errorf("failed to build DNS record: %w", err)
	}
	fmt.Printf("DNS Record:\n")
	fmt.Printf("  Name:  %s\n", key.DNSName())
	fmt.Printf("  Type:  TXT\n")
	fmt.Printf("  Value: %s\n", record)
	return nil
}

func runDKIMCheck(cmd *cobra.Command, args []string) error {
	domain, selector, keyFile := dkimDomain, dkimSelector, dkimKeyFile
	if cfgFile != "" && domain == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d := cfg.Providers.SMTP.DKIM
		domain, selector, keyFile = d.Domain, d.Selector, d.KeyFile
	}
	if domain == "" {
		return fmt.Errorf("--domain is required without a config with providers.smtp.dkim")
	}

	var publicKey string
	if keyFile != "" {
		key, err := dkim.LoadKey(keyFile, domain, selector)
		if err != nil {
			return err
		}
		record, err := key.DNSRecord()
		if err != nil {
			return fmt.Errorf("failed to build DNS record: %w", err)
		}
		publicKey = dnscheck.Tag(record, "p")
	}

	report, err := dnscheck.New(nil).CheckSender(cmd.Context(), domain, selector, publicKey)
	if err != nil {
		return err
	}

	fmt.Printf("Sender domain: %s\n\n", report.Domain)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tMESSAGE")
	for _, r := range report.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Type, r.Status, r.Message)
	}
	w.Flush()

	if !report.OK() {
		return fmt.Errorf("sender domain %s is not fully configured", domain)
	}
	return nil
}
