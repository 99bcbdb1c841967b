package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/herald/internal/api"
	"github.com/foxzi/herald/internal/dispatch"
	"github.com/foxzi/herald/internal/notify"
)

var (
	sendTemplate string
	sendChannel  string
	sendDriver   string
	sendTargets  []string
	sendData     string
	sendLocale   string
	sendSubject  string
	sendText     string
	sendHTML     string
	sendOptions  string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Dispatch a notification through a running server",
	Long: `Dispatch a notification through the HTTP API of a running server.

With --template the stored template is rendered with --data. Without it
the message is sent as given by --subject, --text and --html.

Examples:
  herald send -c config.yaml --template welcome --channel sms --to +393331234567 --data '{"name":"Mario"}'
  herald send -c config.yaml --channel telegram --to 12345 --text "deploy finished"`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendTemplate, "template", "", "Template code")
	sendCmd.Flags().StringVar(&sendChannel, "channel", "", "Channel: email, sms, push, telegram, whatsapp (required)")
	sendCmd.Flags().StringVar(&sendDriver, "driver", "", "Driver (default: channel default)")
	sendCmd.Flags().StringSliceVar(&sendTargets, "to", nil, "Target address, repeatable (required)")
	sendCmd.Flags().StringVar(&sendData, "data", "", "JSON object with template data")
	sendCmd.Flags().StringVar(&sendLocale, "locale", "", "Locale for translated templates")
	sendCmd.Flags().StringVar(&sendSubject, "subject", "", "Subject (without --template)")
	sendCmd.Flags().StringVar(&sendText, "text", "", "Text body (without --template)")
	sendCmd.Flags().StringVar(&sendHTML, "html", "", "HTML body (without --template)")
	sendCmd.Flags().StringVar(&sendOptions, "options", "", "JSON object with driver options")
	sendCmd.Flags().StringVar(&serverURL, "server", "", "Server URL (default: derived from api.listen_addr)")
	sendCmd.Flags().StringVar(&serverAPIKey, "api-key", "", "API key (default: api.api_key)")
	sendCmd.MarkFlagRequired("channel")
	sendCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(sendCmd)
}

func parseJSONObject(name, s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("invalid --%s JSON: %w", name, err)
	}
	return out, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	channel, err := notify.ParseChannel(sendChannel)
	if err != nil {
		return err
	}
	data, err := parseJSONObject("data", sendData)
	if err != nil {
		return err
	}
	opts, err := parseJSONObject("options", sendOptions)
	if err != nil {
		return err
	}

	client := newAPIClient(cfg)
	var out dispatch.Outcome

	if sendTemplate != "" {
		req := dispatch.TemplateRequest{
			Code:    sendTemplate,
			Channel: channel,
			Driver:  sendDriver,
			Targets: sendTargets,
			Data:    data,
			Locale:  sendLocale,
			Options: opts,
		}
		err = client.request(cmd.Context(), "POST", "/api/v1/dispatch", req, &out)
	} else {
		req := api.SendRequest{
			Channel:  channel,
			Driver:   sendDriver,
			Targets:  sendTargets,
			Subject:  sendSubject,
			BodyText: sendText,
			BodyHTML: sendHTML,
			Data:     data,
			Locale:   sendLocale,
			Options:  opts,
		}
		err = client.request(cmd.Context(), "POST", "/api/v1/send", req, &out)
	}
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	printOutcome(&out)
	if out.Summary.FailedCount > 0 {
		return fmt.Errorf("%d of %d targets failed", out.Summary.FailedCount, out.Summary.TotalCount)
	}
	return nil
}

func printOutcome(out *dispatch.Outcome) {
	fmt.Printf("Dispatch %s\n", out.ID)
	if out.Template != "" {
		fmt.Printf("  Template: %s (version %d)\n", out.Template, out.TemplateVersion)
	}
	if out.Skipped {
		fmt.Printf("  Skipped: %s\n", out.SkipReason)
		return
	}
	fmt.Printf("  Sent: %d  Failed: %d  Total: %d\n\n", out.Summary.SentCount, out.Summary.FailedCount, out.Summary.TotalCount)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tPROVIDER\tSTATUS\tDETAIL")
	for _, r := range out.Results {
		status, detail := "sent", r.ProviderMessageID
		if !r.Success {
			status, detail = "failed", fmt.Sprintf("%s: %s", r.ErrorKind, r.ErrorMessage)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Target, r.Provider, status, detail)
	}
	w.Flush()
}
