package main

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/herald/internal/config"
	"github.com/foxzi/herald/internal/ratelimit"
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Rate limit commands",
}

var ratelimitShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configured rate limits",
	RunE:  runRatelimitShow,
}

var ratelimitStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live counters of a running server",
	RunE:  runRatelimitStatus,
}

var ratelimitResetCmd = &cobra.Command{
	Use:   "reset <level> <key>",
	Short: "Reset a counter on a running server",
	Long: `Reset a counter on a running server.
Levels: global, api_key, channel, driver, template.`,
	Args: cobra.ExactArgs(2),
	RunE: runRatelimitReset,
}

func init() {
	for _, c := range []*cobra.Command{ratelimitStatusCmd, ratelimitResetCmd} {
		c.Flags().StringVar(&serverURL, "server", "", "Server URL (default: derived from api.listen_addr)")
		c.Flags().StringVar(&serverAPIKey, "api-key", "", "API key (default: api.api_key)")
	}
	ratelimitCmd.AddCommand(ratelimitShowCmd, ratelimitStatusCmd, ratelimitResetCmd)
	rootCmd.AddCommand(ratelimitCmd)
}

func runRatelimitShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rl := cfg.RateLimit

	fmt.Println("Rate Limiting Configuration")
	fmt.Println("===========================")
	fmt.Printf("Enabled: %v\n\n", rl.Enabled)

	if !rl.Enabled {
		fmt.Println("Rate limiting is disabled")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tMESSAGES/HOUR\tMESSAGES/DAY")
	fmt.Fprintln(w, "-----\t-------------\t------------")
	limitRow(w, "Global", rl.Global)
	limitRow(w, "Per API Key", rl.DefaultAPIKey)
	limitRow(w, "Per Channel", rl.DefaultChannel)
	limitRow(w, "Per Driver", rl.DefaultDriver)
	limitRow(w, "Per Template", rl.DefaultTemplate)
	w.Flush()

	overrides("Channel Overrides", rl.Channels)
	overrides("Driver Overrides", rl.Drivers)

	fmt.Println()
	fmt.Println("Note: To view current usage, run `herald ratelimit status`")
	return nil
}

func limitRow(w *tabwriter.Writer, label string, v *config.LimitValues) {
	if v == nil {
		fmt.Fprintf(w, "%s\t-\t-\n", label)
		return
	}
	fmt.Fprintf(w, "%s\t%s\t%s\n", label, limitValue(v.MessagesPerHour), limitValue(v.MessagesPerDay))
}

func limitValue(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}

func overrides(title string, m map[string]*config.LimitValues) {
	fmt.Printf("\n%s:\n", title)
	if len(m) == 0 {
		fmt.Println("  None configured")
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tMESSAGES/HOUR\tMESSAGES/DAY")
	for _, k := range keys {
		limitRow(w, "  "+k, m[k])
	}
	w.Flush()
}

func runRatelimitStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var resp struct {
		Enabled  bool               `json:"enabled"`
		Counters []*ratelimit.Stats `json:"counters"`
	}
	if err := newAPIClient(cfg).request(cmd.Context(), "GET", "/api/v1/ratelimits", nil, &resp); err != nil {
		return err
	}
	if !resp.Enabled {
		fmt.Println("Rate limiting is disabled on the server")
		return nil
	}
	if len(resp.Counters) == 0 {
		fmt.Println("No active counters")
		return nil
	}

	sort.Slice(resp.Counters, func(i, j int) bool {
		a, b := resp.Counters[i], resp.Counters[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		return a.Key < b.Key
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tKEY\tHOUR\tDAY")
	for _, s := range resp.Counters {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", s.Level, s.Key, s.HourlyCount, s.DailyCount)
	}
	w.Flush()
	return nil
}

func runRatelimitReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := "/api/v1/ratelimits/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1])
	if err := newAPIClient(cfg).request(cmd.Context(), "DELETE", path, nil, nil); err != nil {
		return err
	}
	fmt.Printf("Counter %s/%s reset\n", args[0], args[1])
	return nil
}
