package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/sandbox"
)

var (
	sandboxChannel   string
	sandboxDriver    string
	sandboxTarget    string
	sandboxLimit     int
	sandboxShowJSON  bool
	sandboxOlderThan time.Duration
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Sandbox capture commands",
}

var sandboxStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the configured mode of every channel",
	RunE:  runSandboxStatus,
}

var sandboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured messages",
	RunE:  runSandboxList,
}

var sandboxShowCmd = &cobra.Command{
	Use:   "show <message_id>",
	Short: "Show a captured message",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxShow,
}

var sandboxClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete captured messages",
	RunE:  runSandboxClear,
}

var sandboxStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show sandbox statistics",
	RunE:  runSandboxStats,
}

func init() {
	sandboxListCmd.Flags().StringVar(&sandboxChannel, "channel", "", "Filter by channel")
	sandboxListCmd.Flags().StringVar(&sandboxDriver, "driver", "", "Filter by driver")
	sandboxListCmd.Flags().StringVar(&sandboxTarget, "target", "", "Filter by target or original target")
	sandboxListCmd.Flags().IntVar(&sandboxLimit, "limit", 50, "Maximum number of messages")

	sandboxShowCmd.Flags().BoolVar(&sandboxShowJSON, "json", false, "Print the message as JSON")

	sandboxClearCmd.Flags().StringVar(&sandboxChannel, "channel", "", "Clear only this channel")
	sandboxClearCmd.Flags().DurationVar(&sandboxOlderThan, "older-than", 0, "Clear only messages older than this (e.g. 72h)")

	sandboxCmd.AddCommand(sandboxStatusCmd, sandboxListCmd, sandboxShowCmd, sandboxClearCmd, sandboxStatsCmd)
	rootCmd.AddCommand(sandboxCmd)
}

func openSandboxStorage() (*sandbox.Storage, func(), error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	store, err := sandbox.NewStorage(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create sandbox storage: %w", err)
	}
	return store, func() { db.Close() }, nil
}

func parseChannelFlag(s string) (notify.Channel, error) {
	if s == "" {
		return "", nil
	}
	return notify.ParseChannel(s)
}

func runSandboxStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sb := cfg.SandboxConfig()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tMODE\tREDIRECT TO")
	for _, ch := range notify.Channels {
		cc := sb.ModeFor(ch)
		redirect := "-"
		if cc.Mode == sandbox.ModeRedirect {
			redirect = cc.RedirectTo
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", ch, cc.Mode, redirect)
	}
	w.Flush()

	if sb.SimulateErrors {
		fmt.Printf("\nSimulated errors: %.0f%% of captured sends\n", sb.ErrorProbability*100)
	}
	return nil
}

func runSandboxList(cmd *cobra.Command, args []string) error {
	channel, err := parseChannelFlag(sandboxChannel)
	if err != nil {
		return err
	}
	store, cleanup, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer cleanup()

	messages, err := store.List(cmd.Context(), sandbox.ListFilter{
		Channel: channel,
		Driver:  sandboxDriver,
		Target:  sandboxTarget,
		Limit:   sandboxLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	if len(messages) == 0 {
		fmt.Println("No messages in sandbox")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCHANNEL\tDRIVER\tTARGET\tMODE\tCAPTURED")
	for _, m := range messages {
		target := m.Target
		if m.OriginalTarget != "" {
			target = m.OriginalTarget + " -> " + m.Target
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.Channel, m.Driver, target, m.Mode, m.CapturedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()

	fmt.Printf("\nShowing %d messages\n", len(messages))
	return nil
}

func runSandboxShow(cmd *cobra.Command, args []string) error {
	store, cleanup, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer cleanup()

	msg, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if sandboxShowJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(msg)
	}

	fmt.Printf("ID:       %s\n", msg.ID)
	fmt.Printf("Channel:  %s\n", msg.Channel)
	fmt.Printf("Driver:   %s\n", msg.Driver)
	fmt.Printf("Mode:     %s\n", msg.Mode)
	fmt.Printf("Target:   %s\n", msg.Target)
	if msg.OriginalTarget != "" {
		fmt.Printf("Original: %s\n", msg.OriginalTarget)
	}
	fmt.Printf("Captured: %s\n", msg.CapturedAt.Format(time.RFC3339))
	if msg.SimulatedErr != "" {
		fmt.Printf("Error:    %s (simulated)\n", msg.SimulatedErr)
	}
	if msg.Subject != "" {
		fmt.Printf("\nSubject: %s\n", msg.Subject)
	}
	if msg.BodyText != "" {
		fmt.Printf("\n%s\n", msg.BodyText)
	}
	if msg.BodyHTML != "" {
		fmt.Printf("\nHTML:\n%s\n", msg.BodyHTML)
	}
	return nil
}

func runSandboxClear(cmd *cobra.Command, args []string) error {
	channel, err := parseChannelFlag(sandboxChannel)
	if err != nil {
		return err
	}
	store, cleanup, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := store.Clear(cmd.Context(), channel, sandboxOlderThan)
	if err != nil {
		return fmt.Errorf("failed to clear sandbox: %w", err)
	}
	fmt.Printf("Deleted %d messages\n", n)
	return nil
}

func runSandboxStats(cmd *cobra.Command, args []string) error {
	store, cleanup, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := store.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println("Sandbox Statistics")
	fmt.Println("==================")
	fmt.Printf("Total messages:     %d\n", stats.Total)
	fmt.Printf("Simulated failures: %d\n", stats.Failed)
	fmt.Printf("Total size:         %d bytes\n", stats.TotalSize)
	if stats.Total > 0 {
		fmt.Printf("Oldest:             %s\n", stats.OldestAt.Format(time.RFC3339))
		fmt.Printf("Newest:             %s\n", stats.NewestAt.Format(time.RFC3339))
	}
	printCounts("By channel", stats.ByChannel)
	printCounts("By driver", stats.ByDriver)
	printCounts("By mode", stats.ByMode)
	return nil
}

func printCounts(label string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("\n%s:\n", label)
	for _, k := range keys {
		fmt.Printf("  %-12s %d\n", k, counts[k])
	}
}
