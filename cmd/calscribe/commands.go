package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/calscribe/internal/calendar"
	"github.com/kalambet/calscribe/internal/config"
	"github.com/kalambet/calscribe/internal/intent"
	"github.com/kalambet/calscribe/internal/storage"
)

// --- extract ---

var extractCmd = &cobra.Command{
	Use:   "extract <message...>",
	Short: "Extract calendar actions from a chat message",
	Long: `Extract calendar actions from a chat message.

Confident actions are applied automatically; the rest are printed as
proposals. With --yes the proposals are applied too.

Examples:
  calscribe extract "dentist appointment next tuesday at 10"
  calscribe extract --yes "move the standup to 9:30"
  calscribe extract --propose-only "lunch with Sam on friday"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		yes, _ := cmd.Flags().GetBool("yes")
		proposeOnly, _ := cmd.Flags().GetBool("propose-only")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"message": message}
		if proposeOnly {
			req["apply"] = false
		}

		resp, err := client.post(cmd.Context(), "/extract", req)
		if err != nil {
			return err
		}

		var result struct {
			ID       string                  `json:"id"`
			Actions  []intent.ProposedAction `json:"actions"`
			Enqueued int                     `json:"enqueued"`
			Pending  []intent.ProposedAction `json:"pending"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Actions) == 0 {
			fmt.Println("No calendar actions found.")
			return nil
		}

		for i, a := range result.Actions {
			printAction(i+1, a)
		}

		if result.Enqueued > 0 {
			printSuccess("%d action(s) queued for calendar sync", result.Enqueued)
		}

		if len(result.Pending) == 0 {
			return nil
		}

		if !yes {
			printWarning("%d low-confidence action(s) not applied; re-run with --yes to apply them", len(result.Pending))
			return nil
		}

		for _, a := range result.Pending {
			body := map[string]any{"action": a, "original_text": message}
			applyResp, err := client.post(cmd.Context(), "/actions/apply", body)
			if err != nil {
				return err
			}
			var rec storage.EventRecord
			if err := decodeJSON(applyResp, &rec); err != nil {
				return err
			}
			if rec.SyncError != "" {
				printWarning("Saved %q locally (sync failed: %s)", rec.Summary, rec.SyncError)
			} else {
				printSuccess("Applied %q", rec.Summary)
			}
		}
		return nil
	},
}

func printAction(n int, a intent.ProposedAction) {
	header := fmt.Sprintf("Action %d: %s [%.0f%%]", n, a.Type, a.Confidence*100)
	fmt.Printf("\n%s\n", colorize(colorBold, header))
	if a.Event != nil {
		fmt.Printf("  %s\n", a.Event.Summary)
		fmt.Printf("  %s .. %s\n", a.Event.StartTime, a.Event.EndTime)
		if a.Event.Location != "" {
			fmt.Printf("  at %s\n", a.Event.Location)
		}
	}
	if a.Reasoning != "" {
		fmt.Printf("  %s\n", a.Reasoning)
	}
}

func init() {
	extractCmd.Flags().Bool("yes", false, "apply low-confidence actions too")
	extractCmd.Flags().Bool("propose-only", false, "only propose actions, apply nothing")
}

// --- events ---

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the local event ledger",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger events, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/events?limit=%d", limit))
		if err != nil {
			return err
		}

		var events []storage.EventRecord
		if err := decodeJSON(resp, &events); err != nil {
			return err
		}

		if len(events) == 0 {
			fmt.Println("No events found.")
			return nil
		}

		for _, e := range events {
			marker := colorize(colorGreen, "synced")
			if !e.Synced {
				if e.SyncError != "" {
					marker = colorize(colorRed, "error")
				} else {
					marker = colorize(colorYellow, "local")
				}
			}
			fmt.Printf("%s  %-7s %s  %s\n",
				colorize(colorCyan, e.LocalID[:8]),
				marker,
				e.StartTime,
				e.Summary,
			)
		}
		return nil
	},
}

var eventsShowCmd = &cobra.Command{
	Use:   "show <local-id>",
	Short: "Show a single ledger event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetBool("remote")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/events/" + args[0]
		if remote {
			path += "/remote"
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var event any
		if err := decodeJSON(resp, &event); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(event)
	},
}

var eventsUpcomingCmd = &cobra.Command{
	Use:   "upcoming",
	Short: "List upcoming events from the remote calendar",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetString("window")
		calendars, _ := cmd.Flags().GetString("calendars")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/calendar/upcoming?window=" + url.QueryEscape(window)
		if calendars != "" {
			path += "&calendars=" + url.QueryEscape(calendars)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var events []calendar.RemoteEvent
		if err := decodeJSON(resp, &events); err != nil {
			return err
		}

		if len(events) == 0 {
			fmt.Println("No upcoming events.")
			return nil
		}

		for _, e := range events {
			fmt.Printf("%s  %s  %s\n",
				e.Start,
				colorize(colorCyan, e.CalendarID),
				e.Summary,
			)
		}
		return nil
	},
}

var eventsRetryCmd = &cobra.Command{
	Use:   "retry <local-id>",
	Short: "Retry the calendar sync for a failed event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/events/"+args[0]+"/retry", nil)
		if err != nil {
			return err
		}

		var rec storage.EventRecord
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		if rec.Synced {
			printSuccess("Synced %q (gcal id %s)", rec.Summary, rec.GCalID)
		} else {
			printWarning("Still not synced: %s", rec.SyncError)
		}
		return nil
	},
}

func init() {
	eventsListCmd.Flags().Int("limit", 20, "maximum number of events to list")
	eventsShowCmd.Flags().Bool("remote", false, "fetch the mirrored remote event instead of the ledger record")
	eventsUpcomingCmd.Flags().String("window", "168h", "how far ahead to look (Go duration)")
	eventsUpcomingCmd.Flags().String("calendars", "", "comma-separated calendar ids (default: the configured calendar)")
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsShowCmd)
	eventsCmd.AddCommand(eventsUpcomingCmd)
	eventsCmd.AddCommand(eventsRetryCmd)
}

// --- extractions ---

var extractionsCmd = &cobra.Command{
	Use:   "extractions",
	Short: "Inspect extraction history",
}

var extractionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent extractions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/extractions?limit=%d", limit))
		if err != nil {
			return err
		}

		var extractions []storage.Extraction
		if err := decodeJSON(resp, &extractions); err != nil {
			return err
		}

		if len(extractions) == 0 {
			fmt.Println("No extractions found.")
			return nil
		}

		for _, x := range extractions {
			message := x.Message
			if len(message) > 80 {
				message = message[:80] + "..."
			}
			fmt.Printf("%s  %s  %-9s %s\n",
				colorize(colorCyan, x.ID[:8]),
				x.CreatedAt.Format("2006-01-02 15:04"),
				x.Status,
				message,
			)
		}
		return nil
	},
}

func init() {
	extractionsListCmd.Flags().Int("limit", 20, "maximum number of extractions to list")
	extractionsCmd.AddCommand(extractionsListCmd)
}

// --- auth ---

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Link the Google Calendar account",
}

var authURLCmd = &cobra.Command{
	Use:   "url",
	Short: "Print the calendar authorization URL",
	Long: `Print the calendar authorization URL.

Open the URL in a browser and approve access; the running server picks up
the redirect and stores the token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/auth/url")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result["url"])
		printStep("Open the URL in a browser to authorize calendar access")
		return nil
	},
}

func init() {
	authCmd.AddCommand(authURLCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
