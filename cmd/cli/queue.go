package cli

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drive the deferred-action queue",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, _ := cmd.Flags().GetString("account")

		path := "/api/v1/queue/stats"
		if accountID != "" {
			path += "?account_id=" + url.QueryEscape(accountID)
		}

		var stats map[string]interface{}
		if err := newAPIClient().do(http.MethodGet, path, nil, &stats); err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var queueProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one processor batch now",
	RunE: func(cmd *cobra.Command, args []string) error {
		var summary map[string]interface{}
		if err := newAPIClient().do(http.MethodPost, "/api/v1/queue/process", nil, &summary); err != nil {
			return err
		}
		return printJSON(summary)
	},
}

var queueCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge terminal items past the retention horizon",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("retention-days")

		path := fmt.Sprintf("/api/v1/queue/cleanup?retention_days=%d", days)
		var result map[string]interface{}
		if err := newAPIClient().do(http.MethodPost, path, nil, &result); err != nil {
			return err
		}
		return printJSON(result)
	},
}

var queueGetCmd = &cobra.Command{
	Use:   "get <queue-id>",
	Short: "Fetch one queue item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var item map[string]interface{}
		path := "/api/v1/queue/items/" + url.PathEscape(args[0])
		if err := newAPIClient().do(http.MethodGet, path, nil, &item); err != nil {
			return err
		}
		return printJSON(item)
	},
}

func init() {
	queueStatsCmd.Flags().String("account", "", "scope statistics to one account")
	queueCleanupCmd.Flags().Int("retention-days", 7, "delete terminal items older than this many days")

	queueCmd.AddCommand(queueStatsCmd, queueProcessCmd, queueCleanupCmd, queueGetCmd)
	rootCmd.AddCommand(queueCmd)
}
