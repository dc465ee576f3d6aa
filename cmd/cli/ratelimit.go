package cli

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Inspect and administer rate limit state",
}

var statusCmd = &cobra.Command{
	Use:   "status <account-id>",
	Short: "Show an account's current window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var status map[string]interface{}
		path := "/api/v1/ratelimit/accounts/" + url.PathEscape(args[0])
		if err := newAPIClient().do(http.MethodGet, path, nil, &status); err != nil {
			return err
		}
		return printJSON(status)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <account-id>",
	Short: "Delete an account's rate limit record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/ratelimit/accounts/" + url.PathEscape(args[0])
		if err := newAPIClient().do(http.MethodDelete, path, nil, nil); err != nil {
			return err
		}
		fmt.Printf("account %s reset\n", args[0])
		return nil
	},
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "List accounts by total successful calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		var users []map[string]interface{}
		path := fmt.Sprintf("/api/v1/ratelimit/top?limit=%d", limit)
		if err := newAPIClient().do(http.MethodGet, path, nil, &users); err != nil {
			return err
		}
		return printJSON(users)
	},
}

var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "Show the current global quota window",
	RunE: func(cmd *cobra.Command, args []string) error {
		var window map[string]interface{}
		if err := newAPIClient().do(http.MethodGet, "/api/v1/ratelimit/window", nil, &window); err != nil {
			return err
		}
		return printJSON(window)
	},
}

func init() {
	topCmd.Flags().Int("limit", 10, "number of accounts to list")

	ratelimitCmd.AddCommand(statusCmd, resetCmd, topCmd, windowCmd)
	rootCmd.AddCommand(ratelimitCmd)
}
