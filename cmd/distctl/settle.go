package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const nowFlagName = "now"

func init() {
	settleDueCmd.Flags().String(nowFlagName, "", "Settle as of this RFC3339 time instead of the current time")
}

var settleDueCmd = &cobra.Command{
	Use:   "settle-due",
	Short: "Settle every order whose cooling-off period has passed",
	RunE: func(cmd *cobra.Command, args []string) error {
		now, err := parseNow(cmd)
		if err != nil {
			return err
		}

		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		summary, err := s.svc.Ledger.SettleDue(cmd.Context(), now)
		if summary != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "settled %d records across %d orders\n", summary.Records, summary.Orders)
			if len(summary.Failed) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "failed orders: %s\n", strings.Join(summary.Failed, ", "))
			}
		}
		return err
	},
}

func parseNow(cmd *cobra.Command) (time.Time, error) {
	raw, err := cmd.Flags().GetString(nowFlagName)
	if err != nil {
		return time.Time{}, err
	}
	if raw == "" {
		return time.Now().UTC(), nil
	}
	now, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be an RFC3339 time: %w", nowFlagName, err)
	}
	return now, nil
}
