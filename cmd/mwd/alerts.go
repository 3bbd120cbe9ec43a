package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailworks/mailworks/internal/alerts"
)

var (
	alertsAll   bool
	alertsLimit int64
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and manage health alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listAlerts()
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, newest first (active only by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listAlerts()
	},
}

func listAlerts() error {
	records, err := alerts.NewStore(store).List(rootCtx, !alertsAll, alertsLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(records)
		return nil
	}
	if len(records) == 0 {
		fmt.Println("no alerts")
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, a := range records {
		rows = append(rows, []string{
			a.ID, a.Check, statusStyle(string(a.Severity)), string(a.State),
			a.RaisedAt.Format(time.RFC3339), truncate(a.Message, 50),
		})
	}
	renderTable([]string{"ID", "CHECK", "SEVERITY", "STATE", "RAISED", "MESSAGE"}, rows)
	return nil
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id> <who>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		alert, err := alerts.NewStore(store).Acknowledge(rootCtx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("acknowledged %s by %s\n", alert.ID, alert.AcknowledgedBy)
		return nil
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Resolve an alert (terminal)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		alert, err := alerts.NewStore(store).Resolve(rootCtx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("resolved %s (%s)\n", alert.ID, alert.Check)
		return nil
	},
}

func init() {
	alertsCmd.PersistentFlags().BoolVar(&alertsAll, "all", false, "Include resolved alerts")
	alertsCmd.PersistentFlags().Int64Var(&alertsLimit, "limit", 50, "Maximum alerts to list")
	alertsCmd.AddCommand(alertsListCmd, alertsAckCmd, alertsResolveCmd)
}
