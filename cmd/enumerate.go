package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/btsentry/btsentry/internal/scanner"
)

var enumerateCmd = &cobra.Command{
	Use:   "enumerate <mac>",
	Short: "Enumerate SDP services of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc := scanner.New(cfg.Bluetooth, newBroker(), log)

		color.Cyan("Browsing services on %s...\n", args[0])
		report, err := sc.EnumerateServices(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("enumeration failed: %w", err)
		}

		if len(report.Services) == 0 {
			color.Yellow("No services advertised.\n")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Service", "Protocol", "Channel", "UUID"})
		for _, svc := range report.Services {
			t.AppendRow(table.Row{svc.Name, svc.Protocol, svc.Channel, svc.UUID})
		}
		t.Render()

		color.Green("\n%d service(s) on %s.\n", len(report.Services), report.MAC)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enumerateCmd)
}
