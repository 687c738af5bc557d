package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/btsentry/btsentry/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover nearby Bluetooth devices",
	Long: `Runs classic inquiry and low-energy discovery on the configured
adapter and prints every device found. Results are recorded in the
current session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration := viper.GetDuration("bluetooth.scan_duration")
		if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
			duration = d
		}

		sc := scanner.New(cfg.Bluetooth, newBroker(), log)

		color.Cyan("Scanning for Bluetooth devices on %s (%s)...\n", cfg.Bluetooth.Adapter, duration)
		bar := progressbar.NewOptions(int(duration.Seconds()),
			progressbar.OptionSetDescription("scanning"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					_ = bar.Add(1)
				case <-done:
					_ = bar.Finish()
					return
				}
			}
		}()

		devices, err := sc.Scan(cmd.Context(), duration)
		close(done)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		if len(devices) == 0 {
			color.Yellow("\nNo devices found.\n")
			return nil
		}
		sess.RecordDiscovery(devices)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"MAC", "Name", "Type", "Class", "RSSI"})
		for _, d := range devices {
			rssi := "-"
			if d.RSSI != nil {
				rssi = fmt.Sprintf("%d dBm", *d.RSSI)
			}
			t.AppendRow(table.Row{d.MAC, d.Name, d.Type, d.MajorClass, rssi})
		}
		t.Render()

		color.Green("\n%d device(s) found.\n", len(devices))
		saveSession(cmd.Context())
		return nil
	},
}

func init() {
	scanCmd.Flags().Duration("duration", 0, "Scan duration (default from config)")
	rootCmd.AddCommand(scanCmd)
}
