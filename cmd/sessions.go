package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored assessment sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		records, err := store.ListSessions(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			color.Yellow("No stored sessions.\n")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Session", "Created"})
		for _, r := range records {
			t.AppendRow(table.Row{r.ID, r.CreatedAt.Format("2006-01-02 15:04:05")})
		}
		t.Render()
		return nil
	},
}

func init() {
	sessionsCmd.Flags().Int("limit", 20, "Maximum sessions to list")
	rootCmd.AddCommand(sessionsCmd)
}
