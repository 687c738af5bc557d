package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/btsentry/btsentry/pkg/ai"
	"github.com/btsentry/btsentry/pkg/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate an HTML report for a stored session",
	Long: `Renders a stored session into a standalone HTML report. Without
--session the most recent session is used. With Ollama enabled the
report opens with a model-written summary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		if sessionID == "" {
			sessions, err := store.ListSessions(cmd.Context(), 1)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			if len(sessions) == 0 {
				return fmt.Errorf("no stored sessions; run a scan or scenario first")
			}
			sessionID = sessions[0].ID
		}

		record, err := store.GetSession(cmd.Context(), sessionID)
		if err != nil {
			return err
		}

		var summary string
		if cfg.Ollama.Enabled {
			summarizer := ai.NewClient(cfg.Ollama, log)
			summary, err = summarizer.SummarizeSession(cmd.Context(), *record)
			if err != nil {
				log.Warnw("Summarization failed, continuing without it", "error", err)
				summary = ""
			}
		}

		gen, err := report.NewGenerator(cfg.Reporting.OutputDirectory)
		if err != nil {
			return err
		}
		path, err := gen.Generate(*record, summary)
		if err != nil {
			return err
		}

		color.Green("Report written: %s\n", path)
		return nil
	},
}

func init() {
	reportCmd.Flags().String("session", "", "Session id to report on (default: most recent)")
	rootCmd.AddCommand(reportCmd)
}
