package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/btsentry/btsentry/internal/api"
	"github.com/btsentry/btsentry/internal/authz"
	"github.com/btsentry/btsentry/internal/core"
	"github.com/btsentry/btsentry/internal/runner"
	"github.com/btsentry/btsentry/internal/scanner"
	"github.com/btsentry/btsentry/pkg/ai"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST and WebSocket API for the desktop UI",
	Long: `Serves the HTTP API the desktop UI talks to: device discovery,
service enumeration, scenario supervision, session reads, the audit
trail, and a WebSocket event stream at /ws/events.

There is no interactive prompt in server mode, so with confirmation
required by policy every scenario submission is denied unless --yes is
given. Pass --yes only when blanket authorization for the engagement
exists in writing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		autoYes, _ := cmd.Flags().GetBool("yes")

		hub := api.NewHub()
		sink := api.NewBroadcastSink(sess, hub)

		gate := authz.NewGate(cfg.Attacks, &authz.AutoConfirmer{Approve: autoYes}, trail, tel, log)
		broker := newBroker()
		catalog := runner.NewCatalog(cfg.Bluetooth.Adapter)
		run := runner.New(cfg.Attacks, gate, broker, trail, catalog, tel, sink, log)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Attacks.CancelGrace+5*time.Second)
			defer cancel()
			_ = run.Shutdown(ctx)
		}()

		var summarizer core.Summarizer
		if cfg.Ollama.Enabled {
			summarizer = ai.NewClient(cfg.Ollama, log)
		}

		sc := scanner.New(cfg.Bluetooth, broker, log)
		srv := api.NewServer(cfg, run, sc, store, trail, sink, summarizer, hub, log)

		err := srv.Run(cmd.Context(), listen)
		saveSession(context.Background())
		return err
	},
}

func init() {
	serveCmd.Flags().String("listen", "127.0.0.1:8745", "Address to listen on")
	serveCmd.Flags().Bool("yes", false, "Approve scenario submissions without a prompt")
	rootCmd.AddCommand(serveCmd)
}
