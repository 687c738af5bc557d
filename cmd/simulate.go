package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/btsentry/btsentry/internal/authz"
	"github.com/btsentry/btsentry/internal/core"
	"github.com/btsentry/btsentry/internal/runner"
	"github.com/btsentry/btsentry/pkg/types"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <kind> <mac>",
	Short: "Run an attack scenario against a device",
	Long: fmt.Sprintf(`Executes one attack scenario against the given target. The scenario
passes through the authorization gate first; with ethical mode on you
will be asked to confirm before anything touches the radio.

Supported kinds: %s

Scenario parameters can be given with repeated --param key=value flags
or loaded from a YAML file with --params-file.`, kindList()),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := types.ScenarioKind(args[0])
		target := args[1]

		params, err := collectParams(cmd)
		if err != nil {
			return err
		}
		duration, _ := cmd.Flags().GetDuration("duration")
		autoYes, _ := cmd.Flags().GetBool("yes")

		var confirmer core.Confirmer
		if autoYes {
			confirmer = &authz.AutoConfirmer{Approve: true}
		} else {
			confirmer = authz.NewTerminalConfirmer(os.Stdin, os.Stdout)
		}
		gate := authz.NewGate(cfg.Attacks, confirmer, trail, tel, log)
		broker := newBroker()
		catalog := runner.NewCatalog(cfg.Bluetooth.Adapter)
		run := runner.New(cfg.Attacks, gate, broker, trail, catalog, tel, sess, log)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Attacks.CancelGrace+5*time.Second)
			defer cancel()
			_ = run.Shutdown(ctx)
		}()

		id, err := run.Submit(types.ScenarioRequest{
			Kind:        kind,
			Target:      target,
			Duration:    duration,
			Parameters:  params,
			RequestedBy: currentUser(),
		})
		if err != nil {
			return fmt.Errorf("submission rejected: %w", err)
		}
		color.Cyan("Scenario %s submitted (%s against %s)\n", id[:8], kind, target)

		// Forward Ctrl+C to the scenario instead of killing the CLI,
		// so the tool gets its cooperative shutdown window.
		go func() {
			<-cmd.Context().Done()
			run.Cancel(id)
		}()

		snap, err := run.AwaitTerminal(id, awaitBudget(duration))
		if err != nil {
			return fmt.Errorf("scenario did not finish: %w", err)
		}

		printSnapshot(snap)
		saveSession(context.Background())

		if snap.Status != types.StatusCompleted {
			return fmt.Errorf("scenario ended %s", snap.Status)
		}
		return nil
	},
}

func init() {
	simulateCmd.Flags().Duration("duration", 30*time.Second, "How long to run the scenario")
	simulateCmd.Flags().Bool("yes", false, "Skip the interactive confirmation prompt")
	simulateCmd.Flags().StringArray("param", nil, "Scenario parameter as key=value (repeatable)")
	simulateCmd.Flags().String("params-file", "", "YAML file with scenario parameters")
	rootCmd.AddCommand(simulateCmd)
}

func kindList() string {
	names := make([]string, 0, len(types.Kinds()))
	for _, k := range types.Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

func collectParams(cmd *cobra.Command) (map[string]string, error) {
	params := make(map[string]string)

	if path, _ := cmd.Flags().GetString("params-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read params file: %w", err)
		}
		if err := yaml.Unmarshal(data, &params); err != nil {
			return nil, fmt.Errorf("parse params file: %w", err)
		}
	}

	pairs, _ := cmd.Flags().GetStringArray("param")
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", pair)
		}
		params[key] = value
	}
	if len(params) == 0 {
		return nil, nil
	}
	return params, nil
}

// awaitBudget leaves room for confirmation, queueing and the grace
// window on top of the tool's own runtime.
func awaitBudget(duration time.Duration) time.Duration {
	if duration <= 0 {
		duration = cfg.Attacks.MaxDuration
	}
	return duration + cfg.Attacks.CancelGrace + 10*time.Minute
}

func currentUser() string {
	if user := os.Getenv("SUDO_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "operator"
}

func printSnapshot(snap types.ScenarioSnapshot) {
	switch snap.Status {
	case types.StatusCompleted:
		color.Green("\nScenario completed.\n")
	case types.StatusDenied:
		color.Red("\nScenario denied: %s\n", snap.Error)
	case types.StatusTimedOut:
		color.Yellow("\nScenario hit its duration limit: %s\n", snap.Error)
	case types.StatusCancelled:
		color.Yellow("\nScenario cancelled.\n")
	default:
		color.Red("\nScenario %s: %s\n", snap.Status, snap.Error)
	}

	if snap.StartedAt != nil && snap.FinishedAt != nil {
		color.White("Runtime: %s\n", snap.FinishedAt.Sub(*snap.StartedAt).Round(time.Millisecond))
	}
	if snap.ExitCode != nil {
		color.White("Exit code: %d\n", *snap.ExitCode)
	}
	if len(snap.Output) > 0 {
		color.White("\nTool output (last %d lines):\n", len(snap.Output))
		for _, line := range snap.Output {
			fmt.Println("  " + line)
		}
	}
}
