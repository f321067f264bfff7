// Command patchloop runs the autonomous bug-fixing agent against a
// checked-out repository and prints the resulting git patch to stdout.
// Logs and run events go to stderr.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"patchloop/agentloop"
	"patchloop/config"
	"patchloop/inference"
	"patchloop/workspace"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		repoDir     string
		problemFile string
		configPath  string
		runID       string
	)

	cmd := &cobra.Command{
		Use:           "patchloop",
		Short:         "autonomous bug-fixing agent producing a git patch",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if runID != "" {
				cfg.RunID = runID
			}
			problem, err := os.ReadFile(problemFile)
			if err != nil {
				return fmt.Errorf("reading problem statement: %w", err)
			}
			return run(cmd.Context(), cfg, repoDir, string(problem), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&repoDir, "repo", ".", "path to the repository to fix")
	cmd.Flags().StringVar(&problemFile, "problem", "", "path to the problem statement file")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier (generated when empty)")
	cmd.MarkFlagRequired("problem")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "patchloop", version)
		},
	})

	return cmd
}

func run(ctx context.Context, cfg config.Config, repoDir, problem string, out io.Writer) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	rc := agentloop.NewRunContext(cfg.RunID, cfg.Timeout(), logger)
	defer rc.Close()

	// Stream run events as JSON lines on stderr alongside the logs.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		enc := json.NewEncoder(os.Stderr)
		for ev := range rc.Events.Events() {
			enc.Encode(ev)
		}
	}()

	backend, err := newBackend(cfg)
	if err != nil {
		return err
	}

	ws := workspace.New(repoDir, rc.Logger)
	ws.PythonBin = cfg.PythonBin
	ws.TestRunner = cfg.TestRunner
	ws.TestRunnerMode = cfg.TestRunnerMode

	client := &inference.Client{
		Backend:     backend,
		Models:      cfg.Models,
		MaxRetries:  cfg.MaxRetries,
		Backoff:     inference.Backoff{Base: cfg.BaseDelaySecs},
		Temperature: cfg.Temperature,
		RunID:       rc.RunID,
		Logger:      rc.Logger,
	}

	workflow := agentloop.NewFixWorkflow(rc, client, ws, agentloop.WorkflowConfig{
		Model:              cfg.Models[0],
		FixSteps:           cfg.FixSteps,
		FixKeepRecent:      cfg.FixKeepRecent,
		TestFindSteps:      cfg.TestFindSteps,
		TestFindKeepRecent: cfg.TestFindKeepRecent,
	})

	patch := workflow.Run(ctx, problem)

	rc.Close()
	wg.Wait()

	_, err = out.Write([]byte(patch))
	return err
}

func newBackend(cfg config.Config) (inference.Backend, error) {
	if cfg.ProxyURL != "" {
		return inference.NewProxyBackend(cfg.ProxyURL), nil
	}
	return inference.NewGollmBackend(cfg.Provider, cfg.Models[0], "")
}
