// QMind - Q CLI chat and self-assessment server
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/qmind/internal/config"
	"github.com/ashureev/qmind/internal/container"
	"github.com/ashureev/qmind/internal/qcli"
	"github.com/ashureev/qmind/internal/sanitize"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := &cobra.Command{
		Use:           "qmind",
		Short:         "Chat and self-assessment server for the Q CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), logger)
		},
	}
	rootCmd.AddCommand(serveCmd(logger), probeCmd(), askCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func serveCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and gRPC health servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), logger)
		},
	}
}

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check whether the Q CLI can be invoked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			runner, err := newRunner(cmd.Context(), cfg, qcli.NewRegistry())
			if err != nil {
				return err
			}
			prober := qcli.NewProber(runner, cfg.QCLI.ProbeTimeout, 0)
			if !prober.CheckAvailable(cmd.Context()) {
				fmt.Fprintln(cmd.OutOrStdout(), "unavailable")
				return qcli.ErrProcessUnavailable
			}
			fmt.Fprintln(cmd.OutOrStdout(), "available")
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message to the Q CLI and print the cleaned reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			runner, err := newRunner(cmd.Context(), cfg, qcli.NewRegistry())
			if err != nil {
				return err
			}
			client := qcli.NewClient(runner, cfg.QCLI.WorkDir, cfg.QCLI.Timeout)
			res, err := client.Invoke(cmd.Context(), strings.Join(args, " "), qcli.InvokeOptions{Timeout: timeout})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sanitize.Sanitize(res.Stdout))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "override the invocation timeout")
	return cmd
}

func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// newRunner picks the local or docker exec backend.
func newRunner(ctx context.Context, cfg *config.Config, registry *qcli.Registry) (qcli.Runner, error) {
	if cfg.QCLI.Backend != "docker" {
		return qcli.NewExecRunner(cfg.QCLI.Binary, registry), nil
	}
	runner, err := container.NewRunner(cfg.QCLI.Container, cfg.QCLI.Binary, registry)
	if err != nil {
		return nil, err
	}
	running, err := runner.IsRunning(ctx)
	if err != nil {
		slog.Warn("Failed to inspect Q CLI container", "container", cfg.QCLI.Container, "error", err)
	} else if !running {
		slog.Warn("Q CLI container is not running", "container", cfg.QCLI.Container)
	}
	return runner, nil
}
