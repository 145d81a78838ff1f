// Package cli implements the fixrev command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sprite-ai/fixrev/internal/config"
	"github.com/sprite-ai/fixrev/internal/model"
	"github.com/sprite-ai/fixrev/internal/workspace"
)

// logLevelEnv overrides the default of --log-level.
const logLevelEnv = "FIXREV_LOG_LEVEL"

var rootCmd = &cobra.Command{
	Use:   "fixrev",
	Short: "Review AI-proposed fixes for static analysis findings",
	Long: `fixrev groups static analysis findings, asks an AI provider for a fix
per group, and walks you through the proposed patches. Accepted patches
are applied to the workspace and optionally re-validated by re-running
the tool that reported them.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	level := os.Getenv(logLevelEnv)
	if level == "" {
		level = "warn"
	}
	rootCmd.PersistentFlags().String("log-level", level, "log level: debug, info, warn, error (env "+logLevelEnv+")")
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace root that patches may touch")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default .fixrev.toml, then $XDG_CONFIG_HOME/fixrev/config.toml)")

	rootCmd.AddCommand(reviewCmd, summaryCmd, serveCmd, versionCmd)
}

// Execute runs the root command. Interrupts cancel in-flight provider calls.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	logger, err := newLogger(level, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

// newLogger builds the text logger used by every component.
func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

// loadSetup resolves the workspace and its configuration.
func loadSetup(cmd *cobra.Command) (config.Config, workspace.Root, error) {
	dir, _ := cmd.Flags().GetString("workspace")
	root, err := workspace.New(dir)
	if err != nil {
		return config.Config{}, "", fmt.Errorf("opening workspace: %w", err)
	}

	path, _ := cmd.Flags().GetString("config")
	var cfg config.Config
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, path, err = config.Load(string(root))
	}
	if err != nil {
		return cfg, root, err
	}
	if path != "" {
		slog.Debug("config loaded", "path", path)
	}
	return cfg, root, nil
}

// readFindings loads findings from a file, or stdin when name is "-" or
// empty. Both a bare array and an object with a "findings" key are accepted.
func readFindings(cmd *cobra.Command, name string) ([]model.Finding, error) {
	var (
		raw []byte
		err error
	)
	if name == "" || name == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading findings: %w", err)
	}
	return parseFindings(raw)
}

func parseFindings(raw []byte) ([]model.Finding, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, nil
	}

	var findings []model.Finding
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &findings); err != nil {
			return nil, fmt.Errorf("parsing findings: %w", err)
		}
	} else {
		var wrapped struct {
			Findings []model.Finding `json:"findings"`
		}
		if err := json.Unmarshal([]byte(trimmed), &wrapped); err != nil {
			return nil, fmt.Errorf("parsing findings: %w", err)
		}
		findings = wrapped.Findings
	}

	for i, f := range findings {
		switch {
		case f.Tool == "":
			return nil, fmt.Errorf("finding %d: tool is required", i)
		case f.File == "":
			return nil, fmt.Errorf("finding %d: file is required", i)
		case f.LineStart < 0:
			return nil, fmt.Errorf("finding %d: negative line %d", i, f.LineStart)
		}
	}
	return findings, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
