package cli

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/sprite-ai/fixrev/internal/api"
	"github.com/sprite-ai/fixrev/internal/engine"
	"github.com/sprite-ai/fixrev/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server exposing the fixrev engine for one workspace.

Endpoints:
  GET  /health       Health check
  POST /api/group    Group findings into patch groups
  POST /api/summary  Summarize findings with the AI provider
  GET  /metrics      Prometheus metrics
  GET  /api/ws       WebSocket for interactive fix reviews`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "127.0.0.1", "address to listen on")
	serveCmd.Flags().IntP("port", "p", 6142, "port to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadSetup(cmd)
	if err != nil {
		return err
	}
	addr, _ := cmd.Flags().GetString("addr")
	port, _ := cmd.Flags().GetInt("port")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	logger := slog.Default()

	newEngine := func() *engine.Engine {
		return engine.New(cfg, root, m, logger)
	}

	listen := fmt.Sprintf("%s:%d", addr, port)
	srv := api.New(listen, newEngine, reg)
	return srv.ListenAndServe()
}
