package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/osprey/internal/api"
	"github.com/anstrom/osprey/internal/config"
	"github.com/anstrom/osprey/internal/logging"
	"github.com/anstrom/osprey/internal/orchestrator"
	"github.com/anstrom/osprey/internal/sigdb"
)

var (
	serveHost      string
	servePort      int
	serveSigDBPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP status and scan-streaming API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	defaults := api.DefaultConfig()
	serveCmd.Flags().StringVar(&serveHost, "host", defaults.Host, "API server bind address")
	serveCmd.Flags().IntVar(&servePort, "port", defaults.Port, "API server port")
	serveCmd.Flags().StringVar(&serveSigDBPath, "sigdb", "", "path to an OS fingerprint signature database (JSON or YAML) to layer on top of the built-in signatures")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = config.Default()
	}

	var sigDB *sigdb.Database
	if serveSigDBPath != "" {
		sigDB, err = sigdb.Load(serveSigDBPath)
		if err != nil {
			return err
		}
	}

	orch := orchestrator.New(cfg, sigDB)
	defer orch.Close()

	apiCfg := api.DefaultConfig()
	apiCfg.Host = serveHost
	apiCfg.Port = servePort
	server := api.New(apiCfg, orch)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Info("shutting down API server")
		cancel()
	}()

	return server.Start(ctx)
}
