package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/osprey/internal/config"
	"github.com/anstrom/osprey/internal/orchestrator"
	"github.com/anstrom/osprey/internal/report"
	"github.com/anstrom/osprey/internal/sigdb"
)

var (
	scanTargets   string
	scanPorts     string
	scanFormat    string
	scanSigDBPath string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan targets for open ports, services, and OS fingerprint",
	Example: `  osprey scan --targets 192.168.1.1,192.168.1.10 --ports top100
  osprey scan --targets 10.0.0.0/24 --ports 1-1024 --format json
  osprey scan --targets example.com --ports web --sigdb ./signatures.json`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanTargets, "targets", "", "comma-separated targets (IPs or hostnames)")
	scanCmd.Flags().StringVar(&scanPorts, "ports", "top100", "port spec: '22,80,443', '1-1024', or a preset (top100, web, mail, database, all)")
	scanCmd.Flags().StringVar(&scanFormat, "format", "table", "output format: table, json, yaml")
	scanCmd.Flags().StringVar(&scanSigDBPath, "sigdb", "", "path to an OS fingerprint signature database (JSON or YAML) to layer on top of the built-in signatures")
	_ = scanCmd.MarkFlagRequired("targets")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = config.Default()
	}

	var sigDB *sigdb.Database
	if scanSigDBPath != "" {
		sigDB, err = sigdb.Load(scanSigDBPath)
		if err != nil {
			return fmt.Errorf("failed to load signature database: %w", err)
		}
	}

	orch := orchestrator.New(cfg, sigDB)
	defer orch.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	targets := strings.Split(scanTargets, ",")
	for i := range targets {
		targets[i] = strings.TrimSpace(targets[i])
	}

	results, err := orch.Run(ctx, targets, scanPorts)
	if err != nil {
		return err
	}

	return report.WriteResults(os.Stdout, results, report.Format(scanFormat))
}
