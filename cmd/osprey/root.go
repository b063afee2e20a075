// Package main provides osprey's command-line interface: a Cobra-based
// CLI wiring the scan orchestrator, signature database, and reporting
// layers into scan/serve/sigdb subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/osprey/internal/logging"
)

// Exit codes (spec.md §6).
const (
	exitOK               = 0
	exitUsageOrConfig    = 1
	exitRuntime          = 2
	exitInsufficientPriv = 3
	exitCancelled        = 4
)

var (
	cfgFile string
	verbose bool
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "osprey",
	Short:   "Network reconnaissance and OS fingerprinting scanner",
	Version: version,
	Long: `osprey probes a set of targets with crafted TCP/UDP/ICMP packets,
infers host liveness and port status, detects the services listening on
open ports, and fingerprints each host's operating system against a
signature database of known TCP/IP stack behaviors.`,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if code, ok := exitCodeFromError(err); ok {
			return code
		}
		return exitRuntime
	}
	return exitOK
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file (built-in defaults when unset)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	if err := viper.BindPFlag("logging.verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to bind verbose flag: %v\n", err)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("osprey")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("OSPREY")

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}

	cfg := logging.DefaultConfig()
	if verbose {
		cfg.Level = logging.LevelDebug
	}
	logger, err := logging.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to initialize logger: %v\n", err)
		return
	}
	logging.SetDefault(logger)
}

func main() {
	os.Exit(Execute())
}
