package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anstrom/osprey/internal/sigdb"
)

var sigdbCmd = &cobra.Command{
	Use:   "sigdb",
	Short: "Inspect and maintain OS fingerprint signature databases",
}

var sigdbValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate a signature database file and report issues",
	Args:  cobra.ExactArgs(1),
	RunE:  runSigdbValidate,
}

var (
	sigdbMergeOutput string
)

var sigdbMergeCmd = &cobra.Command{
	Use:   "merge <path>...",
	Short: "Merge signature database files, later files winning on conflicts",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSigdbMerge,
}

func init() {
	rootCmd.AddCommand(sigdbCmd)
	sigdbCmd.AddCommand(sigdbValidateCmd)
	sigdbCmd.AddCommand(sigdbMergeCmd)

	sigdbMergeCmd.Flags().StringVar(&sigdbMergeOutput, "output", "", "output path (format inferred from extension); defaults to stdout as JSON")
}

func runSigdbValidate(_ *cobra.Command, args []string) error {
	db, err := sigdb.Load(args[0])
	if err != nil {
		return err
	}

	report := sigdb.Validate(db)
	fmt.Printf("%d valid, %d invalid\n", len(report.Valid), len(report.Invalid))
	for _, issue := range report.Issues {
		fmt.Fprintln(os.Stderr, issue)
	}
	if !report.OK() {
		return fmt.Errorf("signature database failed validation")
	}
	return nil
}

func runSigdbMerge(_ *cobra.Command, args []string) error {
	dbs := make([]*sigdb.Database, 0, len(args))
	for _, path := range args {
		db, err := sigdb.Load(path)
		if err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
		dbs = append(dbs, db)
	}

	merged := sigdb.Merge(dbs...)

	if sigdbMergeOutput == "" {
		data, err := sigdb.StoreBytes(merged, sigdb.FormatJSON)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}
	return sigdb.Store(sigdbMergeOutput, merged)
}
