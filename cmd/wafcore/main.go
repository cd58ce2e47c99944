package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/klyr/wafcore/internal/config"
	"github.com/klyr/wafcore/internal/rules"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:          "wafcore",
		Short:        "Signature-based request inspection engine",
		SilenceUsage: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newScanCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		var (
			verr *config.ValidationError
			rerr *rules.ValidationError
		)
		switch {
		case errors.As(err, &verr):
			for _, msg := range verr.Problems {
				fmt.Fprintln(os.Stderr, msg)
			}
		case errors.As(err, &rerr):
			fmt.Fprintln(os.Stderr, err)
			for _, msg := range rerr.Problems {
				fmt.Fprintln(os.Stderr, msg)
			}
		default:
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file and compile its rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, false)
			if err != nil {
				return err
			}
			db, err := rules.LoadDatabase(cfg.RulesPath())
			if err != nil {
				return err
			}
			if _, err := rules.Compile(db); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "config ok (%d rules)\n", len(db.Rules)); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "version=%s commit=%s buildDate=%s\n", version, commit, buildDate)
		},
	}
}
