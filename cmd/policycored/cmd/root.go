// Package cmd provides the CLI commands for policycored.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/policy-core/permissioncore/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "policycored",
	Short: "policycored - Policy and permission decision core",
	Long: `policycored evaluates tool-invocation decisions against an allowlist
and RBAC policy, backed by a per-principal permission cache and an
emergency lockdown latch.

Configuration:
  Config is loaded from policycore.yaml in the current directory,
  $HOME/.policycore/, or /etc/policycore/.

  Environment variables can override config values with the POLICYCORE_
  prefix. Example: POLICYCORE_LOG_LEVEL=debug

Commands:
  decide            Evaluate a single tool-invocation decision
  check-permission  Check an arbitrary permission string
  version           Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./policycore.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
