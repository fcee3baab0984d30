package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/policy-core/permissioncore/internal/bootstrap"
	"github.com/policy-core/permissioncore/internal/config"
	"github.com/policy-core/permissioncore/internal/domain/principal"
)

var (
	checkPermissionPrincipalID string
	checkPermissionRoles       []string
)

var checkPermissionCmd = &cobra.Command{
	Use:   "check-permission <permission>",
	Short: "Check an arbitrary permission string against RBAC",
	Long: `check-permission evaluates a permission string (e.g. "tool:read_file"
or "admin:*") against the RBAC evaluator directly, bypassing the
per-principal tool-allow cache. Useful for debugging a role's effective
permissions without going through a specific tool decision.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckPermission,
}

func init() {
	checkPermissionCmd.Flags().StringVar(&checkPermissionPrincipalID, "principal", "", "principal id")
	checkPermissionCmd.Flags().StringSliceVar(&checkPermissionRoles, "role", nil, "role bound to the principal (repeatable)")
	rootCmd.AddCommand(checkPermissionCmd)
}

func runCheckPermission(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	catalog, err := loadCatalog("")
	if err != nil {
		return err
	}

	rt, err := bootstrap.New(cfg, logger, catalog)
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer rt.Close()

	p := principal.Principal{
		ID:          checkPermissionPrincipalID,
		Roles:       checkPermissionRoles,
		RequestTime: time.Now().UTC(),
	}

	result, err := rt.Decisions.CheckPermission(p, args[0])
	if err != nil {
		return fmt.Errorf("check permission: %w", err)
	}

	fmt.Printf("granted: %t\n", result.Granted)
	fmt.Printf("reason:  %s\n", result.Reason)

	if !result.Granted {
		cmd.SilenceUsage = true
		return fmt.Errorf("permission denied")
	}
	return nil
}
