package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/policy-core/permissioncore/internal/bootstrap"
	"github.com/policy-core/permissioncore/internal/config"
)

var adminUser string

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administer roles and the emergency lockdown latch",
}

var adminAssignRoleCmd = &cobra.Command{
	Use:   "assign-role <subject> <role>",
	Short: "Assign a role to a subject",
	Args: cobra.ExactArgs(2),
	RunE: runAdmin(func(rt *bootstrap.Runtime, user string, args []string) error {
		return rt.Admin.AssignRole(context.Background(), user, args[0], false, args[1])
	}),
}

var adminRevokeRoleCmd = &cobra.Command{
	Use:   "revoke-role <subject> <role>",
	Short: "Revoke a role from a subject",
	Args:  cobra.ExactArgs(2),
	RunE: runAdmin(func(rt *bootstrap.Runtime, user string, args []string) error {
		return rt.Admin.RevokeRole(context.Background(), user, args[0], false, args[1])
	}),
}

var adminEmergencyActivateCmd = &cobra.Command{
	Use:   "emergency-activate <reason> <session-id>",
	Short: "Engage the emergency lockdown latch",
	Args:  cobra.ExactArgs(2),
	RunE: runAdmin(func(rt *bootstrap.Runtime, user string, args []string) error {
		state := rt.Admin.ActivateEmergency(context.Background(), user, args[0], args[1])
		fmt.Printf("active: %t\n", state.Active)
		return nil
	}),
}

var adminEmergencyDeactivateCmd = &cobra.Command{
	Use:   "emergency-deactivate",
	Short: "Disengage the emergency lockdown latch",
	Args:  cobra.NoArgs,
	RunE: runAdmin(func(rt *bootstrap.Runtime, user string, args []string) error {
		state := rt.Admin.DeactivateEmergency(context.Background(), user)
		fmt.Printf("active: %t\n", state.Active)
		return nil
	}),
}

func init() {
	adminCmd.PersistentFlags().StringVar(&adminUser, "user", "cli", "identifier recorded as the change's acting user")
	adminCmd.AddCommand(adminAssignRoleCmd, adminRevokeRoleCmd, adminEmergencyActivateCmd, adminEmergencyDeactivateCmd)
	rootCmd.AddCommand(adminCmd)
}

// runAdmin wires config load and Runtime construction around fn, the
// shared boilerplate every admin subcommand needs before it can call
// through to the AdminService.
func runAdmin(fn func(rt *bootstrap.Runtime, user string, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
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

		return fn(rt, adminUser, args)
	}
}
