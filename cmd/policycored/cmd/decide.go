package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/policy-core/permissioncore/internal/bootstrap"
	"github.com/policy-core/permissioncore/internal/config"
	"github.com/policy-core/permissioncore/internal/domain/principal"
)

var (
	decidePrincipalID string
	decideAPIKeyName  string
	decideRoles       []string
	decideCatalogFile string
)

var decideCmd = &cobra.Command{
	Use:   "decide <tool-id> [capability-id]",
	Short: "Evaluate a single tool-invocation decision",
	Long: `decide loads the persisted role/rule-set state, constructs a
principal from the given flags, and evaluates whether that principal may
invoke the named tool. The decision is recorded to the configured audit
sink exactly as it would be for a live request.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDecide,
}

func init() {
	decideCmd.Flags().StringVar(&decidePrincipalID, "principal", "", "principal id")
	decideCmd.Flags().StringVar(&decideAPIKeyName, "api-key-name", "", "API key name used to authenticate")
	decideCmd.Flags().StringSliceVar(&decideRoles, "role", nil, "role bound to the principal (repeatable)")
	decideCmd.Flags().StringVar(&decideCatalogFile, "catalog", "", "path to a JSON tool-catalog snapshot file")
	rootCmd.AddCommand(decideCmd)
}

func runDecide(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	catalog, err := loadCatalog(decideCatalogFile)
	if err != nil {
		return err
	}

	rt, err := bootstrap.New(cfg, logger, catalog)
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer rt.Close()

	toolID := args[0]
	capabilityID := ""
	if len(args) > 1 {
		capabilityID = args[1]
	}

	p := principal.Principal{
		ID:          decidePrincipalID,
		APIKeyName:  decideAPIKeyName,
		Roles:       decideRoles,
		RequestTime: time.Now().UTC(),
	}

	rec := rt.Decisions.EvaluateTool(p, toolID, capabilityID)

	fmt.Printf("decision:    %s\n", rec.Decision)
	fmt.Printf("level:       %s\n", rec.Level)
	fmt.Printf("reason:      %s\n", rec.Reason)
	fmt.Printf("roles:       %s\n", strings.Join(rec.Roles, ","))
	fmt.Printf("cache_hit:   %t\n", rec.CacheHit)
	fmt.Printf("latency_us:  %d\n", rec.LatencyMicros)
	fmt.Printf("request_id:  %s\n", rec.RequestID)

	if rec.Decision != "allow" {
		cmd.SilenceUsage = true
		return fmt.Errorf("denied: %s", rec.Reason)
	}
	return nil
}
