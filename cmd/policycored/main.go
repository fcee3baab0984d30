// Command policycored is the policy-and-permission core's standalone
// entry point: one-shot decision and administration commands over a
// persisted role/rule-set state directory. It exposes no network
// transport; ingestion and proxying live in collaborator processes.
package main

import "github.com/policy-core/permissioncore/cmd/policycored/cmd"

func main() {
	cmd.Execute()
}
