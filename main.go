// =============================================================================
// Class Payment Reconciler - Main Entry Point
// =============================================================================
//
// USAGE:
//   reconciler ingest      - Import attendance and payment CSV exports
//   reconciler reconcile   - Match attendance to payments, rebuild the master sheet
//   reconciler coaches     - Coach payout reports
//   reconciler version     - Display the application version
//
// ARCHITECTURE:
//   - cmd/       : CLI command definitions (Cobra)
//   - internal/  : Reconciliation engine, matching, pricing and storage
//   - pkg/       : Shared file and report utilities
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/class-payment-reconciler/cmd"
)

func main() {
	cmd.Execute()
}
