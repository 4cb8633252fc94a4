// File: internal/oracle/oracle.go

// Package oracle is the boundary to the external code-intelligence
// service. Everything the engine knows about code semantics comes back
// through this package as structured text.
package oracle

import "context"

// Tier selects the model class for a generation request. Cheap
// classification work goes to the fast tier, code generation to the
// powerful one.
type Tier string

const (
	TierFast     Tier = "fast"
	TierPowerful Tier = "powerful"
)

// Request describes a single generation call.
type Request struct {
	Tier         Tier
	SystemPrompt string
	UserPrompt   string
	// ForceJSON asks the service for a JSON-only response body.
	ForceJSON   bool
	Temperature float32
}

// Generator is the contract every oracle backend satisfies. Production
// uses the Gemini client; tests substitute a deterministic stub. A call
// may fail for network or parse reasons; callers degrade to "no result"
// rather than propagating.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}
