// Package policy contains the rule model and the pure evaluator that turns an
// ordered set of policies and a match context into a gating decision.
package policy

import (
	"context"
	"errors"
	"time"
)

// Effect is the outcome a rule asks for when it matches.
type Effect string

const (
	// EffectAllow lets the action proceed.
	EffectAllow Effect = "ALLOW"
	// EffectRequireApproval holds the action for a human decision.
	EffectRequireApproval Effect = "REQUIRE_APPROVAL"
	// EffectDeny blocks the action.
	EffectDeny Effect = "DENY"
)

// Precedence orders effects: DENY > REQUIRE_APPROVAL > ALLOW.
// Unknown effects have precedence 0.
func (e Effect) Precedence() int {
	switch e {
	case EffectDeny:
		return 3
	case EffectRequireApproval:
		return 2
	case EffectAllow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether e is one of the three known effects.
func (e Effect) Valid() bool {
	return e.Precedence() > 0
}

// Rule is a parsed policy rule.
type Rule struct {
	Name   string
	Effect Effect
	// Reason is used verbatim when set; otherwise the decision reason is
	// "matched:<policy>:<rule>".
	Reason string
	Match  MatchSpec
}

// Policy is a parsed, ready-to-evaluate policy.
type Policy struct {
	Name    string
	Enabled bool
	Rules   []Rule
}

// Record is a policy as stored for a tenant. DSL holds the raw JSON document.
type Record struct {
	ID        string
	TenantID  string
	Name      string
	Enabled   bool
	Version   int
	DSL       []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Hit records one rule match during evaluation.
type Hit struct {
	Policy string `json:"policy"`
	Rule   string `json:"rule"`
	Effect Effect `json:"effect"`
}

// Decision is the result of Evaluate.
type Decision struct {
	Effect Effect
	Reason string
	Hits   []Hit
}

// Store is the read/write surface the engine needs for tenant policies.
type Store interface {
	// ListEnabledPolicies returns the tenant's enabled policies ordered by name.
	ListEnabledPolicies(ctx context.Context, tenantID string) ([]Record, error)
	// UpsertPolicy creates or replaces a named policy, bumping its version.
	UpsertPolicy(ctx context.Context, tenantID, name string, enabled bool, dsl []byte) (Record, error)
}

// ErrInvalidDocument is returned when a policy document cannot be parsed.
var ErrInvalidDocument = errors.New("invalid policy document")
