// Package outbound defines the storage port the engine persists through.
package outbound

import (
	"context"

	"github.com/agentshield/agentshield/internal/domain/approval"
	"github.com/agentshield/agentshield/internal/domain/evaluation"
	"github.com/agentshield/agentshield/internal/domain/policy"
)

// Store is the durable collaborator holding policies, evaluations and
// approval requests. Adapters: memory (tests, dev mode) and sqlstore.
type Store interface {
	policy.Store
	evaluation.Store
	approval.Store

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
	Close() error
}
