package service

import (
	"context"

	"sign-gateway/pkg/platform/tx"
)

// memoryTxRunner marks the context transactional without a database. Memory
// store deployments get the outbox contract but not real atomicity.
type memoryTxRunner struct{}

// NewMemoryTxRunner returns a unit-of-work runner for memory-backed wiring.
func NewMemoryTxRunner() TxRunner { return memoryTxRunner{} }

func (memoryTxRunner) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(tx.WithScope(ctx))
}
