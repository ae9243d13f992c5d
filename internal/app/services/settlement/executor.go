// Package settlement moves gifted assets to claimants. The lifecycle engine
// talks to an Executor and never learns whether the transfer went through a
// relay service or straight to a chain node.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wowgifts/giftlink/pkg/logger"
)

// ErrRejected is wrapped by executors when the backend processed the request
// and answered with a definite refusal, as opposed to a transport failure.
var ErrRejected = errors.New("settlement rejected")

// Receipt is the durable proof of a completed settlement.
type Receipt struct {
	TxHash  string
	Message string
}

// Executor performs the money-moving half of the gift lifecycle.
type Executor interface {
	// Authorize pre-approves moving amount out of escrow at creation time.
	Authorize(ctx context.Context, senderAddress, tokenAddress, amount string) error
	// Settle transfers amount to recipient and returns the transaction proof.
	Settle(ctx context.Context, recipient, tokenAddress, amount string) (Receipt, error)
}

// MockExecutor approves and settles everything without touching funds. It
// exists for local development and tests; wiring selects it only when no real
// backend is configured.
type MockExecutor struct {
	mu      sync.Mutex
	log     *logger.Logger
	settled int
}

// NewMockExecutor returns a MockExecutor logging through log.
func NewMockExecutor(log *logger.Logger) *MockExecutor {
	if log == nil {
		log = logger.NewDefault("settlement-mock")
	}
	return &MockExecutor{log: log}
}

var _ Executor = (*MockExecutor)(nil)

func (m *MockExecutor) Authorize(ctx context.Context, senderAddress, tokenAddress, amount string) error {
	m.log.WithField("sender", senderAddress).WithField("amount", amount).Debug("mock authorize")
	return nil
}

func (m *MockExecutor) Settle(ctx context.Context, recipient, tokenAddress, amount string) (Receipt, error) {
	m.mu.Lock()
	m.settled++
	n := m.settled
	m.mu.Unlock()
	m.log.WithField("recipient", recipient).WithField("amount", amount).Info("mock settle")
	return Receipt{TxHash: fmt.Sprintf("0xmock%08d", n), Message: "settled by mock executor"}, nil
}

// Settled reports how many settlements the mock has performed.
func (m *MockExecutor) Settled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settled
}
