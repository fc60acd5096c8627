package runtime

import (
	"github.com/holiman/uint256"

	"vaulttoken/core/types"
)

// Call describes a function call scheduled on another account.
type Call struct {
	Receiver types.AccountID
	Method   string
	Args     []byte
	Deposit  *uint256.Int
	Gas      types.Gas
}

// Promise is a receipt created during an invocation. It is only scheduled if
// the creating invocation commits.
type Promise struct {
	ctx   *Context
	index int
}

// Then schedules call to run once p completes, whatever its outcome. The
// continuation observes p's result through Context.PromiseResults.
func (p *Promise) Then(call Call) (*Promise, error) {
	if p == nil || p.ctx == nil {
		return nil, ErrInvalidPromise
	}
	return p.ctx.schedule(call, ActionFunctionCall, p.index)
}

type pendingReceipt struct {
	receipt *Receipt
	after   int
}
