package runtime

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"vaulttoken/core/events"
	"vaulttoken/core/types"
	"vaulttoken/storage"
)

// Context is the view a contract has of the invocation it is serving. A
// Context is only valid for the duration of a single Invoke call.
type Context struct {
	rt      *Runtime
	receipt *Receipt
	overlay *storage.Overlay
	state   *storage.Prefixed
	view    bool
	seq     uint64

	used     types.Gas
	logs     []string
	emitted  []events.Event
	pending  []pendingReceipt
	returned int
}

func newContext(rt *Runtime, receipt *Receipt, overlay *storage.Overlay, seq uint64, view bool) *Context {
	return &Context{
		rt:       rt,
		receipt:  receipt,
		overlay:  overlay,
		state:    storage.NewPrefixed(overlay, ContractPrefix(receipt.Receiver)),
		view:     view,
		seq:      seq,
		returned: -1,
	}
}

// CurrentAccount is the account whose contract is executing.
func (c *Context) CurrentAccount() types.AccountID { return c.receipt.Receiver }

// Predecessor is the account that issued this receipt: the signer for
// transactions, the calling contract for promises.
func (c *Context) Predecessor() types.AccountID { return c.receipt.Predecessor }

// Sequence is the position of this receipt in the node's execution order.
func (c *Context) Sequence() uint64 { return c.seq }

// AttachedDeposit returns a copy of the native deposit attached to the call.
func (c *Context) AttachedDeposit() *uint256.Int {
	if c.receipt.Deposit == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(c.receipt.Deposit)
}

// PrepaidGas is the gas attached to the call.
func (c *Context) PrepaidGas() types.Gas { return c.receipt.Gas }

// RemainingGas is the gas still available to the invocation.
func (c *Context) RemainingGas() types.Gas { return c.receipt.Gas.SaturatingSub(c.used) }

// UseGas charges amount against the prepaid gas.
func (c *Context) UseGas(amount types.Gas) error {
	remaining := c.RemainingGas()
	if amount > remaining {
		c.used = c.receipt.Gas
		return fmt.Errorf("%w: need %d, have %d", ErrGasExhausted, amount, remaining)
	}
	c.used += amount
	return nil
}

// Storage returns the contract's key-value namespace. Writes become visible
// to other invocations only if this one succeeds.
func (c *Context) Storage() storage.KV { return c.state }

// StorageUsage returns the bytes accounted to the current account, including
// changes made so far by this invocation.
func (c *Context) StorageUsage() (uint64, error) {
	base, err := readUsage(c.rt.db, c.receipt.Receiver)
	if err != nil {
		return 0, err
	}
	delta, err := c.overlay.UsageDelta(ContractPrefix(c.receipt.Receiver))
	if err != nil {
		return 0, err
	}
	return applyUsageDelta(base, delta), nil
}

// Log appends a line to the receipt outcome.
func (c *Context) Log(msg string) {
	c.logs = append(c.logs, msg)
	c.rt.logger.Debug("contract log",
		slog.String("receipt", c.receipt.ID),
		slog.String("account", c.receipt.Receiver.String()),
		slog.String("log", msg))
}

// Logf formats and appends a line to the receipt outcome.
func (c *Context) Logf(format string, args ...any) {
	c.Log(fmt.Sprintf(format, args...))
}

// Emit buffers an event that is published once the invocation commits.
func (c *Context) Emit(evt events.Event) {
	if evt == nil || c.view {
		return
	}
	c.emitted = append(c.emitted, evt)
}

// FunctionCall schedules a call on another account. Any deposit is taken
// from the current account's native balance and the gas is charged against
// this invocation.
func (c *Context) FunctionCall(call Call) (*Promise, error) {
	return c.schedule(call, ActionFunctionCall, -1)
}

// Transfer schedules a native transfer from the current account.
func (c *Context) Transfer(receiver types.AccountID, amount *uint256.Int) (*Promise, error) {
	return c.schedule(Call{Receiver: receiver, Deposit: amount}, ActionTransfer, -1)
}

// Return makes p's eventual result the result of this invocation.
func (c *Context) Return(p *Promise) error {
	if p == nil || p.ctx != c {
		return ErrInvalidPromise
	}
	c.returned = p.index
	return nil
}

// PromiseResults returns the results of the receipts this continuation
// waited on. It is empty for invocations that were not scheduled with Then.
func (c *Context) PromiseResults() []PromiseResult {
	return append([]PromiseResult(nil), c.receipt.inputs...)
}

func (c *Context) schedule(call Call, action Action, after int) (*Promise, error) {
	if c.view {
		return nil, ErrProhibitedInView
	}
	if err := call.Receiver.Validate(); err != nil {
		return nil, fmt.Errorf("runtime: promise receiver: %w", err)
	}
	if action == ActionFunctionCall {
		if err := c.UseGas(call.Gas); err != nil {
			return nil, err
		}
	}
	deposit := new(uint256.Int)
	if call.Deposit != nil {
		deposit.Set(call.Deposit)
	}
	if err := debitNative(c.overlay, c.receipt.Receiver, deposit); err != nil {
		return nil, err
	}
	receipt := &Receipt{
		ID:          uuid.NewString(),
		Signer:      c.receipt.Signer,
		Predecessor: c.receipt.Receiver,
		Receiver:    call.Receiver,
		Action:      action,
		Method:      call.Method,
		Args:        append([]byte(nil), call.Args...),
		Deposit:     deposit,
		Gas:         call.Gas,
		Parent:      c.receipt.ID,
	}
	c.pending = append(c.pending, pendingReceipt{receipt: receipt, after: after})
	return &Promise{ctx: c, index: len(c.pending) - 1}, nil
}

func viewGas() types.Gas { return types.Gas(math.MaxUint64) }
