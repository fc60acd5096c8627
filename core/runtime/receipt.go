package runtime

import (
	"github.com/holiman/uint256"

	"vaulttoken/core/types"
)

// Action distinguishes the two receipt kinds the substrate executes.
type Action uint8

const (
	ActionFunctionCall Action = iota
	ActionTransfer
)

func (a Action) String() string {
	switch a {
	case ActionTransfer:
		return "transfer"
	default:
		return "function_call"
	}
}

// Transaction is a signed request submitted from outside the substrate.
type Transaction struct {
	Signer   types.AccountID
	Receiver types.AccountID
	Method   string
	Args     []byte
	Deposit  *uint256.Int
	Gas      types.Gas
}

// Receipt is a single unit of execution addressed to one account.
type Receipt struct {
	ID          string
	Signer      types.AccountID
	Predecessor types.AccountID
	Receiver    types.AccountID
	Action      Action
	Method      string
	Args        []byte
	Deposit     *uint256.Int
	Gas         types.Gas
	Parent      string

	// inputs carries the results of the receipt this one waited on.
	inputs []PromiseResult
	// slot is the receipt's position in the outbox.
	slot uint64
}

// Status is the lifecycle state of a receipt outcome.
type Status string

const (
	StatusPending   Status = "pending"
	StatusForwarded Status = "forwarded"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
)

// Final reports whether the outcome will not change anymore.
func (s Status) Final() bool {
	return s == StatusSuccess || s == StatusFailed
}

// PromiseResult is what a continuation observes about the receipt it waited on.
type PromiseResult struct {
	Status Status
	Value  []byte
	Err    string
}

// Succeeded reports whether the awaited receipt completed without error.
func (r PromiseResult) Succeeded() bool { return r.Status == StatusSuccess }

// Outcome records how a receipt executed. Forwarded outcomes adopt the final
// result of the receipt they returned.
type Outcome struct {
	ReceiptID   string          `json:"receiptId"`
	Predecessor types.AccountID `json:"predecessor"`
	Receiver    types.AccountID `json:"receiver"`
	Action      string          `json:"action"`
	Method      string          `json:"method,omitempty"`
	Status      Status          `json:"status"`
	Value       []byte          `json:"value,omitempty"`
	Error       string          `json:"error,omitempty"`
	Logs        []string        `json:"logs,omitempty"`
	GasUsed     types.Gas       `json:"gasUsed"`
	Children    []string        `json:"children,omitempty"`
	ForwardedTo string          `json:"forwardedTo,omitempty"`

	done   chan struct{}
	sealed bool
}

func (o *Outcome) clone() *Outcome {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Value = append([]byte(nil), o.Value...)
	cp.Logs = append([]string(nil), o.Logs...)
	cp.Children = append([]string(nil), o.Children...)
	cp.done = nil
	cp.sealed = false
	return &cp
}
