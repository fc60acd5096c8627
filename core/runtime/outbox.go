package runtime

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"vaulttoken/core/types"
	"vaulttoken/storage"
)

// Receipts that have been scheduled but not executed live in the outbox. They
// are written in the same batch as the commit that schedules them and removed
// in the batch that executes them, so a restart resumes exactly where the
// node stopped.
var (
	outboxQueuedPrefix  = []byte("meta/outbox/queued/")
	outboxWaitingPrefix = []byte("meta/outbox/waiting/")
	outboxForwardPrefix = []byte("meta/outbox/forward/")
)

func slotKey(prefix []byte, slot uint64) []byte {
	out := make([]byte, len(prefix)+8)
	copy(out, prefix)
	binary.BigEndian.PutUint64(out[len(prefix):], slot)
	return out
}

func queuedKey(slot uint64) []byte { return slotKey(outboxQueuedPrefix, slot) }

func waitingKey(slot uint64) []byte { return slotKey(outboxWaitingPrefix, slot) }

func forwardKey(origin string) []byte {
	return append(append([]byte(nil), outboxForwardPrefix...), origin...)
}

type storedResult struct {
	Status string
	Value  []byte
	Err    string
}

type storedReceipt struct {
	ID          string
	Signer      string
	Predecessor string
	Receiver    string
	Action      uint8
	Method      string
	Args        []byte
	Deposit     *big.Int
	Gas         uint64
	Parent      string
	Inputs      []storedResult
	DependsOn   string
}

func putReceipt(kv storage.KV, key []byte, receipt *Receipt, dependsOn string) error {
	stored := storedReceipt{
		ID:          receipt.ID,
		Signer:      receipt.Signer.String(),
		Predecessor: receipt.Predecessor.String(),
		Receiver:    receipt.Receiver.String(),
		Action:      uint8(receipt.Action),
		Method:      receipt.Method,
		Args:        receipt.Args,
		Deposit:     new(big.Int),
		Gas:         uint64(receipt.Gas),
		Parent:      receipt.Parent,
		DependsOn:   dependsOn,
	}
	if receipt.Deposit != nil {
		stored.Deposit = receipt.Deposit.ToBig()
	}
	for _, input := range receipt.inputs {
		stored.Inputs = append(stored.Inputs, storedResult{Status: string(input.Status), Value: input.Value, Err: input.Err})
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("runtime: encode receipt %s: %w", receipt.ID, err)
	}
	return kv.Put(key, encoded)
}

func decodeReceipt(raw []byte) (*Receipt, string, error) {
	var stored storedReceipt
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, "", err
	}
	deposit, overflow := uint256.FromBig(stored.Deposit)
	if overflow {
		return nil, "", fmt.Errorf("receipt %s: deposit overflows", stored.ID)
	}
	receipt := &Receipt{
		ID:          stored.ID,
		Signer:      types.AccountID(stored.Signer),
		Predecessor: types.AccountID(stored.Predecessor),
		Receiver:    types.AccountID(stored.Receiver),
		Action:      Action(stored.Action),
		Method:      stored.Method,
		Args:        stored.Args,
		Deposit:     deposit,
		Gas:         types.Gas(stored.Gas),
		Parent:      stored.Parent,
	}
	for _, input := range stored.Inputs {
		receipt.inputs = append(receipt.inputs, PromiseResult{Status: Status(input.Status), Value: input.Value, Err: input.Err})
	}
	return receipt, stored.DependsOn, nil
}

// loadOutbox restores the scheduler from the outbox. It runs before the
// runtime is shared.
func (rt *Runtime) loadOutbox() error {
	err := rt.db.Iterate(outboxQueuedPrefix, func(key, value []byte) error {
		receipt, _, err := decodeReceipt(value)
		if err != nil {
			return fmt.Errorf("queued receipt %x: %w", key, err)
		}
		receipt.slot = rt.reserveSlot(binary.BigEndian.Uint64(key[len(outboxQueuedPrefix):]))
		rt.track(receipt)
		rt.queue = append(rt.queue, receipt)
		return nil
	})
	if err != nil {
		return err
	}
	err = rt.db.Iterate(outboxWaitingPrefix, func(key, value []byte) error {
		receipt, dep, err := decodeReceipt(value)
		if err != nil {
			return fmt.Errorf("waiting receipt %x: %w", key, err)
		}
		if dep == "" {
			return fmt.Errorf("waiting receipt %s has no dependency", receipt.ID)
		}
		receipt.slot = rt.reserveSlot(binary.BigEndian.Uint64(key[len(outboxWaitingPrefix):]))
		rt.track(receipt)
		rt.waiters[dep] = append(rt.waiters[dep], receipt)
		return nil
	})
	if err != nil {
		return err
	}
	return rt.db.Iterate(outboxForwardPrefix, func(key, value []byte) error {
		origin := string(key[len(outboxForwardPrefix):])
		target := string(value)
		rt.outcomes[origin] = &Outcome{
			ReceiptID:   origin,
			Status:      StatusForwarded,
			ForwardedTo: target,
			done:        make(chan struct{}),
		}
		rt.forwards[target] = append(rt.forwards[target], origin)
		return nil
	})
}

// reserveSlot keeps the slot allocator ahead of slot.
func (rt *Runtime) reserveSlot(slot uint64) uint64 {
	if slot >= rt.nextSlot {
		rt.nextSlot = slot + 1
	}
	return slot
}

// allocSlot returns the next outbox position. Callers hold execMu.
func (rt *Runtime) allocSlot() uint64 {
	slot := rt.nextSlot
	rt.nextSlot++
	return slot
}

// transition is the scheduler change produced by one executed receipt. Its
// storage half is staged in the receipt's overlay; the in-memory half is
// applied once that overlay commits.
type transition struct {
	enqueue []*Receipt
	park    []parkedReceipt
	finals  []finalResult
}

type parkedReceipt struct {
	dep     string
	receipt *Receipt
}

type finalResult struct {
	id     string
	result PromiseResult
}

// schedule stages the receipts created by c. Callers hold rt.mu.
func (rt *Runtime) schedule(tr *transition, c *Context) error {
	for _, pending := range c.pending {
		child := pending.receipt
		child.slot = rt.allocSlot()
		if pending.after < 0 {
			if err := putReceipt(c.overlay, queuedKey(child.slot), child, ""); err != nil {
				return err
			}
			tr.enqueue = append(tr.enqueue, child)
			continue
		}
		dep := c.pending[pending.after].receipt.ID
		if err := putReceipt(c.overlay, waitingKey(child.slot), child, dep); err != nil {
			return err
		}
		tr.park = append(tr.park, parkedReceipt{dep: dep, receipt: child})
	}
	return nil
}

// stageFinal records the result of id, wakes the continuations waiting on it
// and follows the receipts that forwarded to it. Callers hold rt.mu.
func (rt *Runtime) stageFinal(tr *transition, kv storage.KV, id string, result PromiseResult) error {
	tr.finals = append(tr.finals, finalResult{id: id, result: result})
	for _, waiter := range rt.waiters[id] {
		if err := kv.Delete(waitingKey(waiter.slot)); err != nil {
			return err
		}
		woken := *waiter
		woken.inputs = []PromiseResult{result}
		woken.slot = rt.allocSlot()
		if err := putReceipt(kv, queuedKey(woken.slot), &woken, ""); err != nil {
			return err
		}
		tr.enqueue = append(tr.enqueue, &woken)
	}
	for _, origin := range rt.forwards[id] {
		if err := kv.Delete(forwardKey(origin)); err != nil {
			return err
		}
		if err := rt.stageFinal(tr, kv, origin, result); err != nil {
			return err
		}
	}
	return nil
}

// apply publishes a committed transition. Callers hold rt.mu.
func (rt *Runtime) apply(tr *transition) {
	for _, parked := range tr.park {
		rt.waiters[parked.dep] = append(rt.waiters[parked.dep], parked.receipt)
	}
	rt.queue = append(rt.queue, tr.enqueue...)
	for _, final := range tr.finals {
		rt.seal(final.id, final.result)
	}
}
