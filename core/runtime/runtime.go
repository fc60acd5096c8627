// Package runtime is a single-node execution substrate for native contracts.
// It executes receipts one at a time, each inside a storage overlay that is
// committed atomically on success and discarded on failure. Contracts create
// promises (asynchronous calls) that are scheduled only when the creating
// receipt commits; Then continuations run exactly once after the receipt they
// depend on reaches a final state, whatever that state is. Scheduled receipts
// are persisted with the commit that creates them and survive restarts.
package runtime

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vaulttoken/core/events"
	"vaulttoken/core/types"
	"vaulttoken/storage"
)

var eventSequenceKey = []byte("meta/event-sequence")

// Contract is native code deployed at an account.
type Contract interface {
	Invoke(ctx *Context, method string, args []byte) ([]byte, error)
}

// Config tunes gas metering.
type Config struct {
	// BaseCompute is charged up front by every function call.
	BaseCompute types.Gas
	// MaxGas bounds the gas a transaction may attach.
	MaxGas types.Gas
	// DefaultGas is attached to transactions that do not specify any.
	DefaultGas types.Gas
	// OutcomeRetention bounds how many final outcomes stay queryable.
	OutcomeRetention int
}

// DefaultConfig returns the gas schedule used by the node.
func DefaultConfig() Config {
	return Config{
		BaseCompute: 5 * types.TGas,
		MaxGas:      300 * types.TGas,
		DefaultGas:  300 * types.TGas,

		OutcomeRetention: 10_000,
	}
}

// Runtime executes receipts against a database.
type Runtime struct {
	db     storage.Database
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	emitter events.Emitter

	contractsMu sync.RWMutex
	contracts   map[types.AccountID]Contract

	// execMu serialises execution, views and deposit debits.
	execMu sync.Mutex

	mu       sync.Mutex
	queue    []*Receipt
	outcomes map[string]*Outcome
	retired  []string
	waiters  map[string][]*Receipt
	forwards map[string][]string
	seq      uint64
	eventSeq uint64
	nextSlot uint64
	notify   chan struct{}
}

// New constructs a runtime over db.
func New(db storage.Database, cfg Config) (*Runtime, error) {
	if db == nil {
		return nil, fmt.Errorf("runtime: database required")
	}
	defaults := DefaultConfig()
	if cfg.BaseCompute == 0 {
		cfg.BaseCompute = defaults.BaseCompute
	}
	if cfg.MaxGas == 0 {
		cfg.MaxGas = defaults.MaxGas
	}
	if cfg.DefaultGas == 0 || cfg.DefaultGas > cfg.MaxGas {
		cfg.DefaultGas = cfg.MaxGas
	}
	if cfg.OutcomeRetention <= 0 {
		cfg.OutcomeRetention = defaults.OutcomeRetention
	}
	seq, err := readCounter(db, sequenceKey)
	if err != nil {
		return nil, fmt.Errorf("runtime: load sequence: %w", err)
	}
	eventSeq, err := readCounter(db, eventSequenceKey)
	if err != nil {
		return nil, fmt.Errorf("runtime: load event sequence: %w", err)
	}
	rt := &Runtime{
		db:        db,
		cfg:       cfg,
		logger:    slog.Default(),
		tracer:    otel.Tracer("vaulttoken/runtime"),
		emitter:   events.NoopEmitter{},
		contracts: make(map[types.AccountID]Contract),
		outcomes:  make(map[string]*Outcome),
		waiters:   make(map[string][]*Receipt),
		forwards:  make(map[string][]string),
		seq:       seq,
		eventSeq:  eventSeq,
		notify:    make(chan struct{}, 1),
	}
	if err := rt.loadOutbox(); err != nil {
		return nil, fmt.Errorf("runtime: load outbox: %w", err)
	}
	return rt, nil
}

// SetLogger configures the structured logger used by the runtime.
func (rt *Runtime) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	rt.logger = logger
}

// SetEmitter configures the sink receiving committed events.
func (rt *Runtime) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	rt.emitter = emitter
}

// Config returns the gas schedule in effect.
func (rt *Runtime) Config() Config { return rt.cfg }

// Deploy installs contract at account, replacing any previous code.
func (rt *Runtime) Deploy(account types.AccountID, contract Contract) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("runtime: deploy: %w", err)
	}
	if contract == nil {
		return fmt.Errorf("runtime: deploy %s: nil contract", account)
	}
	rt.contractsMu.Lock()
	rt.contracts[account] = contract
	rt.contractsMu.Unlock()
	return nil
}

func (rt *Runtime) contract(account types.AccountID) Contract {
	rt.contractsMu.RLock()
	defer rt.contractsMu.RUnlock()
	return rt.contracts[account]
}

// NativeBalance returns the native balance of account.
func (rt *Runtime) NativeBalance(account types.AccountID) (*uint256.Int, error) {
	return readUint(rt.db, nativeKey(account))
}

// CreditNative mints native balance to account. It is used by genesis and
// development faucets.
func (rt *Runtime) CreditNative(account types.AccountID, amount *uint256.Int) error {
	if err := account.Validate(); err != nil {
		return err
	}
	rt.execMu.Lock()
	defer rt.execMu.Unlock()
	overlay := storage.NewOverlay(rt.db)
	if err := creditNative(overlay, account, amount); err != nil {
		return err
	}
	return overlay.Commit(rt.db)
}

// StorageUsage returns the bytes accounted to the contract at account.
func (rt *Runtime) StorageUsage(account types.AccountID) (uint64, error) {
	return readUsage(rt.db, account)
}

// Submit validates tx, debits its deposit from the signer and queues the
// resulting receipt. It returns the receipt identifier. A contract account
// cannot sign a transaction addressed to itself: calls it makes on its own
// behalf are promises.
func (rt *Runtime) Submit(tx Transaction) (string, error) {
	if err := tx.Signer.Validate(); err != nil {
		return "", fmt.Errorf("runtime: signer: %w", err)
	}
	if err := tx.Receiver.Validate(); err != nil {
		return "", fmt.Errorf("runtime: receiver: %w", err)
	}
	if tx.Signer == tx.Receiver && rt.contract(tx.Receiver) != nil {
		return "", fmt.Errorf("%w: %s", ErrContractSigner, tx.Signer)
	}
	method := strings.TrimSpace(tx.Method)
	if method == "" {
		return "", fmt.Errorf("%w: empty method name", ErrMethodNotFound)
	}
	gas := tx.Gas
	if gas == 0 {
		gas = rt.cfg.DefaultGas
	}
	if gas > rt.cfg.MaxGas {
		return "", fmt.Errorf("%w: attached %d exceeds limit %d", ErrGasExhausted, gas, rt.cfg.MaxGas)
	}
	deposit := new(uint256.Int)
	if tx.Deposit != nil {
		deposit.Set(tx.Deposit)
	}

	rt.execMu.Lock()
	overlay := storage.NewOverlay(rt.db)
	if err := debitNative(overlay, tx.Signer, deposit); err != nil {
		rt.execMu.Unlock()
		return "", err
	}
	receipt := &Receipt{
		ID:          uuid.NewString(),
		Signer:      tx.Signer,
		Predecessor: tx.Signer,
		Receiver:    tx.Receiver,
		Action:      ActionFunctionCall,
		Method:      method,
		Args:        append([]byte(nil), tx.Args...),
		Deposit:     deposit,
		Gas:         gas,
		slot:        rt.allocSlot(),
	}
	err := putReceipt(overlay, queuedKey(receipt.slot), receipt, "")
	if err == nil {
		err = overlay.Commit(rt.db)
	}
	if err != nil {
		rt.execMu.Unlock()
		return "", fmt.Errorf("runtime: persist receipt: %w", err)
	}
	rt.mu.Lock()
	rt.track(receipt)
	rt.queue = append(rt.queue, receipt)
	rt.mu.Unlock()
	rt.execMu.Unlock()

	rt.wake()
	rt.logger.Debug("transaction submitted",
		slog.String("receipt", receipt.ID),
		slog.String("signer", tx.Signer.String()),
		slog.String("receiver", tx.Receiver.String()),
		slog.String("method", method))
	return receipt.ID, nil
}

// Outcome returns a snapshot of the outcome recorded for id.
func (rt *Runtime) Outcome(id string) (*Outcome, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	outcome, ok := rt.outcomes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReceipt, id)
	}
	return outcome.clone(), nil
}

// Await blocks until the receipt reaches a final state or ctx is done.
func (rt *Runtime) Await(ctx context.Context, id string) (*Outcome, error) {
	rt.mu.Lock()
	outcome, ok := rt.outcomes[id]
	var done chan struct{}
	if ok {
		done = outcome.done
	}
	rt.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReceipt, id)
	}
	select {
	case <-done:
		rt.mu.Lock()
		defer rt.mu.Unlock()
		return outcome.clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the number of queued receipts.
func (rt *Runtime) Pending() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.queue)
}

// Step executes the next queued receipt. It reports false when the queue is
// empty.
func (rt *Runtime) Step(ctx context.Context) bool {
	rt.execMu.Lock()
	defer rt.execMu.Unlock()

	rt.mu.Lock()
	if len(rt.queue) == 0 {
		rt.mu.Unlock()
		return false
	}
	receipt := rt.queue[0]
	rt.queue[0] = nil
	rt.queue = rt.queue[1:]
	rt.mu.Unlock()

	rt.execute(ctx, receipt)
	return true
}

// Run drains the queue, including every receipt scheduled along the way, and
// returns the number of receipts executed.
func (rt *Runtime) Run(ctx context.Context) (int, error) {
	executed := 0
	for {
		if err := ctx.Err(); err != nil {
			return executed, err
		}
		if !rt.Step(ctx) {
			return executed, nil
		}
		executed++
	}
}

// Start runs the executor until ctx is cancelled, waking whenever a
// transaction is submitted.
func (rt *Runtime) Start(ctx context.Context) error {
	for {
		if _, err := rt.Run(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rt.notify:
		}
	}
}

// View runs a read-only call against committed state.
func (rt *Runtime) View(account types.AccountID, method string, args []byte) ([]byte, error) {
	contract := rt.contract(account)
	if contract == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoContract, account)
	}
	rt.execMu.Lock()
	defer rt.execMu.Unlock()

	overlay := storage.NewOverlay(rt.db)
	defer overlay.Discard()
	receipt := &Receipt{
		ID:       "view",
		Receiver: account,
		Action:   ActionFunctionCall,
		Method:   method,
		Args:     args,
		Deposit:  new(uint256.Int),
		Gas:      viewGas(),
	}
	rt.mu.Lock()
	seq := rt.seq
	rt.mu.Unlock()
	c := newContext(rt, receipt, overlay, seq, true)
	return safeInvoke(contract, c, method, args)
}

func (rt *Runtime) wake() {
	select {
	case rt.notify <- struct{}{}:
	default:
	}
}

// track registers a pending outcome. Callers hold rt.mu.
func (rt *Runtime) track(receipt *Receipt) {
	rt.outcomes[receipt.ID] = &Outcome{
		ReceiptID:   receipt.ID,
		Predecessor: receipt.Predecessor,
		Receiver:    receipt.Receiver,
		Action:      receipt.Action.String(),
		Method:      receipt.Method,
		Status:      StatusPending,
		done:        make(chan struct{}),
	}
}

func (rt *Runtime) execute(ctx context.Context, receipt *Receipt) {
	ctx, span := rt.tracer.Start(ctx, "runtime.receipt", trace.WithAttributes(
		attribute.String("receipt.id", receipt.ID),
		attribute.String("receipt.action", receipt.Action.String()),
		attribute.String("receipt.receiver", receipt.Receiver.String()),
		attribute.String("receipt.method", receipt.Method),
	))
	defer span.End()

	rt.mu.Lock()
	rt.seq++
	seq := rt.seq
	rt.mu.Unlock()

	overlay := storage.NewOverlay(rt.db)
	c := newContext(rt, receipt, overlay, seq, false)

	value, err := rt.invoke(c)
	var (
		published []events.Event
		tr        *transition
	)
	if err == nil {
		tr, published, err = rt.commit(c, value)
	}
	if err != nil {
		overlay.Discard()
		rt.fail(ctx, c, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	for _, evt := range published {
		rt.emitter.Emit(evt)
	}
	rt.succeed(ctx, c, tr)
}

func (rt *Runtime) invoke(c *Context) ([]byte, error) {
	receipt := c.receipt
	if receipt.Action == ActionTransfer {
		return nil, creditNative(c.overlay, receipt.Receiver, receipt.Deposit)
	}
	if err := c.UseGas(rt.cfg.BaseCompute); err != nil {
		return nil, err
	}
	contract := rt.contract(receipt.Receiver)
	if contract == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoContract, receipt.Receiver)
	}
	// The deposit is spendable by the contract while it runs.
	if err := creditNative(c.overlay, receipt.Receiver, receipt.Deposit); err != nil {
		return nil, err
	}
	return safeInvoke(contract, c, receipt.Method, receipt.Args)
}

func safeInvoke(contract Contract, c *Context, method string, args []byte) (value []byte, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			value = nil
			err = fmt.Errorf("runtime: contract %s panicked: %v", c.receipt.Receiver, recovered)
		}
	}()
	return contract.Invoke(c, method, args)
}

// commit records storage usage, stages the scheduler transition and writes
// the invocation's changes in one batch. It returns the transition to apply
// and the events to publish.
func (rt *Runtime) commit(c *Context, value []byte) (*transition, []events.Event, error) {
	receipt := c.receipt
	overlay := c.overlay
	delta, err := overlay.UsageDelta(ContractPrefix(receipt.Receiver))
	if err != nil {
		return nil, nil, err
	}
	if delta != 0 {
		current, err := readUsage(rt.db, receipt.Receiver)
		if err != nil {
			return nil, nil, err
		}
		usage := new(uint256.Int).SetUint64(applyUsageDelta(current, delta))
		if err := writeUint(overlay, usageKey(receipt.Receiver), usage); err != nil {
			return nil, nil, err
		}
	}
	if err := overlay.Put(sequenceKey, encodeCounter(c.seq)); err != nil {
		return nil, nil, err
	}

	rt.mu.Lock()
	base := rt.eventSeq
	rt.mu.Unlock()
	published := make([]events.Event, 0, len(c.emitted))
	for i, evt := range c.emitted {
		published = append(published, events.Envelope{
			Sequence:  base + uint64(i) + 1,
			ReceiptID: receipt.ID,
			Payload:   evt,
		})
	}
	if len(published) > 0 {
		if err := overlay.Put(eventSequenceKey, encodeCounter(base+uint64(len(published)))); err != nil {
			return nil, nil, err
		}
	}
	if err := overlay.Delete(queuedKey(receipt.slot)); err != nil {
		return nil, nil, err
	}

	tr := &transition{}
	rt.mu.Lock()
	err = rt.schedule(tr, c)
	if err == nil && c.returned >= 0 {
		err = overlay.Put(forwardKey(receipt.ID), []byte(c.pending[c.returned].receipt.ID))
	} else if err == nil {
		err = rt.stageFinal(tr, overlay, receipt.ID, PromiseResult{Status: StatusSuccess, Value: value})
	}
	rt.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	if err := overlay.Commit(rt.db); err != nil {
		return nil, nil, err
	}
	rt.mu.Lock()
	rt.eventSeq = base + uint64(len(published))
	rt.mu.Unlock()
	return tr, published, nil
}

func (rt *Runtime) succeed(ctx context.Context, c *Context, tr *transition) {
	receipt := c.receipt
	rt.mu.Lock()
	outcome := rt.outcomes[receipt.ID]
	outcome.Logs = c.logs
	outcome.GasUsed = c.used
	for _, pending := range c.pending {
		rt.track(pending.receipt)
		outcome.Children = append(outcome.Children, pending.receipt.ID)
	}
	if c.returned >= 0 {
		target := c.pending[c.returned].receipt.ID
		outcome.Status = StatusForwarded
		outcome.ForwardedTo = target
		rt.forwards[target] = append(rt.forwards[target], receipt.ID)
	}
	rt.apply(tr)
	rt.mu.Unlock()

	runtimeMetrics().record(ctx, receipt.Action, StatusSuccess, uint64(c.used))
	rt.logger.Debug("receipt executed",
		slog.String("receipt", receipt.ID),
		slog.String("receiver", receipt.Receiver.String()),
		slog.String("method", receipt.Method),
		slog.Int("children", len(c.pending)),
		slog.Uint64("gasUsed", uint64(c.used)))
}

func (rt *Runtime) fail(ctx context.Context, c *Context, cause error) {
	receipt := c.receipt
	// The deposit returns to whoever paid it; the receipt's own writes are gone.
	refund := storage.NewOverlay(rt.db)
	tr := &transition{}
	err := creditNative(refund, receipt.Predecessor, receipt.Deposit)
	if err == nil {
		err = refund.Put(sequenceKey, encodeCounter(c.seq))
	}
	if err == nil {
		err = refund.Delete(queuedKey(receipt.slot))
	}
	if err == nil {
		rt.mu.Lock()
		err = rt.stageFinal(tr, refund, receipt.ID, PromiseResult{Status: StatusFailed, Err: cause.Error()})
		rt.mu.Unlock()
	}
	if err == nil {
		err = refund.Commit(rt.db)
	}
	if err != nil {
		rt.logger.Error("persist failed receipt",
			slog.String("receipt", receipt.ID),
			slog.String("account", receipt.Predecessor.String()),
			slog.Any("error", err))
		// Continuations still run in this process; the outbox replays the
		// receipt after a restart.
		tr = &transition{}
		rt.mu.Lock()
		_ = rt.stageFinal(tr, storage.NewOverlay(rt.db), receipt.ID, PromiseResult{Status: StatusFailed, Err: cause.Error()})
		rt.mu.Unlock()
	}

	rt.mu.Lock()
	outcome := rt.outcomes[receipt.ID]
	outcome.Logs = c.logs
	outcome.GasUsed = c.used
	rt.apply(tr)
	rt.mu.Unlock()

	runtimeMetrics().record(ctx, receipt.Action, StatusFailed, uint64(c.used))
	level := slog.LevelWarn
	if errors.Is(cause, ErrNoContract) || errors.Is(cause, ErrGasExhausted) {
		level = slog.LevelInfo
	}
	rt.logger.Log(ctx, level, "receipt failed",
		slog.String("receipt", receipt.ID),
		slog.String("receiver", receipt.Receiver.String()),
		slog.String("method", receipt.Method),
		slog.Any("error", cause))
}

// seal fixes the result of id and retires its outcome. Callers hold rt.mu.
func (rt *Runtime) seal(id string, result PromiseResult) {
	delete(rt.waiters, id)
	delete(rt.forwards, id)
	outcome := rt.outcomes[id]
	if outcome == nil {
		return
	}
	outcome.Status = result.Status
	outcome.Value = append([]byte(nil), result.Value...)
	outcome.Error = result.Err
	if outcome.sealed {
		return
	}
	outcome.sealed = true
	close(outcome.done)
	rt.retired = append(rt.retired, id)
	for len(rt.retired) > rt.cfg.OutcomeRetention {
		delete(rt.outcomes, rt.retired[0])
		rt.retired[0] = ""
		rt.retired = rt.retired[1:]
	}
}

func readCounter(r storage.Reader, key []byte) (uint64, error) {
	raw, err := r.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupt counter %q", key)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func encodeCounter(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}
