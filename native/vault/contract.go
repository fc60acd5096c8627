// Package vault implements the token contract with two-phase "safe"
// transfers. The sender's tokens move into a vault, the receiver is notified
// asynchronously and may claim from the vault, and a continuation scheduled
// on the contract itself resolves the vault by refunding whatever is left.
package vault

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	coreerrors "vaulttoken/core/errors"
	"vaulttoken/core/events"
	"vaulttoken/core/runtime"
	"vaulttoken/core/types"
	"vaulttoken/native/fees"
	"vaulttoken/native/token"
)

// Config holds the gas split used by transfer_with_vault and the storage
// pricing policy applied to registrations.
type Config struct {
	GasBaseCompute       types.Gas
	GasForCallback       types.Gas
	GasForPromise        types.Gas
	GasForDataDependency types.Gas
	StoragePolicy        fees.Policy
	RequireRegistration  bool
}

// DefaultConfig returns the gas split and storage price used in production.
func DefaultConfig() Config {
	return Config{
		GasBaseCompute:       5 * types.TGas,
		GasForCallback:       5 * types.TGas,
		GasForPromise:        5 * types.TGas,
		GasForDataDependency: 10 * types.TGas,
		StoragePolicy:        fees.DefaultPolicy(),
		RequireRegistration:  true,
	}
}

// GasForRemainingCompute is the gas kept back by transfer_with_vault for its
// own bookkeeping.
func (c Config) GasForRemainingCompute() types.Gas {
	return 2*c.GasForPromise + c.GasForDataDependency + c.GasBaseCompute
}

// ReceiverGas returns the gas attached to the receiver notification.
func (c Config) ReceiverGas(prepaid types.Gas) types.Gas {
	return prepaid.SaturatingSub(c.GasForRemainingCompute() + c.GasForCallback)
}

// Contract is the token contract. It keeps no state of its own; everything
// lives in the invocation's storage namespace.
type Contract struct {
	cfg    Config
	logger *slog.Logger
}

// NewContract returns a contract using cfg.
func NewContract(cfg Config) *Contract {
	if cfg.StoragePolicy == nil {
		cfg.StoragePolicy = fees.DefaultPolicy()
	}
	return &Contract{cfg: cfg, logger: slog.Default()}
}

// SetLogger configures the structured logger.
func (c *Contract) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	c.logger = logger
}

// Config returns the contract configuration.
func (c *Contract) Config() Config { return c.cfg }

func (c *Contract) escrow(ctx *runtime.Context) *Escrow {
	ledger := token.NewLedger(ctx.Storage())
	ledger.SetRequireRegistration(c.cfg.RequireRegistration)
	escrow := NewEscrow(ledger, NewRegistry(ctx.Storage()))
	escrow.SetEmitter(ctx)
	return escrow
}

// Invoke implements runtime.Contract.
func (c *Contract) Invoke(ctx *runtime.Context, method string, args []byte) ([]byte, error) {
	escrow := c.escrow(ctx)
	if method == MethodNew {
		return c.initialize(ctx, escrow, args)
	}
	initialized, err := escrow.Ledger().Initialized()
	if err != nil {
		return nil, err
	}
	if !initialized {
		return nil, coreerrors.ErrNotInitialized
	}
	switch method {
	case MethodTransfer:
		return c.transfer(ctx, escrow, args)
	case MethodTransferWithVault:
		return c.transferWithVault(ctx, escrow, args)
	case MethodResolveVault:
		return c.resolveVault(ctx, escrow, args)
	case MethodWithdrawFromVault:
		return c.withdrawFromVault(ctx, escrow, args)
	case MethodRegisterAccount:
		return c.registerAccount(ctx, escrow, args)
	case MethodUnregisterAccount:
		return c.unregisterAccount(ctx, escrow)
	case MethodGetBalance:
		return c.getBalance(ctx, escrow, args)
	case MethodGetVault:
		return c.getVault(escrow, args)
	case MethodTotalSupply:
		supply, err := escrow.Ledger().TotalSupply()
		if err != nil {
			return nil, err
		}
		return json.Marshal(types.AmountFromInt(supply))
	case MethodStorageUsage:
		usage, err := ctx.StorageUsage()
		if err != nil {
			return nil, err
		}
		return json.Marshal(usage)
	default:
		return nil, fmt.Errorf("%w: %s", runtime.ErrMethodNotFound, method)
	}
}

func parseAccount(id types.AccountID) (types.AccountID, error) {
	parsed, err := types.ParseAccountID(id.String())
	if err != nil {
		return "", fmt.Errorf("%w: %v", coreerrors.ErrInvalidAccountID, err)
	}
	return parsed, nil
}

func (c *Contract) initialize(ctx *runtime.Context, escrow *Escrow, raw []byte) ([]byte, error) {
	var args InitArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	owner, err := parseAccount(args.OwnerID)
	if err != nil {
		return nil, err
	}
	supply := args.TotalSupply.Uint256()
	if err := escrow.Ledger().Mint(owner, supply); err != nil {
		return nil, err
	}
	ctx.Emit(events.TokenInitialized{Owner: owner, TotalSupply: supply})
	c.logger.Info("token initialized",
		slog.String("contract", ctx.CurrentAccount().String()),
		slog.String("owner", owner.String()),
		slog.String("totalSupply", supply.Dec()))
	return nil, nil
}

func (c *Contract) transfer(ctx *runtime.Context, escrow *Escrow, raw []byte) ([]byte, error) {
	var args TransferArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	receiver, err := parseAccount(args.ReceiverID)
	if err != nil {
		return nil, err
	}
	amount := args.Amount.Uint256()
	sender := ctx.Predecessor()
	if err := escrow.Ledger().Transfer(sender, receiver, amount); err != nil {
		return nil, err
	}
	ctx.Emit(events.TokenTransfer{From: sender, To: receiver, Amount: amount})
	return nil, nil
}

func (c *Contract) transferWithVault(ctx *runtime.Context, escrow *Escrow, raw []byte) ([]byte, error) {
	var args TransferWithVaultArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	receiver, err := parseAccount(args.ReceiverID)
	if err != nil {
		return nil, err
	}
	sender := ctx.Predecessor()
	gasToReceiver := c.cfg.ReceiverGas(ctx.PrepaidGas())

	v, err := escrow.Open(sender, receiver, args.Amount.Uint256(), ctx.Sequence())
	if err != nil {
		return nil, err
	}
	notifyArgs, err := EncodeArgs(ReceiveArgs{
		SenderID: sender,
		Amount:   args.Amount,
		VaultID:  v.ID,
		Payload:  args.Payload,
	})
	if err != nil {
		return nil, err
	}
	resolveArgs, err := EncodeArgs(ResolveVaultArgs{VaultID: v.ID, SenderID: sender})
	if err != nil {
		return nil, err
	}
	notify, err := ctx.FunctionCall(runtime.Call{
		Receiver: receiver,
		Method:   MethodOnReceiveWithVault,
		Args:     notifyArgs,
		Deposit:  ctx.AttachedDeposit(),
		Gas:      gasToReceiver,
	})
	if err != nil {
		return nil, err
	}
	resolve, err := notify.Then(runtime.Call{
		Receiver: ctx.CurrentAccount(),
		Method:   MethodResolveVault,
		Args:     resolveArgs,
		Gas:      c.cfg.GasForCallback,
	})
	if err != nil {
		return nil, err
	}
	line, err := json.Marshal(openLog{
		VaultID:    v.ID,
		SenderID:   sender,
		ReceiverID: receiver,
		Amount:     types.AmountFromInt(v.Opened),
	})
	if err != nil {
		return nil, err
	}
	ctx.Log(string(line))
	if err := ctx.Return(resolve); err != nil {
		return nil, err
	}
	return nil, nil
}

// openLog is the outcome line naming the vault a safe transfer opened.
type openLog struct {
	VaultID    types.VaultID   `json:"vault_id"`
	SenderID   types.AccountID `json:"sender_id"`
	ReceiverID types.AccountID `json:"receiver_id"`
	Amount     types.Amount    `json:"amount"`
}

type resolveLog struct {
	VaultID  types.VaultID   `json:"vault_id"`
	SenderID types.AccountID `json:"sender_id"`
	Opened   types.Amount    `json:"opened"`
	Claimed  types.Amount    `json:"claimed"`
	Refunded types.Amount    `json:"refunded"`
}

func (c *Contract) resolveVault(ctx *runtime.Context, escrow *Escrow, raw []byte) ([]byte, error) {
	if ctx.Predecessor() != ctx.CurrentAccount() {
		return nil, fmt.Errorf("%w: resolve_vault is only callable by %s", coreerrors.ErrAccessDenied, ctx.CurrentAccount())
	}
	var args ResolveVaultArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	v, refunded, err := escrow.Resolve(args.VaultID)
	if err != nil {
		return nil, err
	}
	if args.SenderID != "" && args.SenderID != v.Sender {
		c.logger.Warn("resolve sender differs from vault record",
			slog.String("vault", v.ID.String()),
			slog.String("argument", args.SenderID.String()),
			slog.String("recorded", v.Sender.String()))
	}
	line, err := json.Marshal(resolveLog{
		VaultID:  v.ID,
		SenderID: v.Sender,
		Opened:   types.AmountFromInt(v.Opened),
		Claimed:  types.AmountFromInt(v.Claimed()),
		Refunded: types.AmountFromInt(refunded),
	})
	if err != nil {
		return nil, err
	}
	ctx.Log(string(line))
	if results := ctx.PromiseResults(); len(results) > 0 && !results[0].Succeeded() {
		c.logger.Info("vault receiver failed",
			slog.String("vault", v.ID.String()),
			slog.String("error", results[0].Err))
	}
	return json.Marshal(types.AmountFromInt(refunded))
}

func (c *Contract) withdrawFromVault(ctx *runtime.Context, escrow *Escrow, raw []byte) ([]byte, error) {
	var args WithdrawArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	claimant := args.ReceiverID
	if claimant != "" {
		parsed, err := parseAccount(claimant)
		if err != nil {
			return nil, err
		}
		claimant = parsed
	}
	v, err := escrow.Claim(args.VaultID, ctx.Predecessor(), claimant, args.Amount.Uint256())
	if err != nil {
		return nil, err
	}
	return json.Marshal(types.AmountFromInt(v.Balance))
}

func (c *Contract) registerAccount(ctx *runtime.Context, escrow *Escrow, raw []byte) ([]byte, error) {
	var args AccountArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	account := ctx.Predecessor()
	if args.AccountID != "" {
		parsed, err := parseAccount(args.AccountID)
		if err != nil {
			return nil, err
		}
		account = parsed
	}
	initial, err := ctx.StorageUsage()
	if err != nil {
		return nil, err
	}
	if err := escrow.Ledger().Register(account); err != nil {
		return nil, err
	}
	if err := c.settleStorage(ctx, initial); err != nil {
		return nil, err
	}
	ctx.Emit(events.AccountRegistered{Account: account, Payer: ctx.Predecessor()})
	return nil, nil
}

func (c *Contract) unregisterAccount(ctx *runtime.Context, escrow *Escrow) ([]byte, error) {
	account := ctx.Predecessor()
	initial, err := ctx.StorageUsage()
	if err != nil {
		return nil, err
	}
	if err := escrow.Ledger().Unregister(account); err != nil {
		return nil, err
	}
	if err := c.settleStorage(ctx, initial); err != nil {
		return nil, err
	}
	ctx.Emit(events.AccountUnregistered{Account: account})
	return nil, nil
}

// settleStorage charges storage growth against the attached deposit and
// sends any surplus back to the predecessor.
func (c *Contract) settleStorage(ctx *runtime.Context, initial uint64) error {
	current, err := ctx.StorageUsage()
	if err != nil {
		return err
	}
	refund, err := fees.Settle(initial, current, ctx.AttachedDeposit(), c.cfg.StoragePolicy)
	if err != nil {
		return err
	}
	if refund.IsZero() {
		return nil
	}
	ctx.Logf("Refunding %s tokens for storage", refund.Dec())
	if _, err := ctx.Transfer(ctx.Predecessor(), refund); err != nil {
		return err
	}
	ctx.Emit(events.StorageRefund{Account: ctx.Predecessor(), Amount: new(uint256.Int).Set(refund)})
	return nil
}

func (c *Contract) getBalance(ctx *runtime.Context, escrow *Escrow, raw []byte) ([]byte, error) {
	var args AccountArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	account := args.AccountID
	if account == "" {
		account = ctx.Predecessor()
	}
	balance, err := escrow.Ledger().Balance(account)
	if err != nil {
		return nil, err
	}
	return json.Marshal(types.AmountFromInt(balance))
}

func (c *Contract) getVault(escrow *Escrow, raw []byte) ([]byte, error) {
	var args VaultArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	v, err := escrow.Registry().Get(args.VaultID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(newVaultView(v))
}
