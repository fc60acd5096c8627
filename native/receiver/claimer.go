// Package receiver provides a reference implementation of the receiver side
// of a vault transfer. A Claimer answers on_receive_with_vault by claiming a
// configured share of the vault back from the token contract.
package receiver

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	coreerrors "vaulttoken/core/errors"
	"vaulttoken/core/runtime"
	"vaulttoken/core/types"
	"vaulttoken/native/vault"
)

// Mode selects how a Claimer reacts to a notification.
type Mode string

const (
	// ModeClaim claims ShareBps of the vault.
	ModeClaim Mode = "claim"
	// ModeIgnore accepts the notification without claiming.
	ModeIgnore Mode = "ignore"
	// ModeReject fails the notification.
	ModeReject Mode = "reject"
)

const basisPoints = 10_000

// ErrRejected is returned by receivers running in ModeReject.
var ErrRejected = errors.New("receiver: transfer rejected")

// ParseMode normalises a mode name. Empty selects ModeClaim.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeClaim:
		return ModeClaim, nil
	case ModeIgnore:
		return ModeIgnore, nil
	case ModeReject:
		return ModeReject, nil
	default:
		return "", fmt.Errorf("receiver: unknown mode %q", raw)
	}
}

// Claimer is a contract that accepts vault notifications from a single token
// contract.
type Claimer struct {
	Token    types.AccountID
	Mode     Mode
	ShareBps uint64
}

// NewClaimer returns a claimer that takes shareBps/10000 of every vault
// opened by token.
func NewClaimer(token types.AccountID, shareBps uint64) *Claimer {
	if shareBps > basisPoints {
		shareBps = basisPoints
	}
	return &Claimer{Token: token, Mode: ModeClaim, ShareBps: shareBps}
}

// Share returns the portion of amount the claimer takes.
func (c *Claimer) Share(amount *uint256.Int) *uint256.Int {
	share := new(uint256.Int).Mul(amount, uint256.NewInt(c.ShareBps))
	return share.Div(share, uint256.NewInt(basisPoints))
}

// Invoke implements runtime.Contract.
func (c *Claimer) Invoke(ctx *runtime.Context, method string, args []byte) ([]byte, error) {
	if method != vault.MethodOnReceiveWithVault {
		return nil, fmt.Errorf("%w: %s", runtime.ErrMethodNotFound, method)
	}
	if ctx.Predecessor() != c.Token {
		return nil, fmt.Errorf("%w: notifications are only accepted from %s", coreerrors.ErrAccessDenied, c.Token)
	}
	var notice vault.ReceiveArgs
	if err := json.Unmarshal(args, &notice); err != nil {
		return nil, fmt.Errorf("receiver: invalid notification: %w", err)
	}
	switch c.Mode {
	case ModeReject:
		return nil, ErrRejected
	case ModeIgnore:
		ctx.Logf("Ignoring vault %d from %s", notice.VaultID, notice.SenderID)
		return nil, nil
	}

	share := c.Share(notice.Amount.Uint256())
	if share.IsZero() {
		return nil, nil
	}
	claimArgs, err := vault.EncodeArgs(vault.WithdrawArgs{
		VaultID:    notice.VaultID,
		ReceiverID: ctx.CurrentAccount(),
		Amount:     types.AmountFromInt(share),
	})
	if err != nil {
		return nil, err
	}
	claim, err := ctx.FunctionCall(runtime.Call{
		Receiver: c.Token,
		Method:   vault.MethodWithdrawFromVault,
		Args:     claimArgs,
		Gas:      ctx.RemainingGas(),
	})
	if err != nil {
		return nil, err
	}
	ctx.Logf("Claiming %s from vault %d", share.Dec(), notice.VaultID)
	if err := ctx.Return(claim); err != nil {
		return nil, err
	}
	return nil, nil
}
