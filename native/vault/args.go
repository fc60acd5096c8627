package vault

import (
	"encoding/json"
	"errors"
	"fmt"

	"vaulttoken/core/types"
)

// Method names exposed by the token contract and expected from receivers.
const (
	MethodNew                = "new"
	MethodTransfer           = "transfer"
	MethodTransferWithVault  = "transfer_with_vault"
	MethodResolveVault       = "resolve_vault"
	MethodWithdrawFromVault  = "withdraw_from_vault"
	MethodRegisterAccount    = "register_account"
	MethodUnregisterAccount  = "unregister_account"
	MethodGetBalance         = "get_balance"
	MethodGetVault           = "get_vault"
	MethodTotalSupply        = "total_supply"
	MethodStorageUsage       = "storage_usage"
	MethodOnReceiveWithVault = "on_receive_with_vault"
)

type InitArgs struct {
	OwnerID     types.AccountID `json:"owner_id"`
	TotalSupply types.Amount    `json:"total_supply"`
}

type TransferArgs struct {
	ReceiverID types.AccountID `json:"receiver_id"`
	Amount     types.Amount    `json:"amount"`
}

type TransferWithVaultArgs struct {
	ReceiverID types.AccountID `json:"receiver_id"`
	Amount     types.Amount    `json:"amount"`
	Payload    string          `json:"payload"`
}

type ResolveVaultArgs struct {
	VaultID  types.VaultID   `json:"vault_id"`
	SenderID types.AccountID `json:"sender_id"`
}

// WithdrawArgs is sent by a receiver to claim from a vault. ReceiverID names
// the account credited with the claim and defaults to the caller.
type WithdrawArgs struct {
	VaultID    types.VaultID   `json:"vault_id"`
	ReceiverID types.AccountID `json:"receiver_id,omitempty"`
	Amount     types.Amount    `json:"amount"`
}

type AccountArgs struct {
	AccountID types.AccountID `json:"account_id,omitempty"`
}

type VaultArgs struct {
	VaultID types.VaultID `json:"vault_id"`
}

// ReceiveArgs is the notification delivered to a receiver's
// on_receive_with_vault method.
type ReceiveArgs struct {
	SenderID types.AccountID `json:"sender_id"`
	Amount   types.Amount    `json:"amount"`
	VaultID  types.VaultID   `json:"vault_id"`
	Payload  string          `json:"payload"`
}

// VaultView is the JSON rendering of a vault returned by get_vault.
type VaultView struct {
	VaultID      types.VaultID   `json:"vault_id"`
	SenderID     types.AccountID `json:"sender_id"`
	ReceiverHash string          `json:"receiver_hash"`
	Opened       types.Amount    `json:"opened"`
	Balance      types.Amount    `json:"balance"`
	Claimed      types.Amount    `json:"claimed"`
	CreatedAt    uint64          `json:"created_at"`
}

func newVaultView(v *Vault) VaultView {
	return VaultView{
		VaultID:      v.ID,
		SenderID:     v.Sender,
		ReceiverHash: v.Receiver.Hex(),
		Opened:       types.AmountFromInt(v.Opened),
		Balance:      types.AmountFromInt(v.Balance),
		Claimed:      types.AmountFromInt(v.Claimed()),
		CreatedAt:    v.CreatedAt,
	}
}

// ErrInvalidArguments is returned when method arguments fail to decode.
var ErrInvalidArguments = errors.New("vault: invalid arguments")

func decodeArgs(raw []byte, dst any) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// EncodeArgs renders method arguments as JSON.
func EncodeArgs(args any) ([]byte, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("vault: encode arguments: %w", err)
	}
	return encoded, nil
}
