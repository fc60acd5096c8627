package receiver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/holiman/uint256"

	coreerrors "vaulttoken/core/errors"
	"vaulttoken/core/runtime"
	"vaulttoken/core/types"
	"vaulttoken/native/vault"
	"vaulttoken/storage"
)

func TestShare(t *testing.T) {
	cases := []struct {
		bps    uint64
		amount uint64
		want   uint64
	}{
		{bps: 0, amount: 100, want: 0},
		{bps: 6_000, amount: 100, want: 60},
		{bps: 2_500, amount: 99, want: 24},
		{bps: 10_000, amount: 7, want: 7},
		{bps: 50_000, amount: 7, want: 7},
	}
	for _, tc := range cases {
		got := NewClaimer("token", tc.bps).Share(uint256.NewInt(tc.amount))
		if got.Uint64() != tc.want {
			t.Fatalf("share(%d bps of %d): expected %d, got %d", tc.bps, tc.amount, tc.want, got.Uint64())
		}
	}
}

func TestParseMode(t *testing.T) {
	for raw, want := range map[string]Mode{"": ModeClaim, "Claim": ModeClaim, " ignore ": ModeIgnore, "REJECT": ModeReject} {
		got, err := ParseMode(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s, got %s", raw, want, got)
		}
	}
	if _, err := ParseMode("steal"); err == nil {
		t.Fatalf("expected unknown mode to fail")
	}
}

func TestNotificationsOnlyFromToken(t *testing.T) {
	rt, err := runtime.New(storage.NewMemDB(), runtime.DefaultConfig())
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	if err := rt.Deploy("shop", NewClaimer("token", 5_000)); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	args, err := vault.EncodeArgs(vault.ReceiveArgs{SenderID: "mallory", Amount: types.NewAmount(10), VaultID: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	id, err := rt.Submit(runtime.Transaction{Signer: "mallory", Receiver: "shop", Method: vault.MethodOnReceiveWithVault, Args: args})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := rt.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	out, err := rt.Outcome(id)
	if err != nil {
		t.Fatalf("outcome: %v", err)
	}
	if out.Status != runtime.StatusFailed || !strings.Contains(out.Error, coreerrors.ErrAccessDenied.Error()) {
		t.Fatalf("expected access denied, got %s (%s)", out.Status, out.Error)
	}

	_, err = rt.View("shop", "steal", nil)
	if !errors.Is(err, runtime.ErrMethodNotFound) {
		t.Fatalf("expected ErrMethodNotFound, got %v", err)
	}
}
