package genesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	coreerrors "vaulttoken/core/errors"
	"vaulttoken/core/runtime"
	"vaulttoken/core/types"
	"vaulttoken/native/receiver"
	"vaulttoken/native/vault"
)

// Apply deploys the contracts named by g and, on a fresh database, credits
// native balances, initializes the token and performs the genesis
// registrations. Contracts are redeployed on every start; state is only
// written once. It reports whether state was written.
func Apply(ctx context.Context, rt *runtime.Runtime, g *Genesis, token *vault.Contract, logger *slog.Logger) (bool, error) {
	if rt == nil {
		return false, errors.New("genesis: runtime must not be nil")
	}
	if token == nil {
		return false, errors.New("genesis: token contract must not be nil")
	}
	if err := g.Validate(); err != nil {
		return false, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := rt.Deploy(g.Contract, token); err != nil {
		return false, fmt.Errorf("genesis: deploy token: %w", err)
	}
	for _, entry := range g.Receivers {
		mode, _ := receiver.ParseMode(entry.Mode)
		claimer := receiver.NewClaimer(g.Contract, entry.ShareBps)
		claimer.Mode = mode
		if err := rt.Deploy(entry.Account, claimer); err != nil {
			return false, fmt.Errorf("genesis: deploy receiver %s: %w", entry.Account, err)
		}
	}

	_, err := rt.View(g.Contract, vault.MethodTotalSupply, nil)
	switch {
	case err == nil:
		logger.Info("genesis already applied", slog.String("contract", g.Contract.String()))
		return false, nil
	case !errors.Is(err, coreerrors.ErrNotInitialized):
		return false, fmt.Errorf("genesis: query token: %w", err)
	}

	for _, alloc := range g.Balances() {
		if err := rt.CreditNative(alloc.Account, alloc.Amount); err != nil {
			return false, fmt.Errorf("genesis: credit %s: %w", alloc.Account, err)
		}
	}

	initArgs, err := vault.EncodeArgs(vault.InitArgs{
		OwnerID:     g.Owner,
		TotalSupply: types.AmountFromInt(g.Supply()),
	})
	if err != nil {
		return false, err
	}
	if err := execute(ctx, rt, runtime.Transaction{
		Signer:   g.Owner,
		Receiver: g.Contract,
		Method:   vault.MethodNew,
		Args:     initArgs,
	}); err != nil {
		return false, fmt.Errorf("genesis: initialize token: %w", err)
	}

	for _, account := range g.Register {
		args, err := vault.EncodeArgs(vault.AccountArgs{AccountID: account})
		if err != nil {
			return false, err
		}
		if err := execute(ctx, rt, runtime.Transaction{
			Signer:   g.Owner,
			Receiver: g.Contract,
			Method:   vault.MethodRegisterAccount,
			Args:     args,
			Deposit:  g.deposit,
		}); err != nil {
			return false, fmt.Errorf("genesis: register %s: %w", account, err)
		}
	}

	logger.Info("genesis applied",
		slog.String("contract", g.Contract.String()),
		slog.String("owner", g.Owner.String()),
		slog.String("totalSupply", g.Supply().Dec()),
		slog.Int("registered", len(g.Register)),
		slog.Int("receivers", len(g.Receivers)))
	return true, nil
}

// execute submits tx, drains the queue and reports the final outcome.
func execute(ctx context.Context, rt *runtime.Runtime, tx runtime.Transaction) error {
	id, err := rt.Submit(tx)
	if err != nil {
		return err
	}
	if _, err := rt.Run(ctx); err != nil {
		return err
	}
	outcome, err := rt.Outcome(id)
	if err != nil {
		return err
	}
	if outcome.Status != runtime.StatusSuccess {
		return fmt.Errorf("%s: %s", outcome.Status, outcome.Error)
	}
	return nil
}
