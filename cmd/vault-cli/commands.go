package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"vaulttoken/core/types"
	"vaulttoken/gateway/middleware"
	"vaulttoken/native/vault"
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage())
	}
	return fs
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func printResult(stdout, stderr io.Writer, raw json.RawMessage, err error) int {
	if err != nil {
		return printError(stderr, err.Error())
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") != nil {
		fmt.Fprintln(stdout, strings.TrimSpace(string(raw)))
		return 0
	}
	fmt.Fprintln(stdout, pretty.String())
	return 0
}

func singleArg(args []string, what string, stderr io.Writer) (string, bool) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		printError(stderr, "expected a single "+what)
		return "", false
	}
	return strings.TrimSpace(args[0]), true
}

func runSupply(c *client, args []string, stdout, stderr io.Writer) int {
	if len(args) != 0 {
		return printError(stderr, "supply takes no arguments")
	}
	raw, err := c.get("/v1/token", nil)
	return printResult(stdout, stderr, raw, err)
}

func runBalance(c *client, args []string, stdout, stderr io.Writer) int {
	account, ok := singleArg(args, "account", stderr)
	if !ok {
		return 1
	}
	if _, err := types.ParseAccountID(account); err != nil {
		return printError(stderr, err.Error())
	}
	raw, err := c.get("/v1/accounts/"+url.PathEscape(account)+"/balance", nil)
	return printResult(stdout, stderr, raw, err)
}

func runNative(c *client, args []string, stdout, stderr io.Writer) int {
	account, ok := singleArg(args, "account", stderr)
	if !ok {
		return 1
	}
	if _, err := types.ParseAccountID(account); err != nil {
		return printError(stderr, err.Error())
	}
	raw, err := c.get("/v1/accounts/"+url.PathEscape(account)+"/native", nil)
	return printResult(stdout, stderr, raw, err)
}

func runVault(c *client, args []string, stdout, stderr io.Writer) int {
	raw, ok := singleArg(args, "vault id", stderr)
	if !ok {
		return 1
	}
	id, err := types.ParseVaultID(raw)
	if err != nil {
		return printError(stderr, err.Error())
	}
	body, err := c.get("/v1/vaults/"+id.String(), nil)
	return printResult(stdout, stderr, body, err)
}

func runReceipt(c *client, args []string, stdout, stderr io.Writer) int {
	id, ok := singleArg(args, "receipt id", stderr)
	if !ok {
		return 1
	}
	raw, err := c.get("/v1/receipts/"+url.PathEscape(id), nil)
	return printResult(stdout, stderr, raw, err)
}

func runEvents(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", stderr)
	var (
		eventType string
		vaultID   string
		account   string
		after     uint64
		limit     int
	)
	fs.StringVar(&eventType, "type", "", "event type, e.g. vault.opened")
	fs.StringVar(&vaultID, "vault", "", "vault identifier")
	fs.StringVar(&account, "account", "", "account on either side of the event")
	fs.Uint64Var(&after, "after", 0, "only events with a greater sequence")
	fs.IntVar(&limit, "limit", 0, "maximum number of events")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	query := url.Values{}
	if eventType != "" {
		query.Set("type", eventType)
	}
	if vaultID != "" {
		if _, err := types.ParseVaultID(vaultID); err != nil {
			return printError(stderr, err.Error())
		}
		query.Set("vault", vaultID)
	}
	if account != "" {
		query.Set("account", account)
	}
	if after > 0 {
		query.Set("after", fmt.Sprint(after))
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	raw, err := c.get("/v1/events", query)
	return printResult(stdout, stderr, raw, err)
}

func parseAmountFlag(name, raw string) (types.Amount, error) {
	if strings.TrimSpace(raw) == "" {
		return types.Amount{}, fmt.Errorf("--%s is required", name)
	}
	return types.ParseAmount(raw)
}

func encodeArgs(args any) (json.RawMessage, error) {
	encoded, err := vault.EncodeArgs(args)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(encoded), nil
}

func runTransfer(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("transfer", stderr)
	var to, amountStr string
	fs.StringVar(&to, "to", "", "receiving account")
	fs.StringVar(&amountStr, "amount", "", "token amount")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	receiver, err := types.ParseAccountID(to)
	if err != nil {
		return printError(stderr, "--to: "+err.Error())
	}
	amount, err := parseAmountFlag("amount", amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	encoded, err := encodeArgs(vault.TransferArgs{ReceiverID: receiver, Amount: amount})
	if err != nil {
		return printError(stderr, err.Error())
	}
	raw, err := c.submit(txRequest{Method: vault.MethodTransfer, Args: encoded})
	return printResult(stdout, stderr, raw, err)
}

func runSend(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("send", stderr)
	var (
		to, amountStr, payload string
		gasTGas                uint64
	)
	fs.StringVar(&to, "to", "", "receiving contract account")
	fs.StringVar(&amountStr, "amount", "", "token amount placed in the vault")
	fs.StringVar(&payload, "payload", "", "opaque payload forwarded to the receiver")
	fs.Uint64Var(&gasTGas, "gas", 0, "attached gas in TGas (node default when zero)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	receiver, err := types.ParseAccountID(to)
	if err != nil {
		return printError(stderr, "--to: "+err.Error())
	}
	amount, err := parseAmountFlag("amount", amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	encoded, err := encodeArgs(vault.TransferWithVaultArgs{ReceiverID: receiver, Amount: amount, Payload: payload})
	if err != nil {
		return printError(stderr, err.Error())
	}
	raw, err := c.submit(txRequest{
		Method: vault.MethodTransferWithVault,
		Args:   encoded,
		Gas:    gasTGas * uint64(types.TGas),
	})
	return printResult(stdout, stderr, raw, err)
}

func runWithdraw(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("withdraw", stderr)
	var vaultStr, amountStr, receiverStr string
	fs.StringVar(&vaultStr, "vault", "", "vault identifier")
	fs.StringVar(&amountStr, "amount", "", "amount to claim")
	fs.StringVar(&receiverStr, "receiver", "", "account credited with the claim (defaults to the caller)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if vaultStr == "" {
		return printError(stderr, "--vault is required")
	}
	id, err := types.ParseVaultID(vaultStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	amount, err := parseAmountFlag("amount", amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	withdraw := vault.WithdrawArgs{VaultID: id, Amount: amount}
	if receiverStr != "" {
		receiver, err := types.ParseAccountID(receiverStr)
		if err != nil {
			return printError(stderr, "--receiver: "+err.Error())
		}
		withdraw.ReceiverID = receiver
	}
	encoded, err := encodeArgs(withdraw)
	if err != nil {
		return printError(stderr, err.Error())
	}
	raw, err := c.submit(txRequest{Method: vault.MethodWithdrawFromVault, Args: encoded})
	return printResult(stdout, stderr, raw, err)
}

func runRegister(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("register", stderr)
	var deposit string
	fs.StringVar(&deposit, "deposit", "10000000000000000000000", "attached storage deposit; the surplus is refunded")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	amount, err := parseAmountFlag("deposit", deposit)
	if err != nil {
		return printError(stderr, err.Error())
	}
	raw, err := c.submit(txRequest{Method: vault.MethodRegisterAccount, Deposit: amount.Dec()})
	return printResult(stdout, stderr, raw, err)
}

func runUnregister(c *client, args []string, stdout, stderr io.Writer) int {
	if len(args) != 0 {
		return printError(stderr, "unregister takes no arguments")
	}
	raw, err := c.submit(txRequest{Method: vault.MethodUnregisterAccount})
	return printResult(stdout, stderr, raw, err)
}

func runCall(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("call", stderr)
	var (
		receiver, method, argsJSON, deposit string
		gasTGas                             uint64
		async                               bool
	)
	fs.StringVar(&receiver, "receiver", "", "target account (the token contract when empty)")
	fs.StringVar(&method, "method", "", "method name")
	fs.StringVar(&argsJSON, "args", "", "JSON arguments")
	fs.StringVar(&deposit, "deposit", "", "attached native deposit")
	fs.Uint64Var(&gasTGas, "gas", 0, "attached gas in TGas")
	fs.BoolVar(&async, "async", false, "return the receipt id without waiting")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(method) == "" {
		return printError(stderr, "--method is required")
	}
	tx := txRequest{Receiver: receiver, Method: method, Gas: gasTGas * uint64(types.TGas), Async: async}
	if argsJSON != "" {
		if !json.Valid([]byte(argsJSON)) {
			return printError(stderr, "--args must be valid JSON")
		}
		tx.Args = json.RawMessage(argsJSON)
	}
	if deposit != "" {
		amount, err := types.ParseAmount(deposit)
		if err != nil {
			return printError(stderr, err.Error())
		}
		tx.Deposit = amount.Dec()
	}
	raw, err := c.submit(tx)
	return printResult(stdout, stderr, raw, err)
}

func runIssueToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("issue-token", stderr)
	var (
		secret, account, scopes, issuer string
		ttl                             time.Duration
	)
	fs.StringVar(&secret, "secret", "", "gateway HMAC secret")
	fs.StringVar(&account, "account", "", "account placed in the token subject")
	fs.StringVar(&scopes, "scopes", "tx", "comma separated scopes")
	fs.StringVar(&issuer, "issuer", "", "issuer claim expected by the gateway")
	fs.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(secret) == "" {
		return printError(stderr, "--secret is required")
	}
	id, err := types.ParseAccountID(account)
	if err != nil {
		return printError(stderr, "--account: "+err.Error())
	}
	var scopeList []string
	for _, scope := range strings.Split(scopes, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			scopeList = append(scopeList, scope)
		}
	}
	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: secret, Issuer: issuer}, nil)
	token, err := auth.IssueToken(id, scopeList, ttl)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}
