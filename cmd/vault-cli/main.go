package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const defaultGateway = "http://localhost:8080"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	client := newClient(envOr("VAULT_GATEWAY_URL", defaultGateway))
	client.account = strings.TrimSpace(os.Getenv("VAULT_ACCOUNT"))
	client.token = strings.TrimSpace(os.Getenv("VAULT_TOKEN"))

	args, err := applyGlobalFlags(client, args)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	command, rest := args[0], args[1:]
	switch command {
	case "supply":
		return runSupply(client, rest, stdout, stderr)
	case "balance":
		return runBalance(client, rest, stdout, stderr)
	case "native":
		return runNative(client, rest, stdout, stderr)
	case "vault":
		return runVault(client, rest, stdout, stderr)
	case "receipt":
		return runReceipt(client, rest, stdout, stderr)
	case "events":
		return runEvents(client, rest, stdout, stderr)
	case "transfer":
		return runTransfer(client, rest, stdout, stderr)
	case "send":
		return runSend(client, rest, stdout, stderr)
	case "withdraw":
		return runWithdraw(client, rest, stdout, stderr)
	case "register":
		return runRegister(client, rest, stdout, stderr)
	case "unregister":
		return runUnregister(client, rest, stdout, stderr)
	case "call":
		return runCall(client, rest, stdout, stderr)
	case "issue-token":
		return runIssueToken(rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

// applyGlobalFlags consumes --gateway, --as and --token ahead of the command.
func applyGlobalFlags(c *client, args []string) ([]string, error) {
	for len(args) > 0 && strings.HasPrefix(args[0], "--") {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(args[0], "--"), "=")
		if !hasValue {
			if len(args) < 2 {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[1]
			args = args[1:]
		}
		args = args[1:]
		switch name {
		case "gateway":
			c.baseURL = strings.TrimRight(strings.TrimSpace(value), "/")
		case "as":
			c.account = strings.TrimSpace(value)
		case "token":
			c.token = strings.TrimSpace(value)
		default:
			return nil, fmt.Errorf("unknown global flag --%s", name)
		}
	}
	return args, nil
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func usage() string {
	return `Usage: vault-cli [--gateway URL] [--as ACCOUNT] [--token JWT] <command> [flags]

Queries:
  supply                          total token supply
  balance <account>               token balance
  native <account>                native balance
  vault <id>                      open vault details
  receipt <id>                    receipt outcome
  events [--type --vault --account --after --limit]

Transactions (signed as --as, or the JWT subject when --token is set):
  transfer --to ACCOUNT --amount N
  send --to ACCOUNT --amount N [--payload TEXT] [--gas TGAS]
  withdraw --vault ID --amount N [--receiver ACCOUNT]
  register [--deposit N]
  unregister
  call --method NAME [--receiver ACCOUNT] [--args JSON] [--deposit N] [--gas TGAS] [--async]

Credentials:
  issue-token --secret S --account ACCOUNT [--scopes tx] [--ttl 24h]`
}
