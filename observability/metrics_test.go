package observability

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"vaulttoken/core/events"
)

func TestMetricsEmitterTracksVaultLifecycle(t *testing.T) {
	m := Vault()
	emitter := NewMetricsEmitter(nil)

	openedBefore := testutil.ToFloat64(m.opened)
	openBefore := testutil.ToFloat64(m.open)
	escrowedBefore := testutil.ToFloat64(m.escrowed)
	claimsBefore := testutil.ToFloat64(m.claims)
	partialBefore := testutil.ToFloat64(m.resolved.WithLabelValues("partial"))

	emitter.Emit(events.Envelope{Sequence: 1, Payload: events.VaultOpened{
		VaultID: 1, Sender: "alice", Receiver: "bob", Amount: uint256.NewInt(100),
	}})
	if got := testutil.ToFloat64(m.open) - openBefore; got != 1 {
		t.Fatalf("open gauge delta = %v", got)
	}
	if got := testutil.ToFloat64(m.escrowed) - escrowedBefore; got != 100 {
		t.Fatalf("escrowed delta = %v", got)
	}

	emitter.Emit(events.VaultClaimed{VaultID: 1, Receiver: "bob", Claimant: "bob", Amount: uint256.NewInt(40), Remaining: uint256.NewInt(60)})
	emitter.Emit(events.VaultResolved{VaultID: 1, Sender: "alice", Opened: uint256.NewInt(100), Refunded: uint256.NewInt(60)})

	if got := testutil.ToFloat64(m.opened) - openedBefore; got != 1 {
		t.Fatalf("opened delta = %v", got)
	}
	if got := testutil.ToFloat64(m.claims) - claimsBefore; got != 1 {
		t.Fatalf("claims delta = %v", got)
	}
	if got := testutil.ToFloat64(m.resolved.WithLabelValues("partial")) - partialBefore; got != 1 {
		t.Fatalf("partial resolutions delta = %v", got)
	}
	if got := testutil.ToFloat64(m.open) - openBefore; got != 0 {
		t.Fatalf("open gauge should return to baseline, delta = %v", got)
	}
	if got := testutil.ToFloat64(m.escrowed) - escrowedBefore; got != 0 {
		t.Fatalf("escrowed should return to baseline, delta = %v", got)
	}
}

func TestMetricsEmitterLedgerEvents(t *testing.T) {
	m := Vault()
	emitter := NewMetricsEmitter(m)

	registeredBefore := testutil.ToFloat64(m.registrations.WithLabelValues("registered"))
	transfersBefore := testutil.ToFloat64(m.transfers)
	refundsBefore := testutil.ToFloat64(m.storageRefund)

	emitter.Emit(events.AccountRegistered{Account: "bob", Payer: "alice"})
	emitter.Emit(events.TokenTransfer{From: "alice", To: "bob", Amount: uint256.NewInt(1)})
	emitter.Emit(events.StorageRefund{Account: "alice", Amount: uint256.NewInt(5)})

	if got := testutil.ToFloat64(m.registrations.WithLabelValues("registered")) - registeredBefore; got != 1 {
		t.Fatalf("registrations delta = %v", got)
	}
	if got := testutil.ToFloat64(m.transfers) - transfersBefore; got != 1 {
		t.Fatalf("transfers delta = %v", got)
	}
	if got := testutil.ToFloat64(m.storageRefund) - refundsBefore; got != 1 {
		t.Fatalf("storage refunds delta = %v", got)
	}
}

func TestResolveOutcome(t *testing.T) {
	cases := []struct {
		opened, refunded uint64
		want             string
	}{
		{100, 0, "claimed"},
		{100, 100, "refunded"},
		{100, 30, "partial"},
	}
	for _, tc := range cases {
		if got := resolveOutcome(uint256.NewInt(tc.opened), uint256.NewInt(tc.refunded)); got != tc.want {
			t.Fatalf("resolveOutcome(%d, %d) = %s, want %s", tc.opened, tc.refunded, got, tc.want)
		}
	}
}

func TestGatewayThrottles(t *testing.T) {
	g := Gateway()
	before := testutil.ToFloat64(g.throttles.WithLabelValues("unknown", "rate_limit"))
	g.RecordThrottle("", "rate_limit")
	if got := testutil.ToFloat64(g.throttles.WithLabelValues("unknown", "rate_limit")) - before; got != 1 {
		t.Fatalf("throttle delta = %v", got)
	}
}
