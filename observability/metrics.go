package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics tracks the escrow lifecycle and ledger activity as observed
// from committed events.
type VaultMetrics struct {
	opened        prometheus.Counter
	claims        prometheus.Counter
	resolved      *prometheus.CounterVec
	open          prometheus.Gauge
	escrowed      prometheus.Gauge
	transfers     prometheus.Counter
	registrations *prometheus.CounterVec
	storageRefund prometheus.Counter
}

type gatewayMetrics struct {
	throttles *prometheus.CounterVec
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics

	gatewayMetricsOnce sync.Once
	gatewayRegistry    *gatewayMetrics
)

// Vault returns the lazily-initialised vault metrics registry.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			opened: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "escrow",
				Name:      "opened_total",
				Help:      "Count of vaults opened by transfer_with_vault.",
			}),
			claims: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "escrow",
				Name:      "claims_total",
				Help:      "Count of successful withdrawals from vaults.",
			}),
			resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "escrow",
				Name:      "resolved_total",
				Help:      "Count of resolved vaults segmented by how the funds were split.",
			}, []string{"outcome"}),
			open: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vault",
				Subsystem: "escrow",
				Name:      "open",
				Help:      "Vaults opened and not yet resolved since process start.",
			}),
			escrowed: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vault",
				Subsystem: "escrow",
				Name:      "escrowed_tokens",
				Help:      "Tokens currently held in vaults opened since process start.",
			}),
			transfers: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "ledger",
				Name:      "transfers_total",
				Help:      "Count of direct token transfers.",
			}),
			registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "ledger",
				Name:      "registrations_total",
				Help:      "Account registrations and removals.",
			}, []string{"action"}),
			storageRefund: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "ledger",
				Name:      "storage_refunds_total",
				Help:      "Count of storage deposit refunds.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.opened,
			vaultRegistry.claims,
			vaultRegistry.resolved,
			vaultRegistry.open,
			vaultRegistry.escrowed,
			vaultRegistry.transfers,
			vaultRegistry.registrations,
			vaultRegistry.storageRefund,
		)
	})
	return vaultRegistry
}

// RecordOpened tracks a new vault holding amount.
func (m *VaultMetrics) RecordOpened(amount *uint256.Int) {
	if m == nil {
		return
	}
	m.opened.Inc()
	m.open.Inc()
	m.escrowed.Add(toFloat(amount))
}

// RecordClaim tracks amount leaving a vault.
func (m *VaultMetrics) RecordClaim(amount *uint256.Int) {
	if m == nil {
		return
	}
	m.claims.Inc()
	m.escrowed.Sub(toFloat(amount))
}

// RecordResolved tracks the finalization of a vault that still held refunded
// tokens.
func (m *VaultMetrics) RecordResolved(opened, refunded *uint256.Int) {
	if m == nil {
		return
	}
	m.resolved.WithLabelValues(resolveOutcome(opened, refunded)).Inc()
	m.open.Dec()
	m.escrowed.Sub(toFloat(refunded))
}

// RecordTransfer counts a direct ledger transfer.
func (m *VaultMetrics) RecordTransfer() {
	if m == nil {
		return
	}
	m.transfers.Inc()
}

// RecordRegistration counts a registration change. Action should be
// "registered" or "unregistered".
func (m *VaultMetrics) RecordRegistration(action string) {
	if m == nil {
		return
	}
	action = strings.TrimSpace(action)
	if action == "" {
		action = "unknown"
	}
	m.registrations.WithLabelValues(action).Inc()
}

// RecordStorageRefund counts a storage deposit refund.
func (m *VaultMetrics) RecordStorageRefund() {
	if m == nil {
		return
	}
	m.storageRefund.Inc()
}

// Gateway returns the metrics registry for gateway throttling.
func Gateway() *gatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &gatewayMetrics{
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of gateway requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(gatewayRegistry.throttles)
	})
	return gatewayRegistry
}

// RecordThrottle increments the throttle counter for route and reason.
func (m *gatewayMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

func resolveOutcome(opened, refunded *uint256.Int) string {
	switch {
	case refunded == nil || refunded.IsZero():
		return "claimed"
	case opened != nil && refunded.Eq(opened):
		return "refunded"
	default:
		return "partial"
	}
}

func toFloat(amount *uint256.Int) float64 {
	if amount == nil {
		return 0
	}
	if amount.IsUint64() {
		return float64(amount.Uint64())
	}
	value, _ := new(big.Float).SetInt(amount.ToBig()).Float64()
	if math.IsInf(value, 0) {
		return math.MaxFloat64
	}
	return value
}
