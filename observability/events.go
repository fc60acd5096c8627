package observability

import (
	"vaulttoken/core/events"
)

// MetricsEmitter feeds committed events into the vault metrics.
type MetricsEmitter struct {
	metrics *VaultMetrics
}

// NewMetricsEmitter returns an emitter recording into m, or into the process
// registry when m is nil.
func NewMetricsEmitter(m *VaultMetrics) *MetricsEmitter {
	if m == nil {
		m = Vault()
	}
	return &MetricsEmitter{metrics: m}
}

// Emit implements events.Emitter.
func (e *MetricsEmitter) Emit(evt events.Event) {
	if e == nil {
		return
	}
	switch payload := events.Unwrap(evt).(type) {
	case events.VaultOpened:
		e.metrics.RecordOpened(payload.Amount)
	case events.VaultClaimed:
		e.metrics.RecordClaim(payload.Amount)
	case events.VaultResolved:
		e.metrics.RecordResolved(payload.Opened, payload.Refunded)
	case events.TokenTransfer:
		e.metrics.RecordTransfer()
	case events.AccountRegistered:
		e.metrics.RecordRegistration("registered")
	case events.AccountUnregistered:
		e.metrics.RecordRegistration("unregistered")
	case events.StorageRefund:
		e.metrics.RecordStorageRefund()
	}
}
