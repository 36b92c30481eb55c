package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keymint/keymint/internal/idgen"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keymint",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keymint",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter wraps a Dispatcher to emit lifecycle events across subsystems.
// All methods are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(ownerID string, eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.DispatchToOwner(ctx, ownerID, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "owner", ownerID, "error", err)
	}
}

// --- License events ---

// EmitLicenseCreated emits a license.created event.
func (e *Emitter) EmitLicenseCreated(ownerID, licenseID, appID string) {
	e.emit(ownerID, EventLicenseCreated, map[string]interface{}{
		"licenseId":     licenseID,
		"applicationId": appID,
	})
}

// EmitLicenseConsumed emits a license.consumed event.
func (e *Emitter) EmitLicenseConsumed(ownerID, licenseID, appID string, currentUses int) {
	e.emit(ownerID, EventLicenseConsumed, map[string]interface{}{
		"licenseId":     licenseID,
		"applicationId": appID,
		"currentUses":   currentUses,
	})
}

// EmitLicenseRevoked emits a license.revoked event.
func (e *Emitter) EmitLicenseRevoked(ownerID, licenseID, appID string) {
	e.emit(ownerID, EventLicenseRevoked, map[string]interface{}{
		"licenseId":     licenseID,
		"applicationId": appID,
	})
}

// EmitLicenseSuspended emits a license.suspended event.
func (e *Emitter) EmitLicenseSuspended(ownerID, licenseID, appID string) {
	e.emit(ownerID, EventLicenseSuspended, map[string]interface{}{
		"licenseId":     licenseID,
		"applicationId": appID,
	})
}

// EmitLicenseActivated emits a license.activated event.
func (e *Emitter) EmitLicenseActivated(ownerID, licenseID, appID string) {
	e.emit(ownerID, EventLicenseActivated, map[string]interface{}{
		"licenseId":     licenseID,
		"applicationId": appID,
	})
}

// EmitLicenseExpired emits a license.expired event. Fired when a read or
// consume observes the expiry transition, not on a timer tick.
func (e *Emitter) EmitLicenseExpired(ownerID, licenseID, appID string) {
	e.emit(ownerID, EventLicenseExpired, map[string]interface{}{
		"licenseId":     licenseID,
		"applicationId": appID,
	})
}

// --- Session events ---

// EmitSessionStarted emits a session.started event.
func (e *Emitter) EmitSessionStarted(ownerID, sessionID, licenseID string) {
	e.emit(ownerID, EventSessionStarted, map[string]interface{}{
		"sessionId": sessionID,
		"licenseId": licenseID,
	})
}

// EmitSessionEnded emits a session.ended event.
func (e *Emitter) EmitSessionEnded(ownerID, sessionID, licenseID string) {
	e.emit(ownerID, EventSessionEnded, map[string]interface{}{
		"sessionId": sessionID,
		"licenseId": licenseID,
	})
}

// --- Application events ---

// EmitAppCreated emits an application.created event.
func (e *Emitter) EmitAppCreated(ownerID, appID, name string) {
	e.emit(ownerID, EventAppCreated, map[string]interface{}{
		"applicationId": appID,
		"name":          name,
	})
}

// EmitAppSuspended emits an application.suspended event.
func (e *Emitter) EmitAppSuspended(ownerID, appID string) {
	e.emit(ownerID, EventAppSuspended, map[string]interface{}{
		"applicationId": appID,
	})
}

// EmitAppDeleted emits an application.deleted event.
func (e *Emitter) EmitAppDeleted(ownerID, appID string, revokedLicenses int) {
	e.emit(ownerID, EventAppDeleted, map[string]interface{}{
		"applicationId":   appID,
		"revokedLicenses": revokedLicenses,
	})
}
