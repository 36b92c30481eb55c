package realtime

import "github.com/keymint/keymint/internal/webhooks"

// The hub mirrors the webhook emitter's method set so the domain services
// can fan events out to both delivery paths through one interface.

func (h *Hub) EmitLicenseCreated(ownerID, licenseID, appID string) {
	h.Publish(ownerID, string(webhooks.EventLicenseCreated), map[string]interface{}{
		"licenseId": licenseID, "applicationId": appID,
	})
}

func (h *Hub) EmitLicenseConsumed(ownerID, licenseID, appID string, currentUses int) {
	h.Publish(ownerID, string(webhooks.EventLicenseConsumed), map[string]interface{}{
		"licenseId": licenseID, "applicationId": appID, "currentUses": currentUses,
	})
}

func (h *Hub) EmitLicenseRevoked(ownerID, licenseID, appID string) {
	h.Publish(ownerID, string(webhooks.EventLicenseRevoked), map[string]interface{}{
		"licenseId": licenseID, "applicationId": appID,
	})
}

func (h *Hub) EmitLicenseSuspended(ownerID, licenseID, appID string) {
	h.Publish(ownerID, string(webhooks.EventLicenseSuspended), map[string]interface{}{
		"licenseId": licenseID, "applicationId": appID,
	})
}

func (h *Hub) EmitLicenseActivated(ownerID, licenseID, appID string) {
	h.Publish(ownerID, string(webhooks.EventLicenseActivated), map[string]interface{}{
		"licenseId": licenseID, "applicationId": appID,
	})
}

func (h *Hub) EmitLicenseExpired(ownerID, licenseID, appID string) {
	h.Publish(ownerID, string(webhooks.EventLicenseExpired), map[string]interface{}{
		"licenseId": licenseID, "applicationId": appID,
	})
}

func (h *Hub) EmitSessionStarted(ownerID, sessionID, licenseID string) {
	h.Publish(ownerID, string(webhooks.EventSessionStarted), map[string]interface{}{
		"sessionId": sessionID, "licenseId": licenseID,
	})
}

func (h *Hub) EmitSessionEnded(ownerID, sessionID, licenseID string) {
	h.Publish(ownerID, string(webhooks.EventSessionEnded), map[string]interface{}{
		"sessionId": sessionID, "licenseId": licenseID,
	})
}

func (h *Hub) EmitAppCreated(ownerID, appID, name string) {
	h.Publish(ownerID, string(webhooks.EventAppCreated), map[string]interface{}{
		"applicationId": appID, "name": name,
	})
}

func (h *Hub) EmitAppSuspended(ownerID, appID string) {
	h.Publish(ownerID, string(webhooks.EventAppSuspended), map[string]interface{}{
		"applicationId": appID,
	})
}

func (h *Hub) EmitAppDeleted(ownerID, appID string, revokedLicenses int) {
	h.Publish(ownerID, string(webhooks.EventAppDeleted), map[string]interface{}{
		"applicationId": appID, "revokedLicenses": revokedLicenses,
	})
}
