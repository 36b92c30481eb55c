package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/keymint/keymint/internal/realtime"
	"github.com/keymint/keymint/internal/user"
	"github.com/keymint/keymint/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

// eventFanout delivers every lifecycle event to both outbound webhooks and
// connected WebSocket clients. Satisfies the EventEmitter interfaces of the
// license, apps and session services.
type eventFanout struct {
	webhooks *webhooks.Emitter
	hub      *realtime.Hub
}

func (f *eventFanout) EmitLicenseCreated(ownerID, licenseID, appID string) {
	f.webhooks.EmitLicenseCreated(ownerID, licenseID, appID)
	f.hub.EmitLicenseCreated(ownerID, licenseID, appID)
}

func (f *eventFanout) EmitLicenseConsumed(ownerID, licenseID, appID string, currentUses int) {
	f.webhooks.EmitLicenseConsumed(ownerID, licenseID, appID, currentUses)
	f.hub.EmitLicenseConsumed(ownerID, licenseID, appID, currentUses)
}

func (f *eventFanout) EmitLicenseRevoked(ownerID, licenseID, appID string) {
	f.webhooks.EmitLicenseRevoked(ownerID, licenseID, appID)
	f.hub.EmitLicenseRevoked(ownerID, licenseID, appID)
}

func (f *eventFanout) EmitLicenseSuspended(ownerID, licenseID, appID string) {
	f.webhooks.EmitLicenseSuspended(ownerID, licenseID, appID)
	f.hub.EmitLicenseSuspended(ownerID, licenseID, appID)
}

func (f *eventFanout) EmitLicenseActivated(ownerID, licenseID, appID string) {
	f.webhooks.EmitLicenseActivated(ownerID, licenseID, appID)
	f.hub.EmitLicenseActivated(ownerID, licenseID, appID)
}

func (f *eventFanout) EmitLicenseExpired(ownerID, licenseID, appID string) {
	f.webhooks.EmitLicenseExpired(ownerID, licenseID, appID)
	f.hub.EmitLicenseExpired(ownerID, licenseID, appID)
}

func (f *eventFanout) EmitSessionStarted(ownerID, sessionID, licenseID string) {
	f.webhooks.EmitSessionStarted(ownerID, sessionID, licenseID)
	f.hub.EmitSessionStarted(ownerID, sessionID, licenseID)
}

func (f *eventFanout) EmitSessionEnded(ownerID, sessionID, licenseID string) {
	f.webhooks.EmitSessionEnded(ownerID, sessionID, licenseID)
	f.hub.EmitSessionEnded(ownerID, sessionID, licenseID)
}

func (f *eventFanout) EmitAppCreated(ownerID, appID, name string) {
	f.webhooks.EmitAppCreated(ownerID, appID, name)
	f.hub.EmitAppCreated(ownerID, appID, name)
}

func (f *eventFanout) EmitAppSuspended(ownerID, appID string) {
	f.webhooks.EmitAppSuspended(ownerID, appID)
	f.hub.EmitAppSuspended(ownerID, appID)
}

func (f *eventFanout) EmitAppDeleted(ownerID, appID string, revokedLicenses int) {
	f.webhooks.EmitAppDeleted(ownerID, appID, revokedLicenses)
	f.hub.EmitAppDeleted(ownerID, appID, revokedLicenses)
}

// planLimiter resolves per-owner plan caps from the user service. Satisfies
// the PlanLimiter interfaces of the apps and license handlers.
type planLimiter struct {
	users *user.Service
}

func (p *planLimiter) ApplicationLimitFor(ctx context.Context, ownerID string) int {
	return p.planFor(ctx, ownerID).MaxApplications
}

func (p *planLimiter) LicenseLimitFor(ctx context.Context, ownerID string) int {
	return p.planFor(ctx, ownerID).MaxLicensesPerApp
}

func (p *planLimiter) planFor(ctx context.Context, ownerID string) user.PlanConfig {
	u, err := p.users.Get(ctx, ownerID)
	if err != nil {
		// Unknown owner: apply free-tier caps rather than unlimited
		return user.PlanFor(user.TierFree)
	}
	return user.PlanFor(u.Tier)
}
