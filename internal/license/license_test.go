package license

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateLicenseKey_Format(t *testing.T) {
	key := generateLicenseKey()
	assert.True(t, strings.HasPrefix(key, "lic_"))
	assert.Len(t, key, 36) // "lic_" + 32 hex chars

	// No two keys alike.
	assert.NotEqual(t, key, generateLicenseKey())
}

func TestEffectiveStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name      string
		status    Status
		expiresAt *time.Time
		want      Status
	}{
		{"active no expiry", StatusActive, nil, StatusActive},
		{"active future expiry", StatusActive, &future, StatusActive},
		{"active past expiry", StatusActive, &past, StatusExpired},
		{"active expiring this instant", StatusActive, &now, StatusExpired},
		{"suspended past expiry keeps status", StatusSuspended, &past, StatusSuspended},
		{"revoked past expiry keeps status", StatusRevoked, &past, StatusRevoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &License{Status: tt.status, ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, l.EffectiveStatus(now))
		})
	}
}

func TestRemaining(t *testing.T) {
	unlimited := &License{MaxUses: 0, CurrentUses: 500}
	assert.Equal(t, -1, unlimited.Remaining())

	capped := &License{MaxUses: 10, CurrentUses: 3}
	assert.Equal(t, 7, capped.Remaining())

	exhausted := &License{MaxUses: 10, CurrentUses: 10}
	assert.Equal(t, 0, exhausted.Remaining())
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, (&License{Status: StatusRevoked}).IsTerminal())
	assert.False(t, (&License{Status: StatusExpired}).IsTerminal())
	assert.False(t, (&License{Status: StatusSuspended}).IsTerminal())
	assert.False(t, (&License{Status: StatusActive}).IsTerminal())
}

func TestValidStatus(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusSuspended, StatusExpired, StatusRevoked} {
		assert.True(t, ValidStatus(s))
	}
	assert.False(t, ValidStatus("deleted"))
	assert.False(t, ValidStatus(""))
}
