package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// MemoryStore tests
// ---------------------------------------------------------------------------

func TestMemoryStore_CRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := &Subscription{
		ID:        "wh_test1",
		OwnerID:   "usr_1",
		URL:       "https://example.com/hook",
		Secret:    "secret123",
		Events:    []EventType{EventLicenseCreated},
		Active:    true,
		CreatedAt: time.Now(),
	}

	// Create
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Get
	got, err := store.Get(ctx, "wh_test1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.URL != "https://example.com/hook" {
		t.Errorf("Expected URL, got %s", got.URL)
	}

	// Update
	sub.Active = false
	_ = store.Update(ctx, sub)
	got, _ = store.Get(ctx, "wh_test1")
	if got.Active {
		t.Error("Expected inactive after update")
	}

	// Delete
	_ = store.Delete(ctx, "wh_test1")
	_, err = store.Get(ctx, "wh_test1")
	if err == nil {
		t.Error("Expected error after delete")
	}
}

func TestMemoryStore_GetByOwner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Create(ctx, &Subscription{ID: "wh1", OwnerID: "usr_a", Events: []EventType{EventLicenseCreated}})
	_ = store.Create(ctx, &Subscription{ID: "wh2", OwnerID: "usr_b", Events: []EventType{EventLicenseCreated}})
	_ = store.Create(ctx, &Subscription{ID: "wh3", OwnerID: "usr_a", Events: []EventType{EventLicenseRevoked}})

	subs, _ := store.GetByOwner(ctx, "usr_a")
	if len(subs) != 2 {
		t.Errorf("Expected 2 subs for usr_a, got %d", len(subs))
	}
}

func TestMemoryStore_GetByEvent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Create(ctx, &Subscription{ID: "wh1", Events: []EventType{EventLicenseCreated, EventLicenseConsumed}})
	_ = store.Create(ctx, &Subscription{ID: "wh2", Events: []EventType{EventLicenseRevoked}})
	_ = store.Create(ctx, &Subscription{ID: "wh3", Events: []EventType{EventLicenseCreated}})

	subs, _ := store.GetByEvent(ctx, EventLicenseCreated)
	if len(subs) != 2 {
		t.Errorf("Expected 2 subs for license.created, got %d", len(subs))
	}
}

// ---------------------------------------------------------------------------
// Signature tests
// ---------------------------------------------------------------------------

func TestSign(t *testing.T) {
	d := NewDispatcher(NewMemoryStore())

	payload := []byte(`{"type":"license.created","data":{}}`)
	secret := "test_secret_key"

	sig := d.sign(payload, secret)

	// Verify manually
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))

	if sig != expected {
		t.Errorf("Signature mismatch: got %s, want %s", sig, expected)
	}
}

// ---------------------------------------------------------------------------
// Delivery tests
// ---------------------------------------------------------------------------

func TestDispatchToOwner_DeliversSignedEvent(t *testing.T) {
	var delivered atomic.Int32
	var gotSig, gotEvent string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Keymint-Signature")
		gotEvent = r.Header.Get("X-Keymint-Event")
		gotBody, _ = io.ReadAll(r.Body)
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Subscription{
		ID:      "wh_deliver",
		OwnerID: "usr_1",
		URL:     server.URL,
		Secret:  "s3cret",
		Events:  []EventType{EventLicenseConsumed},
		Active:  true,
	})

	d := NewDispatcher(store)
	event := &Event{
		ID:        "evt_1",
		Type:      EventLicenseConsumed,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"licenseId": "lic_x"},
	}
	if err := d.DispatchToOwner(ctx, "usr_1", event); err != nil {
		t.Fatalf("DispatchToOwner failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for delivered.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if delivered.Load() != 1 {
		t.Fatalf("Expected 1 delivery, got %d", delivered.Load())
	}

	if gotEvent != "license.consumed" {
		t.Errorf("Expected event header license.consumed, got %s", gotEvent)
	}

	// Signature must verify against the delivered body
	h := hmac.New(sha256.New, []byte("s3cret"))
	h.Write(gotBody)
	if gotSig != hex.EncodeToString(h.Sum(nil)) {
		t.Error("Delivered signature does not verify")
	}

	var got Event
	if err := json.Unmarshal(gotBody, &got); err != nil {
		t.Fatalf("Delivered body is not valid JSON: %v", err)
	}
	if got.Data["licenseId"] != "lic_x" {
		t.Errorf("Expected licenseId lic_x in payload, got %v", got.Data["licenseId"])
	}
}

func TestDispatch_SkipsUnsubscribedEvents(t *testing.T) {
	var delivered atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Subscription{
		ID:      "wh_other",
		OwnerID: "usr_1",
		URL:     server.URL,
		Events:  []EventType{EventLicenseRevoked},
		Active:  true,
	})

	d := NewDispatcher(store)
	_ = d.DispatchToOwner(ctx, "usr_1", &Event{Type: EventLicenseConsumed, Timestamp: time.Now()})

	time.Sleep(100 * time.Millisecond)
	if delivered.Load() != 0 {
		t.Errorf("Expected no delivery for unsubscribed event, got %d", delivered.Load())
	}
}

func TestDispatch_DisablesAfterRepeatedFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	sub := &Subscription{
		ID:      "wh_failing",
		OwnerID: "usr_1",
		URL:     server.URL,
		Events:  []EventType{EventLicenseCreated},
		Active:  true,
	}
	_ = store.Create(ctx, sub)

	d := NewDispatcher(store)
	for i := 0; i < maxConsecutiveFailures; i++ {
		d.send(ctx, sub, &Event{Type: EventLicenseCreated, Timestamp: time.Now()})
	}

	got, _ := store.Get(ctx, "wh_failing")
	if got.Active {
		t.Error("Expected subscription disabled after repeated failures")
	}
	if got.ConsecutiveFailures < maxConsecutiveFailures {
		t.Errorf("Expected %d consecutive failures, got %d", maxConsecutiveFailures, got.ConsecutiveFailures)
	}
}

func TestValidEventType(t *testing.T) {
	if !ValidEventType(EventLicenseConsumed) {
		t.Error("Expected license.consumed to be valid")
	}
	if ValidEventType("payment.received") {
		t.Error("Expected unknown event type to be invalid")
	}
}
