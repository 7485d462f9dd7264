package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu       sync.Mutex
	emails   []Email
	webhooks []string // X-Signature header per delivery
	bodies   [][]byte
}

func newReferralFixture(t *testing.T, signer *Signer) (*capture, *ReferralHandler) {
	t.Helper()
	rec := &capture{}

	emailSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/emails", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var e Email
		require.NoError(t, json.NewDecoder(r.Body).Decode(&e))
		rec.mu.Lock()
		rec.emails = append(rec.emails, e)
		rec.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(emailSrv.Close)

	webhookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.webhooks = append(rec.webhooks, r.Header.Get("X-Signature"))
		rec.bodies = append(rec.bodies, body)
		rec.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(webhookSrv.Close)

	handler := NewReferralHandler(
		NewEmailClient(emailSrv.URL, "test-key"),
		"GrouMap <noreply@groumap.app>",
		webhookSrv.URL,
		signer,
		nil,
	)
	return rec, handler
}

func referralEvent(t *testing.T, ref Referral) RecordCreated {
	t.Helper()
	doc, err := json.Marshal(ref)
	require.NoError(t, err)
	return RecordCreated{
		Collection: ColReferrals,
		Key:        ref.ID,
		Doc:        doc,
		OccurredAt: time.Now(),
	}
}

func TestReferralHandler_SendsNotificationAndEmails(t *testing.T) {
	signer := NewSigner("hook-secret")
	rec, handler := newReferralFixture(t, signer)

	bus := NewBus(nil)
	bus.Subscribe(handler)

	ref := Referral{
		ID:            "ref-1",
		ReferrerID:    "user-1",
		ReferrerEmail: "alice@example.com",
		ReferredID:    "user-2",
		ReferredEmail: "bob@example.com",
	}
	bus.Publish(context.Background(), referralEvent(t, ref))
	bus.Drain()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	require.Len(t, rec.emails, 2)
	recipients := []string{rec.emails[0].To[0], rec.emails[1].To[0]}
	assert.ElementsMatch(t, []string{"alice@example.com", "bob@example.com"}, recipients)

	require.Len(t, rec.webhooks, 1)
	assert.True(t, signer.Verify(rec.bodies[0], rec.webhooks[0]), "webhook payload must carry a valid signature")

	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.bodies[0], &payload))
	assert.Equal(t, "user-1", payload["userId"])
}

func TestReferralHandler_DuplicateDelivery(t *testing.T) {
	rec, handler := newReferralFixture(t, nil)

	bus := NewBus(nil)
	bus.Subscribe(handler)

	ref := Referral{ID: "ref-1", ReferrerID: "user-1", ReferrerEmail: "alice@example.com", ReferredEmail: "bob@example.com"}
	ev := referralEvent(t, ref)
	bus.Publish(context.Background(), ev)
	bus.Publish(context.Background(), ev)
	bus.Drain()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.emails, 2, "redelivery must not double-send")
}

func TestReferralHandler_IgnoresOtherCollections(t *testing.T) {
	rec, handler := newReferralFixture(t, nil)

	handler.HandleRecordCreated(context.Background(), RecordCreated{
		Collection: "stamp_history",
		Key:        "h-1",
		Doc:        json.RawMessage(`{"id":"h-1"}`),
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.emails)
	assert.Empty(t, rec.webhooks)
}

func TestReferralHandler_EmailFailureDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	handler := NewReferralHandler(NewEmailClient(srv.URL, "k"), "from@x", "", nil, nil)
	handler.HandleRecordCreated(context.Background(), referralEvent(t, Referral{
		ID:            "ref-err",
		ReferrerEmail: "a@x",
		ReferredEmail: "b@x",
	}))
}
