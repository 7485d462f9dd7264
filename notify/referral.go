package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ColReferrals is the collection whose record-created events trigger the
// referral side flow.
const ColReferrals = "referrals"

// Referral is the document written when one user refers another.
type Referral struct {
	ID            string    `json:"id"`
	ReferrerID    string    `json:"referrerId"`
	ReferrerEmail string    `json:"referrerEmail"`
	ReferredID    string    `json:"referredId"`
	ReferredEmail string    `json:"referredEmail"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ReferralHandler reacts to a new referral record with a signed push
// notification to the referrer plus a thank-you email to each side.
// Every failure is logged and dropped; the referral record stands
// regardless. Deliveries are deduplicated on referral ID so redelivered
// events do not double-send.
type ReferralHandler struct {
	emails     EmailSender
	fromAddr   string
	webhookURL string
	signer     *Signer
	client     *http.Client
	logger     *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewReferralHandler(emails EmailSender, fromAddr, webhookURL string, signer *Signer, logger *slog.Logger) *ReferralHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReferralHandler{
		emails:     emails,
		fromAddr:   fromAddr,
		webhookURL: webhookURL,
		signer:     signer,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		seen:       make(map[string]struct{}),
	}
}

func (h *ReferralHandler) HandleRecordCreated(ctx context.Context, ev RecordCreated) {
	if ev.Collection != ColReferrals {
		return
	}

	var ref Referral
	if err := json.Unmarshal(ev.Doc, &ref); err != nil {
		h.logger.Error("malformed referral record", "key", ev.Key, "error", err)
		return
	}
	if ref.ID == "" {
		ref.ID = ev.Key
	}

	h.mu.Lock()
	if _, dup := h.seen[ref.ID]; dup {
		h.mu.Unlock()
		return
	}
	h.seen[ref.ID] = struct{}{}
	h.mu.Unlock()

	h.notifyReferrer(ctx, ref)

	if h.emails != nil {
		h.sendEmail(ctx, Email{
			From:    h.fromAddr,
			To:      []string{ref.ReferrerEmail},
			Subject: "Thanks for spreading the word!",
			HTML:    "<p>Your friend just joined. Your bonus stamp is on its way.</p>",
		}, ref.ID)
		h.sendEmail(ctx, Email{
			From:    h.fromAddr,
			To:      []string{ref.ReferredEmail},
			Subject: "Welcome to the stamp card!",
			HTML:    "<p>Show your QR code at any participating store to start collecting stamps.</p>",
		}, ref.ID)
	}
}

func (h *ReferralHandler) notifyReferrer(ctx context.Context, ref Referral) {
	if h.webhookURL == "" {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"userId": ref.ReferrerID,
		"title":  "Referral accepted",
		"body":   "Your friend joined the stamp card program.",
	})
	if err != nil {
		h.logger.Error("encode referral notification", "referral_id", ref.ID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.webhookURL, bytes.NewReader(payload))
	if err != nil {
		h.logger.Error("build referral notification", "referral_id", ref.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if h.signer != nil {
		req.Header.Set("X-Signature", h.signer.Sign(payload))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Error("send referral notification", "referral_id", ref.ID, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		h.logger.Error("referral notification rejected", "referral_id", ref.ID, "status", resp.StatusCode)
	}
}

func (h *ReferralHandler) sendEmail(ctx context.Context, email Email, referralID string) {
	if len(email.To) == 0 || email.To[0] == "" {
		return
	}
	if err := h.emails.SendEmail(ctx, email); err != nil {
		h.logger.Error("send referral email", "referral_id", referralID, "to", email.To[0], "error", err)
	}
}
