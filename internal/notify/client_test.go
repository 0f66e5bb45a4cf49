package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendReferralCreated_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/notifications/referral" {
			t.Fatalf("path = %s, want /api/notifications/referral", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("content-type = %q, want application/json", ct)
		}

		var n ReferralNotification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n.PartnerID != 7 || n.ReferralFee != 30000 || n.RemainingBalance != 20000 {
			t.Fatalf("unexpected notification: %+v", n)
		}

		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.SendReferralCreated(ctx, ReferralNotification{
		PartnerID:        7,
		PartnerEmail:     "partner@example.com",
		CompanyName:      "Example Works",
		DiagnosisNumber:  "D-0042",
		ReferralFee:      30000,
		RemainingBalance: 20000,
	})
	if err != nil {
		t.Fatalf("SendReferralCreated error: %v", err)
	}
}

func TestSendReferralCreated_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.SendReferralCreated(ctx, ReferralNotification{PartnerID: 1})
	if err == nil {
		t.Fatalf("expected error for 500 response")
	}
}

func TestSendReferralCreated_NotConfigured(t *testing.T) {
	client := NewClient("")

	err := client.SendReferralCreated(context.Background(), ReferralNotification{PartnerID: 1})
	if err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}
