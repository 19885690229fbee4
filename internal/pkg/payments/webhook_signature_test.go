package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"
)

func signHeader(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifySignatureValid(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded"}`)
	now := time.Unix(1700000000, 0)
	header := signHeader(payload, "whsec_test", now.Unix())

	if !VerifyStripeWebhookSignature(payload, header, "whsec_test", now) {
		t.Fatal("valid signature rejected")
	}
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)
	header := signHeader(payload, "whsec_other", now.Unix())

	if VerifyStripeWebhookSignature(payload, header, "whsec_test", now) {
		t.Fatal("signature with wrong secret accepted")
	}
}

func TestVerifySignatureTamperedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)
	header := signHeader(payload, "whsec_test", now.Unix())

	if VerifyStripeWebhookSignature([]byte(`{"id":"evt_2"}`), header, "whsec_test", now) {
		t.Fatal("tampered payload accepted")
	}
}

func TestVerifySignatureStaleTimestamp(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)
	stale := now.Add(-DefaultSignatureTolerance - time.Second)
	header := signHeader(payload, "whsec_test", stale.Unix())

	if VerifyStripeWebhookSignature(payload, header, "whsec_test", now) {
		t.Fatal("stale timestamp accepted")
	}
}

func TestVerifySignatureFutureTimestampWithinTolerance(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)
	ahead := now.Add(time.Minute)
	header := signHeader(payload, "whsec_test", ahead.Unix())

	if !VerifyStripeWebhookSignature(payload, header, "whsec_test", now) {
		t.Fatal("slightly skewed clock rejected")
	}
}

func TestVerifySignatureMultipleCandidates(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)
	mac := hmac.New(sha256.New, []byte("whsec_test"))
	fmt.Fprintf(mac, "%d.", now.Unix())
	mac.Write(payload)
	// A rotated-secret header carries the old signature first.
	header := fmt.Sprintf("t=%d,v1=%s,v1=%s",
		now.Unix(), hex.EncodeToString(make([]byte, 32)), hex.EncodeToString(mac.Sum(nil)))

	if !VerifyStripeWebhookSignature(payload, header, "whsec_test", now) {
		t.Fatal("matching second candidate rejected")
	}
}

func TestVerifySignatureEmptyInputs(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Now()
	if VerifyStripeWebhookSignature(payload, "", "whsec_test", now) {
		t.Fatal("empty header accepted")
	}
	if VerifyStripeWebhookSignature(payload, "t=1,v1=ab", "", now) {
		t.Fatal("empty secret accepted")
	}
	if VerifyStripeWebhookSignature(payload, "v1=abcd", "whsec_test", now) {
		t.Fatal("header without timestamp accepted")
	}
}
