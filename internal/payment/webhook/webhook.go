// Package webhook verifies and parses inbound payment-processor events.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/asterhq/tally/internal/payment/domain"
)

// SignatureHeader carries the processor's HMAC signature:
// "t=<unix>,v1=<hex>" with possibly repeated v1 entries.
const SignatureHeader = "Tally-Signature"

type Verifier struct {
	secret string
}

func NewVerifier(secret string) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Verifier{secret: secret}, nil
}

// Verify checks the HMAC-SHA256 signature over "<timestamp>.<payload>".
func (v *Verifier) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(v.secret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

// Sign produces a valid signature header for payload. Tests and the local
// processor stub use it; production events are signed by the processor.
func (v *Verifier) Sign(payload []byte, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(v.secret))
	_, _ = mac.Write([]byte(timestamp + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

// Parse decodes a webhook body into the canonical event. Unknown event types
// return ErrEventIgnored so callers can acknowledge without acting.
func Parse(ctx context.Context, payload []byte) (*paymentdomain.Event, error) {
	var raw wireEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	externalID := strings.TrimSpace(raw.ExternalInvoiceID)
	if externalID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	eventType := strings.TrimSpace(raw.Event)
	switch eventType {
	case paymentdomain.EventTypeInvoicePaid, paymentdomain.EventTypeInvoicePending:
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	occurredAt := time.Now().UTC()
	if raw.Created > 0 {
		occurredAt = time.Unix(raw.Created, 0).UTC()
	}

	return &paymentdomain.Event{
		Type:              eventType,
		ProviderEventID:   raw.ID,
		ExternalInvoiceID: externalID,
		OccurredAt:        occurredAt,
		Metadata:          raw.Metadata,
		RawPayload:        payload,
	}, nil
}

type wireEvent struct {
	ID                string         `json:"id"`
	Event             string         `json:"event"`
	ExternalInvoiceID string         `json:"external_invoice_id"`
	Created           int64          `json:"created"`
	Metadata          map[string]any `json:"metadata"`
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 {
			continue
		}
		switch pair[0] {
		case "t":
			timestamp = pair[1]
		case "v1":
			signatures = append(signatures, pair[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return "", nil, paymentdomain.ErrInvalidSignature
	}
	if _, err := strconv.ParseInt(timestamp, 10, 64); err != nil {
		return "", nil, paymentdomain.ErrInvalidSignature
	}
	return timestamp, signatures, nil
}
