package webhook

import (
	"context"
	"net/http"
	"testing"
	"time"

	paymentdomain "github.com/asterhq/tally/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v, err := NewVerifier("whsec_test")
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_1","event":"invoice.paid","external_invoice_id":"ext_42"}`)
	headers := http.Header{}
	headers.Set(SignatureHeader, v.Sign(payload, time.Unix(1764585600, 0)))

	assert.NoError(t, v.Verify(context.Background(), payload, headers))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	v, err := NewVerifier("whsec_test")
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_1","event":"invoice.paid","external_invoice_id":"ext_42"}`)
	headers := http.Header{}
	headers.Set(SignatureHeader, v.Sign(payload, time.Unix(1764585600, 0)))

	tampered := []byte(`{"id":"evt_1","event":"invoice.paid","external_invoice_id":"ext_43"}`)
	assert.ErrorIs(t, v.Verify(context.Background(), tampered, headers), paymentdomain.ErrInvalidSignature)
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	v, err := NewVerifier("whsec_test")
	require.NoError(t, err)
	assert.ErrorIs(t, v.Verify(context.Background(), []byte(`{}`), http.Header{}), paymentdomain.ErrInvalidSignature)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("   ")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}

func TestParsePaidEvent(t *testing.T) {
	event, err := Parse(context.Background(), []byte(`{
		"id": "evt_9",
		"event": "invoice.paid",
		"external_invoice_id": "ext_42",
		"created": 1764585600,
		"metadata": {"source": "poll"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypeInvoicePaid, event.Type)
	assert.Equal(t, "ext_42", event.ExternalInvoiceID)
	assert.Equal(t, time.Unix(1764585600, 0).UTC(), event.OccurredAt)
	assert.Equal(t, "poll", event.Metadata["source"])
}

func TestParseIgnoresUnknownEventTypes(t *testing.T) {
	_, err := Parse(context.Background(), []byte(`{"id":"evt_9","event":"invoice.voided","external_invoice_id":"ext_42"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
}

func TestParseRejectsMalformedPayload(t *testing.T) {
	_, err := Parse(context.Background(), []byte(`not-json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	_, err = Parse(context.Background(), []byte(`{"event":"invoice.paid","external_invoice_id":"x"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)

	_, err = Parse(context.Background(), []byte(`{"id":"evt_1","event":"invoice.paid"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
}
