package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	paymentdomain "github.com/asterhq/tally/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateInvoice(t *testing.T) {
	var gotAuth string
	var gotReq paymentdomain.CreateInvoiceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/invoices", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "pi_123"})
	}))
	defer srv.Close()

	c := New(srv.URL, "sk_test")
	id, err := c.CreateInvoice(context.Background(), paymentdomain.CreateInvoiceRequest{
		CustomerRef: "42",
		Amount:      7150,
		Currency:    "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", id)
	assert.Equal(t, "Bearer sk_test", gotAuth)
	assert.Equal(t, int64(7150), gotReq.Amount)
}

func TestCreateInvoiceMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").CreateInvoice(context.Background(), paymentdomain.CreateInvoiceRequest{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func TestGetInvoiceStatus(t *testing.T) {
	paidAt := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/invoices/pi_123", r.URL.Path)
		_ = json.NewEncoder(w).Encode(paymentdomain.InvoiceStatus{Paid: true, PaidAt: &paidAt})
	}))
	defer srv.Close()

	status, err := New(srv.URL, "sk_test").GetInvoiceStatus(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.True(t, status.Paid)
	require.NotNil(t, status.PaidAt)
	assert.Equal(t, paidAt, status.PaidAt.UTC())
}

func TestErrorStatusSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invoice not found", http.StatusNotFound)
	}))
	defer srv.Close()

	err := New(srv.URL, "sk_test").SendInvoiceNotification(context.Background(), "pi_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "invoice not found")
}
