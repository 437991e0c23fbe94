package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/mail"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
)

func TestClosePayment_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/nodo/nodo-per-pm/v2/closepayment" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req ClosePaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.TransactionID != "tx1" || req.Outcome != models.OutcomeKO {
			t.Errorf("req=%+v", req)
		}
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("missing api key")
		}
		_, _ = w.Write([]byte(`{"outcome":"OK"}`))
	}))
	defer srv.Close()

	c := NewSettlementClient(Config{URI: srv.URL + "/", APIKey: "k"})
	out, err := c.ClosePayment(context.Background(), ClosePaymentRequest{TransactionID: "tx1", Outcome: models.OutcomeKO})
	if err != nil {
		t.Fatal(err)
	}
	if out != models.OutcomeOK {
		t.Fatalf("outcome=%s", out)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status        int
		want          error
		unrecoverable bool
	}{
		{http.StatusBadRequest, ErrBadRequest, true},
		{http.StatusNotFound, ErrNotFound, true},
		{http.StatusUnauthorized, ErrUnauthorized, false},
		{http.StatusInternalServerError, ErrBadGateway, false},
		{http.StatusGatewayTimeout, ErrBadGateway, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		_, err := NewGatewayClient(Config{URI: srv.URL}).RequestRefund(context.Background(), models.GatewayVPOS, "auth-1")
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: err=%v want %v", tc.status, err, tc.want)
		}
		if IsUnrecoverable(err) != tc.unrecoverable {
			t.Fatalf("status %d: unrecoverable=%v", tc.status, IsUnrecoverable(err))
		}
		var se *StatusError
		if !errors.As(err, &se) || se.Status != tc.status || se.Body != "nope" {
			t.Fatalf("status error=%+v", se)
		}
	}
}

func TestReadTimeoutIsRecoverable(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewNotificationsClient(Config{URI: srv.URL, ConnectTimeout: 50 * time.Millisecond, ReadTimeout: 50 * time.Millisecond})
	err := c.SendEmail(context.Background(), mail.Request{To: "a@b.it"})
	if err == nil {
		t.Fatal("expected timeout")
	}
	if IsUnrecoverable(err) {
		t.Fatalf("timeout must be recoverable: %v", err)
	}
}

func TestRequestRefund_Paths(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Method+" "+r.URL.Path)
		_, _ = w.Write([]byte(`{"refundOutcome":"OK"}`))
	}))
	defer srv.Close()
	c := NewGatewayClient(Config{URI: srv.URL})
	for _, g := range []models.PaymentGateway{models.GatewayVPOS, models.GatewayXPAY, models.GatewayNPG} {
		resp, err := c.RequestRefund(context.Background(), g, "a1")
		if err != nil || resp.Outcome != "OK" {
			t.Fatalf("%s: resp=%+v err=%v", g, resp, err)
		}
	}
	want := []string{"DELETE /request-payments/vpos/a1", "DELETE /request-payments/xpay/a1", "DELETE /request-payments/npg/a1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got=%v", got)
		}
	}
	if _, err := c.RequestRefund(context.Background(), "", "a1"); !IsUnrecoverable(err) {
		t.Fatalf("unknown gateway err=%v", err)
	}
}

func TestGetAuthorizationState(t *testing.T) {
	states := map[string]AuthorizationState{
		`{"state":"AUTHORIZED","authorizationCode":"123"}`: {Outcome: models.OutcomeOK, AuthorizationCode: "123"},
		`{"state":"PENDING"}`:                             {Pending: true},
		`{"state":"DECLINED"}`:                            {Outcome: models.OutcomeKO},
	}
	for body, want := range states {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/npg/state/a1" {
				t.Errorf("path=%s", r.URL.Path)
			}
			_, _ = w.Write([]byte(body))
		}))
		got, err := NewGatewayClient(Config{URI: srv.URL}).GetAuthorizationState(context.Background(), "a1")
		srv.Close()
		if err != nil || got != want {
			t.Fatalf("%s: got=%+v err=%v", body, got, err)
		}
	}
}

func TestSaveLastUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/user/u1/lastPaymentMethodUsed" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	if err := NewUserStatsClient(Config{URI: srv.URL}).SaveLastUsage(context.Background(), "u1", LastUsage{WalletID: "w"}); err != nil {
		t.Fatal(err)
	}
}
