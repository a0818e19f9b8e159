package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/narenallam/e-commerce-saga/internal/communicator"
	"github.com/narenallam/e-commerce-saga/internal/config"
	"github.com/narenallam/e-commerce-saga/internal/contract"
	"github.com/narenallam/e-commerce-saga/internal/registry"
	"github.com/narenallam/e-commerce-saga/internal/saga"
	commonerrors "github.com/narenallam/e-commerce-saga/pkg/errors"
	"github.com/narenallam/e-commerce-saga/pkg/logger"
)

// participantDouble serves every participant endpoint from one mux.
type participantDouble struct {
	srv            *httptest.Server
	paymentRefuses bool
}

func newParticipantDouble(t *testing.T) *participantDouble {
	t.Helper()
	d := &participantDouble{}

	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}

	mux.HandleFunc(contract.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(contract.OrderCreatePath, func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"ok":true,"order_id":"o-1"}`)
	})
	mux.HandleFunc("/api/orders/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/cancel") {
			http.NotFound(w, r)
			return
		}
		reply(w, `{"ok":true}`)
	})
	mux.HandleFunc(contract.InventoryReservePath, func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"ok":true,"reservations":[{"product_id":"p-1","quantity":2}]}`)
	})
	mux.HandleFunc(contract.InventoryReleasePath, func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"ok":true}`)
	})
	mux.HandleFunc(contract.PaymentProcessPath, func(w http.ResponseWriter, r *http.Request) {
		if d.paymentRefuses {
			reply(w, `{"ok":false,"error":"card_declined"}`)
			return
		}
		reply(w, `{"ok":true,"payment_id":"pay-1"}`)
	})
	mux.HandleFunc(contract.PaymentRefundPath, func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"ok":true}`)
	})
	mux.HandleFunc(contract.ShippingSchedulePath, func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"ok":true,"shipping_id":"s-1","tracking_number":"t-1"}`)
	})
	mux.HandleFunc(contract.ShippingCancelPath, func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"ok":true}`)
	})
	mux.HandleFunc(contract.NotificationSendPath, func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"ok":true,"notification_id":"n-1"}`)
	})
	mux.HandleFunc(contract.NotificationCancelPath, func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"ok":true}`)
	})

	d.srv = httptest.NewServer(mux)
	t.Cleanup(d.srv.Close)
	return d
}

func (d *participantDouble) urls() map[contract.Participant]string {
	urls := make(map[contract.Participant]string)
	for _, p := range contract.Participants() {
		urls[p] = d.srv.URL
	}
	return urls
}

func newTestCoordinator(t *testing.T, d *participantDouble) *Coordinator {
	t.Helper()

	log := logger.New("service-test", io.Discard)
	cfg := &config.Config{
		MaxConcurrentSagas: 4,
		RequestTimeout:     2 * time.Second,
	}
	comm := communicator.New(communicator.Config{
		Timeout:       2 * time.Second,
		HealthTimeout: time.Second,
		MaxAttempts:   2,
		BackoffBase:   time.Millisecond,
		BackoffMax:    5 * time.Millisecond,
	}, d.urls(), log)
	engine := saga.NewEngine(comm, log)
	coord := New(cfg, comm, engine, registry.New(), log)
	t.Cleanup(coord.Close)
	return coord
}

func testOrder() contract.OrderRequest {
	return contract.OrderRequest{
		CustomerID:     "c-1",
		TotalAmount:    199.98,
		Items:          []contract.Item{{ProductID: "p-1", Quantity: 2, UnitPrice: 99.99}},
		PaymentMethod:  "CREDIT_CARD",
		ShippingMethod: "STANDARD",
	}
}

func TestSubmitOrderHappyPath(t *testing.T) {
	coord := newTestCoordinator(t, newParticipantDouble(t))

	res, err := coord.SubmitOrder(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("SubmitOrder returned error: %v", err)
	}
	if res.Status != saga.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", res.Status)
	}
	if res.Context.OrderID != "o-1" || res.Context.NotificationID != "n-1" {
		t.Fatalf("result context missing identifiers: %+v", res.Context)
	}

	snap, ok := coord.GetSaga(res.SagaID)
	if !ok {
		t.Fatal("saga not found in registry after submission")
	}
	if snap.Status != saga.StatusCompleted {
		t.Fatalf("registry status = %s, want COMPLETED", snap.Status)
	}
	if len(coord.ListSagas()) != 1 {
		t.Fatal("registry should hold exactly one saga")
	}
}

func TestSubmitOrderPaymentDeclined(t *testing.T) {
	double := newParticipantDouble(t)
	double.paymentRefuses = true
	coord := newTestCoordinator(t, double)

	res, err := coord.SubmitOrder(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("SubmitOrder returned error: %v", err)
	}
	if res.Status != saga.StatusFailed {
		t.Fatalf("status = %s, want FAILED", res.Status)
	}
	if res.FailedStepIndex == nil || *res.FailedStepIndex != 2 {
		t.Fatalf("failed step = %v, want 2", res.FailedStepIndex)
	}
	// Partial state still comes back so callers can reconcile externally.
	if res.Context.OrderID != "o-1" {
		t.Fatalf("result context order_id = %q, want o-1", res.Context.OrderID)
	}
	if res.CompensatedSteps != 2 {
		t.Fatalf("compensated steps = %d, want 2", res.CompensatedSteps)
	}
}

func TestSubmitOrderValidation(t *testing.T) {
	coord := newTestCoordinator(t, newParticipantDouble(t))

	tests := []struct {
		name   string
		mutate func(*contract.OrderRequest)
	}{
		{"missing customer", func(r *contract.OrderRequest) { r.CustomerID = "" }},
		{"no items", func(r *contract.OrderRequest) { r.Items = nil }},
		{"zero quantity", func(r *contract.OrderRequest) { r.Items[0].Quantity = 0 }},
		{"zero amount", func(r *contract.OrderRequest) { r.TotalAmount = 0 }},
		{"missing payment method", func(r *contract.OrderRequest) { r.PaymentMethod = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testOrder()
			tt.mutate(&req)

			_, err := coord.SubmitOrder(context.Background(), req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			ce, ok := err.(*commonerrors.Error)
			if !ok || ce.Code != commonerrors.CodeInvalidParam {
				t.Fatalf("error = %v, want INVALID_PARAM", err)
			}
		})
	}

	if got := len(coord.ListSagas()); got != 0 {
		t.Fatalf("invalid requests created %d sagas, want 0", got)
	}
}

func TestAbortSaga(t *testing.T) {
	coord := newTestCoordinator(t, newParticipantDouble(t))

	if _, err := coord.AbortSaga("missing"); err != commonerrors.ErrSagaNotFound {
		t.Fatalf("abort missing = %v, want ErrSagaNotFound", err)
	}

	res, err := coord.SubmitOrder(context.Background(), testOrder())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := coord.AbortSaga(res.SagaID); err != commonerrors.ErrSagaNotRunning {
		t.Fatalf("abort terminal = %v, want ErrSagaNotRunning", err)
	}
}

func TestHealthReport(t *testing.T) {
	coord := newTestCoordinator(t, newParticipantDouble(t))

	report := coord.Health(context.Background())
	if report.Status != "healthy" {
		t.Fatalf("status = %s, want healthy", report.Status)
	}
	if len(report.Participants) != 5 {
		t.Fatalf("participants = %d, want 5", len(report.Participants))
	}
	for p, up := range report.Participants {
		if !up {
			t.Fatalf("participant %s reported down", p)
		}
	}
}

func TestHealthReportDegraded(t *testing.T) {
	double := newParticipantDouble(t)
	log := logger.New("service-test", io.Discard)

	urls := double.urls()
	urls[contract.ParticipantShipping] = "http://127.0.0.1:1" // unreachable

	comm := communicator.New(communicator.Config{
		Timeout:       time.Second,
		HealthTimeout: 200 * time.Millisecond,
		MaxAttempts:   1,
		BackoffBase:   time.Millisecond,
		BackoffMax:    time.Millisecond,
	}, urls, log)
	coord := New(&config.Config{MaxConcurrentSagas: 1}, comm, saga.NewEngine(comm, log), registry.New(), log)
	defer coord.Close()

	report := coord.Health(context.Background())
	if report.Status != "degraded" {
		t.Fatalf("status = %s, want degraded", report.Status)
	}
	if report.Participants[contract.ParticipantShipping] {
		t.Fatal("shipping should be reported down")
	}
}
