package saga

import (
	"encoding/json"
	"testing"

	"github.com/narenallam/e-commerce-saga/internal/contract"
)

func TestNewSagaInitialState(t *testing.T) {
	s := NewOrderSaga(testOrderRequest())

	if s.ID == "" {
		t.Fatal("saga must get an ID at creation")
	}
	if s.Status() != StatusStarted {
		t.Fatalf("status = %s, want STARTED", s.Status())
	}

	snap := s.Snapshot()
	if snap.TotalSteps != 5 {
		t.Fatalf("total steps = %d, want 5", snap.TotalSteps)
	}
	if snap.StepsCompleted != 0 {
		t.Fatalf("steps completed = %d, want 0", snap.StepsCompleted)
	}
	for i, st := range snap.Steps {
		if st.Status != StepPending {
			t.Fatalf("step %d status = %s, want PENDING", i, st.Status)
		}
	}
	if snap.Context.SagaID != s.ID {
		t.Fatalf("context saga_id = %q, want %q", snap.Context.SagaID, s.ID)
	}
	if snap.FailedStepIndex != nil {
		t.Fatalf("failed step = %v, want nil", *snap.FailedStepIndex)
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusStarted, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusAborted, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Fatalf("Terminal(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestLifecycleRejectsDoubleTransition(t *testing.T) {
	s := New("x", nil, Context{})

	if err := s.fire(triggerComplete); err != nil {
		t.Fatalf("first transition failed: %v", err)
	}
	if err := s.fire(triggerFail); err == nil {
		t.Fatal("a terminal saga must reject further transitions")
	}
	if s.Status() != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", s.Status())
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewOrderSaga(testOrderRequest())

	snap := s.Snapshot()
	snap.Context.OrderID = "tampered"
	snap.Context.Items[0].Quantity = 99

	ctx := s.SharedContext()
	if ctx.OrderID != "" {
		t.Fatal("snapshot mutation leaked into the saga context")
	}
	if ctx.Items[0].Quantity != 2 {
		t.Fatal("snapshot item mutation leaked into the saga context")
	}
}

func TestOrderSagaDefinition(t *testing.T) {
	s := NewOrderSaga(testOrderRequest())

	wantParticipants := []contract.Participant{
		contract.ParticipantOrder,
		contract.ParticipantInventory,
		contract.ParticipantPayment,
		contract.ParticipantShipping,
		contract.ParticipantNotification,
	}
	wantActions := []string{
		contract.OrderCreatePath,
		contract.InventoryReservePath,
		contract.PaymentProcessPath,
		contract.ShippingSchedulePath,
		contract.NotificationSendPath,
	}

	if len(s.steps) != len(wantParticipants) {
		t.Fatalf("steps = %d, want %d", len(s.steps), len(wantParticipants))
	}
	for i, st := range s.steps {
		if st.Participant != wantParticipants[i] {
			t.Fatalf("step %d participant = %s, want %s", i, st.Participant, wantParticipants[i])
		}
		if st.ActionPath != wantActions[i] {
			t.Fatalf("step %d action = %s, want %s", i, st.ActionPath, wantActions[i])
		}
	}

	if !s.steps[1].CompensateOnRefusal {
		t.Fatal("inventory step must compensate on refusal")
	}
	if s.steps[2].CompensateOnRefusal {
		t.Fatal("payment step must not compensate on refusal")
	}
}

func TestOrderCompensationPathUsesOrderID(t *testing.T) {
	s := NewOrderSaga(testOrderRequest())

	c := Context{OrderID: "o-42"}
	if got := s.steps[0].CompensationPath(c); got != "/api/orders/o-42/cancel" {
		t.Fatalf("order cancel path = %q", got)
	}
	if got := s.steps[1].CompensationPath(c); got != contract.InventoryReleasePath {
		t.Fatalf("inventory release path = %q", got)
	}
}

func TestOrderSagaDefaultsNotificationChannels(t *testing.T) {
	s := NewOrderSaga(testOrderRequest())

	ctx := s.SharedContext()
	if ctx.NotificationType != "order_confirmation" {
		t.Fatalf("notification type = %q", ctx.NotificationType)
	}
	if len(ctx.Channels) != 1 || ctx.Channels[0] != "email" {
		t.Fatalf("channels = %v, want [email]", ctx.Channels)
	}

	req := testOrderRequest()
	req.Channels = []string{"sms", "push"}
	ctx = NewOrderSaga(req).SharedContext()
	if len(ctx.Channels) != 2 || ctx.Channels[0] != "sms" {
		t.Fatalf("channels = %v, want [sms push]", ctx.Channels)
	}
}

func TestStepPayloadBuilders(t *testing.T) {
	s := NewOrderSaga(testOrderRequest())
	c := s.SharedContext()
	c.OrderID = "o-7"

	raw, err := json.Marshal(s.steps[3].BuildPayload(c))
	if err != nil {
		t.Fatalf("marshal shipping payload: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode shipping payload: %v", err)
	}
	if payload["order_id"] != "o-7" {
		t.Fatalf("shipping payload order_id = %v", payload["order_id"])
	}
	if payload["shipping_method"] != "STANDARD" {
		t.Fatalf("shipping payload method = %v", payload["shipping_method"])
	}
}

func TestMergeResponseSetsOwnFieldsOnly(t *testing.T) {
	s := NewOrderSaga(testOrderRequest())

	c := Context{SagaID: "s-1", OrderID: "o-1"}
	if err := s.steps[2].MergeResponse([]byte(`{"ok":true,"payment_id":"pay-9"}`), &c); err != nil {
		t.Fatalf("merge payment response: %v", err)
	}
	if c.PaymentID != "pay-9" {
		t.Fatalf("payment_id = %q, want pay-9", c.PaymentID)
	}
	if c.OrderID != "o-1" {
		t.Fatal("payment merger must not touch order_id")
	}

	if err := s.steps[2].MergeResponse([]byte(`{broken`), &c); err == nil {
		t.Fatal("malformed body must fail the merge")
	}
}
