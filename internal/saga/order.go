package saga

import (
	"encoding/json"
	"fmt"

	"github.com/narenallam/e-commerce-saga/internal/contract"
)

// defaultChannels is used when the upstream request names none.
var defaultChannels = []string{"email"}

// NewOrderSaga builds the five-step order fulfillment workflow: create the
// order, reserve inventory, take payment, schedule shipping, notify the
// customer. The step sequence and the context fields each step reads and
// writes are part of the participant contract.
func NewOrderSaga(req contract.OrderRequest) *Saga {
	channels := req.Channels
	if len(channels) == 0 {
		channels = defaultChannels
	}

	initial := Context{
		CustomerID:       req.CustomerID,
		Items:            append([]contract.Item(nil), req.Items...),
		TotalAmount:      req.TotalAmount,
		ShippingAddress:  req.ShippingAddress,
		PaymentMethod:    req.PaymentMethod,
		ShippingMethod:   req.ShippingMethod,
		NotificationType: "order_confirmation",
		Channels:         append([]string(nil), channels...),
	}

	steps := []*Step{
		createOrderStep(),
		reserveInventoryStep(),
		processPaymentStep(),
		scheduleShippingStep(),
		sendNotificationStep(),
	}

	return New("order fulfillment", steps, initial)
}

func createOrderStep() *Step {
	return &Step{
		Participant: contract.ParticipantOrder,
		ActionPath:  contract.OrderCreatePath,
		CompensationPath: func(c Context) string {
			return fmt.Sprintf("/api/orders/%s/cancel", c.OrderID)
		},
		BuildPayload: func(c Context) any {
			return contract.CreateOrderRequest{
				SagaID:          c.SagaID,
				CustomerID:      c.CustomerID,
				Items:           c.Items,
				TotalAmount:     c.TotalAmount,
				ShippingAddress: c.ShippingAddress,
				PaymentMethod:   c.PaymentMethod,
				ShippingMethod:  c.ShippingMethod,
			}
		},
		MergeResponse: func(body []byte, c *Context) error {
			var resp contract.CreateOrderResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return err
			}
			c.OrderID = resp.OrderID
			return nil
		},
	}
}

func reserveInventoryStep() *Step {
	return &Step{
		Participant: contract.ParticipantInventory,
		ActionPath:  contract.InventoryReservePath,
		CompensationPath: func(Context) string {
			return contract.InventoryReleasePath
		},
		// A refused reservation can still hold part of the requested stock;
		// the refusal reply carries the partial list so release undoes it.
		CompensateOnRefusal: true,
		BuildPayload: func(c Context) any {
			return contract.ReserveInventoryRequest{
				SagaID:  c.SagaID,
				OrderID: c.OrderID,
				Items:   c.Items,
			}
		},
		MergeResponse: func(body []byte, c *Context) error {
			var resp contract.ReserveInventoryResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return err
			}
			c.InventoryReservations = resp.Reservations
			return nil
		},
	}
}

func processPaymentStep() *Step {
	return &Step{
		Participant: contract.ParticipantPayment,
		ActionPath:  contract.PaymentProcessPath,
		CompensationPath: func(Context) string {
			return contract.PaymentRefundPath
		},
		BuildPayload: func(c Context) any {
			return contract.ProcessPaymentRequest{
				SagaID:        c.SagaID,
				OrderID:       c.OrderID,
				CustomerID:    c.CustomerID,
				TotalAmount:   c.TotalAmount,
				PaymentMethod: c.PaymentMethod,
			}
		},
		MergeResponse: func(body []byte, c *Context) error {
			var resp contract.ProcessPaymentResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return err
			}
			c.PaymentID = resp.PaymentID
			return nil
		},
	}
}

func scheduleShippingStep() *Step {
	return &Step{
		Participant: contract.ParticipantShipping,
		ActionPath:  contract.ShippingSchedulePath,
		CompensationPath: func(Context) string {
			return contract.ShippingCancelPath
		},
		BuildPayload: func(c Context) any {
			return contract.ScheduleShippingRequest{
				SagaID:          c.SagaID,
				OrderID:         c.OrderID,
				ShippingAddress: c.ShippingAddress,
				ShippingMethod:  c.ShippingMethod,
				Items:           c.Items,
			}
		},
		MergeResponse: func(body []byte, c *Context) error {
			var resp contract.ScheduleShippingResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return err
			}
			// An empty tracking number is accepted for non-shipped items.
			c.ShippingID = resp.ShippingID
			c.TrackingNumber = resp.TrackingNumber
			return nil
		},
	}
}

func sendNotificationStep() *Step {
	return &Step{
		Participant: contract.ParticipantNotification,
		ActionPath:  contract.NotificationSendPath,
		CompensationPath: func(Context) string {
			return contract.NotificationCancelPath
		},
		BuildPayload: func(c Context) any {
			return contract.SendNotificationRequest{
				SagaID:           c.SagaID,
				OrderID:          c.OrderID,
				CustomerID:       c.CustomerID,
				NotificationType: c.NotificationType,
				Channels:         c.Channels,
			}
		},
		MergeResponse: func(body []byte, c *Context) error {
			var resp contract.SendNotificationResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return err
			}
			c.NotificationID = resp.NotificationID
			return nil
		},
	}
}
