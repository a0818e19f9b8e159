// Package contract defines the wire contract between the coordinator and
// its participant services: participant names, endpoint paths, and the JSON
// envelopes exchanged on action, compensation, and health calls.
//
// Compensation endpoints MUST be idempotent: the coordinator retries
// compensation calls and never deduplicates them. A second call with the
// same order_id (and saga_id) has to return success for an already
// compensated step.
package contract

// Participant names a service the coordinator talks to.
type Participant string

const (
	ParticipantOrder        Participant = "order"
	ParticipantInventory    Participant = "inventory"
	ParticipantPayment      Participant = "payment"
	ParticipantShipping     Participant = "shipping"
	ParticipantNotification Participant = "notification"
)

// Participants lists every known participant in workflow order.
func Participants() []Participant {
	return []Participant{
		ParticipantOrder,
		ParticipantInventory,
		ParticipantPayment,
		ParticipantShipping,
		ParticipantNotification,
	}
}

// DefaultPorts 各参与方默认端口
var DefaultPorts = map[Participant]int{
	ParticipantOrder:        8000,
	ParticipantInventory:    8001,
	ParticipantPayment:      8002,
	ParticipantShipping:     8003,
	ParticipantNotification: 8004,
}

// HealthPath is the readiness probe path every participant exposes.
const HealthPath = "/health"

// Action endpoint paths.
const (
	OrderCreatePath        = "/api/orders"
	InventoryReservePath   = "/api/inventory/reserve"
	InventoryReleasePath   = "/api/inventory/release"
	PaymentProcessPath     = "/api/payments/process"
	PaymentRefundPath      = "/api/payments/refund"
	ShippingSchedulePath   = "/api/shipping/schedule"
	ShippingCancelPath     = "/api/shipping/cancel"
	NotificationSendPath   = "/api/notifications/send"
	NotificationCancelPath = "/api/notifications/cancel"
)

// Item is one order line.
type Item struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Address is a shipping destination.
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Country string `json:"country,omitempty"`
}

// Reservation is one reserved order line reported by the inventory service.
type Reservation struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// OrderRequest is the upstream request that starts an order saga.
type OrderRequest struct {
	CustomerID      string   `json:"customer_id"`
	Items           []Item   `json:"items"`
	TotalAmount     float64  `json:"total_amount"`
	ShippingAddress Address  `json:"shipping_address"`
	PaymentMethod   string   `json:"payment_method"`
	ShippingMethod  string   `json:"shipping_method"`
	Channels        []string `json:"channels,omitempty"`
}

// Envelope carries the required fields of every participant action response.
// A non-2xx reply signals infrastructure failure; 2xx with ok=false signals
// a business refusal.
type Envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	SagaID          string  `json:"saga_id"`
	CustomerID      string  `json:"customer_id"`
	Items           []Item  `json:"items"`
	TotalAmount     float64 `json:"total_amount"`
	ShippingAddress Address `json:"shipping_address"`
	PaymentMethod   string  `json:"payment_method"`
	ShippingMethod  string  `json:"shipping_method"`
}

type CreateOrderResponse struct {
	Envelope
	OrderID string `json:"order_id"`
}

// ReserveInventoryRequest 预留库存请求
type ReserveInventoryRequest struct {
	SagaID  string `json:"saga_id"`
	OrderID string `json:"order_id"`
	Items   []Item `json:"items"`
}

// ReserveInventoryResponse reports the reserved lines. On a refusal the
// partial list must still be present so a release can undo what was held.
type ReserveInventoryResponse struct {
	Envelope
	Reservations []Reservation `json:"reservations"`
}

// ProcessPaymentRequest 处理支付请求
type ProcessPaymentRequest struct {
	SagaID        string  `json:"saga_id"`
	OrderID       string  `json:"order_id"`
	CustomerID    string  `json:"customer_id"`
	TotalAmount   float64 `json:"total_amount"`
	PaymentMethod string  `json:"payment_method"`
}

type ProcessPaymentResponse struct {
	Envelope
	PaymentID string `json:"payment_id"`
}

// ScheduleShippingRequest 安排发货请求
type ScheduleShippingRequest struct {
	SagaID          string  `json:"saga_id"`
	OrderID         string  `json:"order_id"`
	ShippingAddress Address `json:"shipping_address"`
	ShippingMethod  string  `json:"shipping_method"`
	Items           []Item  `json:"items"`
}

// ScheduleShippingResponse may carry an empty tracking number for
// non-shipped items; the coordinator does not validate its content.
type ScheduleShippingResponse struct {
	Envelope
	ShippingID     string `json:"shipping_id"`
	TrackingNumber string `json:"tracking_number"`
}

// SendNotificationRequest 发送通知请求
type SendNotificationRequest struct {
	SagaID           string   `json:"saga_id"`
	OrderID          string   `json:"order_id"`
	CustomerID       string   `json:"customer_id"`
	NotificationType string   `json:"notification_type"`
	Channels         []string `json:"channels"`
}

type SendNotificationResponse struct {
	Envelope
	NotificationID string `json:"notification_id"`
}
