// Package handler exposes the coordinator's operator-facing HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/narenallam/e-commerce-saga/internal/contract"
	"github.com/narenallam/e-commerce-saga/internal/registry"
	"github.com/narenallam/e-commerce-saga/internal/saga"
	"github.com/narenallam/e-commerce-saga/internal/service"
	"github.com/narenallam/e-commerce-saga/internal/ws"
	commonerrors "github.com/narenallam/e-commerce-saga/pkg/errors"
	"github.com/narenallam/e-commerce-saga/pkg/logger"
	"github.com/narenallam/e-commerce-saga/pkg/response"
	"github.com/narenallam/e-commerce-saga/pkg/tracing"
)

// Coordinator is the service surface the handler depends on.
type Coordinator interface {
	SubmitOrder(ctx context.Context, req contract.OrderRequest) (saga.ExecutionResult, error)
	GetSaga(id string) (saga.Snapshot, bool)
	ListSagas() []saga.Snapshot
	AbortSaga(id string) (saga.Snapshot, error)
	Statistics() registry.Statistics
	Health(ctx context.Context) service.HealthReport
}

// Middleware wraps a handler, e.g. with a rate limit.
type Middleware func(http.Handler) http.Handler

// Handler serves the coordinator API.
type Handler struct {
	svc          Coordinator
	hub          *ws.Hub
	orderLimiter Middleware
	log          *logger.Logger
}

// New 创建 HTTP 处理器
func New(svc Coordinator, hub *ws.Hub, orderLimiter Middleware, log *logger.Logger) *Handler {
	return &Handler{
		svc:          svc,
		hub:          hub,
		orderLimiter: orderLimiter,
		log:          log,
	}
}

// OrderResponse is the reply to an order submission.
type OrderResponse struct {
	SagaID         string               `json:"saga_id"`
	OrderID        string               `json:"order_id,omitempty"`
	Status         saga.Status          `json:"status"`
	Message        string               `json:"message"`
	StepsCompleted int                  `json:"steps_completed"`
	TotalSteps     int                  `json:"total_steps"`
	Details        saga.ExecutionResult `json:"details"`
}

// Routes builds the coordinator mux with the common middleware applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", h.handleRoot)
	mux.HandleFunc("/api/coordinator/health", h.handleHealth)
	mux.HandleFunc("/api/coordinator/statistics", h.handleStatistics)
	mux.HandleFunc("/api/coordinator/sagas", h.handleListSagas)
	mux.HandleFunc("/api/coordinator/sagas/", h.handleSagaByID)

	var orders http.Handler = http.HandlerFunc(h.handleOrders)
	if h.orderLimiter != nil {
		orders = h.orderLimiter(orders)
	}
	mux.Handle("/api/coordinator/orders", orders)

	if h.hub != nil {
		mux.HandleFunc("/api/coordinator/events", h.hub.Handler())
	}

	return response.Correlate(response.Recovery(h.log, tracing.Middleware(mux)))
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		response.ErrorCode(w, r, commonerrors.CodeNotFound, "unknown path")
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"service": "saga-coordinator",
		"status":  "running",
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.ErrorCode(w, r, commonerrors.CodeInvalidRequest, "method not allowed")
		return
	}

	report := h.svc.Health(r.Context())
	code := http.StatusOK
	if report.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, code, report)
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.ErrorCode(w, r, commonerrors.CodeInvalidRequest, "method not allowed")
		return
	}
	response.JSON(w, http.StatusOK, h.svc.Statistics())
}

func (h *Handler) handleListSagas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.ErrorCode(w, r, commonerrors.CodeInvalidRequest, "method not allowed")
		return
	}

	snaps := h.svc.ListSagas()
	response.JSON(w, http.StatusOK, map[string]any{
		"active_sagas": len(snaps),
		"sagas":        snaps,
	})
}

func (h *Handler) handleSagaByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/coordinator/sagas/")
	if id == "" || strings.Contains(id, "/") {
		response.ErrorCode(w, r, commonerrors.CodeNotFound, "unknown path")
		return
	}

	switch r.Method {
	case http.MethodGet:
		snap, ok := h.svc.GetSaga(id)
		if !ok {
			response.Error(w, r, commonerrors.ErrSagaNotFound)
			return
		}
		response.JSON(w, http.StatusOK, snap)
	case http.MethodDelete:
		snap, err := h.svc.AbortSaga(id)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		response.JSON(w, http.StatusOK, map[string]any{
			"saga_id": snap.SagaID,
			"status":  snap.Status,
			"message": "abort requested; the in-flight step finishes first",
		})
	default:
		response.ErrorCode(w, r, commonerrors.CodeInvalidRequest, "method not allowed")
	}
}

func (h *Handler) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.ErrorCode(w, r, commonerrors.CodeInvalidRequest, "method not allowed")
		return
	}

	var req contract.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Protocol errors never create a saga.
		response.ErrorCode(w, r, commonerrors.CodeInvalidRequest, "malformed order request: "+err.Error())
		return
	}

	res, err := h.svc.SubmitOrder(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := OrderResponse{
		SagaID:  res.SagaID,
		OrderID: res.Context.OrderID,
		Status:  res.Status,
		Message: res.Message,
		Details: res,
	}
	if snap, ok := h.svc.GetSaga(res.SagaID); ok {
		resp.StepsCompleted = snap.StepsCompleted
		resp.TotalSteps = snap.TotalSteps
	}
	response.JSON(w, http.StatusOK, resp)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *commonerrors.Error
	if !errors.As(err, &ce) {
		h.log.WithContext(r.Context()).WithError(err).Error("coordinator request failed")
	}
	response.Error(w, r, err)
}
