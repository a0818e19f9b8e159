// Package service owns the coordinator's wiring: it accepts order
// requests, runs sagas on a bounded pool, and answers supervision queries.
package service

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/narenallam/e-commerce-saga/internal/communicator"
	"github.com/narenallam/e-commerce-saga/internal/config"
	"github.com/narenallam/e-commerce-saga/internal/contract"
	"github.com/narenallam/e-commerce-saga/internal/registry"
	"github.com/narenallam/e-commerce-saga/internal/saga"
	commonerrors "github.com/narenallam/e-commerce-saga/pkg/errors"
	"github.com/narenallam/e-commerce-saga/pkg/logger"
	"github.com/narenallam/e-commerce-saga/pkg/tracing"
)

// HealthReport is the coordinator's own health plus per-participant
// reachability.
type HealthReport struct {
	Status       string                        `json:"status"`
	Participants map[contract.Participant]bool `json:"participants"`
}

// Coordinator runs order sagas.
type Coordinator struct {
	cfg    *config.Config
	comm   *communicator.Communicator
	engine *saga.Engine
	reg    *registry.Registry
	log    *logger.Logger

	sem    *semaphore.Weighted
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建协调器服务
func New(cfg *config.Config, comm *communicator.Communicator, engine *saga.Engine, reg *registry.Registry, log *logger.Logger) *Coordinator {
	base, cancel := context.WithCancel(context.Background())

	maxConcurrent := cfg.MaxConcurrentSagas
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &Coordinator{
		cfg:    cfg,
		comm:   comm,
		engine: engine,
		reg:    reg,
		log:    log,
		sem:    semaphore.NewWeighted(maxConcurrent),
		base:   base,
		cancel: cancel,
	}
}

// SubmitOrder creates an order saga and drives it to a terminal status.
// Submission blocks while the worker pool is saturated; the engine itself
// applies no rate limiting.
func (c *Coordinator) SubmitOrder(ctx context.Context, req contract.OrderRequest) (saga.ExecutionResult, error) {
	if err := validateOrder(req); err != nil {
		return saga.ExecutionResult{}, err
	}

	s := saga.NewOrderSaga(req)
	if err := c.reg.Register(s); err != nil {
		return saga.ExecutionResult{}, commonerrors.New(commonerrors.CodeSagaAlreadyExists, err.Error())
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.reg.Evict(s.ID)
		return saga.ExecutionResult{}, commonerrors.New(commonerrors.CodeSystemBusy, "saga pool saturated")
	}
	defer c.sem.Release(1)

	c.wg.Add(1)
	defer c.wg.Done()

	// Run on the coordinator's own context: a dropped client connection
	// must not cancel an in-flight saga mid-step.
	runCtx, span := tracing.SagaSpan(c.base, s.ID)
	defer span.End()

	res, err := c.engine.Execute(runCtx, s)
	if err != nil {
		return saga.ExecutionResult{}, commonerrors.New(commonerrors.CodeInternal, err.Error())
	}
	return res, nil
}

func validateOrder(req contract.OrderRequest) *commonerrors.Error {
	if req.CustomerID == "" {
		return commonerrors.New(commonerrors.CodeInvalidParam, "customer_id is required")
	}
	if len(req.Items) == 0 {
		return commonerrors.New(commonerrors.CodeInvalidParam, "items must not be empty")
	}
	for _, item := range req.Items {
		if item.ProductID == "" {
			return commonerrors.New(commonerrors.CodeInvalidParam, "item product_id is required")
		}
		if item.Quantity <= 0 {
			return commonerrors.Newf(commonerrors.CodeInvalidParam, "item %s quantity must be positive", item.ProductID)
		}
	}
	if req.TotalAmount <= 0 {
		return commonerrors.New(commonerrors.CodeInvalidParam, "total_amount must be positive")
	}
	if req.PaymentMethod == "" {
		return commonerrors.New(commonerrors.CodeInvalidParam, "payment_method is required")
	}
	return nil
}

// GetSaga returns a snapshot of one saga.
func (c *Coordinator) GetSaga(id string) (saga.Snapshot, bool) {
	return c.reg.Get(id)
}

// ListSagas returns snapshots of every registered saga.
func (c *Coordinator) ListSagas() []saga.Snapshot {
	return c.reg.List()
}

// AbortSaga requests cancellation of a running saga. The in-flight step
// finishes before the engine honors it.
func (c *Coordinator) AbortSaga(id string) (saga.Snapshot, error) {
	snap, err := c.reg.Abort(id)
	switch err {
	case nil:
		c.log.Infof("saga abort requested", map[string]interface{}{"sagaID": id})
		return snap, nil
	case registry.ErrNotFound:
		return saga.Snapshot{}, commonerrors.ErrSagaNotFound
	case registry.ErrNotRunning:
		return snap, commonerrors.ErrSagaNotRunning
	default:
		return saga.Snapshot{}, commonerrors.New(commonerrors.CodeInternal, err.Error())
	}
}

// Statistics aggregates over the registry.
func (c *Coordinator) Statistics() registry.Statistics {
	return c.reg.Statistics()
}

// Health probes every participant and reports overall readiness.
func (c *Coordinator) Health(ctx context.Context) HealthReport {
	participants := c.comm.ProbeAll(ctx)

	status := "healthy"
	for _, up := range participants {
		if !up {
			status = "degraded"
			break
		}
	}

	return HealthReport{
		Status:       status,
		Participants: participants,
	}
}

// Close stops accepting work and waits for in-flight sagas to finish their
// current run.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}
