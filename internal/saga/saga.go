// Package saga drives a multi-step business transaction across participant
// services: forward execution with a shared typed context, and best-effort
// reverse-order compensation on failure or abort.
package saga

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/narenallam/e-commerce-saga/internal/contract"
)

// Status is the saga lifecycle state.
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusAborted   Status = "ABORTED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// StepStatus 步骤状态
type StepStatus string

const (
	StepPending            StepStatus = "PENDING"
	StepInFlight           StepStatus = "IN_FLIGHT"
	StepSucceeded          StepStatus = "SUCCEEDED"
	StepFailed             StepStatus = "FAILED"
	StepCompensated        StepStatus = "COMPENSATED"
	StepCompensationFailed StepStatus = "COMPENSATION_FAILED"
)

// Phase distinguishes forward execution from compensation in the log.
type Phase string

const (
	PhaseForward      Phase = "FORWARD"
	PhaseCompensation Phase = "COMPENSATION"
)

// Outcome is the result of one logged step attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Context is the shared per-saga record carried from step to step. Keys a
// step merges in are never overwritten by a different participant; each
// merger only sets the fields its own step owns.
type Context struct {
	SagaID           string           `json:"saga_id"`
	CustomerID       string           `json:"customer_id,omitempty"`
	Items            []contract.Item  `json:"items,omitempty"`
	TotalAmount      float64          `json:"total_amount,omitempty"`
	ShippingAddress  contract.Address `json:"shipping_address"`
	PaymentMethod    string           `json:"payment_method,omitempty"`
	ShippingMethod   string           `json:"shipping_method,omitempty"`
	NotificationType string           `json:"notification_type,omitempty"`
	Channels         []string         `json:"channels,omitempty"`

	OrderID               string                 `json:"order_id,omitempty"`
	InventoryReservations []contract.Reservation `json:"inventory_reservations,omitempty"`
	PaymentID             string                 `json:"payment_id,omitempty"`
	ShippingID            string                 `json:"shipping_id,omitempty"`
	TrackingNumber        string                 `json:"tracking_number,omitempty"`
	NotificationID        string                 `json:"notification_id,omitempty"`
}

func (c Context) clone() Context {
	out := c
	out.Items = append([]contract.Item(nil), c.Items...)
	out.Channels = append([]string(nil), c.Channels...)
	out.InventoryReservations = append([]contract.Reservation(nil), c.InventoryReservations...)
	return out
}

// LogEntry is one append-only record of a step attempt.
type LogEntry struct {
	Index       int                  `json:"index"`
	Participant contract.Participant `json:"participant"`
	Phase       Phase                `json:"phase"`
	Outcome     Outcome              `json:"outcome"`
	Elapsed     time.Duration        `json:"elapsed"`
	ErrorKind   string               `json:"error_kind,omitempty"`
	ErrorDetail string               `json:"error_detail,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
}

// Step is one interaction with one participant: an action and its matching
// compensation. Builders and mergers must be pure; the merger is the only
// sanctioned way the shared context gains data.
type Step struct {
	Participant      contract.Participant
	ActionPath       string
	CompensationPath func(Context) string
	Timeout          time.Duration // 0 = communicator default

	// CompensateOnRefusal marks steps whose participant can be left with
	// partial effects by a business refusal (2xx, ok=false). Such a step is
	// itself a compensation target even though it never succeeded.
	CompensateOnRefusal bool

	BuildPayload  func(Context) any
	MergeResponse func(body []byte, c *Context) error

	// run state, guarded by the owning saga's mutex
	status       StepStatus
	forwardOK    bool
	requestData  json.RawMessage
	responseData json.RawMessage
	errKind      string
	errDetail    string
	startedAt    time.Time
	finishedAt   time.Time
}

const (
	triggerComplete = "complete"
	triggerFail     = "fail"
	triggerAbort    = "abort"
)

// Saga is one transaction instance. It is mutated only by the engine that
// executes it; concurrent readers get consistent copies via Snapshot.
type Saga struct {
	ID          string
	Description string
	CreatedAt   time.Time

	mu             sync.Mutex
	fsm            *stateless.StateMachine
	steps          []*Step
	shared         Context
	log            []LogEntry
	failedStep     int
	abortRequested bool
	updatedAt      time.Time
}

// New creates a saga in STARTED with a fresh ID merged into the context.
func New(description string, steps []*Step, initial Context) *Saga {
	id := uuid.NewString()
	initial.SagaID = id

	fsm := stateless.NewStateMachine(StatusStarted)
	fsm.Configure(StatusStarted).
		Permit(triggerComplete, StatusCompleted).
		Permit(triggerFail, StatusFailed).
		Permit(triggerAbort, StatusAborted)

	for _, st := range steps {
		st.status = StepPending
	}

	now := time.Now()
	return &Saga{
		ID:          id,
		Description: description,
		CreatedAt:   now,
		fsm:         fsm,
		steps:       steps,
		shared:      initial,
		failedStep:  -1,
		updatedAt:   now,
	}
}

// Status returns the current lifecycle state.
func (s *Saga) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Saga) statusLocked() Status {
	return s.fsm.MustState().(Status)
}

// fire drives the lifecycle FSM; an invalid transition is a programming bug.
func (s *Saga) fire(trigger string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.Fire(trigger)
}

// Abort requests cancellation. The engine honors it between step
// boundaries only; an in-flight step finishes first.
func (s *Saga) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortRequested = true
}

func (s *Saga) abortPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortRequested && !s.statusLocked().Terminal()
}

// SharedContext returns a copy of the shared context.
func (s *Saga) SharedContext() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shared.clone()
}

func (s *Saga) touchLocked() {
	s.updatedAt = time.Now()
}

// StepSnapshot is the read-only view of one step.
type StepSnapshot struct {
	Index       int                  `json:"index"`
	Participant contract.Participant `json:"participant"`
	ActionPath  string               `json:"action_endpoint"`
	Status      StepStatus           `json:"status"`
	ErrorKind   string               `json:"error_kind,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Snapshot is a consistent read-only copy of a saga.
type Snapshot struct {
	SagaID          string         `json:"saga_id"`
	Description     string         `json:"description,omitempty"`
	Status          Status         `json:"status"`
	Message         string         `json:"message"`
	Context         Context        `json:"context"`
	FailedStepIndex *int           `json:"failed_step_index,omitempty"`
	Steps           []StepSnapshot `json:"steps"`
	ExecutionLog    []LogEntry     `json:"execution_log"`
	StepsCompleted  int            `json:"steps_completed"`
	TotalSteps      int            `json:"total_steps"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Snapshot captures the saga under its lock.
func (s *Saga) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.statusLocked()
	snap := Snapshot{
		SagaID:       s.ID,
		Description:  s.Description,
		Status:       status,
		Message:      statusMessage(status),
		Context:      s.shared.clone(),
		Steps:        make([]StepSnapshot, len(s.steps)),
		ExecutionLog: append([]LogEntry(nil), s.log...),
		TotalSteps:   len(s.steps),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.updatedAt,
	}

	for i, st := range s.steps {
		snap.Steps[i] = StepSnapshot{
			Index:       i,
			Participant: st.Participant,
			ActionPath:  st.ActionPath,
			Status:      st.status,
			ErrorKind:   st.errKind,
			Error:       st.errDetail,
		}
		if st.forwardOK {
			snap.StepsCompleted++
		}
	}

	if s.failedStep >= 0 {
		idx := s.failedStep
		snap.FailedStepIndex = &idx
	}

	return snap
}

func statusMessage(status Status) string {
	switch status {
	case StatusCompleted:
		return "order processing completed successfully"
	case StatusFailed:
		return "order processing failed and compensated"
	case StatusAborted:
		return "order processing was aborted and compensated"
	case StatusStarted:
		return "order processing in progress"
	default:
		return "order processing status: " + string(status)
	}
}
