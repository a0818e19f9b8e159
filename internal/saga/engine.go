package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/narenallam/e-commerce-saga/internal/communicator"
	"github.com/narenallam/e-commerce-saga/internal/contract"
	"github.com/narenallam/e-commerce-saga/internal/events"
	"github.com/narenallam/e-commerce-saga/internal/metrics"
	"github.com/narenallam/e-commerce-saga/pkg/logger"
	"github.com/narenallam/e-commerce-saga/pkg/tracing"
)

// kindBusinessRefusal marks a 2xx reply carrying ok=false. Never retried.
const kindBusinessRefusal = "BUSINESS_REFUSAL"

// Caller sends one request to a named participant. Implemented by the
// communicator; the engine never reaches the network itself.
type Caller interface {
	Send(ctx context.Context, p contract.Participant, endpoint, method string, body any, timeout time.Duration) ([]byte, error)
}

// Journal receives a snapshot at every saga transition. Implementations may
// persist it for out-of-band audit; the engine never reads it back.
type Journal interface {
	Record(ctx context.Context, snap Snapshot) error
}

// ExecutionResult is the terminal outcome of one saga run.
type ExecutionResult struct {
	SagaID              string     `json:"saga_id"`
	Status              Status     `json:"status"`
	Message             string     `json:"message"`
	SucceededSteps      int        `json:"succeeded_step_count"`
	FailedStepIndex     *int       `json:"failed_step_index,omitempty"`
	CompensatedSteps    int        `json:"compensated_step_count"`
	FailedCompensations int        `json:"failed_compensation_count"`
	ErrorSummary        string     `json:"error,omitempty"`
	Context             Context    `json:"context"`
	ExecutionLog        []LogEntry `json:"execution_log"`
}

// CompensationResult summarizes one compensation sweep.
type CompensationResult struct {
	Compensated int `json:"compensated_steps"`
	Failed      int `json:"failed_compensations"`
}

// Engine executes sagas. It holds no per-saga state and is safe for use by
// many goroutines at once.
type Engine struct {
	caller  Caller
	log     *logger.Logger
	journal Journal
	events  events.Sink
}

// Option configures an Engine.
type Option func(*Engine)

// WithJournal records every transition to a durable journal.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithEventSink publishes saga transition events.
func WithEventSink(s events.Sink) Option {
	return func(e *Engine) { e.events = s }
}

// NewEngine 创建执行引擎
func NewEngine(caller Caller, log *logger.Logger, opts ...Option) *Engine {
	e := &Engine{caller: caller, log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute drives a saga from STARTED to a terminal status. Steps run
// strictly in order; the first failure triggers a reverse compensation
// sweep. An abort request is honored between steps only. The returned
// error reports precondition violations, never step failures.
func (e *Engine) Execute(ctx context.Context, s *Saga) (ExecutionResult, error) {
	s.mu.Lock()
	if st := s.statusLocked(); st != StatusStarted {
		s.mu.Unlock()
		return ExecutionResult{}, fmt.Errorf("saga %s is %s, not STARTED", s.ID, st)
	}
	for i, st := range s.steps {
		if st.status != StepPending {
			s.mu.Unlock()
			return ExecutionResult{}, fmt.Errorf("saga %s step %d already %s", s.ID, i, st.status)
		}
	}
	s.mu.Unlock()

	log := e.log.WithField("sagaID", s.ID)
	log.Infof("executing saga", map[string]interface{}{"steps": len(s.steps)})
	metrics.IncSagaStarted()
	e.publish(ctx, s, events.TypeSagaStarted, map[string]any{
		"description": s.Description,
		"total_steps": len(s.steps),
	})
	e.record(ctx, s)

	for i, st := range s.steps {
		if s.abortPending() {
			if err := s.fire(triggerAbort); err != nil {
				log.WithError(err).Error("abort transition rejected")
			}
			comp := e.Compensate(ctx, s, i)
			metrics.IncSagaFinished(string(StatusAborted))
			e.publish(ctx, s, events.TypeSagaAborted, map[string]any{
				"aborted_before_step": i,
				"compensated_steps":   comp.Compensated,
			})
			e.record(ctx, s)
			log.Warn("saga aborted")
			return e.result(s, comp), nil
		}

		if ok := e.runStep(ctx, s, i, st, log); !ok {
			comp := e.Compensate(ctx, s, i)
			if err := s.fire(triggerFail); err != nil {
				log.WithError(err).Error("fail transition rejected")
			}
			metrics.IncSagaFinished(string(StatusFailed))
			e.publish(ctx, s, events.TypeSagaFailed, map[string]any{
				"failed_step":          i,
				"compensated_steps":    comp.Compensated,
				"failed_compensations": comp.Failed,
			})
			e.record(ctx, s)
			log.Warnf("saga failed", map[string]interface{}{"failedStep": i})
			return e.result(s, comp), nil
		}
	}

	if err := s.fire(triggerComplete); err != nil {
		log.WithError(err).Error("complete transition rejected")
	}
	metrics.IncSagaFinished(string(StatusCompleted))
	e.publish(ctx, s, events.TypeSagaCompleted, map[string]any{
		"total_steps": len(s.steps),
	})
	e.record(ctx, s)
	log.Info("saga completed")
	return e.result(s, CompensationResult{}), nil
}

// runStep executes one forward step and reports success.
func (e *Engine) runStep(ctx context.Context, s *Saga, i int, st *Step, log *logger.Logger) bool {
	started := time.Now()

	s.mu.Lock()
	st.status = StepInFlight
	st.startedAt = started
	shared := s.shared.clone()
	s.touchLocked()
	s.mu.Unlock()
	e.record(ctx, s)

	payload := st.BuildPayload(shared)
	if raw, err := json.Marshal(payload); err == nil {
		s.mu.Lock()
		st.requestData = raw
		s.mu.Unlock()
	}

	stepCtx, span := tracing.StepSpan(ctx, string(st.Participant), st.ActionPath, "forward")
	body, sendErr := e.caller.Send(stepCtx, st.Participant, st.ActionPath, http.MethodPost, payload, st.Timeout)
	if sendErr != nil {
		tracing.RecordError(stepCtx, sendErr)
	}
	span.End()
	finished := time.Now()

	var kind, detail string
	switch {
	case sendErr != nil:
		kind = string(communicator.KindOf(sendErr))
		if kind == "" {
			kind = string(communicator.KindConnectFailed)
		}
		detail = sendErr.Error()
	default:
		var env contract.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			kind = string(communicator.KindDecodeError)
			detail = "decode envelope: " + err.Error()
		} else if !env.OK {
			kind = kindBusinessRefusal
			detail = env.Error
			if detail == "" {
				detail = "participant refused"
			}
		}
	}

	if kind == "" {
		s.mu.Lock()
		if err := st.MergeResponse(body, &s.shared); err != nil {
			kind = string(communicator.KindDecodeError)
			detail = "merge response: " + err.Error()
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	st.finishedAt = finished
	if len(body) > 0 {
		st.responseData = body
	}
	entry := LogEntry{
		Index:       i,
		Participant: st.Participant,
		Phase:       PhaseForward,
		Elapsed:     finished.Sub(started),
		StartedAt:   started,
		FinishedAt:  finished,
	}
	if kind == "" {
		st.status = StepSucceeded
		st.forwardOK = true
		entry.Outcome = OutcomeSuccess
	} else {
		st.status = StepFailed
		st.errKind = kind
		st.errDetail = detail
		s.failedStep = i
		entry.Outcome = OutcomeFailure
		entry.ErrorKind = kind
		entry.ErrorDetail = detail
	}
	s.log = append(s.log, entry)
	s.touchLocked()
	s.mu.Unlock()

	metrics.ObserveStepDuration(string(st.Participant), "forward", finished.Sub(started))

	if kind == "" {
		log.Infof("step succeeded", map[string]interface{}{
			"step":        i,
			"participant": string(st.Participant),
		})
		e.publish(ctx, s, events.TypeStepCompleted, map[string]any{
			"step":        i,
			"participant": string(st.Participant),
		})
		e.record(ctx, s)
		return true
	}

	log.Warnf("step failed", map[string]interface{}{
		"step":        i,
		"participant": string(st.Participant),
		"kind":        kind,
		"error":       detail,
	})
	e.publish(ctx, s, events.TypeStepFailed, map[string]any{
		"step":        i,
		"participant": string(st.Participant),
		"error_kind":  kind,
		"error":       detail,
	})
	e.record(ctx, s)
	return false
}

// Compensate undoes successful steps in strictly descending index order,
// starting below fromIndex. Individual compensation failures are recorded
// and the sweep continues; it never aborts early. A refused step that
// opted in via CompensateOnRefusal is included so partial effects get
// released.
func (e *Engine) Compensate(ctx context.Context, s *Saga, fromIndex int) CompensationResult {
	var res CompensationResult

	if fromIndex > len(s.steps) {
		fromIndex = len(s.steps)
	}

	start := fromIndex - 1
	s.mu.Lock()
	if fromIndex >= 0 && fromIndex < len(s.steps) {
		st := s.steps[fromIndex]
		if st.status == StepFailed && st.CompensateOnRefusal && len(st.responseData) > 0 {
			start = fromIndex
		}
	}
	s.mu.Unlock()

	for j := start; j >= 0; j-- {
		st := s.steps[j]

		s.mu.Lock()
		eligible := st.status == StepSucceeded ||
			(j == fromIndex && st.status == StepFailed && st.CompensateOnRefusal)
		payload := compensationPayloadLocked(s, st)
		path := st.CompensationPath(s.shared.clone())
		s.mu.Unlock()

		if !eligible {
			continue
		}

		started := time.Now()
		stepCtx, span := tracing.StepSpan(ctx, string(st.Participant), path, "compensation")
		body, err := e.caller.Send(stepCtx, st.Participant, path, http.MethodPost, payload, st.Timeout)
		if err != nil {
			tracing.RecordError(stepCtx, err)
		}
		span.End()
		finished := time.Now()

		var kind, detail string
		if err != nil {
			kind = string(communicator.KindOf(err))
			if kind == "" {
				kind = string(communicator.KindConnectFailed)
			}
			detail = err.Error()
		} else {
			var env contract.Envelope
			if decodeErr := json.Unmarshal(body, &env); decodeErr == nil && !env.OK {
				kind = kindBusinessRefusal
				detail = env.Error
				if detail == "" {
					detail = "compensation refused"
				}
			}
		}

		entry := LogEntry{
			Index:       j,
			Participant: st.Participant,
			Phase:       PhaseCompensation,
			Elapsed:     finished.Sub(started),
			StartedAt:   started,
			FinishedAt:  finished,
		}

		s.mu.Lock()
		if kind == "" {
			st.status = StepCompensated
			entry.Outcome = OutcomeSuccess
			res.Compensated++
		} else {
			st.status = StepCompensationFailed
			entry.Outcome = OutcomeFailure
			entry.ErrorKind = kind
			entry.ErrorDetail = detail
			res.Failed++
		}
		s.log = append(s.log, entry)
		s.touchLocked()
		s.mu.Unlock()

		metrics.ObserveStepDuration(string(st.Participant), "compensation", finished.Sub(started))

		if kind == "" {
			metrics.IncCompensation("success")
			e.publish(ctx, s, events.TypeStepCompensated, map[string]any{
				"step":        j,
				"participant": string(st.Participant),
			})
		} else {
			metrics.IncCompensation("failure")
			e.log.WithField("sagaID", s.ID).Warnf("compensation failed", map[string]interface{}{
				"step":        j,
				"participant": string(st.Participant),
				"kind":        kind,
				"error":       detail,
			})
			e.publish(ctx, s, events.TypeCompensationFailed, map[string]any{
				"step":        j,
				"participant": string(st.Participant),
				"error_kind":  kind,
				"error":       detail,
			})
		}
		e.record(ctx, s)
	}

	return res
}

// compensationPayloadLocked flattens the shared context and attaches the
// step's original exchange so the participant can correlate by any
// identifier it issued.
func compensationPayloadLocked(s *Saga, st *Step) map[string]any {
	m := map[string]any{}
	if raw, err := json.Marshal(s.shared); err == nil {
		_ = json.Unmarshal(raw, &m)
	}
	if len(st.requestData) > 0 {
		m["original_request"] = json.RawMessage(st.requestData)
	}
	if len(st.responseData) > 0 {
		m["original_response"] = json.RawMessage(st.responseData)
	}
	return m
}

func (e *Engine) result(s *Saga, comp CompensationResult) ExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.statusLocked()
	res := ExecutionResult{
		SagaID:              s.ID,
		Status:              status,
		Message:             statusMessage(status),
		CompensatedSteps:    comp.Compensated,
		FailedCompensations: comp.Failed,
		Context:             s.shared.clone(),
		ExecutionLog:        append([]LogEntry(nil), s.log...),
	}

	for _, st := range s.steps {
		if st.forwardOK {
			res.SucceededSteps++
		}
	}

	if s.failedStep >= 0 {
		idx := s.failedStep
		res.FailedStepIndex = &idx
		res.ErrorSummary = s.steps[s.failedStep].errDetail
	}

	return res
}

func (e *Engine) record(ctx context.Context, s *Saga) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(ctx, s.Snapshot()); err != nil {
		e.log.WithError(err).Warn("saga journal write failed")
	}
}

func (e *Engine) publish(ctx context.Context, s *Saga, typ string, data map[string]any) {
	if e.events == nil {
		return
	}
	e.events.Publish(ctx, events.Event{
		Type:      typ,
		SagaID:    s.ID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	})
}
