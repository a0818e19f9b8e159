// Package communicator is the coordinator's transport to participant
// services: one request/response exchange with retries, timeouts, and
// health probes. It owns "how to reach the participant"; the engine owns
// what happens next. Errors are always returned, never thrown past the
// caller, and a 2xx body with ok=false is passed through untouched for the
// engine to judge.
package communicator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/narenallam/e-commerce-saga/internal/contract"
	"github.com/narenallam/e-commerce-saga/internal/metrics"
	"github.com/narenallam/e-commerce-saga/pkg/logger"
	"github.com/narenallam/e-commerce-saga/pkg/tracing"
)

// Kind classifies a communication failure.
type Kind string

const (
	KindUnknownParticipant Kind = "UNKNOWN_PARTICIPANT"
	KindConnectFailed      Kind = "CONNECT_FAILED"
	KindTimeout            Kind = "TIMEOUT"
	KindBadStatus          Kind = "BAD_STATUS"
	KindDecodeError        Kind = "DECODE_ERROR"
	KindRetriesExhausted   Kind = "RETRIES_EXHAUSTED"
)

// Error is a failed exchange with a participant.
type Error struct {
	Kind        Kind
	Participant contract.Participant
	Endpoint    string
	StatusCode  int
	Attempts    int
	Detail      string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s%s: %s (status %d, attempts %d)",
			e.Kind, e.Participant, e.Endpoint, e.Detail, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("%s %s%s: %s (attempts %d)", e.Kind, e.Participant, e.Endpoint, e.Detail, e.Attempts)
}

// retryable reports whether another attempt may succeed: connect failures,
// timeouts and 5xx replies. 4xx, decode failures and unknown participants
// are final.
func (e *Error) retryable() bool {
	switch e.Kind {
	case KindConnectFailed, KindTimeout:
		return true
	case KindBadStatus:
		return e.StatusCode >= 500
	default:
		return false
	}
}

// KindOf extracts the failure kind from an error chain, or empty.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// Config 通信器配置
type Config struct {
	Timeout       time.Duration // default per-call timeout
	HealthTimeout time.Duration
	MaxAttempts   int // total attempts, >= 1
	BackoffBase   time.Duration
	BackoffMax    time.Duration
}

// Descriptor locates one participant. Resolved once at construction and
// immutable afterwards; the communicator does not re-resolve between calls.
type Descriptor struct {
	Participant contract.Participant
	BaseURL     string
	HealthPath  string
}

// Communicator sends typed requests to named participants over a shared
// connection pool.
type Communicator struct {
	cfg       Config
	endpoints map[contract.Participant]Descriptor
	client    *http.Client
	log       *logger.Logger
}

// New builds a communicator from resolved participant base URLs.
func New(cfg Config, urls map[contract.Participant]string, log *logger.Logger) *Communicator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 2 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Second
	}

	endpoints := make(map[contract.Participant]Descriptor, len(urls))
	for p, base := range urls {
		endpoints[p] = Descriptor{
			Participant: p,
			BaseURL:     base,
			HealthPath:  contract.HealthPath,
		}
	}

	return &Communicator{
		cfg:       cfg,
		endpoints: endpoints,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: log,
	}
}

// Send issues one exchange with a participant and returns the raw JSON
// reply. Retryable failures are re-attempted with capped exponential
// backoff up to the configured maximum; the returned error is always an
// *Error. A zero timeout uses the configured default.
func (c *Communicator) Send(ctx context.Context, p contract.Participant, endpoint, method string, body any, timeout time.Duration) ([]byte, error) {
	d, ok := c.endpoints[p]
	if !ok {
		return nil, &Error{Kind: KindUnknownParticipant, Participant: p, Endpoint: endpoint, Detail: "no descriptor"}
	}
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: KindDecodeError, Participant: p, Endpoint: endpoint, Detail: "encode request: " + err.Error()}
		}
	}

	backoff := retry.WithMaxRetries(uint64(c.cfg.MaxAttempts-1),
		retry.WithCappedDuration(c.cfg.BackoffMax,
			retry.NewExponential(c.cfg.BackoffBase)))

	var (
		respBody []byte
		attempts int
		lastErr  *Error
	)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		data, attemptErr := c.attempt(ctx, d, endpoint, method, payload, timeout)
		if attemptErr == nil {
			respBody = data
			metrics.IncParticipantRequest(string(p), "success")
			return nil
		}

		attemptErr.Attempts = attempts
		lastErr = attemptErr
		metrics.IncParticipantRequest(string(p), "failure")
		c.log.Warnf("participant request failed", map[string]interface{}{
			"participant": string(p),
			"endpoint":    endpoint,
			"attempt":     attempts,
			"kind":        string(attemptErr.Kind),
			"status":      attemptErr.StatusCode,
			"error":       attemptErr.Detail,
		})

		if attemptErr.retryable() {
			return retry.RetryableError(attemptErr)
		}
		return attemptErr
	})
	if err != nil {
		if lastErr == nil {
			// Context cancelled before the first attempt completed.
			lastErr = &Error{Kind: KindConnectFailed, Participant: p, Endpoint: endpoint, Attempts: attempts, Detail: err.Error()}
		}
		if lastErr.retryable() && attempts >= c.cfg.MaxAttempts && c.cfg.MaxAttempts > 1 {
			return nil, &Error{
				Kind:        KindRetriesExhausted,
				Participant: p,
				Endpoint:    endpoint,
				StatusCode:  lastErr.StatusCode,
				Attempts:    attempts,
				Detail:      fmt.Sprintf("last failure %s: %s", lastErr.Kind, lastErr.Detail),
			}
		}
		return nil, lastErr
	}

	return respBody, nil
}

// attempt performs a single HTTP exchange.
func (c *Communicator) attempt(ctx context.Context, d Descriptor, endpoint, method string, payload []byte, timeout time.Duration) ([]byte, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, d.BaseURL+endpoint, reqBody)
	if err != nil {
		return nil, &Error{Kind: KindConnectFailed, Participant: d.Participant, Endpoint: endpoint, Detail: err.Error()}
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.Inject(ctx, req)

	resp, err := c.client.Do(req)
	if err != nil {
		kind := KindConnectFailed
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			kind = KindTimeout
		} else if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, &Error{Kind: kind, Participant: d.Participant, Endpoint: endpoint, Detail: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindDecodeError, Participant: d.Participant, Endpoint: endpoint, StatusCode: resp.StatusCode, Detail: "read body: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Kind:        KindBadStatus,
			Participant: d.Participant,
			Endpoint:    endpoint,
			StatusCode:  resp.StatusCode,
			Detail:      resp.Status,
		}
	}

	// Empty or malformed bodies are decode failures; every participant
	// reply must be valid JSON.
	if len(bytes.TrimSpace(data)) == 0 || !json.Valid(data) {
		return nil, &Error{Kind: KindDecodeError, Participant: d.Participant, Endpoint: endpoint, StatusCode: resp.StatusCode, Detail: "invalid JSON body"}
	}

	return data, nil
}

// ProbeHealth sends GET to the participant health endpoint with a short
// timeout and reports reachability.
func (c *Communicator) ProbeHealth(ctx context.Context, p contract.Participant) bool {
	d, ok := c.endpoints[p]
	if !ok {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, d.BaseURL+d.HealthPath, nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// ProbeAll probes every known participant concurrently.
func (c *Communicator) ProbeAll(ctx context.Context) map[contract.Participant]bool {
	results := make(map[contract.Participant]bool, len(c.endpoints))
	var mu sync.Mutex

	g, probeCtx := errgroup.WithContext(ctx)
	for p := range c.endpoints {
		p := p
		g.Go(func() error {
			up := c.ProbeHealth(probeCtx, p)
			mu.Lock()
			results[p] = up
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Participants lists the participants this communicator can reach.
func (c *Communicator) Participants() []contract.Participant {
	out := make([]contract.Participant, 0, len(c.endpoints))
	for p := range c.endpoints {
		out = append(out, p)
	}
	return out
}
