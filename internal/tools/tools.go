// Package tools defines the adapter contracts for external data services.
// Every external call resolves to a Result so the planning graph has one
// failure-handling shape for weather, geocoding and model completion alike.
package tools

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/avezina/tripd/internal/domain"
)

// Status tags a Result.
type Status int

const (
	// StatusSuccess means Payload is valid.
	StatusSuccess Status = iota
	// StatusUnavailable is a transient failure after retries were exhausted.
	StatusUnavailable
	// StatusError is a non-retryable failure, e.g. a malformed request.
	StatusError
)

// Result is the tagged union returned by every tool adapter.
type Result[T any] struct {
	Status  Status
	Payload T
	Reason  string
}

// Ok reports whether the call produced a usable payload.
func (r Result[T]) Ok() bool { return r.Status == StatusSuccess }

// Success wraps a payload.
func Success[T any](v T) Result[T] {
	return Result[T]{Status: StatusSuccess, Payload: v}
}

// Unavailable marks a transient failure.
func Unavailable[T any](reason string) Result[T] {
	return Result[T]{Status: StatusUnavailable, Reason: reason}
}

// Failure marks a non-retryable failure.
func Failure[T any](reason string) Result[T] {
	return Result[T]{Status: StatusError, Reason: reason}
}

// Weather looks up a multi-day forecast for a city.
type Weather interface {
	Forecast(ctx context.Context, city string, days int) Result[[]domain.WeatherDay]
}

// Geocoder resolves a free-form city name to a canonical reference.
type Geocoder interface {
	Resolve(ctx context.Context, city string) Result[CityRef]
}

// CityRef is a resolved city.
type CityRef struct {
	Name   string
	Adcode string
}

// CompletionRequest is a single model-completion call.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float64
	// JSON asks the backend for a JSON-object response.
	JSON bool
}

// Completer produces a text completion from the configured language model.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) Result[string]
}

// RetryPolicy bounds retries for transient tool failures.
type RetryPolicy struct {
	Retries int
	Backoff time.Duration
	Timeout time.Duration
}

// Invoke runs fn under the policy's per-attempt timeout, retrying transient
// failures with exponential backoff. After retries are exhausted the call
// degrades to Unavailable rather than failing the turn. The health registry,
// when non-nil, records the component's reachability.
func Invoke[T any](ctx context.Context, name string, policy RetryPolicy, health *Health, fn func(context.Context) Result[T]) Result[T] {
	var last Result[T]
	for attempt := 0; attempt <= policy.Retries; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if policy.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		}
		last = fn(callCtx)
		if cancel != nil {
			cancel()
		}

		switch last.Status {
		case StatusSuccess:
			health.mark(name, true)
			return last
		case StatusError:
			// Non-retryable: degrade immediately.
			health.mark(name, true)
			return last
		}

		if attempt < policy.Retries {
			delay := policy.Backoff * time.Duration(1<<attempt)
			select {
			case <-ctx.Done():
				health.mark(name, false)
				return Unavailable[T](ctx.Err().Error())
			case <-time.After(delay):
			}
		}
	}
	health.mark(name, false)
	return last
}

// Health tracks which external tools are currently reachable. Front ends use
// it to warn users, never to block requests.
type Health struct {
	mu       sync.Mutex
	degraded map[string]bool
}

// NewHealth creates an empty health registry.
func NewHealth() *Health {
	return &Health{degraded: make(map[string]bool)}
}

func (h *Health) mark(name string, ok bool) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if ok {
		delete(h.degraded, name)
	} else {
		h.degraded[name] = true
	}
}

// MarkDegraded records a component failure observed outside Invoke.
func (h *Health) MarkDegraded(name string) { h.mark(name, false) }

// MarkHealthy records a component recovery observed outside Invoke.
func (h *Health) MarkHealthy(name string) { h.mark(name, true) }

// Degraded returns the sorted set of currently degraded components.
func (h *Health) Degraded() []string {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.degraded))
	for name := range h.degraded {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// OK reports whether every tracked component is reachable.
func (h *Health) OK() bool {
	if h == nil {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.degraded) == 0
}
