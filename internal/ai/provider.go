// Package ai talks to LLM providers and owns retry and availability state.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sprite-ai/fixrev/internal/config"
	"github.com/sprite-ai/fixrev/internal/fault"
	"github.com/sprite-ai/fixrev/internal/model"
)

// Request is a single completion request.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// Completion is a provider response. Usage may be set even when the call
// returned an error.
type Completion struct {
	Text  string
	Model string
	Usage model.Usage
}

// Provider is an LLM backend.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req Request) (Completion, error)
}

// New builds the provider selected by cfg. Missing credentials are an
// AuthFailed error so callers can degrade instead of failing.
func New(cfg config.AI) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	keyEnv := cfg.KeyEnv()
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, fault.Errorf(fault.AuthFailed, "new provider", "%s is not set", keyEnv)
	}

	switch name {
	case config.ProviderAnthropic:
		return NewAnthropic(key, cfg.ModelName()), nil
	case config.ProviderOpenAI:
		return NewOpenAI(key, cfg.ModelName()), nil
	default:
		return nil, fault.Errorf(fault.ProviderUnavailable, "new provider", "unknown provider %q", cfg.Provider)
	}
}

// Health tracks whether the AI subsystem is usable for the rest of a run.
// It is shared by every component that calls a provider.
type Health struct {
	degraded atomic.Bool
	mu       sync.Mutex
	reason   error
}

// Degrade marks the subsystem unusable. The first reason wins.
func (h *Health) Degrade(reason error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reason == nil {
		h.reason = reason
	}
	h.degraded.Store(true)
}

// Degraded reports whether a fatal error has been seen.
func (h *Health) Degraded() bool {
	return h.degraded.Load()
}

// Reason returns the error that degraded the subsystem, if any.
func (h *Health) Reason() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

// Notice returns the user-facing degradation notice, or "" when healthy.
func (h *Health) Notice() string {
	if !h.Degraded() {
		return ""
	}
	if r := h.Reason(); r != nil {
		return fmt.Sprintf("AI unavailable: %v", r)
	}
	return "AI unavailable"
}

// KindForStatus maps an HTTP status from a provider to an error kind. Only
// credential failures are fatal; any other rejection is scoped to the
// request that caused it.
func KindForStatus(status int) fault.Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fault.AuthFailed
	case http.StatusTooManyRequests:
		return fault.RateLimited
	default:
		return fault.TransientProviderError
	}
}

// classify converts a transport-level error into a *fault.Error. status is
// the HTTP status extracted by the caller, or 0 when unknown.
func classify(op string, status int, err error) error {
	if err == nil {
		return nil
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	if status > 0 {
		return fault.New(KindForStatus(status), op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.New(fault.Timeout, op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return fault.New(fault.Timeout, op, err)
		}
		return fault.New(fault.TransientProviderError, op, err)
	}
	return fault.New(fault.TransientProviderError, op, err)
}

// Outcome maps an error returned by Complete to a response outcome.
func Outcome(err error) model.Outcome {
	if err == nil {
		return model.OutcomeSuccess
	}
	switch k := fault.KindOf(err); {
	case k.Retryable():
		return model.OutcomeRetryableError
	case k == fault.MalformedResponse:
		return model.OutcomeMalformed
	default:
		return model.OutcomeFatalError
	}
}
