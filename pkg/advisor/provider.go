// Package advisor wraps the AI recommendation providers and decides when to
// consult them.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/alwayssunny/alwayssunny/pkg/types"
)

// Request is a single completion request to a provider.
type Request struct {
	Model  string
	System string
	Prompt string
	Creds  types.AdvisorCredentials
}

// Provider defines the interface for a model backend.
type Provider interface {
	// Name returns the provider id (e.g. "ollama").
	Name() string

	// Generate returns the raw model output for the request. Errors that
	// are worth retrying (timeouts, connection failures, 5xx) are marked
	// retryable; anything else is terminal.
	Generate(ctx context.Context, req Request) (string, error)
}

// retryableError marks an error as transient.
type retryableError struct {
	err error
}

func (r *retryableError) Error() string { return r.err.Error() }
func (r *retryableError) Unwrap() error { return r.err }

// markRetryable wraps err so IsRetryable reports true.
func markRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether the error is a transient failure worth
// retrying. Network-level errors count even without an explicit mark.
func IsRetryable(err error) bool {
	var re *retryableError
	if errors.As(err, &re) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Registry resolves a provider id to a Provider instance.
type Registry struct {
	mu        sync.Mutex
	providers map[string]Provider
}

// NewRegistry creates a Registry with the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Configured sets up the provider Registry with all known backends.
func Configured() *Registry {
	return NewRegistry(newOllama(), newOpenAI(), newAnthropic())
}

// Provider returns the provider with the given id.
func (r *Registry) Provider(id string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("unknown advisor provider: %s", id)
	}
	return p, nil
}

// SetProvider sets the provider for an id. This is primarily used for testing.
func (r *Registry) SetProvider(id string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[id] = p
}
