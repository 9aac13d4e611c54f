// Package provider abstracts the AI backends that execute hook instructions.
// A Provider turns one prompt exchange into a model response; the registry
// dispatches hooks to the backend they are pinned to.
package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/hookline/hookline/pkg/errors"
)

// Role values for conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single model invocation.
type Request struct {
	Model     string    `json:"model,omitempty"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// Usage reports token consumption for one exchange.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the model's reply to a Request.
type Response struct {
	Content    string `json:"content"`
	StopReason string `json:"stop_reason,omitempty"`
	Usage      Usage  `json:"usage"`
}

// Provider is one AI backend. Send blocks until the model responds, the
// context is cancelled, or the backend fails. Requests intentionally carry
// no deadline of their own; callers abort through the context.
type Provider interface {
	Name() string
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Registry maps provider names to backends and picks the default for hooks
// that do not pin one.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	defaultName string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a backend. The first registered provider becomes the default.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.ToLower(p.Name())
	if name == "" {
		return errors.New(errors.CodeProviderError, "provider name must not be empty")
	}
	if _, exists := r.providers[name]; exists {
		return errors.New(errors.CodeProviderError, "provider "+name+" already registered")
	}

	r.providers[name] = p
	if r.defaultName == "" {
		r.defaultName = name
	}
	return nil
}

// SetDefault selects the backend used by hooks without a pinned provider.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = strings.ToLower(name)
	if _, exists := r.providers[name]; !exists {
		return errors.New(errors.CodeProviderError, "provider "+name+" is not registered")
	}
	r.defaultName = name
	return nil
}

// Get resolves a provider by name. An empty name resolves the default.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultName
	}
	name = strings.ToLower(name)

	p, exists := r.providers[name]
	if !exists {
		return nil, errors.New(errors.CodeProviderError, "no provider registered for "+name)
	}
	return p, nil
}

// List returns the registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
