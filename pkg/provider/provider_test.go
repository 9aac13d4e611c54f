package provider

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hookline/hookline/internal/retry"
	"github.com/hookline/hookline/pkg/errors"
)

type fakeProvider struct {
	name  string
	calls int64
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Send(context.Context, *Request) (*Response, error) {
	atomic.AddInt64(&f.calls, 1)
	return &Response{Content: "ok"}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	first := &fakeProvider{name: "anthropic"}
	second := &fakeProvider{name: "local"}
	if err := r.Register(first); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(second); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// First registered is the default.
	got, err := r.Get("")
	if err != nil {
		t.Fatalf("Get default failed: %v", err)
	}
	if got.Name() != "anthropic" {
		t.Errorf("default = %q, want anthropic", got.Name())
	}

	// Lookup is case-insensitive.
	if got, err = r.Get("LOCAL"); err != nil || got.Name() != "local" {
		t.Errorf("Get(LOCAL) = %v, %v", got, err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeProvider{name: "x"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(&fakeProvider{name: "x"}); err == nil {
		t.Error("duplicate registration should fail")
	}
}

func TestRegistrySetDefault(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&fakeProvider{name: "a"})
	_ = r.Register(&fakeProvider{name: "b"})

	if err := r.SetDefault("b"); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	got, err := r.Get("")
	if err != nil || got.Name() != "b" {
		t.Errorf("default after SetDefault = %v, %v", got, err)
	}

	if err := r.SetDefault("missing"); err == nil {
		t.Error("SetDefault on unknown provider should fail")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nope"); err == nil {
		t.Error("Get on empty registry should fail")
	}
}

func TestHTTPProviderSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("Anthropic-Version") == "" {
			t.Errorf("missing version header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "hello "}, {"type": "text", "text": "world"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer server.Close()

	p, err := NewHTTPProvider(HTTPOptions{
		Endpoint: server.URL,
		APIKey:   "secret",
		Model:    "claude-sonnet-4-20250514",
	})
	if err != nil {
		t.Fatalf("NewHTTPProvider failed: %v", err)
	}

	resp, err := p.Send(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Content != "hello world" {
		t.Errorf("content = %q, want concatenated text blocks", resp.Content)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestHTTPProviderRetriesServerErrors(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content": [{"type": "text", "text": "recovered"}], "usage": {}}`))
	}))
	defer server.Close()

	p, err := NewHTTPProvider(HTTPOptions{
		Endpoint: server.URL,
		APIKey:   "secret",
		Retry:    retry.NewConstantStrategy(3, time.Millisecond),
	})
	if err != nil {
		t.Fatalf("NewHTTPProvider failed: %v", err)
	}

	resp, err := p.Send(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Send failed after retries: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("content = %q, want recovered", resp.Content)
	}
	if atomic.LoadInt64(&calls) != 3 {
		t.Errorf("server saw %d calls, want 3", calls)
	}
}

func TestHTTPProviderDoesNotRetryAuthFailures(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p, err := NewHTTPProvider(HTTPOptions{
		Endpoint: server.URL,
		APIKey:   "wrong",
		Retry:    retry.NewConstantStrategy(3, time.Millisecond),
	})
	if err != nil {
		t.Fatalf("NewHTTPProvider failed: %v", err)
	}

	_, err = p.Send(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if !stderrors.Is(err, errors.ErrProviderFailure) {
		t.Fatalf("Send error = %v, want provider failure", err)
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Errorf("auth failure was retried %d times", calls-1)
	}
}

func TestHTTPProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewHTTPProvider(HTTPOptions{}); err == nil {
		t.Error("NewHTTPProvider without api key should fail")
	}
}

func TestHTTPProviderRejectsEmptyRequests(t *testing.T) {
	p, err := NewHTTPProvider(HTTPOptions{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewHTTPProvider failed: %v", err)
	}
	if _, err := p.Send(context.Background(), &Request{}); err == nil {
		t.Error("Send with no messages should fail")
	}
}

func TestThrottledPacesCalls(t *testing.T) {
	inner := &fakeProvider{name: "inner"}
	// 60 per minute = 1 per second, burst 1. The second call must wait.
	p := NewThrottled(inner, NewRateThrottle(60))

	req := &Request{Messages: []Message{{Role: RoleUser, Content: "x"}}}
	if _, err := p.Send(context.Background(), req); err != nil {
		t.Fatalf("first Send failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Send(ctx, req); err == nil {
		t.Error("second Send inside the pacing window should hit the context deadline")
	}
	if atomic.LoadInt64(&inner.calls) != 1 {
		t.Errorf("inner saw %d calls, want 1", inner.calls)
	}
}

func TestRateThrottleUnlimited(t *testing.T) {
	th := NewRateThrottle(0)
	for i := 0; i < 100; i++ {
		if err := th.Wait(context.Background()); err != nil {
			t.Fatalf("unlimited throttle should never block: %v", err)
		}
	}
	if th.Rate() != 0 {
		t.Errorf("Rate = %d, want 0", th.Rate())
	}
}

func TestRateThrottleSetRate(t *testing.T) {
	th := NewRateThrottle(60)
	th.SetRate(0)
	if th.Rate() != 0 {
		t.Errorf("Rate after SetRate(0) = %d", th.Rate())
	}
	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("SetRate(0) should lift the limit: %v", err)
	}

	th.SetRate(120)
	if th.Rate() != 120 {
		t.Errorf("Rate = %d, want 120", th.Rate())
	}
}

func TestNullThrottle(t *testing.T) {
	var th NullThrottle
	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("NullThrottle.Wait returned %v", err)
	}
	th.SetRate(10)
	if th.Rate() != 0 {
		t.Errorf("NullThrottle.Rate = %d, want 0", th.Rate())
	}
}

func TestNewCLIProviderValidation(t *testing.T) {
	if _, err := NewCLIProvider("cli", ""); err == nil {
		t.Error("empty command should be rejected")
	}

	p, err := NewCLIProvider("", "/bin/cat")
	if err != nil {
		t.Fatalf("NewCLIProvider failed: %v", err)
	}
	if p.Name() != "cli" {
		t.Errorf("Name = %q, want cli default", p.Name())
	}
}

func TestCLIProviderEchoExchange(t *testing.T) {
	// cat echoes the request line back; Response shares field names with
	// Request closely enough that content decodes as empty but valid JSON.
	p, err := NewCLIProvider("echo", "/bin/cat")
	if err != nil {
		t.Fatalf("NewCLIProvider failed: %v", err)
	}
	defer func() { _ = p.Close() }()

	resp, err := p.Send(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "ping"}},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp == nil {
		t.Fatal("Send returned nil response")
	}
}

func TestCLIProviderClosedRejectsSends(t *testing.T) {
	p, err := NewCLIProvider("echo", "/bin/cat")
	if err != nil {
		t.Fatalf("NewCLIProvider failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := p.Send(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "x"}},
	}); err == nil {
		t.Error("Send on closed provider should fail")
	}
}
