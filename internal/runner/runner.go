// Package runner executes a single hook invocation: it builds the prompt,
// drives the provider conversation, and applies the returned file edits to
// the workspace. Cancellation is cooperative; the signal is checked before
// every provider call and every file write.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hookline/hookline/pkg/errors"
	"github.com/hookline/hookline/pkg/provider"
	"github.com/hookline/hookline/pkg/types"
)

// Config holds runner settings.
type Config struct {
	// WorkspaceRoot is the directory edits are applied under. Paths that
	// escape it are rejected.
	WorkspaceRoot string

	// Model overrides the provider's default model when set.
	Model string

	// MaxTokens bounds each provider response. Zero uses the provider
	// default.
	MaxTokens int
}

// AIRunner implements types.Runner on top of a provider registry.
type AIRunner struct {
	registry *provider.Registry
	cfg      Config
	logger   *slog.Logger
}

// New creates an AIRunner.
func New(registry *provider.Registry, cfg Config, logger *slog.Logger) *AIRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &AIRunner{registry: registry, cfg: cfg, logger: logger}
}

// Run implements types.Runner. Multi-step hooks loop until the model reports
// completion or the step budget is spent; each round trip may apply edits.
func (r *AIRunner) Run(ctx context.Context, hook *types.Hook, trigger *types.TriggerContext, cancel types.CancelSignal) (*types.RunResult, error) {
	prov, err := r.registry.Get(hook.Provider)
	if err != nil {
		return nil, err
	}

	// Fold the cancel signal into the context so provider calls unblock
	// when the run is stopped.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-cancel.Done():
			stop()
		case <-runCtx.Done():
		}
	}()

	maxSteps := hook.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 1
	}

	messages := []provider.Message{{Role: provider.RoleUser, Content: buildUserPrompt(hook, trigger)}}
	result := &types.RunResult{}

	for step := 0; step < maxSteps; step++ {
		if cancel.Cancelled() {
			return nil, errors.WrapHook(errors.ErrCancelled, errors.CodeCancelled, "run stopped before provider call", hook.ID, trigger.FilePath)
		}

		resp, err := prov.Send(runCtx, &provider.Request{
			Model:     r.cfg.Model,
			System:    systemPrompt,
			Messages:  messages,
			MaxTokens: r.cfg.MaxTokens,
		})
		if err != nil {
			if cancel.Cancelled() || errors.IsCancelled(err) {
				return nil, errors.WrapHook(errors.ErrCancelled, errors.CodeCancelled, "run stopped during provider call", hook.ID, trigger.FilePath)
			}
			return nil, errors.WrapHook(err, errors.CodeProviderError, "provider call failed", hook.ID, trigger.FilePath)
		}
		result.Steps++

		plan, err := parsePlan(resp.Content)
		if err != nil {
			return nil, errors.WrapHook(err, errors.CodeProviderError, "unusable provider response", hook.ID, trigger.FilePath)
		}

		for _, edit := range plan.Files {
			if cancel.Cancelled() {
				return nil, errors.WrapHook(errors.ErrCancelled, errors.CodeCancelled, "run stopped before file write", hook.ID, trigger.FilePath)
			}
			written, err := r.applyEdit(edit)
			if err != nil {
				return nil, errors.WrapHook(err, errors.CodeWriteError, "failed to apply edit", hook.ID, trigger.FilePath)
			}
			result.WrittenFiles = append(result.WrittenFiles, written)
		}

		if plan.Done || step == maxSteps-1 {
			break
		}

		messages = append(messages,
			provider.Message{Role: provider.RoleAssistant, Content: resp.Content},
			provider.Message{Role: provider.RoleUser, Content: continuePrompt},
		)
	}

	r.logger.Debug("hook run finished",
		"hook_id", hook.ID,
		"file", trigger.FilePath,
		"steps", result.Steps,
		"written", len(result.WrittenFiles))

	return result, nil
}

// applyEdit writes one file edit and returns the workspace-relative
// forward-slash path that was written.
func (r *AIRunner) applyEdit(edit fileEdit) (string, error) {
	rel, err := r.resolvePath(edit.Path)
	if err != nil {
		return "", err
	}

	abs := filepath.Join(r.cfg.WorkspaceRoot, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, []byte(edit.Content), 0o644); err != nil {
		return "", err
	}
	return rel, nil
}

// resolvePath normalizes an edit path and rejects anything outside the
// workspace root.
func (r *AIRunner) resolvePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("edit has no path")
	}

	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(p)))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "../") || clean == ".." {
		return "", fmt.Errorf("edit path %q escapes the workspace", p)
	}
	return clean, nil
}
