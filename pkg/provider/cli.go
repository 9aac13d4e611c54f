package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/hookline/hookline/pkg/errors"
)

// CLIProvider drives a local agent binary over line-delimited JSON on
// stdio. One request line in, one response line out; exchanges are
// serialized on the subprocess.
type CLIProvider struct {
	name    string
	command string
	args    []string
	logger  *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	closed bool
}

// NewCLIProvider creates a provider backed by the given command. The
// subprocess is started lazily on the first Send.
func NewCLIProvider(name, command string, args ...string) (*CLIProvider, error) {
	if command == "" {
		return nil, errors.New(errors.CodeProviderError, "command is required")
	}
	if name == "" {
		name = "cli"
	}

	return &CLIProvider{
		name:    name,
		command: command,
		args:    args,
		logger:  slog.Default(),
	}, nil
}

// Name implements Provider.
func (p *CLIProvider) Name() string {
	return p.name
}

// Send implements Provider. The exchange has no deadline of its own; a
// cancelled context abandons the wait but leaves the subprocess running
// for the next caller.
func (p *CLIProvider) Send(ctx context.Context, req *Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New(errors.CodeProviderError, "request has no messages")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New(errors.CodeProviderError, "provider is closed")
	}
	if err := p.ensureStarted(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderError, "failed to encode request")
	}
	payload = append(payload, '\n')

	if err := p.write(ctx, payload); err != nil {
		p.teardown()
		return nil, err
	}

	line, err := p.readLine(ctx)
	if err != nil {
		p.teardown()
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderError, "failed to decode response")
	}
	return &resp, nil
}

// Close terminates the subprocess if one is running.
func (p *CLIProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.teardown()
	return nil
}

func (p *CLIProvider) ensureStarted() error {
	if p.cmd != nil {
		return nil
	}

	cmd := exec.Command(p.command, p.args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, errors.CodeProviderError, "failed to open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, errors.CodeProviderError, "failed to open stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, errors.CodeProviderError, "failed to start "+p.command)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.reader = bufio.NewReader(stdout)
	p.logger.Debug("provider subprocess started", "provider", p.name, "command", p.command)
	return nil
}

// write performs the stdin write on a goroutine so a cancelled context can
// abandon a blocked pipe.
func (p *CLIProvider) write(ctx context.Context, data []byte) error {
	errChan := make(chan error, 1)
	go func() {
		_, err := p.stdin.Write(data)
		errChan <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errChan:
		if err != nil {
			return errors.Wrap(err, errors.CodeProviderError, "failed to write request")
		}
		return nil
	}
}

func (p *CLIProvider) readLine(ctx context.Context) ([]byte, error) {
	type result struct {
		line []byte
		err  error
	}
	resultChan := make(chan result, 1)

	go func() {
		line, err := p.reader.ReadBytes('\n')
		resultChan <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.err != nil {
			if res.err == io.EOF {
				return nil, errors.Wrap(res.err, errors.CodeProviderError, "subprocess closed its output")
			}
			return nil, errors.Wrap(res.err, errors.CodeProviderError, "failed to read response")
		}
		return res.line, nil
	}
}

func (p *CLIProvider) teardown() {
	if p.cmd == nil {
		return
	}
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	p.cmd = nil
	p.stdin = nil
	p.reader = nil
}
