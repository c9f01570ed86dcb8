package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// StreamEventType represents the type of stream event from Claude Code.
type StreamEventType string

const (
	// StreamEventSystem indicates a system message.
	StreamEventSystem StreamEventType = "system"
	// StreamEventAssistant indicates an assistant message.
	StreamEventAssistant StreamEventType = "assistant"
	// StreamEventUser indicates a user message.
	StreamEventUser StreamEventType = "user"
	// StreamEventResult indicates the final result.
	StreamEventResult StreamEventType = "result"
	// StreamEventError indicates an error.
	StreamEventError StreamEventType = "error"
)

// StreamEvent represents a parsed event from Claude Code's stream-json output.
type StreamEvent struct {
	// Type is the event type.
	Type StreamEventType `json:"type"`
	// Subtype qualifies result events ("success" or a failure string).
	Subtype string `json:"subtype,omitempty"`
	// Message contains the event content when applicable.
	Message string `json:"message,omitempty"`
	// Errors lists error strings reported on a result event.
	Errors []string `json:"errors,omitempty"`
	// TotalCostUSD is the accumulated run cost reported on a result event.
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	// Error contains error details when Type is StreamEventError.
	Error string `json:"error,omitempty"`
	// Raw contains the original JSON for debugging.
	Raw json.RawMessage `json:"-"`
}

// StartOptions contains parameters for starting a Claude process.
type StartOptions struct {
	// AllowedTools is passed to --allowedTools, restricting what the run
	// may do. Planning runs get a read-only list.
	AllowedTools string
	// MaxTurns caps the number of agentic turns.
	MaxTurns int
	// Model overrides the CLI's default model when non-empty.
	Model string
}

// Process is the subset of ClaudeProcess the runner drives, extracted so
// tests can substitute a scripted event stream.
type Process interface {
	Start(prompt, workingDir string, opts StartOptions) error
	Output() <-chan StreamEvent
	Kill() error
	Stderr() string
}

// ClaudeProcess manages a Claude Code subprocess emitting stream-json.
type ClaudeProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser

	ctx       context.Context
	cancel    context.CancelFunc
	outputCh  chan StreamEvent
	stderrBuf []byte
	once      sync.Once
	mu        sync.Mutex
	started   bool
}

// Verify ClaudeProcess implements Process at compile time.
var _ Process = (*ClaudeProcess)(nil)

// NewClaudeProcess creates a new ClaudeProcess with the given context.
// The context is used for timeout cancellation.
func NewClaudeProcess(ctx context.Context) *ClaudeProcess {
	ctx, cancel := context.WithCancel(ctx)
	return &ClaudeProcess{
		ctx:      ctx,
		cancel:   cancel,
		outputCh: make(chan StreamEvent, 100),
	}
}

// Start launches the Claude Code subprocess in the given working directory.
func (p *ClaudeProcess) Start(prompt, workingDir string, opts StartOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("process already started")
	}

	args := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
	}
	if opts.AllowedTools != "" {
		args = append(args, "--allowedTools", opts.AllowedTools)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	args = append(args, "-p", prompt)

	p.cmd = exec.CommandContext(p.ctx, "claude", args...)
	if workingDir != "" {
		p.cmd.Dir = workingDir
	}

	var err error
	p.stdout, err = p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	p.stderr, err = p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}
	p.started = true

	go p.readOutput()
	go p.readStderr()

	return nil
}

// readOutput reads and parses JSON events from stdout.
func (p *ClaudeProcess) readOutput() {
	defer close(p.outputCh)

	scanner := bufio.NewScanner(p.stdout)
	// Result events carry the whole transcript; allow large lines.
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event, err := parseStreamEvent(line)
		if err != nil {
			event = StreamEvent{
				Type:  StreamEventError,
				Error: fmt.Sprintf("parse error: %v", err),
				Raw:   append([]byte(nil), line...),
			}
		}

		select {
		case p.outputCh <- event:
		case <-p.ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && p.ctx.Err() == nil {
		p.outputCh <- StreamEvent{
			Type:  StreamEventError,
			Error: fmt.Sprintf("read error: %v", err),
		}
	}

	// Reap the child; the runner does not wait for exit itself.
	_ = p.cmd.Wait()
}

// readStderr captures stderr so startup failures carry a diagnosis.
func (p *ClaudeProcess) readStderr() {
	scanner := bufio.NewScanner(p.stderr)
	buf := make([]byte, 16*1024)
	scanner.Buffer(buf, 256*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		p.mu.Lock()
		p.stderrBuf = append(p.stderrBuf, line...)
		p.stderrBuf = append(p.stderrBuf, '\n')
		p.mu.Unlock()
	}
}

// parseStreamEvent parses a JSON line into a StreamEvent.
func parseStreamEvent(data []byte) (StreamEvent, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return StreamEvent{}, fmt.Errorf("unmarshal json: %w", err)
	}

	event := StreamEvent{
		Raw: append([]byte(nil), data...),
	}

	if t, ok := raw["type"].(string); ok {
		event.Type = StreamEventType(t)
	}

	switch event.Type {
	case StreamEventSystem, StreamEventAssistant, StreamEventUser:
		if msg, ok := raw["message"].(string); ok {
			event.Message = msg
		} else if content, ok := raw["content"].(string); ok {
			event.Message = content
		}
	case StreamEventResult:
		if subtype, ok := raw["subtype"].(string); ok {
			event.Subtype = subtype
		}
		if result, ok := raw["result"].(string); ok {
			event.Message = result
		}
		if cost, ok := raw["total_cost_usd"].(float64); ok {
			event.TotalCostUSD = cost
		}
		if errs, ok := raw["errors"].([]any); ok {
			for _, e := range errs {
				if s, ok := e.(string); ok {
					event.Errors = append(event.Errors, s)
				}
			}
		}
	case StreamEventError:
		if errMsg, ok := raw["error"].(string); ok {
			event.Error = errMsg
		} else if msg, ok := raw["message"].(string); ok {
			event.Error = msg
		}
	}

	return event, nil
}

// Output returns a channel that receives stream events from the process.
// The channel is closed when the process exits or is killed.
func (p *ClaudeProcess) Output() <-chan StreamEvent {
	return p.outputCh
}

// Kill terminates the process immediately. Safe to call more than once.
func (p *ClaudeProcess) Kill() error {
	p.once.Do(func() {
		p.cancel()
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Stderr returns any stderr output captured from the process.
func (p *ClaudeProcess) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.stderrBuf)
}
