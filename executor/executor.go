// Package executor adapts calls into System Initiative's external pool of
// sandboxed function-executor workers, per spec.md §4.6: submits a
// serialized request envelope, receives a streamed response (log lines
// terminated by a result-and-status record), enforces a per-kind
// wall-clock timeout, and best-effort aborts in-flight executions on
// cancellation.
//
// Adapted from executor/executor.go's Executor/Result/Registry
// (find-matching-executor-then-run, merge metadata) shape, retargeted
// from the teacher's schema.org SemanticAction dispatch to the function
// executor wire contract.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Kind is the closed set of function kinds the executor pool can run,
// per spec.md §4.6.
type Kind string

const (
	KindAttribute      Kind = "attribute"
	KindAction         Kind = "action"
	KindQualification  Kind = "qualification"
	KindCodeGeneration Kind = "code_generation"
	KindAuthentication Kind = "authentication"
	KindManagement     Kind = "management"
	KindValidation     Kind = "validation"
)

// defaultTimeouts gives every kind a wall-clock budget per spec.md
// §4.6's "enforces a wall-clock timeout configured per kind"; callers
// may override via Executor.WithTimeout.
var defaultTimeouts = map[Kind]time.Duration{
	KindAttribute:      30 * time.Second,
	KindAction:         10 * time.Minute,
	KindQualification:  60 * time.Second,
	KindCodeGeneration: 30 * time.Second,
	KindAuthentication: 15 * time.Second,
	KindManagement:     10 * time.Minute,
	KindValidation:     30 * time.Second,
}

// Request is the serialized envelope submitted to the executor pool,
// per spec.md §4.6 and §6's wire format: "{id, kind, code, handler,
// args, timeout_ms}".
type Request struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	Code      string                 `json:"code"`
	Handler   string                 `json:"handler"`
	Args      map[string]interface{} `json:"args"`
	TimeoutMS int64                  `json:"timeout_ms"`
}

// Status is the executor pool's terminal status for one request.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// ExecutionError carries a machine-readable failure from a function run.
type ExecutionError struct {
	Message string
	Code    string
	Details map[string]interface{}
}

func (e *ExecutionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "execution error"
}

// Result is the settled outcome of one function execution: the
// collected log lines, the terminal result value (as raw JSON, since
// the shape is function-defined), and status.
type Result struct {
	ID       string
	Status   Status
	Logs     []string
	Value    []byte // raw JSON result value, nil on failure
	Error    *ExecutionError
	Metadata map[string]interface{}

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// Transport submits a Request to the executor pool and streams back its
// response. Implementations (HTTPTransport, CommandTransport) differ
// only in how the pool is reached.
type Transport interface {
	// Submit sends req and returns a channel of streamed events,
	// normally ending with one Event whose Final is true. The channel
	// is closed after the final event or when ctx is done, whichever
	// comes first; it can also close without a final event (e.g. the
	// sandbox process exits early), which Execute reports as a
	// NO_TERMINAL_EVENT failure.
	Submit(ctx context.Context, req Request) (<-chan Event, error)

	// Name identifies the transport for diagnostics/metadata.
	Name() string
}

// Event is one record in a Transport's streamed response: either a log
// line, or — when Final is true — the terminal result/status.
type Event struct {
	LogLine string
	Final   bool
	Value   []byte
	Status  Status
	Err     *ExecutionError
}

// Executor runs function requests against a Transport, applying the
// per-kind timeout and collecting the streamed response into a Result.
type Executor struct {
	transport Transport
	timeouts  map[Kind]time.Duration

	mu        sync.Mutex
	inFlight  map[string]context.CancelFunc
}

// New constructs an Executor over transport, with spec.md §4.6's
// default per-kind timeouts. Use WithTimeout to override one.
func New(transport Transport) *Executor {
	timeouts := make(map[Kind]time.Duration, len(defaultTimeouts))
	for k, v := range defaultTimeouts {
		timeouts[k] = v
	}
	return &Executor{
		transport: transport,
		timeouts:  timeouts,
		inFlight:  make(map[string]context.CancelFunc),
	}
}

// WithTimeout overrides the wall-clock budget for kind.
func (e *Executor) WithTimeout(kind Kind, d time.Duration) *Executor {
	e.timeouts[kind] = d
	return e
}

// Execute submits req to the transport, waits for the terminal event
// (honoring the per-kind timeout and ctx cancellation), and returns the
// collected Result. Cancellation is propagated to the transport via the
// derived context; an in-flight execution cancelled this way (through
// ctx or CancelAll) is best-effort aborted, and its Result has
// StatusCancelled and an error with code CANCELLED, which Execute also
// returns.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	return e.execute(ctx, req, nil)
}

// execute is the shared implementation behind Execute and
// ExecuteStreaming; sink, if non-nil, is called with every log line as
// it streams in, in addition to it being collected into Result.Logs.
func (e *Executor) execute(ctx context.Context, req Request, sink func(string)) (*Result, error) {
	timeout := e.timeouts[req.Kind]
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if req.TimeoutMS == 0 {
		req.TimeoutMS = timeout.Milliseconds()
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	e.mu.Lock()
	e.inFlight[req.ID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inFlight, req.ID)
		e.mu.Unlock()
		cancel()
	}()

	result := &Result{ID: req.ID, Status: StatusRunning, StartTime: time.Now(), Metadata: map[string]interface{}{
		"transport": e.transport.Name(),
	}}

	events, err := e.transport.Submit(runCtx, req)
	if err != nil {
		result.Status = StatusFailed
		result.Error = &ExecutionError{Message: fmt.Sprintf("submit failed: %v", err), Code: "SUBMIT_ERROR"}
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		return result, result.Error
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if result.Status == StatusRunning {
					result.Status = StatusFailed
					result.Error = &ExecutionError{Message: "transport closed without a terminal event", Code: "NO_TERMINAL_EVENT"}
				}
				result.EndTime = time.Now()
				result.Duration = result.EndTime.Sub(result.StartTime)
				return result, result.Error
			}
			if !ev.Final {
				result.Logs = append(result.Logs, ev.LogLine)
				if sink != nil {
					sink(ev.LogLine)
				}
				continue
			}
			result.Status = ev.Status
			result.Value = ev.Value
			result.Error = ev.Err
			result.EndTime = time.Now()
			result.Duration = result.EndTime.Sub(result.StartTime)
			if result.Error != nil {
				return result, result.Error
			}
			return result, nil

		case <-runCtx.Done():
			// runCtx is done either because its own per-kind deadline
			// elapsed, because the caller's ctx was cancelled, or
			// because CancelAll cancelled it directly. Only the first
			// case is a genuine timeout; both cancellation sources
			// report Cancelled.
			switch {
			case ctx.Err() != nil:
				result.Status = StatusCancelled
			case runCtx.Err() == context.DeadlineExceeded:
				result.Status = StatusTimeout
			default:
				result.Status = StatusCancelled
			}
			code := "TIMEOUT"
			if result.Status == StatusCancelled {
				code = "CANCELLED"
			}
			result.Error = &ExecutionError{
				Message: fmt.Sprintf("function execution %s: %v", result.Status, runCtx.Err()),
				Code:    code,
			}
			result.EndTime = time.Now()
			result.Duration = result.EndTime.Sub(result.StartTime)
			return result, result.Error
		}
	}
}

// CancelAll aborts every in-flight execution, used on coordinator
// shutdown per spec.md §4.6's "cancellation propagates from the
// coordinator's shutdown to in-flight executions."
func (e *Executor) CancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.inFlight {
		cancel()
		delete(e.inFlight, id)
	}
}
