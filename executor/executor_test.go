package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// channelTransport feeds a pre-built sequence of events back to the
// executor, optionally stalling before the final event so tests can
// exercise timeout and cancellation without a real transport.
type channelTransport struct {
	events []Event
	stall  time.Duration
}

func (c *channelTransport) Name() string { return "channel" }

func (c *channelTransport) Submit(ctx context.Context, req Request) (<-chan Event, error) {
	out := make(chan Event, len(c.events)+1)
	go func() {
		defer close(out)
		for _, ev := range c.events {
			select {
			case <-ctx.Done():
				return
			case out <- ev:
			}
		}
		if c.stall > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(c.stall):
			}
		}
	}()
	return out, nil
}

func TestExecuteCollectsLogsAndTerminalValue(t *testing.T) {
	transport := &channelTransport{events: []Event{
		{LogLine: "starting"},
		{LogLine: "done"},
		{Final: true, Status: StatusCompleted, Value: []byte(`{"ok":true}`)},
	}}
	e := New(transport)

	result, err := e.Execute(context.Background(), Request{ID: "r1", Kind: KindAction})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Equal(t, []string{"starting", "done"}, result.Logs)
	require.JSONEq(t, `{"ok":true}`, string(result.Value))
	require.Equal(t, "channel", result.Metadata["transport"])
}

func TestExecuteReturnsTimeoutWhenTransportNeverTerminates(t *testing.T) {
	transport := &channelTransport{stall: time.Hour}
	e := New(transport).WithTimeout(KindValidation, 20*time.Millisecond)

	result, err := e.Execute(context.Background(), Request{ID: "r2", Kind: KindValidation})
	require.Error(t, err)
	require.Equal(t, StatusTimeout, result.Status)
	require.Equal(t, "TIMEOUT", result.Error.Code)
}

func TestExecuteReturnsCancelledWhenCallerContextIsDone(t *testing.T) {
	transport := &channelTransport{stall: time.Hour}
	e := New(transport).WithTimeout(KindValidation, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := e.Execute(ctx, Request{ID: "r3", Kind: KindValidation})
	require.Error(t, err)
	require.Equal(t, StatusCancelled, result.Status)
}

func TestExecuteReturnsFailedOnExecutionError(t *testing.T) {
	transport := &channelTransport{events: []Event{
		{Final: true, Status: StatusFailed, Err: &ExecutionError{Message: "boom", Code: "BOOM"}},
	}}
	e := New(transport)

	result, err := e.Execute(context.Background(), Request{ID: "r4", Kind: KindAttribute})
	require.Error(t, err)
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, "BOOM", result.Error.Code)
}

func TestExecuteStreamingInvokesSinkForEveryLogLine(t *testing.T) {
	transport := &channelTransport{events: []Event{
		{LogLine: "one"},
		{LogLine: "two"},
		{Final: true, Status: StatusCompleted, Value: []byte(`null`)},
	}}
	e := New(transport)

	var seen []string
	result, err := e.ExecuteStreaming(context.Background(), Request{ID: "r5", Kind: KindAction}, func(line string) {
		seen = append(seen, line)
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Equal(t, []string{"one", "two"}, seen)
	require.Equal(t, seen, result.Logs)
}

func TestCancelAllAbortsInFlightExecutions(t *testing.T) {
	transport := &channelTransport{stall: time.Hour}
	e := New(transport).WithTimeout(KindAction, time.Hour)

	done := make(chan *Result, 1)
	go func() {
		result, _ := e.Execute(context.Background(), Request{ID: "r6", Kind: KindAction})
		done <- result
	}()

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		_, ok := e.inFlight["r6"]
		return ok
	}, time.Second, 5*time.Millisecond)

	e.CancelAll()

	select {
	case result := <-done:
		require.Equal(t, StatusCancelled, result.Status)
		require.Equal(t, "CANCELLED", result.Error.Code)
	case <-time.After(time.Second):
		t.Fatal("execute did not return after CancelAll")
	}
}
