package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/systeminit/workspace-engine/executor"
	"github.com/systeminit/workspace-engine/scheduler"
	"github.com/systeminit/workspace-engine/snapshot"
)

type fakeTransport struct {
	value []byte
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Submit(ctx context.Context, req executor.Request) (<-chan executor.Event, error) {
	ch := make(chan executor.Event, 1)
	ch <- executor.Event{Final: true, Status: executor.StatusCompleted, Value: f.value}
	close(ch)
	return ch, nil
}

func TestActionHandlerRunsPrototypeAndReturnsResult(t *testing.T) {
	g := snapshot.NewGraph()
	fnPayload, _ := json.Marshal(map[string]string{"code": "return {}", "handler": "main"})
	fn, err := snapshot.NewNodeWeight(snapshot.KindFunc, g.GenerateULID(), "fn-1", fnPayload)
	require.NoError(t, err)
	require.NoError(t, g.AddOrReplaceNode(fn))

	exec := executor.New(&fakeTransport{value: []byte(`{"ok":true}`)})
	handler := NewActionHandler(g, exec)

	action := &scheduler.Action{ID: "action-1", Kind: scheduler.KindCreate, PrototypeID: fn.ID}
	result, err := handler(context.Background(), action, map[string]interface{}{"a": 1})
	require.NoError(t, err)
	require.Equal(t, executor.StatusCompleted, result.Status)
	require.JSONEq(t, `{"ok":true}`, string(result.Value))
}
