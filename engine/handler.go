package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/systeminit/workspace-engine/executor"
	"github.com/systeminit/workspace-engine/scheduler"
	"github.com/systeminit/workspace-engine/snapshot"
)

// funcPayload is the minimal shape this package needs from a Func node's
// content: the source and entry point the function executor pool runs,
// per spec.md §4.6's request envelope.
type funcPayload struct {
	Kind    executor.Kind `json:"kind"`
	Code    string        `json:"code"`
	Handler string        `json:"handler"`
}

// NewActionHandler builds the single scheduler.Handler registered for
// every action.Kind: it loads action.PrototypeID's Func node, submits it
// to exec, and returns the executor's result unchanged so
// scheduler.Scheduler.Run can reconcile it (write resource on success,
// fail on error).
//
// Grounded on semantic/actionregistry.go's kind-to-handler dispatch,
// collapsed to one handler here since every built-in and user-defined
// action kind resolves the same way: look up its prototype, run it.
func NewActionHandler(graph *snapshot.Graph, exec *executor.Executor) scheduler.Handler {
	return func(ctx context.Context, action *scheduler.Action, args map[string]interface{}) (*executor.Result, error) {
		node, err := graph.GetNodeWeight(action.PrototypeID)
		if err != nil {
			return nil, fmt.Errorf("load prototype %s for action %s: %w", action.PrototypeID, action.ID, err)
		}
		var fn funcPayload
		if err := json.Unmarshal(node.Payload, &fn); err != nil {
			return nil, fmt.Errorf("decode prototype %s: %w", action.PrototypeID, err)
		}
		if fn.Kind == "" {
			fn.Kind = executor.KindAction
		}

		return exec.Execute(ctx, executor.Request{
			ID:      string(action.ID),
			Kind:    fn.Kind,
			Code:    fn.Code,
			Handler: fn.Handler,
			Args:    args,
		})
	}
}
