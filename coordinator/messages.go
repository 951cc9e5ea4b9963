// Package coordinator implements the dependent-values update (DVU)
// coordinator: a single-threaded cooperative receive loop that tracks,
// per change set, which attribute values still depend on others and
// dispatches work to workers over a pub/sub bus, per spec.md §4.4.
//
// Adapted from coordinator/messages.go's WSMessage envelope and typed
// payload pattern, retargeted from when-v3's workflow phase protocol to
// the DVU node-dependency protocol; adapted from coordinator/coordinator.go
// for the receive-loop shape, replacing its gorilla/websocket transport
// with the bus.Bus abstraction for the worker protocol, while keeping
// gorilla/websocket for the external phase-notification sink.
package coordinator

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/systeminit/workspace-engine/snapshot"
)

// MessageType is the closed set of DVU protocol message kinds exchanged
// over the bus between workers and the coordinator, per spec.md §4.4.
type MessageType string

const (
	// Worker → coordinator messages
	MessageTypeValueDependencyGraph  MessageType = "value_dependency_graph"
	MessageTypeProcessedValue        MessageType = "processed_value"
	MessageTypeValueProcessingFailed MessageType = "value_processing_failed"
	MessageTypeBye                   MessageType = "bye"

	// Coordinator → worker messages
	MessageTypeOkToProcess   MessageType = "ok_to_process"
	MessageTypeBeenProcessed MessageType = "been_processed"
	MessageTypeFailed        MessageType = "failed"
	MessageTypeRestart       MessageType = "restart"
)

// Envelope is the base message structure for all DVU bus communication,
// mirroring the teacher's WSMessage but keyed by change set instead of
// workflow.
type Envelope struct {
	ID          string          `json:"id"`
	Type        MessageType     `json:"type"`
	ChangeSetID string          `json:"change_set_id,omitempty"`
	ReplyTo     string          `json:"reply_to,omitempty"` // worker's reply channel, spec.md §4.4's "worker_reply_channel"
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an Envelope with an id and timestamp already set.
func NewEnvelope(msgType MessageType, changeSetID, replyTo string, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:          generateEnvelopeID(),
		Type:        msgType,
		ChangeSetID: changeSetID,
		ReplyTo:     replyTo,
		Timestamp:   time.Now(),
		Payload:     raw,
	}, nil
}

// JSON serializes the envelope.
func (e *Envelope) JSON() ([]byte, error) { return json.Marshal(e) }

// ParseEnvelope deserializes a bus message into an Envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DecodePayload unmarshals e.Payload into dst.
func (e *Envelope) DecodePayload(dst interface{}) error {
	return json.Unmarshal(e.Payload, dst)
}

// ValueDependencyGraphPayload is a worker declaring the subgraph of nodes
// it intends to produce, per spec.md §4.4: "worker declares the subgraph
// of nodes it intends to produce. Coordinator merges into G, union of
// edges and wanted_by."
type ValueDependencyGraphPayload struct {
	Edges []DependencyEdge `json:"edges"`
}

// DependencyEdge is one (node depends_on dependency) pair contributed by a
// worker's declared subgraph.
type DependencyEdge struct {
	Node      snapshot.NodeID `json:"node"`
	DependsOn snapshot.NodeID `json:"depends_on"`
}

// ProcessedValuePayload reports a worker finished computing a node.
type ProcessedValuePayload struct {
	NodeID snapshot.NodeID `json:"node_id"`
}

// ValueProcessingFailedPayload reports a worker failed to compute a node.
type ValueProcessingFailedPayload struct {
	NodeID snapshot.NodeID `json:"node_id"`
	Reason string          `json:"reason,omitempty"`
}

// OkToProcessPayload tells a worker it may begin processing the named
// nodes; all of their dependencies have already settled.
type OkToProcessPayload struct {
	NodeIDs []snapshot.NodeID `json:"node_ids"`
}

// BeenProcessedPayload acknowledges a worker's ProcessedValue report.
type BeenProcessedPayload struct {
	NodeID snapshot.NodeID `json:"node_id"`
}

// FailedPayload tells a worker that a node it was waiting on (directly or
// transitively) failed.
type FailedPayload struct {
	NodeID snapshot.NodeID `json:"node_id"`
}

// generateEnvelopeID produces a short unique-enough ID for an outgoing
// envelope, adapted from coordinator/coordinator.go's generateMessageID.
func generateEnvelopeID() string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return fmt.Sprintf("env-%s-%d", string(b), time.Now().UnixNano()%1000000)
}
