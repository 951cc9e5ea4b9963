package snapshot

import "encoding/json"

// NodeKind is the closed set of content-bearing node discriminants the
// snapshot graph understands. Operations dispatch on this discriminant
// instead of relying on open-world polymorphism: spec.md §9 is explicit
// that open-world extension is not supported at the core layer.
type NodeKind string

const (
	KindComponent                  NodeKind = "Component"
	KindProp                       NodeKind = "Prop"
	KindAttributeValue             NodeKind = "AttributeValue"
	KindFunc                       NodeKind = "Func"
	KindFuncArgument               NodeKind = "FuncArgument"
	KindSchema                     NodeKind = "Schema"
	KindSchemaVariant              NodeKind = "SchemaVariant"
	KindInputSocket                NodeKind = "InputSocket"
	KindOutputSocket               NodeKind = "OutputSocket"
	KindView                       NodeKind = "View"
	KindValidationOutput           NodeKind = "ValidationOutput"
	KindAttributePrototype         NodeKind = "AttributePrototype"
	KindAttributePrototypeArgument NodeKind = "AttributePrototypeArgument"
	KindSecret                     NodeKind = "Secret"
	KindStaticArgumentValue        NodeKind = "StaticArgumentValue"
	KindCategory                   NodeKind = "Category"
)

// validNodeKinds is used to reject unknown discriminants at construction
// time rather than discovering the mistake deep inside a traversal.
var validNodeKinds = map[NodeKind]bool{
	KindComponent:                  true,
	KindProp:                       true,
	KindAttributeValue:             true,
	KindFunc:                       true,
	KindFuncArgument:               true,
	KindSchema:                     true,
	KindSchemaVariant:              true,
	KindInputSocket:                true,
	KindOutputSocket:               true,
	KindView:                       true,
	KindValidationOutput:           true,
	KindAttributePrototype:         true,
	KindAttributePrototypeArgument: true,
	KindSecret:                     true,
	KindStaticArgumentValue:        true,
	KindCategory:                   true,
}

// ContentHash is a content-addressed hash, fixed-width and collision
// resistant (blake3-class, see snapshot/merkle.go). It is hex-encoded for
// ease of use as a map key and in log lines.
type ContentHash string

// NodeWeight is a single node in the snapshot graph: a stable identity
// (ID, Lineage) plus a pointer into the content store (ContentHash) and the
// JSON payload last read from it, cached here so readers don't round-trip
// to the content store on every traversal step.
//
// Payload carries the node-kind-specific fields (e.g. a Prop's name and
// widget kind, an AttributeValue's func-driven-or-literal flag) as raw
// JSON; snapshot does not know or care about the shape, it only needs
// enough to compute hashes and enforce structural invariants. Callers that
// need the typed payload decode it themselves (mirrors the versioned
// Content::V1/V2 envelope pattern spec.md §4.2 describes, implemented in
// content/store.go).
type NodeWeight struct {
	ID          NodeID
	Lineage     LineageID
	Kind        NodeKind
	ContentHash ContentHash
	Payload     json.RawMessage
}

// NewNodeWeight constructs a node with the given kind, the caller-supplied
// id (typically minted by Graph.GenerateULID), and lineage equal to that
// id (per spec.md §3's
// lifecycle: "Nodes are created with a fresh ULID, lineage = ULID at
// birth"). It does not insert the node into any graph.
func NewNodeWeight(kind NodeKind, id NodeID, contentHash ContentHash, payload json.RawMessage) (*NodeWeight, error) {
	if !validNodeKinds[kind] {
		return nil, &unknownNodeKindError{kind: kind}
	}
	return &NodeWeight{
		ID:          id,
		Lineage:     LineageID(id),
		Kind:        kind,
		ContentHash: contentHash,
		Payload:     payload,
	}, nil
}

// WithContent returns a copy of the node with a new content hash and
// payload but the same ID and Lineage — a content edit per spec.md §3:
// "lineage is preserved; merkle hashes of self and ancestors recomputed
// lazily on next read/commit."
func (n *NodeWeight) WithContent(hash ContentHash, payload json.RawMessage) *NodeWeight {
	clone := *n
	clone.ContentHash = hash
	clone.Payload = payload
	return &clone
}

type unknownNodeKindError struct{ kind NodeKind }

func (e *unknownNodeKindError) Error() string {
	return "unknown node kind: " + string(e.kind)
}
