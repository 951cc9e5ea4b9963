package snapshot

// EdgeKind is the closed set of typed, directional edge discriminants.
// Discriminants live in their own byte-sized set (see edgeKindByte) so
// edges can be queried by kind without decoding the node payloads they
// connect, per spec.md §3.
type EdgeKind string

const (
	EdgeUse                    EdgeKind = "Use"
	EdgeContain                EdgeKind = "Contain"
	EdgeProp                   EdgeKind = "Prop"
	EdgeRoot                   EdgeKind = "Root"
	EdgeSocket                 EdgeKind = "Socket"
	EdgeSocketValue            EdgeKind = "SocketValue"
	EdgePrototype              EdgeKind = "Prototype"
	EdgePrototypeArgument      EdgeKind = "PrototypeArgument"
	EdgePrototypeArgumentValue EdgeKind = "PrototypeArgumentValue"
	EdgeFrameContains          EdgeKind = "FrameContains"
	EdgeValidationOutput       EdgeKind = "ValidationOutput"
	EdgeManagementPrototype    EdgeKind = "ManagementPrototype"
	EdgeValueSubscription      EdgeKind = "ValueSubscription"
)

// edgeKindByte gives each EdgeKind a stable single-byte discriminant for
// merkle hash encoding (snapshot/merkle.go) so the sort order used there is
// independent of string comparison and can't change if a kind is renamed.
var edgeKindByte = map[EdgeKind]byte{
	EdgeUse:                    0x01,
	EdgeContain:                0x02,
	EdgeProp:                   0x03,
	EdgeRoot:                   0x04,
	EdgeSocket:                 0x05,
	EdgeSocketValue:            0x06,
	EdgePrototype:              0x07,
	EdgePrototypeArgument:      0x08,
	EdgePrototypeArgumentValue: 0x09,
	EdgeFrameContains:          0x0a,
	EdgeValidationOutput:       0x0b,
	EdgeManagementPrototype:    0x0c,
	EdgeValueSubscription:      0x0d,
}

// cycleGuardedKinds lists the edge kinds that must never form a cycle, per
// spec.md §3 invariant 7 ("No cycles via FrameContains or Use").
var cycleGuardedKinds = map[EdgeKind]bool{
	EdgeFrameContains: true,
	EdgeUse:           true,
}

// EdgeWeight is a single directed edge: its kind, an optional map key (only
// meaningful for Contain edges into a map prop, per spec.md §3 invariant
// 3), and whether it is the "default" Use edge for its source.
type EdgeWeight struct {
	Kind    EdgeKind
	Key     string // only set for EdgeContain into a map prop
	Default bool   // only meaningful for EdgeUse
}

// edge is the internal (from-index, to-index, weight) record stored in the
// graph's arena. No owning references exist between node payloads — edges
// are plain index triples, per spec.md §9's arena-with-side-map design.
type edge struct {
	from, to int
	weight   EdgeWeight
}
