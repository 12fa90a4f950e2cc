// Package trace implements the engine's trace type (§3 "Trace", §6
// "Trace wire format"): an append-only sequence of events recording
// which thread ran, what alternatives existed, and a tagged summary of
// the action taken — enough for the dependency oracle (§4.G) and the
// trace simplifier (§4.J) to operate without re-running the
// interpreter, and enough to serialize for an external reporter.
package trace

import (
	"encoding/json"

	"github.com/kolkov/sct/action"
	"github.com/kolkov/sct/ids"
)

// DecisionKind discriminates how the scheduler arrived at the event's
// thread (§3 "Decision").
type DecisionKind int

const (
	Continue DecisionKind = iota
	SwitchTo
	Start
)

func (d DecisionKind) String() string {
	switch d {
	case Continue:
		return "continue"
	case SwitchTo:
		return "switch"
	case Start:
		return "start"
	default:
		return "decision(?)"
	}
}

// Decision names which thread ran this step and why it's notable that
// it did (a plain continuation of the previous step, an explicit
// switch, or a thread's first step).
type Decision struct {
	Kind DecisionKind
	Tid  ids.ID
}

// Alternative is a lookahead summary of a runnable-but-not-chosen
// thread's next action, recorded so DPOR (§4.H) can compute backtrack
// sets without re-running the interpreter to find out what each
// alternative thread would have done.
type Alternative struct {
	Tid       ids.ID
	Lookahead ActionTag
}

// AccessKind classifies how an ActionTag touches the resource(s) named
// in its id fields, for the dependency oracle (§4.G).
type AccessKind int

const (
	NoAccess AccessKind = iota
	AccessRead
	AccessWrite
	AccessCreate
	AccessBlock
)

// ActionTag is a flattened, dependency-oracle-friendly summary of one
// action.Action value: its Kind plus whichever resource ids and
// access kind that Kind touches. The interpreter fills this in
// alongside executing the action — it never needs to be recovered by
// inspecting the (unexported) continuation closures.
type ActionTag struct {
	Kind   action.Kind
	Access AccessKind

	// Resource is the single cell/MVar/TVar this action primarily
	// touches, if any (e.g. the cell for ReadCell/WriteCell, the MVar
	// for PutMVar/TakeMVar; TVars are carried in TVarReads/TVarWrites
	// instead since a transaction can touch many).
	Resource ids.ID

	// Thread is the thread id a Fork/ForkOS allocated, or the target
	// of a ThrowTo.
	Thread ids.ID

	// TVarReads/TVarWrites carry an STM transaction's full read/write
	// set (§4.G "the oracle ... maintains a rolling dependency
	// state"); only populated for Atomic.
	TVarReads  []ids.ID
	TVarWrites []ids.ID
}

// Event is one entry of a trace (§3): the decision that selected a
// thread, the alternatives available at that point, and a summary of
// what the chosen thread did.
type Event struct {
	Decision     Decision
	Alternatives []Alternative
	Action       ActionTag
}

// Trace is an ordered, append-only sequence of events.
type Trace []Event

// Tid returns the thread id that executed event i's action: the
// decision's Tid for Start/SwitchTo, or the same thread continuing
// otherwise. Continue events still carry the running thread's id in
// Decision.Tid — the interpreter always fills it in, never leaving it
// to be inferred from the prior event — so this is just Decision.Tid.
func (e Event) Tid() ids.ID { return e.Decision.Tid }

// --- wire format (§6) -------------------------------------------------

type wireAlternative struct {
	Tid       uint64    `json:"tid"`
	Lookahead wireAction `json:"lookahead"`
}

type wireAction struct {
	Tag      string   `json:"tag"`
	Resource uint64   `json:"resource,omitempty"`
	Thread   uint64   `json:"thread,omitempty"`
}

type wireEvent struct {
	Kind         string            `json:"kind"`
	Tid          uint64            `json:"tid"`
	Alternatives []wireAlternative `json:"alternatives"`
	Action       wireAction        `json:"action"`
}

func toWireAction(tag ActionTag) wireAction {
	return wireAction{Tag: tag.Kind.String(), Resource: tag.Resource.Int(), Thread: tag.Thread.Int()}
}

func toWireEvent(e Event) wireEvent {
	alts := make([]wireAlternative, len(e.Alternatives))
	for i, a := range e.Alternatives {
		alts[i] = wireAlternative{Tid: a.Tid.Int(), Lookahead: toWireAction(a.Lookahead)}
	}
	return wireEvent{
		Kind:         e.Decision.Kind.String(),
		Tid:          e.Decision.Tid.Int(),
		Alternatives: alts,
		Action:       toWireAction(e.Action),
	}
}

// MarshalJSON renders t in the external trace wire format (§6): an
// array of decisions, each `{kind, tid, alternatives, action}`.
func (t Trace) MarshalJSON() ([]byte, error) {
	wire := make([]wireEvent, len(t))
	for i, e := range t {
		wire[i] = toWireEvent(e)
	}
	return json.Marshal(wire)
}
