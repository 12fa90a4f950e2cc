package trace

import (
	"encoding/json"
	"testing"

	"github.com/kolkov/sct/action"
	"github.com/kolkov/sct/ids"
)

func TestDecisionKindString(t *testing.T) {
	cases := map[DecisionKind]string{Continue: "continue", SwitchTo: "switch", Start: "start"}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", k, got, want)
		}
	}
}

func TestEventTidIsDecisionTid(t *testing.T) {
	s := ids.NewSource()
	tid := s.Fresh(ids.Thread, "a")
	e := Event{Decision: Decision{Kind: Continue, Tid: tid}}
	if got := e.Tid(); got != tid {
		t.Errorf("Tid() = %v, want %v", got, tid)
	}
}

func TestMarshalJSONProducesWireShape(t *testing.T) {
	s := ids.NewSource()
	tid := s.Fresh(ids.Thread, "a")
	other := s.Fresh(ids.Thread, "b")
	cell := s.Fresh(ids.Cell, "c")

	tr := Trace{
		{
			Decision: Decision{Kind: Start, Tid: tid},
			Alternatives: []Alternative{
				{Tid: other, Lookahead: ActionTag{Kind: action.KYield}},
			},
			Action: ActionTag{Kind: action.KWriteCell, Access: AccessWrite, Resource: cell},
		},
	}

	raw, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("len(decoded) = %d, want 1", len(decoded))
	}
	rec := decoded[0]
	if rec["kind"] != "start" {
		t.Errorf("kind = %v, want start", rec["kind"])
	}
	if rec["tid"] != float64(tid.Int()) {
		t.Errorf("tid = %v, want %d", rec["tid"], tid.Int())
	}
	action, ok := rec["action"].(map[string]any)
	if !ok {
		t.Fatalf("action is not an object: %v", rec["action"])
	}
	if action["tag"] != "writeCell" {
		t.Errorf("action.tag = %v, want writeCell", action["tag"])
	}
	alts, ok := rec["alternatives"].([]any)
	if !ok || len(alts) != 1 {
		t.Fatalf("alternatives = %v, want one entry", rec["alternatives"])
	}
}
