package core

import (
	"testing"

	"medassist/pkg"
)

func TestRecordTurns(t *testing.T) {
	prior := pkg.Transcript{turn(pkg.RoleUser, "hi"), turn(pkg.RoleModel, "hello")}

	got := RecordTurns(prior, "I have a fever", "Sorry to hear that.")

	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if got[2].Role != pkg.RoleUser || got[2].Text() != "I have a fever" {
		t.Errorf("user turn = %+v", got[2])
	}
	if got[3].Role != pkg.RoleModel || got[3].Text() != "Sorry to hear that." {
		t.Errorf("model turn = %+v", got[3])
	}

	got[0].Segments[0] = "mutated"
	if prior[0].Segments[0] != "hi" || len(prior) != 2 {
		t.Errorf("prior transcript mutated: %+v", prior)
	}
}

func TestRecordTurns_EmptyPrior(t *testing.T) {
	got := RecordTurns(nil, "a", "b")
	if len(got) != 2 || got[0].Role != pkg.RoleUser || got[1].Role != pkg.RoleModel {
		t.Errorf("got %+v", got)
	}
}
