package audio

import "testing"

func TestMuteTableSetGet(t *testing.T) {
	mt := NewMuteTable()

	mt.Set("a", true)
	mt.Set("b", false)

	if !mt.Get("a") {
		t.Error("Get(a) = false, want true")
	}
	if mt.Get("b") {
		t.Error("Get(b) = true, want false")
	}

	// A missing entry defaults to unmuted and is not created by the read.
	if mt.Get("missing") {
		t.Error("missing entry should default to unmuted")
	}
	if mt.Has("missing") {
		t.Error("read must not create an entry")
	}
}

func TestMuteTablePrune(t *testing.T) {
	mt := NewMuteTable()
	mt.Set("a", true)
	mt.Set("b", true)
	mt.Set("c", false)

	mt.Prune([]string{"b"})

	if mt.Has("a") || mt.Has("c") {
		t.Error("entries outside the membership set survived the prune")
	}
	if !mt.Has("b") {
		t.Error("member entry was pruned")
	}
	if mt.Len() != 1 {
		t.Errorf("Len = %d, want 1", mt.Len())
	}
}

func TestMuteTablePruneEmptyMembership(t *testing.T) {
	mt := NewMuteTable()
	mt.Set("a", true)

	mt.Prune(nil)
	if mt.Len() != 0 {
		t.Errorf("Len after pruning to empty membership = %d, want 0", mt.Len())
	}
}
