package app

import (
	"context"
	"testing"

	"github.com/avdeev/Courier/internal/core"
	"github.com/avdeev/Courier/internal/domain"
)

func TestBroadcastChangeReachesOnlyLiveMembers(t *testing.T) {
	store := newMemStore()
	seedGroup(store, 10, 1, 2, 3)

	reg := NewRegistry()
	live := newStubDrainConn()
	if _, err := reg.RegisterDelivery(2, live); err != nil {
		t.Fatalf("register: %v", err)
	}
	// User 4 is live but not a member; the notice must not reach them.
	outsider := newStubDrainConn()
	if _, err := reg.RegisterDelivery(4, outsider); err != nil {
		t.Fatalf("register: %v", err)
	}

	b := &Broadcaster{Groups: store, Registry: reg}
	b.BroadcastChange(context.Background(), 10, domain.ChangeEdit, 5, "new words")

	got := live.payloads()
	if len(got) != 1 {
		t.Fatalf("live member got %d notices, want 1", len(got))
	}
	cp, ok := got[0].(core.ChangePayload)
	if !ok {
		t.Fatalf("notice is %T", got[0])
	}
	if cp.Type != domain.ChangeEdit || cp.ID != 5 || cp.NewText != "new words" {
		t.Fatalf("notice = %+v", cp)
	}
	if len(outsider.payloads()) != 0 {
		t.Fatalf("non-member received a change notice")
	}
}

func TestBroadcastChangeSurvivesWriteFailure(t *testing.T) {
	store := newMemStore()
	seedGroup(store, 10, 1, 2)

	reg := NewRegistry()
	broken := newStubDrainConn()
	broken.failAfter = 0
	healthy := newStubDrainConn()
	if _, err := reg.RegisterDelivery(1, broken); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.RegisterDelivery(2, healthy); err != nil {
		t.Fatalf("register: %v", err)
	}

	b := &Broadcaster{Groups: store, Registry: reg}
	b.BroadcastChange(context.Background(), 10, domain.ChangeDelete, 9, "")

	if got := healthy.payloads(); len(got) != 1 {
		t.Fatalf("healthy member got %d notices, want 1", len(got))
	}
}
