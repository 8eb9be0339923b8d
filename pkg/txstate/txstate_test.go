package txstate

import (
	"encoding/json"
	"testing"

	"github.com/cuemby/warpengine/pkg/model"
	"github.com/cuemby/warpengine/pkg/sortkey"
)

func TestGetSeesStagedBeforeCommitted(t *testing.T) {
	s := New()
	key := sortkey.Key("k1")
	committed := model.NewEvalStateResult[json.RawMessage](json.RawMessage(`{"v":1}`))
	s.Set("contract-a", key, committed)
	s.Commit()

	staged := model.NewEvalStateResult[json.RawMessage](json.RawMessage(`{"v":2}`))
	s.Set("contract-a", key, staged)

	got, ok := s.Get("contract-a", key)
	if !ok {
		t.Fatal("expected entry to be found")
	}
	if string(got.State) != `{"v":2}` {
		t.Fatalf("Get returned %s, want staged value", got.State)
	}
}

func TestRollbackDiscardsStagedOnly(t *testing.T) {
	s := New()
	key := sortkey.Key("k1")
	committed := model.NewEvalStateResult[json.RawMessage](json.RawMessage(`{"v":1}`))
	s.Set("contract-a", key, committed)
	s.Commit()

	staged := model.NewEvalStateResult[json.RawMessage](json.RawMessage(`{"v":2}`))
	s.Set("contract-a", key, staged)
	s.Rollback()

	got, ok := s.Get("contract-a", key)
	if !ok {
		t.Fatal("expected committed entry to survive rollback")
	}
	if string(got.State) != `{"v":1}` {
		t.Fatalf("Get returned %s, want committed value after rollback", got.State)
	}
}

func TestEnterCallDetectsCycle(t *testing.T) {
	s := New()
	if err := s.EnterCall("contract-a", "tx-1"); err != nil {
		t.Fatalf("first EnterCall: %v", err)
	}
	if err := s.EnterCall("contract-b", "tx-2"); err != nil {
		t.Fatalf("second EnterCall: %v", err)
	}
	if err := s.EnterCall("contract-a", "tx-1"); err == nil {
		t.Fatal("expected cycle detection error re-entering (contract-a, tx-1)")
	}
}

func TestExitCallUnwindsStack(t *testing.T) {
	s := New()
	_ = s.EnterCall("contract-a", "tx-1")
	_ = s.EnterCall("contract-b", "tx-2")
	s.ExitCall()
	if s.Depth() != 1 {
		t.Fatalf("Depth() = %d, want 1", s.Depth())
	}
	if err := s.EnterCall("contract-b", "tx-2"); err != nil {
		t.Fatalf("re-entering after exit should be allowed: %v", err)
	}
}

func TestCommittedReturnsAllEntries(t *testing.T) {
	s := New()
	s.Set("contract-a", sortkey.Key("k1"), model.NewEvalStateResult[json.RawMessage](json.RawMessage(`{}`)))
	s.Set("contract-b", sortkey.Key("k1"), model.NewEvalStateResult[json.RawMessage](json.RawMessage(`{}`)))
	s.Commit()

	all := s.Committed()
	if len(all) != 2 {
		t.Fatalf("Committed() returned %d entries, want 2", len(all))
	}
}
