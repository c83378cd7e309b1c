package agent

import (
	"testing"

	"microvisor/internal/capstore"
)

func TestSpawnMonotonicAndSupervisorReserved(t *testing.T) {
	r := NewRegistry()
	if !r.Exists(Supervisor) {
		t.Fatal("expected AgentId 0 to be pre-registered as the Kernel Supervisor")
	}
	a := r.Spawn("a", nil)
	b := r.Spawn("b", nil)
	if a == Supervisor || b == Supervisor || b <= a {
		t.Fatalf("expected strictly increasing non-zero ids, got a=%d b=%d", a, b)
	}
}

func TestTerminateIsOneWayAndIdempotent(t *testing.T) {
	r := NewRegistry()
	id := r.Spawn("x", nil)
	r.Terminate(id)
	r.Terminate(id)
	st, ok := r.State(id)
	if !ok || st != Terminated {
		t.Fatalf("expected Terminated, got %v ok=%v", st, ok)
	}
}

func TestGrantNoOpOnTerminated(t *testing.T) {
	r := NewRegistry()
	id := r.Spawn("x", nil)
	r.Terminate(id)
	if r.Grant(id, capstore.Id(1)) {
		t.Fatal("expected Grant on terminated agent to report false")
	}
}

func TestGrantNoOpOnUnknown(t *testing.T) {
	r := NewRegistry()
	if r.Grant(Id(12345), capstore.Id(1)) {
		t.Fatal("expected Grant on unknown agent to report false")
	}
}

func TestCapabilitiesSnapshotIsClone(t *testing.T) {
	r := NewRegistry()
	id := r.Spawn("x", []capstore.Id{1, 2})
	bag := r.Capabilities(id)
	bag[0] = 999
	if again := r.Capabilities(id); again[0] == 999 {
		t.Fatal("Capabilities must return an independent snapshot, not a live view")
	}
}

func TestCapabilitiesEmptyForUnknownAgent(t *testing.T) {
	r := NewRegistry()
	if bag := r.Capabilities(Id(42)); bag != nil {
		t.Fatalf("expected nil/empty bag for unknown agent, got %v", bag)
	}
}

func TestSpawnChildEnforcesBudget(t *testing.T) {
	r := NewRegistry()
	parent := r.Spawn("parent", nil)
	for i := 0; i < 2; i++ {
		if _, err := r.SpawnChild(parent, "child", nil, 2); err != nil {
			t.Fatalf("unexpected error spawning child %d: %v", i, err)
		}
	}
	if _, err := r.SpawnChild(parent, "child", nil, 2); err != ErrSpawnBudgetExceeded {
		t.Fatalf("expected ErrSpawnBudgetExceeded, got %v", err)
	}
}

func TestSpawnChildBudgetFreedOnTerminate(t *testing.T) {
	r := NewRegistry()
	parent := r.Spawn("parent", nil)
	c1, err := r.SpawnChild(parent, "c1", nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.SpawnChild(parent, "c2", nil, 1); err != ErrSpawnBudgetExceeded {
		t.Fatal("expected budget exceeded before terminating c1")
	}
	r.Terminate(c1)
	if _, err := r.SpawnChild(parent, "c2", nil, 1); err != nil {
		t.Fatalf("expected budget to free up after terminating c1: %v", err)
	}
}
