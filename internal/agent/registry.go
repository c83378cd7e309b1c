// Package agent implements the Agent Registry (C2): tracks agents by id,
// name, lifecycle state, and the ordered capability bag each one holds.
package agent

import (
	"errors"
	"log/slog"
	"sync"

	"microvisor/internal/capstore"
)

// Id identifies an agent (and, identically, an IPC ProcessId). Id 0 is
// reserved for the Kernel Supervisor, the escalation audit sink.
type Id int64

// Supervisor is the reserved AgentId / ProcessId for the Kernel Supervisor.
const Supervisor Id = 0

type State int

const (
	Running State = iota
	Terminated
)

func (s State) String() string {
	if s == Terminated {
		return "Terminated"
	}
	return "Running"
}

// Agent is a registry record. Bag mutation always goes through the
// Registry so it can never race a concurrent authorization check
// (invariant 3; enforced structurally here by the single-threaded
// cooperative model of §5 plus the registry's own mutex).
type Agent struct {
	Id           Id
	Name         string
	State        State
	Parent       Id
	HasParent    bool
	Capabilities []capstore.Id
}

var ErrSpawnBudgetExceeded = errors.New("E_SPAWN_BUDGET: parent has exhausted its Spawn.max_children budget")

// Registry is the C2 component: a single mutex-guarded map of agents plus
// a monotonic id counter, directly generalizing the teacher's
// Kernel.Actors/NextActorID bookkeeping to the spec's Agent/AgentId shape.
type Registry struct {
	mu       sync.Mutex
	nextID   Id
	agents   map[Id]*Agent
	children map[Id]int // live (non-terminated) child count per parent
}

func NewRegistry() *Registry {
	r := &Registry{
		nextID:   Supervisor + 1,
		agents:   make(map[Id]*Agent),
		children: make(map[Id]int),
	}
	// The Kernel Supervisor is always present as AgentId 0, the sink for
	// escalation audit IPC messages (spec §6.4).
	r.agents[Supervisor] = &Agent{Id: Supervisor, Name: "kernel-supervisor", State: Running}
	return r
}

// Spawn allocates a fresh monotonically increasing id, records Running
// state, and stores a copy of initialCaps.
func (r *Registry) Spawn(name string, initialCaps []capstore.Id) Id {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++

	bag := make([]capstore.Id, len(initialCaps))
	copy(bag, initialCaps)

	r.agents[id] = &Agent{Id: id, Name: name, State: Running, Capabilities: bag}
	slog.Info("agent spawned", slog.Any("agent_id", id), slog.String("name", name))
	return id
}

// SpawnChild is like Spawn but records parentage and enforces the
// parent's Spawn.max_children budget (spec §9 Open Question, resolved:
// enforced rather than advisory — see DESIGN.md).
func (r *Registry) SpawnChild(parent Id, name string, initialCaps []capstore.Id, maxChildren int) (Id, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.children[parent] >= maxChildren {
		return 0, ErrSpawnBudgetExceeded
	}

	id := r.nextID
	r.nextID++

	bag := make([]capstore.Id, len(initialCaps))
	copy(bag, initialCaps)

	r.agents[id] = &Agent{Id: id, Name: name, State: Running, Parent: parent, HasParent: true, Capabilities: bag}
	r.children[parent]++
	slog.Info("child agent spawned",
		slog.Any("agent_id", id), slog.Any("parent_id", parent), slog.String("name", name))
	return id, nil
}

// Capabilities returns a snapshot clone of id's bag; empty if id is
// unknown.
func (r *Registry) Capabilities(id Id) []capstore.Id {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return nil
	}
	out := make([]capstore.Id, len(a.Capabilities))
	copy(out, a.Capabilities)
	return out
}

// Grant appends capID to the bag of a Running agent. It is a no-op (with a
// false return) if the agent is unknown or Terminated, so the escalation
// layer can log a denial rather than crash.
func (r *Registry) Grant(id Id, capID capstore.Id) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok || a.State != Running {
		return false
	}
	a.Capabilities = append(a.Capabilities, capID)
	return true
}

// Terminate transitions state to Terminated. The record, and its
// capability bag, remain in place for audit (they are never removed here);
// a bag entry that later fails to resolve in the capability store is
// handled by the predicate layer, not by the registry.
func (r *Registry) Terminate(id Id) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok || a.State == Terminated {
		return
	}
	a.State = Terminated
	if a.HasParent {
		if n := r.children[a.Parent]; n > 0 {
			r.children[a.Parent] = n - 1
		}
	}
	slog.Info("agent terminated", slog.Any("agent_id", id))
}

// Name returns the agent's name, or ("", false) if id is unknown.
func (r *Registry) Name(id Id) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return "", false
	}
	return a.Name, true
}

// State returns the agent's lifecycle state, or (_, false) if unknown.
func (r *Registry) State(id Id) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return 0, false
	}
	return a.State, true
}

// Exists reports whether id names a registered agent (terminated or not).
func (r *Registry) Exists(id Id) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.agents[id]
	return ok
}

// Snapshot returns a point-in-time copy of every agent record, for
// introspection/audit only.
func (r *Registry) Snapshot() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		cp := *a
		cp.Capabilities = append([]capstore.Id(nil), a.Capabilities...)
		out = append(out, cp)
	}
	return out
}
