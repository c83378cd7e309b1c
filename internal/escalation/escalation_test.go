package escalation

import (
	"testing"

	"microvisor/internal/agent"
	"microvisor/internal/capstore"
	"microvisor/internal/ipc"
)

func newProtocol(policy Policy) (*Protocol, *agent.Registry) {
	caps := capstore.NewStore()
	agents := agent.NewRegistry()
	bus := ipc.NewBus()
	bus.CreateEndpoint(int64(agent.Supervisor))
	return New(caps, agents, bus, policy), agents
}

func TestDefaultPolicyGrantsNetworkForKindZero(t *testing.T) {
	p, agents := newProtocol(nil)
	a := agents.Spawn("tenant", nil)

	id, err := p.RequestCapability(a, KindNetwork, "")
	if err != nil {
		t.Fatalf("expected grant, got %v", err)
	}
	cap, ok := p.Caps.Resolve(id)
	if !ok || cap.Kind != capstore.KindNetwork {
		t.Fatalf("expected a Network capability, got %+v ok=%v", cap, ok)
	}
}

func TestDefaultPolicyFileSystemUsesDetailOrFallbackPrefix(t *testing.T) {
	p, agents := newProtocol(nil)
	a := agents.Spawn("tenant", nil)

	id, _ := p.RequestCapability(a, KindFileSystem, "/data/")
	cap, _ := p.Caps.Resolve(id)
	if cap.PathPrefix != "/data/" {
		t.Fatalf("expected path prefix /data/, got %q", cap.PathPrefix)
	}

	id2, _ := p.RequestCapability(a, KindFileSystem, "")
	cap2, _ := p.Caps.Resolve(id2)
	if cap2.PathPrefix != "/agent/" {
		t.Fatalf("expected fallback prefix /agent/, got %q", cap2.PathPrefix)
	}
}

func TestDefaultPolicySpawnGrantsFiveChildBudget(t *testing.T) {
	p, agents := newProtocol(nil)
	a := agents.Spawn("tenant", nil)

	id, _ := p.RequestCapability(a, KindSpawn, "")
	cap, _ := p.Caps.Resolve(id)
	if cap.Kind != capstore.KindSpawn || cap.MaxChildren != 5 {
		t.Fatalf("expected Spawn{max_children:5}, got %+v", cap)
	}
}

func TestGrantedCapabilityIsAttachedToRequesterBag(t *testing.T) {
	p, agents := newProtocol(nil)
	a := agents.Spawn("tenant", nil)

	id, _ := p.RequestCapability(a, KindNetwork, "")
	bag := agents.Capabilities(a)
	found := false
	for _, c := range bag {
		if c == id {
			found = true
		}
	}
	if !found {
		t.Fatal("expected granted capability id to appear in requester's bag")
	}
}

func TestDenyPolicyRefusesEveryRequest(t *testing.T) {
	p, agents := newProtocol(DenyPolicy{})
	a := agents.Spawn("tenant", nil)

	if _, err := p.RequestCapability(a, KindNetwork, ""); err == nil {
		t.Fatal("expected DenyPolicy to refuse the request")
	}
	if agents.Capabilities(a) != nil && len(agents.Capabilities(a)) != 0 {
		t.Fatal("a refused request must not attach any capability")
	}
}

func TestAuditLogHookIsInvokedForEveryDecision(t *testing.T) {
	p, agents := newProtocol(nil)
	var seen []Request
	p.AuditLog = func(req Request, _ Decision) { seen = append(seen, req) }

	a := agents.Spawn("tenant", nil)
	p.RequestCapability(a, KindNetwork, "")
	if len(seen) != 1 || seen[0].Requester != a {
		t.Fatalf("expected audit hook invoked once with requester %v, got %+v", a, seen)
	}
}
