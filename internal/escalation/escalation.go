// Package escalation implements the Escalation Protocol (C9):
// RequestCapability(kind, detail) audits the request to the kernel
// supervisor over IPC and then asks a replaceable Policy whether to grant
// it. Grounded on original_source/src/wasm.rs's request_capability host
// function, which auto-grants per a fixed cap_type switch; that switch is
// lifted here into the DefaultPolicy so a production embedder can swap in
// something stricter without touching the protocol itself.
package escalation

import (
	"fmt"

	"microvisor/internal/agent"
	"microvisor/internal/capstore"
	"microvisor/internal/ipc"
)

// Kind mirrors the numeric cap_type the guest passes to request_capability.
type Kind int

const (
	KindNetwork    Kind = 0
	KindFileSystem Kind = 1
	KindSpawn      Kind = 2
)

// Request describes one escalation attempt, as audited to the supervisor.
type Request struct {
	Requester agent.Id
	Kind      Kind
	Detail    string // e.g. a path prefix for KindFileSystem; ignored otherwise
}

// Decision is a Policy's answer: grant the capability described, or refuse.
type Decision struct {
	Grant      bool
	Capability capstore.Capability
	Reason     string
}

// Policy decides the outcome of a Request. Swappable so embedders are not
// stuck with DefaultPolicy's grant-all behavior.
type Policy interface {
	Decide(req Request) Decision
}

// DefaultPolicy grants every recognized request, reproducing the reference
// kernel's request_capability behavior exactly: cap_type 0 grants Network,
// 1 grants FileSystem scoped to detail (or "/agent/" if detail is empty),
// 2 grants Spawn with max_children=5. An unrecognized cap_type grants
// nothing — the reference implementation only logs and returns Ok(1) for
// an unknown type, it never fabricates a capability for it. Recognized
// requests are still deliberately permissive — this exists to demonstrate
// the protocol, not to gate a real deployment.
type DefaultPolicy struct{}

func (DefaultPolicy) Decide(req Request) Decision {
	switch req.Kind {
	case KindNetwork:
		return Decision{Grant: true, Capability: capstore.Network()}
	case KindFileSystem:
		prefix := req.Detail
		if prefix == "" {
			prefix = "/agent/"
		}
		return Decision{Grant: true, Capability: capstore.FileSystem(prefix, true, true)}
	case KindSpawn:
		return Decision{Grant: true, Capability: capstore.Spawn(5)}
	default:
		return Decision{Grant: false, Reason: "unknown capability kind"}
	}
}

// Protocol is the C9 component: wires a Policy to the capability store,
// agent registry, and IPC bus so a grant is both recorded as a capability
// and visible to the supervisor as an audited message.
type Protocol struct {
	Caps     *capstore.Store
	Agents   *agent.Registry
	Bus      *ipc.Bus
	Policy   Policy
	AuditLog func(Request, Decision)
}

func New(caps *capstore.Store, agents *agent.Registry, bus *ipc.Bus, policy Policy) *Protocol {
	if policy == nil {
		policy = DefaultPolicy{}
	}
	return &Protocol{Caps: caps, Agents: agents, Bus: bus, Policy: policy}
}

// RequestCapability runs the full protocol: audit the request to the
// supervisor over IPC, consult the policy, and on grant create the
// capability and attach it to requester's bag. Returns the new capability
// id, or an error if the policy refused.
func (p *Protocol) RequestCapability(requester agent.Id, kind Kind, detail string) (capstore.Id, error) {
	req := Request{Requester: requester, Kind: kind, Detail: detail}

	// Best-effort audit: the supervisor's endpoint may not exist yet during
	// early boot, and a missing audit trail must never block a grant. Wire
	// format is CAP_REQUEST:<pid>:<kind>:<detail>, per spec.
	_ = p.Bus.Send(p.Caps, int64(requester), int64(agent.Supervisor),
		[]byte(fmt.Sprintf("CAP_REQUEST:%d:%d:%s", requester, kind, detail)), nil)

	decision := p.Policy.Decide(req)
	if p.AuditLog != nil {
		p.AuditLog(req, decision)
	}
	if !decision.Grant {
		return 0, fmt.Errorf("escalation: policy refused kind=%d: %s", kind, decision.Reason)
	}

	id := p.Caps.Create(decision.Capability)
	p.Agents.Grant(requester, id)
	return id, nil
}
