// Package kernel orchestrates every collaborator package (C1-C9) into the
// boot sequence and agent launch loop. Grounded on the structural shape of
// the teacher's own internal/kernel.Kernel — a single struct wiring every
// subsystem, built by a NewKernel-style constructor, driven by a Start
// method — generalized from its concurrent actor-registry model (goroutine
// per actor, mailbox channels) to the spec's sequential, single-threaded
// launch loop: one Wasm agent runs to completion before the next begins.
package kernel

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"microvisor/internal/agent"
	"microvisor/internal/audit"
	"microvisor/internal/capstore"
	"microvisor/internal/clock"
	"microvisor/internal/config"
	"microvisor/internal/escalation"
	"microvisor/internal/initramfs"
	"microvisor/internal/ipc"
	"microvisor/internal/netstack"
	"microvisor/internal/vfs"
	"microvisor/internal/wasmhost"
)

// Kernel composes every collaborator package into the one orchestration
// point the boot sequence and launch loop touch.
type Kernel struct {
	Caps     *capstore.Store
	Agents   *agent.Registry
	Bus      *ipc.Bus
	Vfs      *vfs.Vfs
	Net      *netstack.Stack
	Clock    clock.Clock
	Escalate *escalation.Protocol
	Host     *wasmhost.Host
	Audit    *audit.Sink

	// Config carries the per-agent initial capability grants Start
	// consults when launching each initramfs entry. Its zero value grants
	// nothing, matching New's behavior before NewFromConfig existed.
	Config config.Config

	log *slog.Logger
}

// New wires every collaborator with the given escalation policy. auditSink
// may be nil, in which case escalation decisions are simply not persisted.
func New(policy escalation.Policy, auditSink *audit.Sink, log *slog.Logger) *Kernel {
	if log == nil {
		log = slog.Default()
	}
	caps := capstore.NewStore()
	agents := agent.NewRegistry()
	bus := ipc.NewBus()
	vf := vfs.New()
	net := netstack.New()
	clk := clock.New()
	esc := escalation.New(caps, agents, bus, policy)

	if auditSink != nil {
		esc.AuditLog = func(req escalation.Request, dec escalation.Decision) {
			kind := "escalation_denied"
			if dec.Grant {
				kind = "escalation_granted"
			}
			detail := fmt.Sprintf("cap_type=%d detail=%q reason=%q", req.Kind, req.Detail, dec.Reason)
			if err := auditSink.Record(context.Background(), int64(req.Requester), kind, detail); err != nil {
				log.Warn("audit record failed", "err", err)
			}
		}
	}

	host := wasmhost.New(caps, agents, bus, vf, net, clk, esc, log)

	// The kernel supervisor (pid 0) always has an endpoint, so escalation
	// requests and any agent-to-supervisor IPC have somewhere to land.
	bus.CreateEndpoint(int64(agent.Supervisor))

	return &Kernel{
		Caps: caps, Agents: agents, Bus: bus, Vfs: vf, Net: net, Clock: clk,
		Escalate: esc, Host: host, Audit: auditSink, log: log,
	}
}

// NewFromConfig builds a Kernel from a resolved Config, selecting the
// escalation policy and audit sink the config names.
func NewFromConfig(ctx context.Context, cfg config.Config, log *slog.Logger) (*Kernel, error) {
	var policy escalation.Policy
	switch cfg.EscalationPolicy {
	case "deny":
		policy = escalation.DenyPolicy{}
	default:
		policy = escalation.DefaultPolicy{}
	}

	var sink *audit.Sink
	if cfg.AuditDSN != "" {
		s, err := audit.Open(ctx, cfg.AuditDSN)
		if err != nil {
			return nil, fmt.Errorf("kernel: failed to open audit sink: %w", err)
		}
		sink = s
	}

	k := New(policy, sink, log)
	k.Config = cfg
	return k, nil
}

// LoadInitramfs mounts the USTAR stream read from r into the VFS.
func (k *Kernel) LoadInitramfs(r io.Reader) (int, error) {
	return initramfs.LoadInto(r, k.Vfs)
}

// Launch spawns a new agent named name and runs wasmBytes to completion
// under it, granting initialCaps before execution begins. Launch does not
// return until the guest's _start/main function returns or traps, per the
// single-threaded cooperative model: agents never run concurrently.
func (k *Kernel) Launch(ctx context.Context, name string, wasmBytes []byte, initialCaps []capstore.Id) (agent.Id, error) {
	id := k.Agents.Spawn(name, initialCaps)
	if err := k.Bus.CreateEndpoint(int64(id)); err != nil && err != ipc.ErrAlreadyExists {
		return id, fmt.Errorf("kernel: failed to create ipc endpoint for %s: %w", name, err)
	}

	k.log.Info("launching agent", "agent", id, "name", name)
	if err := k.Host.RunModule(ctx, wasmBytes, id); err != nil {
		k.log.Error("agent execution failed", "agent", id, "name", name, "err", err)
		k.Agents.Terminate(id)
		return id, fmt.Errorf("kernel: %w: %v", ErrCollaboratorFailure, err)
	}
	k.Agents.Terminate(id)
	return id, nil
}

// Start runs every *.wasm entry registered in the VFS (typically by
// LoadInitramfs) as a sequentially-launched agent, in sorted name order.
// Each agent is launched holding whatever initial capabilities Config
// names for it (matched by the file stem, e.g. "worker" for
// "worker.wasm"); an agent with no configured grants starts with an
// empty bag and must escalate for everything, as before.
func (k *Kernel) Start(ctx context.Context) error {
	for _, name := range k.Vfs.ListAll() {
		if len(name) < 5 || name[len(name)-5:] != ".wasm" {
			continue
		}
		data, ok := k.Vfs.Open(name)
		if !ok {
			continue
		}
		stem := name[:len(name)-5]
		initialCaps := k.resolveInitialCaps(stem)
		if _, err := k.Launch(ctx, name, data, initialCaps); err != nil {
			k.log.Warn("agent terminated abnormally", "name", name, "err", err)
		}
	}
	return nil
}

// resolveInitialCaps materializes Config's grants for an agent name into
// capstore ids, creating one capability per grant. A grant with an
// unrecognized Kind is skipped and logged rather than aborting the boot.
func (k *Kernel) resolveInitialCaps(name string) []capstore.Id {
	grants := k.Config.AgentGrants(name)
	if len(grants) == 0 {
		return nil
	}
	ids := make([]capstore.Id, 0, len(grants))
	for _, g := range grants {
		c, ok := g.Capability()
		if !ok {
			k.log.Warn("skipping unrecognized capability grant", "agent", name, "kind", g.Kind)
			continue
		}
		ids = append(ids, k.Caps.Create(c))
	}
	return ids
}

// Close releases the wasm runtime and audit sink.
func (k *Kernel) Close(ctx context.Context) error {
	if err := k.Host.Close(ctx); err != nil {
		return err
	}
	if k.Audit != nil {
		return k.Audit.Close()
	}
	return nil
}
