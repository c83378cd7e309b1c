// Package ipc implements the IPC Subsystem (C5): per-agent bounded FIFO
// message queues with capability-tagged envelopes. Grounded on
// original_source/src/ipc.rs's IpcEndpoint/send_message/receive_message,
// adapted from the teacher's channel-per-actor, goroutine-consumed
// mailbox (kernel.SendInternal) to a mutex-guarded slice queue — the
// spec's concurrency model (§5) is single-threaded cooperative, so there
// is no background goroutine draining each endpoint; Receive is called
// synchronously from a host syscall adapter.
package ipc

import (
	"errors"
	"sync"

	"microvisor/internal/capstore"
)

const DefaultMax = 32

// Message is delivered by Send and returned by Receive.
type Message struct {
	Sender       int64
	Payload      []byte
	Capabilities []capstore.Id
}

var (
	ErrAlreadyExists    = errors.New("E_ALREADY_EXISTS: endpoint already created")
	ErrNoEndpoint       = errors.New("E_NO_SUCH: no endpoint for recipient")
	ErrQueueFull        = errors.New("E_BUSY: recipient queue full")
	ErrInvalidCapability = errors.New("E_CAPABILITY: message references an unresolved capability")
)

type endpoint struct {
	queue []Message
	max   int
}

// Resolver resolves a CapabilityId for the validation step of Send.
type Resolver interface {
	Resolve(id capstore.Id) (capstore.Capability, bool)
}

// Bus is the C5 component: one mutex-guarded map of AgentId/ProcessId to
// endpoint.
type Bus struct {
	mu        sync.Mutex
	endpoints map[int64]*endpoint
}

func NewBus() *Bus {
	return &Bus{endpoints: make(map[int64]*endpoint)}
}

// CreateEndpoint creates a queue for pid with the default capacity. It
// returns ErrAlreadyExists if one is already present (state machine
// Absent -> Created is one-way: the endpoint lifecycle in §4.10 never
// dissolves once created).
func (b *Bus) CreateEndpoint(pid int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.endpoints[pid]; ok {
		return ErrAlreadyExists
	}
	b.endpoints[pid] = &endpoint{max: DefaultMax}
	return nil
}

// Send enqueues payload from sender to recipient, carrying caps as
// reference-only capability ids. Every id in caps must resolve or the
// whole send is rejected; the accept/reject decision and the enqueue are
// taken under one lock so a partial enqueue is impossible.
func (b *Bus) Send(resolver Resolver, sender, recipient int64, payload []byte, caps []capstore.Id) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range caps {
		if _, ok := resolver.Resolve(id); !ok {
			return ErrInvalidCapability
		}
	}

	ep, ok := b.endpoints[recipient]
	if !ok {
		return ErrNoEndpoint
	}
	if len(ep.queue) >= ep.max {
		return ErrQueueFull
	}

	capsCopy := append([]capstore.Id(nil), caps...)
	dataCopy := append([]byte(nil), payload...)
	ep.queue = append(ep.queue, Message{Sender: sender, Payload: dataCopy, Capabilities: capsCopy})
	return nil
}

// Receive dequeues the head-of-queue message for pid (FIFO), or reports ok
// =false if pid has no endpoint or its queue is empty.
func (b *Bus) Receive(pid int64) (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep, ok := b.endpoints[pid]
	if !ok || len(ep.queue) == 0 {
		return Message{}, false
	}
	msg := ep.queue[0]
	ep.queue = ep.queue[1:]
	return msg, true
}

// Len reports the current queue depth for pid, for introspection.
func (b *Bus) Len(pid int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ep, ok := b.endpoints[pid]
	if !ok {
		return 0
	}
	return len(ep.queue)
}
