// Package authz implements the Authorization Predicates (C3): the single
// enforcement chokepoint every host syscall adapter calls before touching
// any collaborator. Every predicate here is a pure function over a bag and
// a capability resolver — no predicate ever mutates state.
package authz

import "microvisor/internal/capstore"

// Resolver resolves a CapabilityId to its Capability. capstore.Store
// satisfies this directly; tests can supply a fake.
type Resolver interface {
	Resolve(id capstore.Id) (capstore.Capability, bool)
}

// Bag is the ordered sequence of CapabilityIds an agent currently holds.
type Bag []capstore.Id

// Predicate answers whether a single resolved capability satisfies some
// requirement R.
type Predicate func(capstore.Capability) bool

// Find returns true iff any resolvable capability in bag satisfies pred.
// Unresolvable ids (revoked, or never existed) are silently skipped: their
// presence in a bag is not itself a fault, they simply confer no
// authority. This is the universal primitive every derived predicate below
// is built from.
func Find(bag Bag, resolver Resolver, pred Predicate) bool {
	for _, id := range bag {
		cap, ok := resolver.Resolve(id)
		if !ok {
			continue
		}
		if pred(cap) {
			return true
		}
	}
	return false
}

// CanReadMemory reports whether bag holds a Memory capability covering
// addr for read access.
func CanReadMemory(bag Bag, resolver Resolver, addr uint64) bool {
	return Find(bag, resolver, func(c capstore.Capability) bool {
		return c.CoversAddress(addr, true, false, false)
	})
}

// CanWriteMemory reports whether bag holds a Memory capability covering
// addr for write access.
func CanWriteMemory(bag Bag, resolver Resolver, addr uint64) bool {
	return Find(bag, resolver, func(c capstore.Capability) bool {
		return c.CoversAddress(addr, false, true, false)
	})
}

// CanExecuteMemory reports whether bag holds a Memory capability covering
// addr for execute access.
func CanExecuteMemory(bag Bag, resolver Resolver, addr uint64) bool {
	return Find(bag, resolver, func(c capstore.Capability) bool {
		return c.CoversAddress(addr, false, false, true)
	})
}

// CanSendTo requires a Process capability with matching pid and
// can_send=true.
func CanSendTo(bag Bag, resolver Resolver, pid int64) bool {
	return Find(bag, resolver, func(c capstore.Capability) bool {
		return c.Kind == capstore.KindProcess && c.PID == pid && c.CanSend
	})
}

// CanReceiveFrom requires a Process capability with matching pid and
// can_receive=true.
func CanReceiveFrom(bag Bag, resolver Resolver, pid int64) bool {
	return Find(bag, resolver, func(c capstore.Capability) bool {
		return c.Kind == capstore.KindProcess && c.PID == pid && c.CanReceive
	})
}

// CanSpawn requires any Spawn capability.
func CanSpawn(bag Bag, resolver Resolver) bool {
	return Find(bag, resolver, func(c capstore.Capability) bool {
		return c.Kind == capstore.KindSpawn
	})
}

// CanAccessNetwork requires any Network capability.
func CanAccessNetwork(bag Bag, resolver Resolver) bool {
	return Find(bag, resolver, func(c capstore.Capability) bool {
		return c.Kind == capstore.KindNetwork
	})
}

// CanReadFile requires a FileSystem capability whose path_prefix is a
// prefix of path and whose read bit is set.
func CanReadFile(bag Bag, resolver Resolver, path string) bool {
	return Find(bag, resolver, func(c capstore.Capability) bool {
		return c.Read && c.MatchesPrefix(path)
	})
}

// CanWriteFile requires a FileSystem capability whose path_prefix is a
// prefix of path and whose write bit is set.
func CanWriteFile(bag Bag, resolver Resolver, path string) bool {
	return Find(bag, resolver, func(c capstore.Capability) bool {
		return c.Write && c.MatchesPrefix(path)
	})
}
