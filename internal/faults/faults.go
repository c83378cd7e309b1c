// Package faults names the shared error taxonomy C8's host syscall
// adapters and the kernel's own launch loop use to decide trap vs.
// numeric return code, per spec §4.11: a refused predicate or an absent
// resource is something the guest can branch on, while a malformed
// pointer or a broken Wasm lifecycle call aborts the module outright.
// Grounded on original_source/src/wasm.rs's Result<_, Trap>, where every
// host function either returns an Ok(code) the guest inspects or
// propagates a Trap that unwinds the whole call. Lives in its own
// package, not internal/kernel, so internal/wasmhost can depend on it
// without kernel and wasmhost importing each other.
package faults

import "errors"

var (
	// ErrAuthorizationDenied: a predicate refused. Surfaced to the guest as
	// return code 2, never a trap.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrGuestMemoryFault: a pointer fell outside guest linear memory, or
	// the module exports no memory at all. Always a trap — it aborts the
	// module.
	ErrGuestMemoryFault = errors.New("guest memory fault")

	// ErrEncodingFault: a required UTF-8 path or name was invalid bytes.
	// Always a trap.
	ErrEncodingFault = errors.New("encoding fault")

	// ErrResourceAbsent: file not found, endpoint not found, or DNS
	// returned no answer. Surfaced as a distinct numeric code per call.
	ErrResourceAbsent = errors.New("resource absent")

	// ErrResourceExhausted: the IPC queue was full. Surfaced as the
	// general-error numeric code (1).
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrCollaboratorFailure: TCP unreachable, a write refused by the VFS,
	// or a Wasm module that failed to compile/instantiate. Traps for
	// Wasm-lifecycle failures; numeric codes for per-call collaborator
	// failures.
	ErrCollaboratorFailure = errors.New("collaborator failure")
)

// Numeric return codes the guest branches on, mirroring
// original_source/src/wasm.rs's ad-hoc Ok(0)/Ok(1)/Ok(2)/Ok(3) convention.
const (
	CodeSuccess          uint32 = 0
	CodeGeneralError     uint32 = 1
	CodePermissionDenied uint32 = 2
	CodeResourceAbsent   uint32 = 3
)

// Code maps a non-trap error onto the numeric code a host adapter should
// return to the guest. It panics if asked to encode a trap-only error
// (ErrGuestMemoryFault, ErrEncodingFault) — those never reach here because
// callers panic with them directly instead of returning them.
func Code(err error) uint32 {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrAuthorizationDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrResourceAbsent):
		return CodeResourceAbsent
	case errors.Is(err, ErrGuestMemoryFault), errors.Is(err, ErrEncodingFault):
		panic("faults: trap-only error passed to Code")
	default:
		return CodeGeneralError
	}
}
