// Package kernel orchestrates every collaborator package into the boot
// sequence and agent launch loop. errors.go re-exports the one sentinel
// from internal/faults the launch loop itself needs to wrap — the full
// six-value trap-vs-code taxonomy lives in internal/faults, where
// internal/wasmhost's adapters apply it mechanically per call; see that
// package's doc comment for why it is not here.
package kernel

import "microvisor/internal/faults"

// ErrCollaboratorFailure: a Wasm module failed to compile/instantiate/run
// under Launch. Wrapping it here, rather than requiring every caller to
// import internal/faults directly, keeps Launch's error values stable
// even if the taxonomy's package ever moves again.
var ErrCollaboratorFailure = faults.ErrCollaboratorFailure
