// Package vfs implements the in-memory VFS (C4): a named byte-blob store
// with system (read-only) and agent-owned entries. This generalizes the
// teacher's internal/svc/fs (which shells out to the real OS filesystem)
// into the spec's in-memory, non-persistent named-blob model — there is no
// directory structure and no normalization, matching
// original_source/src/vfs.rs's flat VfsRegistry plus the write/delete/
// ownership operations the Rust prototype never needed.
package vfs

import (
	"sort"
	"strings"
	"sync"
)

// File is a VirtualFile record.
type File struct {
	Name     string
	Data     []byte
	OwnerPID int64 // 0 = system
	ReadOnly bool
}

// Vfs is the C4 component: a single mutex-guarded map keyed by name.
type Vfs struct {
	mu    sync.Mutex
	files map[string]*File
}

func New() *Vfs {
	return &Vfs{files: make(map[string]*File)}
}

// RegisterSystemFile inserts a read-only, system-owned (pid 0) entry.
// Used by the initramfs loader at boot; overwrites any existing entry of
// the same name (boot-time mounting, not the runtime write path, so the
// read-only refusal below doesn't apply here).
func (v *Vfs) RegisterSystemFile(name string, data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := append([]byte(nil), data...)
	v.files[name] = &File{Name: name, Data: cp, OwnerPID: 0, ReadOnly: true}
}

// Open returns a copy of the named file's bytes, releasing the lock before
// the caller copies into guest memory, or (nil, false) if absent.
func (v *Vfs) Open(name string) ([]byte, bool) {
	v.mu.Lock()
	f, ok := v.files[name]
	if !ok {
		v.mu.Unlock()
		return nil, false
	}
	cp := append([]byte(nil), f.Data...)
	v.mu.Unlock()
	return cp, true
}

// ListAll returns every registered name, sorted for deterministic output.
func (v *Vfs) ListAll() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	names := make([]string, 0, len(v.files))
	for n := range v.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ListPrefix returns every registered name with the given prefix, sorted.
func (v *Vfs) ListPrefix(prefix string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var names []string
	for n := range v.files {
		if strings.HasPrefix(n, prefix) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Write creates or overwrites name with data, owned by ownerPID. It fails
// (returns false) iff an existing entry with ReadOnly=true is found under
// that name — authorization has already been checked by the caller; this
// is purely the VFS-level "is this name protected" refusal (spec §8
// scenario 5: denied for reasons distinct from capability denial).
func (v *Vfs) Write(name string, data []byte, ownerPID int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if existing, ok := v.files[name]; ok && existing.ReadOnly {
		return false
	}
	cp := append([]byte(nil), data...)
	v.files[name] = &File{Name: name, Data: cp, OwnerPID: ownerPID, ReadOnly: false}
	return true
}

// Delete removes name, refusing (returns false) if it is read-only or
// absent.
func (v *Vfs) Delete(name string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.files[name]
	if !ok || f.ReadOnly {
		return false
	}
	delete(v.files, name)
	return true
}
