// Package initramfs loads the boot-time USTAR archive into the VFS.
// Grounded on original_source/src/initramfs.rs's hand-rolled 512-byte-block
// USTAR walk, reimplemented with stdlib archive/tar — the idiomatic Go way
// to read a tar stream, and one of the places in this module where the
// standard library is preferred over a third-party dependency, since no
// tar reader appears anywhere in the example pack.
package initramfs

import (
	"archive/tar"
	"fmt"
	"io"

	"microvisor/internal/vfs"
)

// LoadInto reads the USTAR stream from r and registers every regular file
// entry into target as a read-only system file, matching spec §6.3's
// (name, bytes) data flow. Returns the number of files loaded.
func LoadInto(r io.Reader, target *vfs.Vfs) (int, error) {
	tr := tar.NewReader(r)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("initramfs: malformed archive after %d entries: %w", count, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return count, fmt.Errorf("initramfs: failed to read %q: %w", hdr.Name, err)
		}
		target.RegisterSystemFile(hdr.Name, data)
		count++
	}
	return count, nil
}
