package initramfs

import (
	"archive/tar"
	"bytes"
	"testing"

	"microvisor/internal/vfs"
)

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		hdr := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write header for %s: %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write content for %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar writer: %v", err)
	}
	return buf.Bytes()
}

func TestLoadIntoRegistersEachRegularFileAsReadOnly(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"init.wasm": "\x00asm-bytes",
		"sys/info":  "boot metadata",
	})

	v := vfs.New()
	count, err := LoadInto(bytes.NewReader(archive), v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 files loaded, got %d", count)
	}

	data, ok := v.Open("init.wasm")
	if !ok || string(data) != "\x00asm-bytes" {
		t.Fatalf("expected init.wasm content preserved, got %q ok=%v", data, ok)
	}
	if v.Write("init.wasm", []byte("tampered"), 1) {
		t.Fatal("expected initramfs-loaded files to be read-only")
	}
}

func TestLoadIntoSkipsDirectoryEntries(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	tw.WriteHeader(&tar.Header{Name: "sys/", Typeflag: tar.TypeDir, Mode: 0o755})
	tw.WriteHeader(&tar.Header{Name: "sys/info", Typeflag: tar.TypeReg, Size: 4})
	tw.Write([]byte("data"))
	tw.Close()

	v := vfs.New()
	count, err := LoadInto(&buf, v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the regular file to count, got %d", count)
	}
}

func TestLoadIntoEmptyArchiveLoadsNothing(t *testing.T) {
	archive := buildArchive(t, nil)
	v := vfs.New()
	count, err := LoadInto(bytes.NewReader(archive), v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 files, got %d", count)
	}
}
