package staging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestScanSortsByFilenameAndSkipsHiddenAndNonRegular(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.mp3", "a.mp3", "C.mp3", ".gitkeep", "10_x.mp3", "2_y.mp3"} {
		writeFile(t, filepath.Join(dir, name), name)
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(filepath.Join(dir, "a.mp3"), filepath.Join(dir, "link.mp3")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	files, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	var names []string
	for _, f := range files {
		if filepath.Dir(f) != dir {
			t.Fatalf("expected paths inside %s, got %s", dir, f)
		}
		names = append(names, filepath.Base(f))
	}
	if got := strings.Join(names, ","); got != "10_x.mp3,2_y.mp3,C.mp3,a.mp3,b.mp3" {
		t.Fatalf("unexpected scan order %s", got)
	}
}

func TestScanMissingDirectory(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrIOFailure) {
		t.Fatalf("expected ErrIOFailure, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped not-exist error, got %v", err)
	}
}

func TestMoveFile(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "staging", "ep.mp3")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, src, "audio")

	dst := filepath.Join(root, "published", "ep.mp3")
	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}

	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected source to be gone, got %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "audio" {
		t.Fatalf("expected moved content, got %q (%v)", data, err)
	}
}

func TestMoveFileRefusesToOverwrite(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "new.mp3")
	dst := filepath.Join(root, "old.mp3")
	writeFile(t, src, "new")
	writeFile(t, dst, "old")

	err := MoveFile(src, dst)
	if !errors.Is(err, ErrIOFailure) || !errors.Is(err, ErrDestinationExists) {
		t.Fatalf("expected destination collision, got %v", err)
	}

	data, _ := os.ReadFile(dst)
	if string(data) != "old" {
		t.Fatalf("destination must not be overwritten")
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source must stay in place: %v", err)
	}
}

func TestCheckDestinations(t *testing.T) {
	root := t.TempDir()
	taken := filepath.Join(root, "taken.mp3")
	writeFile(t, taken, "x")

	ok := []Move{
		{Source: "a", Destination: filepath.Join(root, "a.mp3")},
		{Source: "b", Destination: filepath.Join(root, "b.mp3")},
	}
	if err := CheckDestinations(ok); err != nil {
		t.Fatalf("CheckDestinations: %v", err)
	}

	err := CheckDestinations([]Move{{Source: "t", Destination: taken}})
	var ioErr *IOFailureError
	if !errors.As(err, &ioErr) || ioErr.Path != taken {
		t.Fatalf("expected failure naming %s, got %v", taken, err)
	}

	shared := filepath.Join(root, "same.mp3")
	if err := CheckDestinations([]Move{{Source: "1", Destination: shared}, {Source: "2", Destination: shared}}); !errors.Is(err, ErrDestinationExists) {
		t.Fatalf("expected shared destination to fail, got %v", err)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.xml")
	writeFile(t, path, "old")

	if err := WriteFileAtomic(path, []byte("new"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil || string(data) != "new" {
		t.Fatalf("expected replaced content, got %q (%v)", data, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestWriteFileAtomicMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "feed.xml")
	if err := WriteFileAtomic(path, []byte("x"), 0o644); !errors.Is(err, ErrIOFailure) {
		t.Fatalf("expected ErrIOFailure, got %v", err)
	}
}
