// Package staging lists the files waiting to be published and moves them
// into the published tree.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrIOFailure is matched by every *IOFailureError.
var ErrIOFailure = errors.New("io failure")

// IOFailureError describes a failed file-system operation on Path.
type IOFailureError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOFailureError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOFailureError) Unwrap() error { return e.Err }

// Is reports whether target is ErrIOFailure.
func (e *IOFailureError) Is(target error) bool {
	return target == ErrIOFailure
}

// ErrDestinationExists is wrapped when a move would overwrite a file.
var ErrDestinationExists = errors.New("destination already exists")

// Scan returns the regular files directly inside dir, sorted by filename.
// Hidden files, subdirectories and symlinks are ignored, so they never count
// as staged episodes.
func Scan(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &IOFailureError{Op: "scan", Path: dir, Err: err}
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}

	sort.Slice(files, func(i, j int) bool {
		return filepath.Base(files[i]) < filepath.Base(files[j])
	})
	return files, nil
}

// Move is one planned relocation.
type Move struct {
	Source      string
	Destination string
}

// CheckDestinations fails when any destination already exists or two moves
// share a destination.
func CheckDestinations(moves []Move) error {
	seen := make(map[string]struct{}, len(moves))
	for _, m := range moves {
		dst := filepath.Clean(m.Destination)
		if _, dup := seen[dst]; dup {
			return &IOFailureError{Op: "move", Path: dst, Err: ErrDestinationExists}
		}
		seen[dst] = struct{}{}

		if _, err := os.Lstat(dst); err == nil {
			return &IOFailureError{Op: "move", Path: dst, Err: ErrDestinationExists}
		} else if !errors.Is(err, os.ErrNotExist) {
			return &IOFailureError{Op: "stat", Path: dst, Err: err}
		}
	}
	return nil
}

// MoveFile relocates src to dst without overwriting dst. When a rename is not
// possible (different devices) the file is copied and the source removed.
func MoveFile(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return &IOFailureError{Op: "move", Path: dst, Err: ErrDestinationExists}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &IOFailureError{Op: "mkdir", Path: filepath.Dir(dst), Err: err}
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := copyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return &IOFailureError{Op: "move", Path: src, Err: err}
	}
	if err := os.Remove(src); err != nil {
		return &IOFailureError{Op: "remove", Path: src, Err: err}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	written, err := io.Copy(out, in)
	if err != nil {
		return err
	}
	if written != info.Size() {
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), written)
	}
	return out.Close()
}

// WriteFileAtomic replaces path with data by writing a sibling temp file and
// renaming it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return &IOFailureError{Op: "write", Path: path, Err: err}
	}
	tmpPath := tmp.Name()

	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &IOFailureError{Op: "write", Path: path, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &IOFailureError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return &IOFailureError{Op: "replace", Path: path, Err: err}
	}
	return nil
}
