package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

// Error codes reported to clients when delivering a finished file fails.
const (
	ErrorStorageFull       = 0
	ErrorNoInternet        = 1
	ErrorNoWritePermission = 2
	ErrorFileNotFound      = 3
	ErrorOthers            = 100
)

// StagingName returns a unique file name for the engine's output that keeps
// the destination's extension.
func StagingName(destination string) string {
	name := uuid.NewString()
	if ext := filepath.Ext(destination); ext != "" && !strings.ContainsAny(ext, `/\`) {
		return name + ext
	}
	return name
}

// StagingDir returns the absolute staging directory, creating it if needed.
func StagingDir(dir string) (string, error) {
	path, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}
	return path, nil
}

// FileExists reports whether path is an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Deliver moves the finished file at src to dest, replacing anything already
// at dest. If src is gone but dest exists the file was delivered earlier and
// Deliver succeeds without doing anything.
func Deliver(src, dest string) error {
	if !FileExists(src) {
		if FileExists(dest) {
			return nil
		}
		return fmt.Errorf("deliver %s: %w", src, os.ErrNotExist)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	return copyReplace(src, dest)
}

// copyReplace copies src next to dest and renames it over dest so readers
// never see a partial file.
func copyReplace(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}

// ClassifyError maps a delivery error to one of the client error codes.
func ClassifyError(err error) int {
	switch {
	case err == nil:
		return ErrorOthers
	case errors.Is(err, syscall.ENOSPC):
		return ErrorStorageFull
	case errors.Is(err, os.ErrPermission):
		return ErrorNoWritePermission
	case errors.Is(err, os.ErrNotExist):
		return ErrorFileNotFound
	default:
		return ErrorOthers
	}
}
