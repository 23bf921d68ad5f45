// Package staging holds uploaded files between the validate and insert
// steps of a two-phase upload. Files are stored flat in one directory under
// server-assigned names.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"csvload/internal/detect"
)

// ErrInvalidName is returned for names that are not a single plain path
// element.
var ErrInvalidName = errors.New("staging: invalid file name")

// Area is a staging directory.
type Area struct {
	dir   string
	namer func(original string) string
}

// New creates dir if needed. A nil namer uses detect.AssignName.
func New(dir string, namer func(original string) string) (*Area, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("staging: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("staging: create %s: %w", dir, err)
	}
	if namer == nil {
		namer = detect.AssignName
	}
	return &Area{dir: dir, namer: namer}, nil
}

func (a *Area) Dir() string { return a.dir }

// Put copies r into the area under a fresh name and returns that name and
// the byte count.
func (a *Area) Put(original string, r io.Reader) (string, int64, error) {
	name := a.namer(original)
	if err := checkName(name); err != nil {
		return "", 0, err
	}
	path := filepath.Join(a.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("staging: create %s: %w", name, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("staging: write %s: %w", name, err)
	}
	return name, n, nil
}

// Open opens a staged file for reading.
func (a *Area) Open(name string) (*os.File, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(a.dir, name))
	if err != nil {
		return nil, fmt.Errorf("staging: open %s: %w", name, err)
	}
	return f, nil
}

// Remove deletes a staged file. Removing a missing file is not an error.
func (a *Area) Remove(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(a.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("staging: remove %s: %w", name, err)
	}
	return nil
}

func checkName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`), filepath.Base(name) != name:
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
