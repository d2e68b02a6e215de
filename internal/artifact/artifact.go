// Package artifact promotes freshly built binaries into versioned copies.
//
// The build command writes to a fixed path (build.bin). Before a new process
// is launched the supervisor moves that file to
// <tmp_dir>/.artifacts/<name>-<id>, so the next build can overwrite the
// fixed path while the previous process is still running from its own copy.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Artifact is an executable produced by a successful build.
type Artifact struct {
	ID      uuid.UUID
	Path    string
	Size    int64
	ModTime time.Time
}

// Store keeps promoted artifacts in a single directory.
type Store struct {
	dir string

	mu      sync.Mutex
	current *Artifact
}

// NewStore creates a store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory promoted artifacts live in.
func (s *Store) Dir() string {
	return s.dir
}

// Verify checks that path is a regular, executable file.
func Verify(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("build did not produce %s", path)
		}
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return nil, fmt.Errorf("%s is not executable", path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return info, nil
}

// Promote verifies the file at binPath and moves it into the store under a
// fresh id. The returned artifact becomes Current.
func (s *Store) Promote(binPath string) (Artifact, error) {
	info, err := Verify(binPath)
	if err != nil {
		return Artifact{}, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create artifact dir: %w", err)
	}

	id := uuid.New()
	ext := filepath.Ext(binPath)
	name := strings.TrimSuffix(filepath.Base(binPath), ext)
	dst := filepath.Join(s.dir, fmt.Sprintf("%s-%s%s", name, id.String()[:8], ext))

	if err := os.Rename(binPath, dst); err != nil {
		// tmp_dir may live on another filesystem than build.bin.
		if err := copyFile(binPath, dst, info.Mode()); err != nil {
			return Artifact{}, fmt.Errorf("promote %s: %w", binPath, err)
		}
	}

	a := Artifact{ID: id, Path: dst, Size: info.Size(), ModTime: info.ModTime()}
	s.mu.Lock()
	s.current = &a
	s.mu.Unlock()
	return a, nil
}

// Current returns the most recently promoted artifact.
func (s *Store) Current() (Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Artifact{}, false
	}
	return *s.current, true
}

// Prune removes every artifact in the store except the current one. It must
// only run once no process is executing an older copy.
func (s *Store) Prune() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	keep := ""
	if cur, ok := s.Current(); ok {
		keep = filepath.Base(cur.Path)
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() || e.Name() == keep {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clean removes the whole store directory.
func (s *Store) Clean() error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	return os.RemoveAll(s.dir)
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
