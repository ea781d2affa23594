// Package rename applies a resolved stem to a file in place, never replacing an existing file.
package rename

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/bookrenamer/constants"
)

// Error describes a rename that did not happen. The source file is left where it was.
type Error struct {
	Kind constants.FailureKind // FailureRenameCollision or FailureRenameIO
	From string
	To   string
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == constants.FailureRenameCollision {
		return fmt.Sprintf("destination already exists: %s", filepath.Base(e.To))
	}
	return fmt.Sprintf("rename %s -> %s: %v", filepath.Base(e.From), filepath.Base(e.To), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsCollision reports whether err is a rename refused because the destination exists.
func IsCollision(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == constants.FailureRenameCollision
}

type Executor struct {
	logger *slog.Logger
	move   func(oldpath, newpath string) error
}

func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger, move: renameNoReplace}
}

// Destination is the path a file would get for stem: same directory, original extension.
func Destination(path, stem string) string {
	return filepath.Join(filepath.Dir(path), stem+filepath.Ext(path))
}

// Apply renames path to stem plus the original extension in the same directory and returns
// the new path. A destination equal to the source is a success without touching the disk.
// Every failure comes back as *Error.
func (x *Executor) Apply(path, stem string) (string, error) {
	if strings.TrimSpace(stem) == "" || strings.ContainsAny(stem, `/\`) {
		return "", &Error{Kind: constants.FailureRenameIO, From: path, To: stem, Err: fmt.Errorf("invalid stem %q", stem)}
	}
	dest := Destination(path, stem)
	if err := x.Move(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Move renames src to dst without overwriting dst.
func (x *Executor) Move(src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		x.logger.Debug("rename.noop", "path", src)
		return nil
	}

	var err error
	if caseOnly(src, dst) && sameFile(src, dst) {
		// case-only change on a case-insensitive filesystem: dst "exists" because it is src.
		// Any other path to the same inode is a hard link and must stay a collision.
		err = os.Rename(src, dst)
	} else {
		err = x.move(src, dst)
	}
	if err != nil {
		kind := constants.FailureRenameIO
		if errors.Is(err, fs.ErrExist) {
			kind = constants.FailureRenameCollision
		}
		x.logger.Warn("rename.failed", "from", src, "to", dst, "kind", string(kind), "error", err)
		return &Error{Kind: kind, From: src, To: dst, Err: err}
	}

	x.logger.Info("rename.ok", "from", filepath.Base(src), "to", filepath.Base(dst), "dir", filepath.Dir(src))
	return nil
}

func caseOnly(a, b string) bool {
	return filepath.Dir(filepath.Clean(a)) == filepath.Dir(filepath.Clean(b)) &&
		strings.EqualFold(filepath.Base(a), filepath.Base(b))
}

func sameFile(a, b string) bool {
	sa, err := os.Lstat(a)
	if err != nil {
		return false
	}
	sb, err := os.Lstat(b)
	if err != nil {
		return false
	}
	return os.SameFile(sa, sb)
}

// linkRename emulates a no-replace rename: link(2) fails with EEXIST when the target exists.
// Filesystems without hard links fall back to a check followed by rename, which leaves a
// small window in which a concurrently created target could be replaced.
func linkRename(oldpath, newpath string) error {
	err := os.Link(oldpath, newpath)
	if err == nil {
		if rmErr := os.Remove(oldpath); rmErr != nil {
			_ = os.Remove(newpath)
			return rmErr
		}
		return nil
	}
	if errors.Is(err, fs.ErrExist) || errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return statRename(oldpath, newpath)
}

func statRename(oldpath, newpath string) error {
	if _, err := os.Lstat(newpath); err == nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(oldpath, newpath)
}
