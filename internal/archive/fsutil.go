package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/delmenhorst/Buchhaltung/internal/common"
)

// place makes dst a durable copy of src without removing src and without
// overwriting anything. A hard link is tried first; across filesystems the
// content is copied to dst.part, synced and then linked into place.
// reused is true when dst already held the same content, which happens when
// an earlier attempt crashed after placing the file.
func place(src, dst string) (reused bool, err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, fmt.Errorf("create archive dir: %w", err)
	}

	err = os.Link(src, dst)
	switch {
	case err == nil:
		return false, syncDir(filepath.Dir(dst))
	case errors.Is(err, os.ErrExist):
		same, cmpErr := sameContent(src, dst)
		if cmpErr != nil {
			return false, cmpErr
		}
		if !same {
			return false, common.NewConflictError(fmt.Sprintf("archive target %s already exists", dst))
		}
		return true, nil
	}

	// Linking is not possible here (other device, unsupported filesystem).
	part := dst + ".part"
	if err := copyFile(src, part); err != nil {
		_ = os.Remove(part)
		return false, err
	}
	defer os.Remove(part)

	if err := os.Link(part, dst); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, common.NewConflictError(fmt.Sprintf("archive target %s already exists", dst))
		}
		if _, statErr := os.Lstat(dst); statErr == nil {
			return false, common.NewConflictError(fmt.Sprintf("archive target %s already exists", dst))
		}
		if err := os.Rename(part, dst); err != nil {
			return false, fmt.Errorf("move into archive: %w", err)
		}
	}
	return false, syncDir(filepath.Dir(dst))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync %s: %w", dst, err)
	}
	return out.Close()
}

func sameContent(a, b string) (bool, error) {
	ia, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if os.SameFile(ia, ib) {
		return true, nil
	}
	if ia.Size() != ib.Size() {
		return false, nil
	}
	da, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	db, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(da, db), nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories; the entry is written anyway.
	_ = d.Sync()
	return nil
}
