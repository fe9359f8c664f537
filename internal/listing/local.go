package listing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/oriys/plebiscito/internal/domain"
)

// LocalLister walks a directory tree. Paths are reported relative to Root
// with forward slashes.
type LocalLister struct {
	Root string
}

func (l *LocalLister) List(ctx context.Context) ([]domain.FileEntry, error) {
	entries := make([]domain.FileEntry, 0)
	err := filepath.WalkDir(l.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(l.Root, p)
		if err != nil {
			return err
		}
		entries = append(entries, domain.FileEntry{
			Name:    d.Name(),
			Path:    filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
		})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.NotFound(fmt.Sprintf("listing root %q", l.Root))
	}
	if err != nil {
		return nil, fmt.Errorf("walking %q: %w", l.Root, err)
	}
	return entries, nil
}
