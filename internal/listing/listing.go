// Package listing reports on the published file drop: the full listing,
// files not yet copied into the data directory, and scenery files per zone.
package listing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/oriys/plebiscito/internal/domain"
)

// Lister enumerates the files of a listing root.
type Lister interface {
	List(ctx context.Context) ([]domain.FileEntry, error)
}

// Service answers the /api/check queries. A nil Lister means FTP_PATH is
// unset; an empty DataPath means DATA_PATH is unset.
type Service struct {
	Lister   Lister
	DataPath string
}

// NewService wires a service over lister and the data directory.
func NewService(lister Lister, dataPath string) *Service {
	return &Service{Lister: lister, DataPath: dataPath}
}

// Files returns every entry of the listing root, sorted by path.
func (s *Service) Files(ctx context.Context) ([]domain.FileEntry, error) {
	if s == nil || s.Lister == nil {
		return nil, domain.NotConfigured("FTP_PATH")
	}
	entries, err := s.Lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// NotCopied returns the listing entries that have no counterpart under the
// data directory.
func (s *Service) NotCopied(ctx context.Context) ([]domain.FileEntry, error) {
	if s == nil || s.DataPath == "" {
		return nil, domain.NotConfigured("DATA_PATH")
	}
	entries, err := s.Files(ctx)
	if err != nil {
		return nil, err
	}

	missing := make([]domain.FileEntry, 0)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		target, err := securejoin.SecureJoin(s.DataPath, e.Path)
		if err != nil {
			return nil, fmt.Errorf("error joining path %q: %w", e.Path, err)
		}
		_, err = os.Stat(target)
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist):
			missing = append(missing, e)
		default:
			return nil, fmt.Errorf("checking %q: %w", e.Path, err)
		}
	}
	return missing, nil
}

// Scenery returns the entries whose base name contains zone.
func (s *Service) Scenery(ctx context.Context, zone string) ([]domain.FileEntry, error) {
	if strings.TrimSpace(zone) == "" {
		return nil, domain.InvalidArgument("zone", zone)
	}
	entries, err := s.Files(ctx)
	if err != nil {
		return nil, err
	}

	pattern := "*" + escapeGlob(zone) + "*"
	matched := make([]domain.FileEntry, 0)
	for _, e := range entries {
		ok, err := doublestar.Match(pattern, path.Base(e.Path))
		if err != nil {
			return nil, fmt.Errorf("matching scenery for zone %q: %w", zone, err)
		}
		if ok {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
	`{`, `\{`,
	`}`, `\}`,
)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
