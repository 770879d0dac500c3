// Package uploads holds roster workbooks between the preview and confirm
// steps of an import. Files are parked on disk under an opaque token so a
// confirm can run against exactly the bytes that were previewed.
package uploads

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	filePrefix = "pending_import_"
	fileSuffix = ".xlsx"
)

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save parks the workbook and returns the token the confirm step presents.
func (s *Store) Save(r io.Reader) (string, error) {
	token := uuid.NewString()
	f, err := os.Create(s.path(token))
	if err != nil {
		return "", fmt.Errorf("create pending file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write pending file: %w", err)
	}
	return token, nil
}

// Open returns the parked workbook for a token, or an error when the token
// is malformed, unknown, or already cleaned up.
func (s *Store) Open(token string) (io.ReadCloser, error) {
	if err := validateToken(token); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(token))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("upload %s not found", token)
		}
		return nil, fmt.Errorf("open pending file: %w", err)
	}
	return f, nil
}

// Remove discards a parked workbook. Removing an already-gone token is not
// an error.
func (s *Store) Remove(token string) error {
	if err := validateToken(token); err != nil {
		return err
	}
	if err := os.Remove(s.path(token)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pending file: %w", err)
	}
	return nil
}

// CleanupStale deletes parked workbooks older than maxAge and reports how
// many were removed. Abandoned previews are the only way files outlive
// their import.
func (s *Store) CleanupStale(maxAge time.Duration) (int, error) {
	pattern := filepath.Join(s.dir, filePrefix+"*"+fileSuffix)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, fmt.Errorf("scan upload dir: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, name := range matches {
		info, err := os.Stat(name)
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(name); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (s *Store) path(token string) string {
	return filepath.Join(s.dir, filePrefix+token+fileSuffix)
}

// validateToken keeps tokens from escaping the upload directory.
func validateToken(token string) error {
	if _, err := uuid.Parse(token); err != nil {
		return fmt.Errorf("invalid upload token")
	}
	return nil
}
