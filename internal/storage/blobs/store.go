package blobs

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const defaultBlobDir = "./blobs"

var ErrInvalidPath = errors.New("invalid blob path")

// FSStore keeps uploaded files on local disk and hands out URLs under baseURL.
type FSStore struct {
	dir     string
	baseURL string
}

// NewFSStore creates the blob directory if needed.
func NewFSStore(dir, baseURL string) (*FSStore, error) {
	if dir == "" {
		dir = defaultBlobDir
	}
	if baseURL == "" {
		baseURL = "/blobs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create blob dir")
	}
	return &FSStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the directory blobs are served from.
func (s *FSStore) Dir() string {
	return s.dir
}

// Upload writes data at key and returns its public URL.
func (s *FSStore) Upload(key string, data []byte) (string, error) {
	full, clean, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", errors.Wrap(err, "create blob parent dir")
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write blob temp file")
	}
	if err := os.Rename(tmp, full); err != nil {
		return "", errors.Wrap(err, "persist blob")
	}

	return s.baseURL + "/" + clean, nil
}

// Remove deletes the blob at key. Removing a missing blob is not an error.
func (s *FSStore) Remove(key string) error {
	full, _, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove blob")
	}
	return nil
}

// KeyFromURL reverses Upload's URL back to a key.
func (s *FSStore) KeyFromURL(url string) (string, bool) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	return strings.TrimPrefix(url, prefix), true
}

func (s *FSStore) resolve(key string) (string, string, error) {
	clean := path.Clean("/" + strings.TrimSpace(key))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", "", errors.Wrapf(ErrInvalidPath, "%q", key)
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)), clean, nil
}
