package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Naming decides where an upload is written.
type Naming string

const (
	// NamingUnique stores <stem>_<uuid><ext>.
	NamingUnique Naming = "unique"
	// NamingVerbatim stores the original name and overwrites.
	NamingVerbatim Naming = "verbatim"
	// NamingMemory does not persist anything.
	NamingMemory Naming = "memory"
)

var ErrEmptyName = errors.New("upload has no file name")

func ParseNaming(s string) (Naming, error) {
	switch n := Naming(strings.ToLower(strings.TrimSpace(s))); n {
	case NamingUnique, NamingVerbatim, NamingMemory:
		return n, nil
	case "":
		return NamingUnique, nil
	default:
		return "", fmt.Errorf("unknown upload naming %q", s)
	}
}

type UploadStore struct {
	dir    string
	naming Naming
}

func NewUploadStore(dir string, naming Naming) (*UploadStore, error) {
	if naming == "" {
		naming = NamingUnique
	}
	if naming != NamingMemory {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
	}
	return &UploadStore{dir: dir, naming: naming}, nil
}

func (s *UploadStore) Naming() Naming { return s.naming }

func (s *UploadStore) Dir() string { return s.dir }

// BaseName strips any directory part a client sent with the file name.
func BaseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(filepath.FromSlash(name))
	if base == "." || base == "/" || base == ".." || base == string(filepath.Separator) {
		return ""
	}
	return base
}

// Save writes data and returns the stored path, or "" when nothing is
// persisted.
func (s *UploadStore) Save(name string, data []byte) (string, error) {
	base := BaseName(name)
	if base == "" {
		return "", ErrEmptyName
	}
	if s.naming == NamingMemory {
		return "", nil
	}

	target := base
	if s.naming == NamingUnique {
		ext := filepath.Ext(base)
		target = strings.TrimSuffix(base, ext) + "_" + uuid.NewString() + ext
	}
	path := filepath.Join(s.dir, target)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save upload: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}
