package watermark

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ErrNotFound is returned by stores that have no watermark yet.
var ErrNotFound = errors.New("watermark not found")

// state is the on-disk layout of FileStore.
type state struct {
	LastOpened int64 `toml:"last_opened"`
}

// FileStore keeps the watermark in a small TOML state file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The parent directory is
// created on first Put.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultStatePath returns ~/.local/state/relaymux/state.toml.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "relaymux", "state.toml"), nil
}

func (f *FileStore) Get(_ context.Context) (int64, error) {
	var s state
	md, err := toml.DecodeFile(f.path, &s)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("decode %s: %w", f.path, err)
	}
	if !md.IsDefined("last_opened") {
		return 0, ErrNotFound
	}
	return s.LastOpened, nil
}

func (f *FileStore) Put(_ context.Context, ts int64) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(out).Encode(state{LastOpened: ts}); err != nil {
		out.Close()
		return fmt.Errorf("encode state: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
