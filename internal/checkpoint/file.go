package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/roach88/phasetrain/internal/canonical"
)

const envelopeVersion = 1

type envelope struct {
	Version int             `json:"version"`
	Digest  string          `json:"digest"`
	Payload json.RawMessage `json:"payload"`
}

// FileStore keeps checkpoints as JSON files in one directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on
// the first Save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the store's directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file path backing slot.
func (s *FileStore) Path(slot string) string {
	return filepath.Join(s.dir, FileName(slot))
}

// Save writes ckpt to slot, replacing any previous content atomically.
func (s *FileStore) Save(ctx context.Context, slot string, ckpt *Checkpoint) error {
	if ckpt == nil {
		return errors.New("checkpoint: nil checkpoint")
	}
	if err := validateSlot(slot); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	data, err := json.Marshal(envelope{
		Version: envelopeVersion,
		Digest:  canonical.HashWithDomain(canonical.DomainCheckpoint, payload),
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	return writeAtomic(s.Path(slot), data)
}

// Load reads slot. It returns ErrNotFound when the slot was never written and
// an error wrapping ErrCorrupt when the file fails to decode or verify.
func (s *FileStore) Load(ctx context.Context, slot string) (*Checkpoint, error) {
	if err := validateSlot(slot); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(slot)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: %s: version %d, want %d", ErrCorrupt, path, env.Version, envelopeVersion)
	}
	if got := canonical.HashWithDomain(canonical.DomainCheckpoint, env.Payload); got != env.Digest {
		return nil, fmt.Errorf("%w: %s: digest mismatch", ErrCorrupt, path)
	}

	var ckpt Checkpoint
	if err := json.Unmarshal(env.Payload, &ckpt); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return &ckpt, nil
}

// Exists reports whether slot has been written.
func (s *FileStore) Exists(slot string) bool {
	_, err := os.Stat(s.Path(slot))
	return err == nil
}

// writeAtomic writes data to a temp file in the target directory, syncs it
// and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	success = true
	return nil
}
