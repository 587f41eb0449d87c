package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/celerix-dev/socialboost-store/internal/vault"
)

// FileSource keeps the current session in a file so it survives between
// boostctl runs. With a passphrase the file is sealed with AES-GCM.
type FileSource struct {
	path       string
	passphrase string
	now        func() time.Time
	mu         sync.Mutex
}

func NewFileSource(path, passphrase string) *FileSource {
	return &FileSource{path: path, passphrase: passphrase, now: time.Now}
}

// Load returns the stored session. A missing file yields the zero Context.
// An expired session is cleared and reported as no session.
func (f *FileSource) Load() (Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	content, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Context{}, nil
	}
	if err != nil {
		return Context{}, fmt.Errorf("read session: %w", err)
	}

	if f.passphrase != "" {
		content, err = vault.OpenWithPassphrase(content, f.passphrase)
		if err != nil {
			return Context{}, fmt.Errorf("open session: %w", err)
		}
	}

	var sess Context
	if err := json.Unmarshal(content, &sess); err != nil {
		return Context{}, fmt.Errorf("decode session: %w", err)
	}
	if sess.Expired(f.now()) {
		if err := f.clearLocked(); err != nil {
			return Context{}, err
		}
		return Context{}, nil
	}
	return sess, nil
}

// Save replaces the stored session.
func (f *FileSource) Save(sess Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	content, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if f.passphrase != "" {
		content, err = vault.SealWithPassphrase(content, f.passphrase)
		if err != nil {
			return fmt.Errorf("seal session: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, content, 0600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tempPath, f.path); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// Clear removes the stored session. Clearing twice is not an error.
func (f *FileSource) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clearLocked()
}

func (f *FileSource) clearLocked() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
