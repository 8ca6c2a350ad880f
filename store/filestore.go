package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/sessionflow/sessionflow/oidc"
)

// FileStore persists sessions as one JSON file per configuration
// fingerprint.  Protection relies on file permissions: the directory is
// created 0700 and records are written 0600.  It satisfies the secure store
// contract for a single-user machine; a real keychain can be swapped in
// behind the Store interface.
type FileStore struct {
	dir    string
	logger hclog.Logger
}

var _ Store = (*FileStore)(nil)

// fileRecord is the on-disk shape of a Session.  It exists because the
// Session's token types redact themselves in MarshalJSON, and the store is
// the one place the raw values must survive.
type fileRecord struct {
	Id           string    `json:"id"`
	Fingerprint  string    `json:"fingerprint"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IdToken      string    `json:"id_token,omitempty"`
	IssuedAt     time.Time `json:"issued_at,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// NewFileStore creates a FileStore rooted at dir, creating the directory
// (mode 0700) if needed.
// Supported options: WithLogger
func NewFileStore(dir string, opt ...Option) (*FileStore, error) {
	const op = "store.NewFileStore"
	if dir == "" {
		return nil, fmt.Errorf("%s: directory is empty: %w", op, ErrInvalidParameter)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%s: unable to create %s: %w", op, dir, err)
	}
	opts := getStoreOpts(opt...)
	return &FileStore{
		dir:    dir,
		logger: opts.withLogger,
	}, nil
}

// ReadSession implements Store.
func (f *FileStore) ReadSession(ctx context.Context, fingerprint string) (*Session, error) {
	const op = "FileStore.ReadSession"
	if fingerprint == "" {
		return nil, fmt.Errorf("%s: fingerprint is empty: %w", op, ErrInvalidParameter)
	}
	data, err := os.ReadFile(f.path(fingerprint))
	switch {
	case os.IsNotExist(err):
		return nil, fmt.Errorf("%s: no session for fingerprint %s: %w", op, fingerprint, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: unable to read session file: %w", op, err)
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%s: unable to decode session file: %w", op, err)
	}
	return rec.session(), nil
}

// WriteSession implements Store.  The write is atomic: the record lands in a
// temp file which is then renamed over any previous record.
func (f *FileStore) WriteSession(ctx context.Context, s *Session) error {
	const op = "FileStore.WriteSession"
	if s == nil {
		return fmt.Errorf("%s: session is nil: %w", op, ErrNilParameter)
	}
	if s.Fingerprint == "" {
		return fmt.Errorf("%s: session fingerprint is empty: %w", op, ErrInvalidParameter)
	}
	data, err := json.Marshal(newFileRecord(s))
	if err != nil {
		return fmt.Errorf("%s: unable to encode session: %w", op, err)
	}

	tmp, err := os.CreateTemp(f.dir, "session-*.tmp")
	if err != nil {
		return fmt.Errorf("%s: unable to create temp file: %w", op, err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("%s: unable to set temp file mode: %w", op, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%s: unable to write session: %w", op, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%s: unable to close temp file: %w", op, err)
	}
	if err := os.Rename(tmp.Name(), f.path(s.Fingerprint)); err != nil {
		return fmt.Errorf("%s: unable to replace session file: %w", op, err)
	}
	f.logger.Debug("wrote session", "fingerprint", s.Fingerprint, "id", s.Id)
	return nil
}

// DeleteSession implements Store.
func (f *FileStore) DeleteSession(ctx context.Context, fingerprint string) error {
	const op = "FileStore.DeleteSession"
	if fingerprint == "" {
		return fmt.Errorf("%s: fingerprint is empty: %w", op, ErrInvalidParameter)
	}
	if err := os.Remove(f.path(fingerprint)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%s: unable to remove session file: %w", op, err)
	}
	return nil
}

func (f *FileStore) path(fingerprint string) string {
	return filepath.Join(f.dir, fingerprint+".json")
}

func newFileRecord(s *Session) *fileRecord {
	return &fileRecord{
		Id:           s.Id,
		Fingerprint:  s.Fingerprint,
		AccessToken:  string(s.AccessToken),
		RefreshToken: string(s.RefreshToken),
		IdToken:      string(s.IdToken),
		IssuedAt:     s.IssuedAt,
		ExpiresAt:    s.ExpiresAt,
	}
}

func (r *fileRecord) session() *Session {
	return &Session{
		Id:           r.Id,
		Fingerprint:  r.Fingerprint,
		AccessToken:  oidc.AccessToken(r.AccessToken),
		RefreshToken: oidc.RefreshToken(r.RefreshToken),
		IdToken:      oidc.IdToken(r.IdToken),
		IssuedAt:     r.IssuedAt,
		ExpiresAt:    r.ExpiresAt,
	}
}
