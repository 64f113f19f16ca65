package push

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// Fingerprint returns a fixed-length, filesystem-safe digest of a
// destination string. It selects the record path for a destination and
// is not used for anything security sensitive.
func Fingerprint(destination string) string {
	sum := sha256.Sum256([]byte(destination))
	return hex.EncodeToString(sum[:])
}

// RecordStore persists the last successfully pushed state descriptor,
// one file per (repository, destination) pair under the record root.
type RecordStore struct {
	root string
}

// NewRecordStore constructs a RecordStore rooted at dir.
// dir must be an absolute path; it need not exist yet.
func NewRecordStore(dir string) (*RecordStore, error) {
	if !filepath.IsAbs(dir) {
		return nil, errors.New("none absolute: " + dir)
	}
	return &RecordStore{root: filepath.Clean(dir)}, nil
}

// Path returns the record file path for a (repository, destination) pair.
// The mapping is deterministic: the same pair always yields the same path.
func (s *RecordStore) Path(repoID, destination string) string {
	return filepath.Join(s.root, repoID, Fingerprint(destination))
}

// lockPath returns the advisory lock file path for a pair.
func (s *RecordStore) lockPath(repoID, destination string) string {
	return filepath.Join(s.root, repoID, "."+Fingerprint(destination)+".lock")
}

// Read returns the recorded descriptor for a pair, without the trailing
// newline the record file carries on disk. A missing record is not an
// error; found reports whether a record exists.
func (s *RecordStore) Read(repoID, destination string) (descriptor string, found bool, err error) {
	data, err := os.ReadFile(s.Path(repoID, destination)) // #nosec G304 - path is derived from a validated root, a validated id and a hex digest
	switch {
	case os.IsNotExist(err):
		return "", false, nil
	case err != nil:
		return "", false, errors.Wrap(err, "RecordStore.Read")
	}
	return strings.TrimSpace(string(data)), true, nil
}

// Matches reports whether the recorded descriptor covers the current
// one. Containment rather than equality is intentional: it reproduces
// the behavior of the original utility, where the record was consulted
// with a substring search.
func Matches(recorded, current string) bool {
	return strings.Contains(recorded, current)
}

// Write records descriptor as the last pushed state for a pair, fully
// replacing any prior record. The parent directory is created when
// absent and fsynced afterwards so the record survives a crash.
func (s *RecordStore) Write(repoID, destination, descriptor string) error {
	recordPath := s.Path(repoID, destination)
	parent := filepath.Dir(recordPath)

	if err := os.MkdirAll(parent, 0750); err != nil {
		return errors.Wrap(err, "RecordStore.Write")
	}
	if err := os.WriteFile(recordPath, []byte(descriptor+"\n"), 0644); err != nil { // #nosec G306 - records hold no secrets
		return errors.Wrap(err, "RecordStore.Write")
	}
	if err := DirSync(parent); err != nil {
		return errors.Wrap(err, "RecordStore.Write")
	}
	return nil
}

// openLock opens (creating if needed) the lock file for a pair.
func (s *RecordStore) openLock(repoID, destination string) (*os.File, error) {
	lockFile := s.lockPath(repoID, destination)
	if err := os.MkdirAll(filepath.Dir(lockFile), 0750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE, 0644) // #nosec G304,G302 - path derived from validated components, 0644 standard for lock files
	if err != nil {
		return nil, err
	}
	return f, nil
}
