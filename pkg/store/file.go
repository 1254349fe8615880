package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/facetrack/facetrack/pkg/attendance"
	"github.com/facetrack/facetrack/pkg/enrollment"
	"github.com/facetrack/facetrack/pkg/logging"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the secretbox nonce size.
	NonceSize = 24
	// KeySize is the secretbox key size.
	KeySize = 32
)

// ErrEncryption is returned when encryption or decryption fails.
var ErrEncryption = errors.New("encryption error")

// FileStore keeps identities and attendance events as JSON files under a
// data directory, optionally encrypted at rest with NaCl secretbox. It
// implements enrollment.Store and attendance.EventLog.
type FileStore struct {
	dataDir           string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte

	mu sync.RWMutex
}

// NewFileStore creates a file store rooted at dataDir.
func NewFileStore(dataDir string, encryptionEnabled bool) (*FileStore, error) {
	fs := &FileStore{
		dataDir:           dataDir,
		encryptionEnabled: encryptionEnabled,
	}

	// The key is derived from machine identity, tying data to this host.
	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		fs.encryptionKey = key
	}

	for _, dir := range []string{
		filepath.Join(dataDir, "identities"),
		filepath.Join(dataDir, "events"),
	} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return fs, nil
}

func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("facetrack-v1-salt")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])
	return key, nil
}

// safeName maps an identity key (typically an email) to a filename.
func safeName(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", string(os.PathSeparator), "_")
	return r.Replace(key)
}

func (fs *FileStore) identityPath(key string) string {
	ext := ".json"
	if fs.encryptionEnabled {
		ext = ".enc"
	}
	return filepath.Join(fs.dataDir, "identities", safeName(key)+ext)
}

func (fs *FileStore) eventsPath(key string) string {
	ext := ".json"
	if fs.encryptionEnabled {
		ext = ".enc"
	}
	return filepath.Join(fs.dataDir, "events", safeName(key)+ext)
}

func (fs *FileStore) writeFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return Unavailable(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return Unavailable(err)
	}
	return nil
}

func (fs *FileStore) readFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		return Unavailable(err)
	}

	if fs.encryptionEnabled {
		data, err = fs.decrypt(data)
		if err != nil {
			return fmt.Errorf("failed to decrypt: %w", err)
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

// Get returns the identity for key.
func (fs *FileStore) Get(ctx context.Context, key string) (*enrollment.Identity, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var id enrollment.Identity
	err := fs.readFile(fs.identityPath(key), &id)
	if errors.Is(err, os.ErrNotExist) {
		return nil, enrollment.ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// Upsert inserts or replaces an identity. The write-then-rename in
// writeFile keeps the swap atomic for concurrent readers.
func (fs *FileStore) Upsert(ctx context.Context, id enrollment.Identity) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writeFile(fs.identityPath(id.Key), id); err != nil {
		return err
	}
	logging.Debugf("Saved identity: %s", id.Key)
	return nil
}

// List returns all identities, enrolled or pending, sorted by key.
func (fs *FileStore) List(ctx context.Context) ([]enrollment.Identity, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.list(false)
}

// ListEnrolled returns all identities holding a reference embedding.
func (fs *FileStore) ListEnrolled(ctx context.Context) ([]enrollment.Identity, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.list(true)
}

func (fs *FileStore) list(enrolledOnly bool) ([]enrollment.Identity, error) {
	dir := filepath.Join(fs.dataDir, "identities")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, Unavailable(err)
	}

	var out []enrollment.Identity
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, ".tmp") {
			continue
		}
		if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".enc") {
			continue
		}

		var id enrollment.Identity
		if err := fs.readFile(filepath.Join(dir, name), &id); err != nil {
			logging.Warnf("Skipping unreadable identity file %s: %v", name, err)
			continue
		}
		if enrolledOnly && !id.HasEmbedding() {
			continue
		}
		out = append(out, id)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes an identity and all of its attendance events.
func (fs *FileStore) Delete(ctx context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.identityPath(key)); err != nil {
		if os.IsNotExist(err) {
			return enrollment.ErrIdentityNotFound
		}
		return Unavailable(err)
	}

	// Cascade: the identity's event history goes with it.
	if err := os.Remove(fs.eventsPath(key)); err != nil && !os.IsNotExist(err) {
		return Unavailable(err)
	}

	logging.Infof("Deleted identity and events: %s", key)
	return nil
}

// Append records an attendance event for its identity.
func (fs *FileStore) Append(ctx context.Context, ev attendance.Event) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var events []attendance.Event
	err := fs.readFile(fs.eventsPath(ev.IdentityKey), &events)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	events = append(events, ev)
	if err := fs.writeFile(fs.eventsPath(ev.IdentityKey), events); err != nil {
		return err
	}
	logging.Debugf("Appended %s event for %s", ev.Type, ev.IdentityKey)
	return nil
}

// LatestFor returns the most recent event for an identity, or nil.
func (fs *FileStore) LatestFor(ctx context.Context, identityKey string) (*attendance.Event, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var events []attendance.Event
	err := fs.readFile(fs.eventsPath(identityKey), &events)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(events) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	latest := events[0]
	for _, ev := range events[1:] {
		if ev.Timestamp.After(latest.Timestamp) {
			latest = ev
		}
	}
	return &latest, nil
}

// ListByDateRange returns all events in [start, end], ascending by
// timestamp.
func (fs *FileStore) ListByDateRange(ctx context.Context, start, end time.Time) ([]attendance.Event, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	dir := filepath.Join(fs.dataDir, "events")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, Unavailable(err)
	}

	var out []attendance.Event
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, ".tmp") {
			continue
		}

		var events []attendance.Event
		if err := fs.readFile(filepath.Join(dir, name), &events); err != nil {
			logging.Warnf("Skipping unreadable event file %s: %v", name, err)
			continue
		}
		for _, ev := range events {
			if ev.Timestamp.Before(start) || ev.Timestamp.After(end) {
				continue
			}
			out = append(out, ev)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (fs *FileStore) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey), nil
}

func (fs *FileStore) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
