package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	manifestBucket = "manifests"
	binBucket      = "recyclebin"
	folderBucket   = "folders"
	settingsBucket = "settings"
	sessionBucket  = "session"

	settingsKey = "global"
	sessionKey  = "active"
)

// ErrNotFound is returned when a record does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence operations the repository needs. Values are
// full-record snapshots with last-writer-wins semantics; the store is owned
// by a single logical actor at a time and is not safe for concurrent
// writers.
type Store interface {
	// SaveManifest writes a manifest, replacing any record with the same ID
	SaveManifest(m *Manifest) error

	// GetManifest retrieves a manifest by ID
	GetManifest(id string) (*Manifest, error)

	// ListManifests returns all live (non-deleted) manifests
	ListManifests() ([]*Manifest, error)

	// DeleteManifest removes a manifest from the live collection
	DeleteManifest(id string) error

	// SaveBinEntry writes a soft-deleted manifest into the recycle bin
	SaveBinEntry(m *Manifest) error

	// GetBinEntry retrieves a recycle-bin entry by ID
	GetBinEntry(id string) (*Manifest, error)

	// ListBin returns all recycle-bin entries
	ListBin() ([]*Manifest, error)

	// DeleteBinEntry permanently removes a recycle-bin entry
	DeleteBinEntry(id string) error

	// SaveFolder writes a folder record
	SaveFolder(f *Folder) error

	// GetFolder retrieves a folder by ID
	GetFolder(id string) (*Folder, error)

	// ListFolders returns all folders
	ListFolders() ([]*Folder, error)

	// DeleteFolder removes a folder record
	DeleteFolder(id string) error

	// GetSettings retrieves the persisted global settings, or ErrNotFound
	GetSettings() (*Settings, error)

	// SaveSettings writes the global settings
	SaveSettings(s *Settings) error

	// LoadSessionSnapshot returns the persisted capture-session snapshot,
	// or nil when no resumable session exists
	LoadSessionSnapshot() ([]byte, error)

	// SaveSessionSnapshot writes the capture-session snapshot
	SaveSessionSnapshot(data []byte) error

	// RemoveSessionSnapshot erases the capture-session snapshot
	RemoveSessionSnapshot() error

	// Close closes the store
	Close() error
}

// BoltStore implements Store on a single bbolt file with one bucket per
// collection.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (creating if needed) the store at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{manifestBucket, binBucket, folderBucket, settingsBucket, sessionBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (b *BoltStore) put(bucket, key string, v any) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

func (b *BoltStore) get(bucket, key string, v any) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, v)
	})
}

func (b *BoltStore) delete(bucket, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Delete([]byte(key))
	})
}

func listManifestBucket(db *bbolt.DB, bucket string) ([]*Manifest, error) {
	manifests := make([]*Manifest, 0)
	err := db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
			var m Manifest
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("unmarshaling manifest: %w", err)
			}
			manifests = append(manifests, &m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return manifests, nil
}

func (b *BoltStore) SaveManifest(m *Manifest) error {
	return b.put(manifestBucket, m.ID, m)
}

func (b *BoltStore) GetManifest(id string) (*Manifest, error) {
	var m Manifest
	if err := b.get(manifestBucket, id, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (b *BoltStore) ListManifests() ([]*Manifest, error) {
	return listManifestBucket(b.db, manifestBucket)
}

func (b *BoltStore) DeleteManifest(id string) error {
	return b.delete(manifestBucket, id)
}

func (b *BoltStore) SaveBinEntry(m *Manifest) error {
	return b.put(binBucket, m.ID, m)
}

func (b *BoltStore) GetBinEntry(id string) (*Manifest, error) {
	var m Manifest
	if err := b.get(binBucket, id, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (b *BoltStore) ListBin() ([]*Manifest, error) {
	return listManifestBucket(b.db, binBucket)
}

func (b *BoltStore) DeleteBinEntry(id string) error {
	return b.delete(binBucket, id)
}

func (b *BoltStore) SaveFolder(f *Folder) error {
	return b.put(folderBucket, f.ID, f)
}

func (b *BoltStore) GetFolder(id string) (*Folder, error) {
	var f Folder
	if err := b.get(folderBucket, id, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (b *BoltStore) ListFolders() ([]*Folder, error) {
	folders := make([]*Folder, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(folderBucket)).ForEach(func(k, v []byte) error {
			var f Folder
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("unmarshaling folder: %w", err)
			}
			folders = append(folders, &f)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return folders, nil
}

func (b *BoltStore) DeleteFolder(id string) error {
	return b.delete(folderBucket, id)
}

func (b *BoltStore) GetSettings() (*Settings, error) {
	var s Settings
	if err := b.get(settingsBucket, settingsKey, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *BoltStore) SaveSettings(s *Settings) error {
	return b.put(settingsBucket, settingsKey, s)
}

// LoadSessionSnapshot returns nil when no session snapshot is persisted;
// absence of the key means there is no resumable session.
func (b *BoltStore) LoadSessionSnapshot() ([]byte, error) {
	var snapshot []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(sessionBucket)).Get([]byte(sessionKey))
		if data != nil {
			snapshot = make([]byte, len(data))
			copy(snapshot, data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (b *BoltStore) SaveSessionSnapshot(data []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).Put([]byte(sessionKey), data)
	})
}

func (b *BoltStore) RemoveSessionSnapshot() error {
	return b.delete(sessionBucket, sessionKey)
}

// Close closes the underlying database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
