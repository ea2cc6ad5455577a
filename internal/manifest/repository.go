package manifest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nvimal/courierbill/internal/billing"
)

// IDGenerator generates unique IDs for manifests
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates IDs using UnixNano timestamp
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Repository owns the manifest collection, recycle bin and folders on top
// of a Store. It is the single logical writer of the persisted snapshot.
type Repository struct {
	store       Store
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewRepository creates a Repository with the default ID generator and
// time source.
func NewRepository(store Store) *Repository {
	return &Repository{
		store:       store,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewRepositoryWithDeps creates a Repository with custom dependencies for
// testing.
func NewRepositoryWithDeps(store Store, idGen IDGenerator, timeSrc TimeSource) *Repository {
	return &Repository{
		store:       store,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Save persists a manifest, replacing any existing record with the same ID.
// Rows, totals and item count are always rederived before the write so the
// stored snapshot can never disagree with its inputs.
func (r *Repository) Save(m *Manifest) (*Manifest, error) {
	if m.ID == "" {
		m.ID = r.idGenerator.Generate()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.timeSource.Now()
	}
	if m.ManifestNo == "" {
		// Fallback manifest numbers derive from the record identity so they
		// stay monotonic with creation order.
		m.ManifestNo = "MF-" + m.ID
	}
	m.Rows = billing.ComputeRows(m.Rows, m.Config)
	m.TotalAmount = billing.Total(m.Rows)
	m.ItemCount = len(m.Rows)

	if err := r.store.SaveManifest(m); err != nil {
		return nil, fmt.Errorf("saving manifest: %w", err)
	}
	return m, nil
}

// Get retrieves a manifest by ID.
func (r *Repository) Get(id string) (*Manifest, error) {
	m, err := r.store.GetManifest(id)
	if err != nil {
		return nil, fmt.Errorf("getting manifest: %w", err)
	}
	return m, nil
}

// List returns all live manifests, newest first.
func (r *Repository) List() ([]*Manifest, error) {
	manifests, err := r.store.ListManifests()
	if err != nil {
		return nil, fmt.Errorf("listing manifests: %w", err)
	}
	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].CreatedAt.After(manifests[j].CreatedAt)
	})
	return manifests, nil
}

// FindByNumber returns the live manifest with the given manifest number, or
// ErrNotFound. Matching is exact. The recycle bin is deliberately not
// consulted: number uniqueness is advisory and checked against live
// manifests only.
func (r *Repository) FindByNumber(manifestNo string) (*Manifest, error) {
	manifests, err := r.store.ListManifests()
	if err != nil {
		return nil, fmt.Errorf("listing manifests: %w", err)
	}
	for _, m := range manifests {
		if m.ManifestNo == manifestNo {
			return m, nil
		}
	}
	return nil, ErrNotFound
}

// Delete soft-deletes a manifest into the recycle bin.
func (r *Repository) Delete(id string) error {
	m, err := r.store.GetManifest(id)
	if err != nil {
		return fmt.Errorf("getting manifest for deletion: %w", err)
	}
	if err := r.store.SaveBinEntry(m); err != nil {
		return fmt.Errorf("moving manifest to recycle bin: %w", err)
	}
	if err := r.store.DeleteManifest(id); err != nil {
		return fmt.Errorf("removing manifest: %w", err)
	}
	return nil
}

// ListBin returns all recycle-bin entries, newest first.
func (r *Repository) ListBin() ([]*Manifest, error) {
	manifests, err := r.store.ListBin()
	if err != nil {
		return nil, fmt.Errorf("listing recycle bin: %w", err)
	}
	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].CreatedAt.After(manifests[j].CreatedAt)
	})
	return manifests, nil
}

// Restore moves a recycle-bin entry back into the live collection. The
// manifest number is not re-checked against live manifests here, so a
// restore can reintroduce a duplicate number without triggering conflict
// detection; duplicates are only detected at import time.
func (r *Repository) Restore(id string) (*Manifest, error) {
	m, err := r.store.GetBinEntry(id)
	if err != nil {
		return nil, fmt.Errorf("getting recycle-bin entry: %w", err)
	}
	if err := r.store.SaveManifest(m); err != nil {
		return nil, fmt.Errorf("restoring manifest: %w", err)
	}
	if err := r.store.DeleteBinEntry(id); err != nil {
		return nil, fmt.Errorf("removing recycle-bin entry: %w", err)
	}
	return m, nil
}

// Purge permanently deletes a recycle-bin entry.
func (r *Repository) Purge(id string) error {
	if _, err := r.store.GetBinEntry(id); err != nil {
		return fmt.Errorf("getting recycle-bin entry: %w", err)
	}
	if err := r.store.DeleteBinEntry(id); err != nil {
		return fmt.Errorf("purging recycle-bin entry: %w", err)
	}
	return nil
}

// EmptyBin permanently deletes every recycle-bin entry.
func (r *Repository) EmptyBin() error {
	entries, err := r.store.ListBin()
	if err != nil {
		return fmt.Errorf("listing recycle bin: %w", err)
	}
	for _, m := range entries {
		if err := r.store.DeleteBinEntry(m.ID); err != nil {
			return fmt.Errorf("purging recycle-bin entry %s: %w", m.ID, err)
		}
	}
	return nil
}

// CreateFolder creates a new folder.
func (r *Repository) CreateFolder(name string) (*Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("folder name is required")
	}
	f := &Folder{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: r.timeSource.Now(),
	}
	if err := r.store.SaveFolder(f); err != nil {
		return nil, fmt.Errorf("saving folder: %w", err)
	}
	return f, nil
}

// RenameFolder updates a folder's name.
func (r *Repository) RenameFolder(id, name string) (*Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("folder name is required")
	}
	f, err := r.store.GetFolder(id)
	if err != nil {
		return nil, fmt.Errorf("getting folder: %w", err)
	}
	f.Name = name
	if err := r.store.SaveFolder(f); err != nil {
		return nil, fmt.Errorf("saving folder: %w", err)
	}
	return f, nil
}

// ListFolders returns all folders, oldest first.
func (r *Repository) ListFolders() ([]*Folder, error) {
	folders, err := r.store.ListFolders()
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	sort.Slice(folders, func(i, j int) bool {
		return folders[i].CreatedAt.Before(folders[j].CreatedAt)
	})
	return folders, nil
}

// DeleteFolder removes a folder and reassigns its manifests to the root.
// Manifest content is never deleted with the folder.
func (r *Repository) DeleteFolder(id string) error {
	if _, err := r.store.GetFolder(id); err != nil {
		return fmt.Errorf("getting folder: %w", err)
	}
	manifests, err := r.store.ListManifests()
	if err != nil {
		return fmt.Errorf("listing manifests: %w", err)
	}
	for _, m := range manifests {
		if m.FolderID != id {
			continue
		}
		m.FolderID = ""
		if err := r.store.SaveManifest(m); err != nil {
			return fmt.Errorf("reassigning manifest %s: %w", m.ID, err)
		}
	}
	if err := r.store.DeleteFolder(id); err != nil {
		return fmt.Errorf("deleting folder: %w", err)
	}
	return nil
}

// MoveToFolder assigns a manifest to a folder; an empty folderID moves it
// to the root.
func (r *Repository) MoveToFolder(manifestID, folderID string) (*Manifest, error) {
	if folderID != "" {
		if _, err := r.store.GetFolder(folderID); err != nil {
			return nil, fmt.Errorf("getting folder: %w", err)
		}
	}
	m, err := r.store.GetManifest(manifestID)
	if err != nil {
		return nil, fmt.Errorf("getting manifest: %w", err)
	}
	m.FolderID = folderID
	if err := r.store.SaveManifest(m); err != nil {
		return nil, fmt.Errorf("saving manifest: %w", err)
	}
	return m, nil
}

// DefaultConfig returns the persisted global rate configuration, or the
// zero configuration when none has been saved yet.
func (r *Repository) DefaultConfig() (billing.Config, error) {
	settings, err := r.store.GetSettings()
	if errors.Is(err, ErrNotFound) {
		return billing.DefaultConfig(), nil
	}
	if err != nil {
		return billing.Config{}, fmt.Errorf("getting settings: %w", err)
	}
	return settings.DefaultConfig, nil
}

// SetDefaultConfig persists the global rate configuration.
func (r *Repository) SetDefaultConfig(cfg billing.Config) error {
	settings, err := r.store.GetSettings()
	if errors.Is(err, ErrNotFound) {
		settings = &Settings{}
	} else if err != nil {
		return fmt.Errorf("getting settings: %w", err)
	}
	settings.DefaultConfig = cfg
	if err := r.store.SaveSettings(settings); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// PreferredStrategy returns the remembered recognition strategy, or empty
// when the user has never chosen one.
func (r *Repository) PreferredStrategy() (string, error) {
	settings, err := r.store.GetSettings()
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting settings: %w", err)
	}
	return settings.Strategy, nil
}

// SetPreferredStrategy remembers the last strategy the user chose so later
// sessions default to it.
func (r *Repository) SetPreferredStrategy(strategy string) error {
	settings, err := r.store.GetSettings()
	if errors.Is(err, ErrNotFound) {
		settings = &Settings{}
	} else if err != nil {
		return fmt.Errorf("getting settings: %w", err)
	}
	settings.Strategy = strategy
	if err := r.store.SaveSettings(settings); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}
