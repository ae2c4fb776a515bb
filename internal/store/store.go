// Package store is the durable metadata store: one metadata.yaml per work
// item directory, written atomically. Stage status recorded here is the
// single source of truth for resume; no other component writes item state.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/msageha/taskforge/internal/lock"
	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/yamlio"
)

const metadataFile = "metadata.yaml"

var variantDirs = map[model.Variant]string{
	model.VariantVideo:      "videos",
	model.VariantRepository: "repos",
	model.VariantTask:       "tasks",
}

// Store reads and writes WorkItem records under dataDir. Saves are atomic
// per item and serialized by a per-item mutex so concurrent workers cannot
// interleave load-mutate-save cycles.
type Store struct {
	dataDir         string
	stagesByVariant map[model.Variant][]string
	locks           *lock.MutexMap
}

func New(dataDir string, stagesByVariant map[model.Variant][]string) *Store {
	return &Store{
		dataDir:         dataDir,
		stagesByVariant: stagesByVariant,
		locks:           lock.NewMutexMap(),
	}
}

func (s *Store) DataDir() string {
	return s.dataDir
}

// ItemDir returns the on-disk directory for an item. Artifacts (transcripts,
// clones, snapshots) live next to the metadata so an operator can inspect
// everything in one place.
func (s *Store) ItemDir(variant model.Variant, id string) string {
	return filepath.Join(s.dataDir, variantDirs[variant], id)
}

func (s *Store) quarantineDir() string {
	return filepath.Join(s.dataDir, "quarantine")
}

// Register creates the item directory and an all-pending record unless one
// already exists. Safe to call for every source on every run.
func (s *Store) Register(variant model.Variant, id string) (*model.WorkItem, error) {
	key := string(variant) + "/" + id
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	dir := s.ItemDir(variant, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, model.Errorf(model.KindStore, "create item dir: %w", err)
	}

	// Only an actually-readable record counts as "already registered"; a
	// missing or quarantined metadata file means the all-pending record
	// still has to be persisted.
	if item, err := s.readRecord(variant, id); err == nil {
		return item, nil
	}

	item := model.NewWorkItem(id, variant, s.stagesByVariant[variant])
	if err := s.save(item); err != nil {
		return nil, err
	}
	return item, nil
}

// Load reconstructs an item record. A missing item directory is NotFound;
// a missing or torn metadata file inside an existing directory reads as an
// all-pending record, because a crash may land between two writes.
func (s *Store) Load(variant model.Variant, id string) (*model.WorkItem, error) {
	key := string(variant) + "/" + id
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	return s.load(variant, id)
}

func (s *Store) load(variant model.Variant, id string) (*model.WorkItem, error) {
	dir := s.ItemDir(variant, id)
	if _, err := os.Stat(dir); err != nil {
		return nil, model.Errorf(model.KindNotFound, "no record for %s %q", variant, id)
	}

	item, err := s.readRecord(variant, id)
	if err != nil {
		// Defensive default: the directory exists, so the item exists.
		return model.NewWorkItem(id, variant, s.stagesByVariant[variant]), nil
	}
	return item, nil
}

// readRecord reads metadata.yaml as-is. A missing file (or a corrupt one,
// which gets quarantined) is an error here; callers choose the fallback.
func (s *Store) readRecord(variant model.Variant, id string) (*model.WorkItem, error) {
	dir := s.ItemDir(variant, id)
	item := &model.WorkItem{}
	if err := yamlio.ReadOrQuarantine(filepath.Join(dir, metadataFile), s.quarantineDir(), item); err != nil {
		return nil, err
	}
	item.ID = id
	item.Variant = variant
	item.Normalize(s.stagesByVariant[variant])
	return item, nil
}

// Save persists an item atomically and stamps last_updated.
func (s *Store) Save(item *model.WorkItem) error {
	key := string(item.Variant) + "/" + item.ID
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	return s.save(item)
}

func (s *Store) save(item *model.WorkItem) error {
	item.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	dir := s.ItemDir(item.Variant, item.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return model.Errorf(model.KindStore, "create item dir: %w", err)
	}
	if err := yamlio.AtomicWrite(filepath.Join(dir, metadataFile), item); err != nil {
		return model.Errorf(model.KindStore, "save %s %q: %w", item.Variant, item.ID, err)
	}
	return nil
}

// UpdateStage is the single mutation path for stage status. It validates
// the transition, appends an error entry on failure, and saves atomically
// under the per-item lock.
func (s *Store) UpdateStage(variant model.Variant, id, stage string, status model.StageStatus, kind model.ErrorKind, message string) error {
	key := string(variant) + "/" + id
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	item, err := s.load(variant, id)
	if err != nil {
		return err
	}

	from := item.StageStatusOf(stage)
	if err := model.ValidateStageTransition(from, status); err != nil {
		return model.Errorf(model.KindStore, "update %s %q stage %s: %w", variant, id, stage, err)
	}

	item.Stages[stage] = status
	if status == model.StatusFailed {
		item.Errors = append(item.Errors, model.StageError{
			Stage:     stage,
			Kind:      string(kind),
			Message:   message,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
	return s.save(item)
}

// List returns all items of a variant matching filter, ordered by id.
// Order carries no meaning but stays stable for reproducible runs.
func (s *Store) List(variant model.Variant, filter func(*model.WorkItem) bool) ([]*model.WorkItem, error) {
	base := filepath.Join(s.dataDir, variantDirs[variant])
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, model.Errorf(model.KindStore, "list %s: %w", variant, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)

	var items []*model.WorkItem
	for _, id := range ids {
		item, err := s.Load(variant, id)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", variant, err)
		}
		if filter == nil || filter(item) {
			items = append(items, item)
		}
	}
	return items, nil
}
