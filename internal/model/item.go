package model

import "time"

// Variant identifies the kind of work item flowing through the pipeline.
type Variant string

const (
	VariantVideo      Variant = "video"
	VariantRepository Variant = "repository"
	VariantTask       Variant = "task"
)

var validVariants = map[Variant]bool{
	VariantVideo:      true,
	VariantRepository: true,
	VariantTask:       true,
}

func ValidVariant(v Variant) bool {
	return validVariants[v]
}

// WorkItem is the durable per-item record. One metadata.yaml per item
// directory; the store is the single writer.
type WorkItem struct {
	SchemaVersion int                        `yaml:"schema_version"`
	ID            string                     `yaml:"id"`
	Variant       Variant                    `yaml:"variant"`
	Stages        map[string]StageStatus     `yaml:"stages"`
	Errors        []StageError               `yaml:"errors,omitempty"`
	LastUpdated   string                     `yaml:"last_updated"`
	CreatedAt     string                     `yaml:"created_at"`
}

// StageError is one append-only failure record.
type StageError struct {
	Stage     string `yaml:"stage"`
	Kind      string `yaml:"kind,omitempty"`
	Message   string `yaml:"message"`
	Timestamp string `yaml:"timestamp"`
}

const ItemSchemaVersion = 1

// NewWorkItem creates a record with every applicable stage pending.
func NewWorkItem(id string, variant Variant, stages []string) *WorkItem {
	now := time.Now().UTC().Format(time.RFC3339)
	m := make(map[string]StageStatus, len(stages))
	for _, s := range stages {
		m[s] = StatusPending
	}
	return &WorkItem{
		SchemaVersion: ItemSchemaVersion,
		ID:            id,
		Variant:       variant,
		Stages:        m,
		LastUpdated:   now,
		CreatedAt:     now,
	}
}

// StageStatusOf returns the recorded status for stage, defaulting to pending.
// Absent or garbage entries read as pending so a half-written record never
// hard-fails a run.
func (w *WorkItem) StageStatusOf(stage string) StageStatus {
	s, ok := w.Stages[stage]
	if !ok || !ValidStatus(s) {
		return StatusPending
	}
	return s
}

// Normalize repairs a record loaded from disk: nil maps become empty,
// unknown status strings fall back to pending, and every stage in stages
// gets an entry.
func (w *WorkItem) Normalize(stages []string) {
	if w.Stages == nil {
		w.Stages = make(map[string]StageStatus, len(stages))
	}
	for name, s := range w.Stages {
		if !ValidStatus(s) {
			w.Stages[name] = StatusPending
		}
	}
	for _, s := range stages {
		if _, ok := w.Stages[s]; !ok {
			w.Stages[s] = StatusPending
		}
	}
	if w.SchemaVersion == 0 {
		w.SchemaVersion = ItemSchemaVersion
	}
}

// LastUpdatedTime parses LastUpdated, zero time on a malformed stamp.
func (w *WorkItem) LastUpdatedTime() time.Time {
	t, err := time.Parse(time.RFC3339, w.LastUpdated)
	if err != nil {
		return time.Time{}
	}
	return t
}
