// internal/engine/workspace/workspace.go
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"enrollment-sync/internal/common/logger"
	eventbus "enrollment-sync/internal/engine/event-bus"
	localstore "enrollment-sync/internal/engine/local-store"
	"enrollment-sync/internal/models"
)

// Workspace owns the in-memory working copy of the application record and the
// per-section drafts in the local store. User input goes through Edit,
// hydration through Seed.
type Workspace struct {
	store  localstore.Store
	bus    *eventbus.Bus
	logger logger.Logger

	mu     sync.RWMutex
	record models.ApplicationRecord
	edited map[models.SectionName]bool
}

func New(store localstore.Store, bus *eventbus.Bus, log logger.Logger) *Workspace {
	return &Workspace{
		store:  store,
		bus:    bus,
		logger: logger.ForComponent(log, "workspace"),
		edited: make(map[models.SectionName]bool),
	}
}

// Snapshot returns a deep copy of the working record.
func (w *Workspace) Snapshot() models.ApplicationRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.record.Clone()
}

// Edited reports whether section was changed by user input in this session.
func (w *Workspace) Edited(section models.SectionName) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.edited[section]
}

// Edit applies fn to a copy of the record, then stores the changed section,
// persists its draft and publishes SectionChanged. fn returns an error to abort.
// The returned record holds only the edited section.
func (w *Workspace) Edit(ctx context.Context, section models.SectionName, fn func(*models.ApplicationRecord) error) (models.ApplicationRecord, error) {
	w.mu.Lock()
	working := w.record.Clone()
	if err := fn(&working); err != nil {
		w.mu.Unlock()
		return models.ApplicationRecord{}, err
	}
	changed := working.Only(section).Clone()
	w.record.Merge(changed)
	if section == models.SectionDocuments && changed.Documents == nil {
		w.record.Documents = nil
	}
	w.edited[section] = true
	w.mu.Unlock()

	w.persistDraft(ctx, section, changed)
	w.bus.Publish(eventbus.SectionChanged, section)
	return changed, nil
}

// Seed fills the record from a hydrated remote copy. Sections already edited in
// this session keep the user's values. The remote status is always adopted.
func (w *Workspace) Seed(ctx context.Context, remote models.ApplicationRecord) []models.SectionName {
	var seeded []models.SectionName

	w.mu.Lock()
	for _, section := range remote.Sections() {
		if w.edited[section] {
			continue
		}
		w.record.Merge(remote.Only(section).Clone())
		seeded = append(seeded, section)
	}
	if remote.Status != "" {
		w.record.Status = remote.Status
	}
	w.mu.Unlock()

	for _, section := range seeded {
		w.persistDraft(ctx, section, remote.Only(section))
	}
	w.bus.Publish(eventbus.RecordHydrated, seeded)
	return seeded
}

// SetStatus records the backend status of the application, e.g. after submission.
func (w *Workspace) SetStatus(status string) {
	w.mu.Lock()
	w.record.Status = status
	w.mu.Unlock()
}

// Restore reloads drafts left in the local store by an earlier session and
// returns them. Restored sections count as edited: a draft may hold input that
// never reached the server, so hydration must not replace it. Drafts that no
// longer parse are skipped.
func (w *Workspace) Restore(ctx context.Context) models.ApplicationRecord {
	var restored models.ApplicationRecord
	for _, section := range models.AllSections {
		raw, found, err := w.store.Get(ctx, localstore.DraftKey(section))
		if err != nil || !found {
			continue
		}
		var draft models.ApplicationRecord
		if err := json.Unmarshal([]byte(raw), &draft); err != nil {
			w.logger.Warn("discarding unreadable draft", map[string]interface{}{"section": string(section), "error": err})
			continue
		}
		restored.Merge(draft.Only(section))
	}

	sections := restored.Sections()
	w.mu.Lock()
	w.record.Merge(restored.Clone())
	for _, section := range sections {
		w.edited[section] = true
	}
	w.mu.Unlock()

	if len(sections) > 0 {
		w.logger.Info("restored local drafts", map[string]interface{}{"sections": len(sections)})
		for _, section := range sections {
			w.bus.Publish(eventbus.SectionChanged, section)
		}
	}
	return restored
}

// Clear wipes the working record, the edited set and every draft.
func (w *Workspace) Clear(ctx context.Context) error {
	w.mu.Lock()
	w.record = models.ApplicationRecord{}
	w.edited = make(map[models.SectionName]bool)
	w.mu.Unlock()

	if err := w.store.Remove(ctx, localstore.DraftKeys()...); err != nil {
		return fmt.Errorf("clear drafts: %w", err)
	}
	return nil
}

func (w *Workspace) persistDraft(ctx context.Context, section models.SectionName, draft models.ApplicationRecord) {
	if err := localstore.SetJSON(ctx, w.store, localstore.DraftKey(section), draft.Only(section)); err != nil {
		w.logger.Warn("failed to persist draft", map[string]interface{}{"section": string(section), "error": err})
	}
}
