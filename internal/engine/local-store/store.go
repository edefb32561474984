// internal/engine/local-store/store.go
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"enrollment-sync/internal/models"
)

// Logical keys. Each key has exactly one owning writer.
const (
	KeyApplicationID  = "application_id"  // identity manager
	KeyActiveStep     = "active_step"     // step controller
	KeyCompletedSteps = "completed_steps" // step controller
	draftPrefix       = "draft:"          // workspace
)

var ErrStoreUnavailable = errors.New("LOCAL_STORE_UNAVAILABLE")

// DraftKey returns the key holding the local draft of a section.
func DraftKey(section models.SectionName) string {
	return draftPrefix + string(section)
}

// DraftKeys returns the draft keys of every section.
func DraftKeys() []string {
	keys := make([]string, 0, len(models.AllSections))
	for _, s := range models.AllSections {
		keys = append(keys, DraftKey(s))
	}
	return keys
}

// Store is a durable key/value capability. Values are opaque strings.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, keys ...string) error
	Close() error
}

// GetJSON decodes the value under key into T, returning def when the key is
// missing, the read fails or the stored value does not parse.
func GetJSON[T any](ctx context.Context, s Store, key string, def T) T {
	raw, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return def
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return def
	}
	return out
}

// SetJSON encodes value and stores it under key.
func SetJSON[T any](ctx context.Context, s Store, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(raw))
}
