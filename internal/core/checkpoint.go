package core

// checkpoint.go persists resume state between runs.
//
// A checkpoint is written as a single value under one key, so the store's
// own write atomicity is what keeps rows, logs and index from the same run
// together. The persister never writes partial state.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CheckpointKeyPrefix scopes checkpoint keys by import type.
const CheckpointKeyPrefix = "import_resume_"

// ErrCorruptCheckpoint is returned when a stored checkpoint cannot be
// decoded or violates the index invariant.
var ErrCorruptCheckpoint = errors.New("checkpoint is corrupt")

// Store is a key-value store for serialized checkpoints.
// Get reports found=false with a nil error when the key is absent.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// KeyLister is implemented by stores that can enumerate their keys.
type KeyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// CheckpointKey returns the store key for an import type.
func CheckpointKey(importType string) string {
	return CheckpointKeyPrefix + importType
}

// Persister reads and writes checkpoints through a Store.
type Persister struct {
	store Store
}

// NewPersister wraps a store.
func NewPersister(store Store) *Persister {
	return &Persister{store: store}
}

// Save writes cp for importType. The checkpoint must satisfy its index
// invariant; Save refuses anything else rather than persisting state a
// resume could not use.
func (p *Persister) Save(ctx context.Context, importType string, cp Checkpoint) error {
	if !cp.Valid() {
		return fmt.Errorf("save checkpoint %s: index %d outside %d rows", importType, cp.LastProcessedIndex, len(cp.Rows))
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", importType, err)
	}
	if err := p.store.Set(ctx, CheckpointKey(importType), data); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", importType, err)
	}
	return nil
}

// Load returns the checkpoint for importType, or nil if none exists.
func (p *Persister) Load(ctx context.Context, importType string) (*Checkpoint, error) {
	data, found, err := p.store.Get(ctx, CheckpointKey(importType))
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", importType, err)
	}
	if !found {
		return nil, nil
	}
	return decodeCheckpoint(data)
}

// Delete removes the checkpoint for importType. Deleting a missing
// checkpoint is not an error.
func (p *Persister) Delete(ctx context.Context, importType string) error {
	if err := p.store.Delete(ctx, CheckpointKey(importType)); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", importType, err)
	}
	return nil
}

// ActiveRuns reports whether an import type has a run in progress.
// *Service implements it.
type ActiveRuns interface {
	ActiveRun(importType string) (string, bool)
}

// Sweep deletes checkpoints older than maxAge, including corrupt ones.
// Checkpoints of types with a run in progress are kept; active may be nil.
// Stores that cannot list keys are left alone.
func (p *Persister) Sweep(ctx context.Context, maxAge time.Duration, now time.Time, active ActiveRuns) (int, error) {
	lister, ok := p.store.(KeyLister)
	if !ok {
		return 0, nil
	}
	keys, err := lister.Keys(ctx, CheckpointKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("list checkpoints: %w", err)
	}

	removed := 0
	for _, key := range keys {
		if importType, ok := ImportTypeFromKey(key); ok && active != nil {
			if _, running := active.ActiveRun(importType); running {
				continue
			}
		}
		data, found, err := p.store.Get(ctx, key)
		if err != nil {
			return removed, fmt.Errorf("read checkpoint %s: %w", key, err)
		}
		if !found {
			continue
		}
		cp, err := decodeCheckpoint(data)
		if err == nil && now.Sub(cp.Timestamp) <= maxAge {
			continue
		}
		if err := p.store.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("delete checkpoint %s: %w", key, err)
		}
		removed++
	}
	return removed, nil
}

// ImportTypeFromKey is the inverse of CheckpointKey.
func ImportTypeFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, CheckpointKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, CheckpointKeyPrefix), true
}

func decodeCheckpoint(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if !cp.Valid() {
		return nil, fmt.Errorf("%w: index %d outside %d rows", ErrCorruptCheckpoint, cp.LastProcessedIndex, len(cp.Rows))
	}
	return &cp, nil
}
