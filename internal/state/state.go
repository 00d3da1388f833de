// Package state owns the durable run state shared across sync invocations:
// the change-feed cursor, the mutual-exclusion lock, and the rolling history
// of past runs. All of it lives in the key-value store; nothing here is held
// in process memory between calls.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vecsync/vecsync/internal/errs"
	"github.com/vecsync/vecsync/internal/kv"
)

const (
	keySyncState  = "sync:state"
	keySyncLock   = "sync:lock"
	historyPrefix = "sync:history:"

	// LockTTL is how long a lock is honoured before being considered stale.
	// A crashed run's lock expires naturally after this window.
	LockTTL = 30 * time.Minute

	// HistoryCap is the maximum number of retained history entries; the
	// oldest entries are evicted first.
	HistoryCap = 30
)

// SyncState is the singleton state record for the sync engine.
type SyncState struct {
	Cursor             *string `json:"cursor"`
	LastSyncTime       *string `json:"lastSyncTime"`
	FilesProcessed     int     `json:"filesProcessed"`
	ErrorCount         int     `json:"errorCount"`
	LastSyncDurationMs *int64  `json:"lastSyncDurationMs"`
}

// HistoryEntry records the outcome of one sync run.
type HistoryEntry struct {
	Timestamp       string   `json:"timestamp"`
	FilesProcessed  int      `json:"filesProcessed"`
	VectorsUpserted int      `json:"vectorsUpserted"`
	VectorsDeleted  int      `json:"vectorsDeleted"`
	DurationMs      int64    `json:"durationMs"`
	Errors          []string `json:"errors"`
}

// Manager mediates all reads and writes of the persisted sync state. The
// orchestrator never touches the KV store directly.
type Manager struct {
	store kv.Store
	now   func() time.Time
}

// NewManager creates a Manager over the given store.
func NewManager(store kv.Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// GetState returns the current SyncState. A missing record resolves to the
// zero state (no cursor, zero counters) rather than an error.
func (m *Manager) GetState(ctx context.Context) (*SyncState, error) {
	raw, ok, err := m.store.Get(ctx, keySyncState)
	if err != nil {
		return nil, errs.State("get_state", err, nil)
	}
	if !ok {
		return &SyncState{}, nil
	}

	var st SyncState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, errs.State("decode_state", err, nil)
	}
	return &st, nil
}

// SetState writes the singleton SyncState.
func (m *Manager) SetState(ctx context.Context, st *SyncState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errs.State("encode_state", err, nil)
	}
	if err := m.store.Set(ctx, keySyncState, string(data)); err != nil {
		return errs.State("set_state", err, nil)
	}
	return nil
}

// UpdateStats applies additive increments to the persisted counters.
func (m *Manager) UpdateStats(ctx context.Context, filesDelta, errorsDelta int) error {
	st, err := m.GetState(ctx)
	if err != nil {
		return err
	}
	st.FilesProcessed += filesDelta
	st.ErrorCount += errorsDelta
	return m.SetState(ctx, st)
}

// AcquireLock attempts to take the sync lock. It succeeds iff no lock exists
// or the existing lock is older than LockTTL, and records the acquisition
// time. Returns false without error when the lock is held.
func (m *Manager) AcquireLock(ctx context.Context) (bool, error) {
	held, err := m.IsLocked(ctx)
	if err != nil {
		return false, err
	}
	if held {
		return false, nil
	}

	stamp := strconv.FormatInt(m.now().UnixMilli(), 10)
	if err := m.store.SetWithTTL(ctx, keySyncLock, stamp, LockTTL); err != nil {
		return false, errs.State("acquire_lock", err, nil)
	}
	return true, nil
}

// ReleaseLock unconditionally clears the lock.
func (m *Manager) ReleaseLock(ctx context.Context) error {
	if err := m.store.Delete(ctx, keySyncLock); err != nil {
		return errs.State("release_lock", err, nil)
	}
	return nil
}

// IsLocked reports whether a non-stale lock is currently held. It never
// mutates the lock.
func (m *Manager) IsLocked(ctx context.Context) (bool, error) {
	raw, ok, err := m.store.Get(ctx, keySyncLock)
	if err != nil {
		return false, errs.State("read_lock", err, nil)
	}
	if !ok {
		return false, nil
	}

	acquiredMs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// An unreadable lock value is treated as stale rather than wedging
		// every future run.
		return false, nil
	}
	age := m.now().UnixMilli() - acquiredMs
	return age < LockTTL.Milliseconds(), nil
}

// SaveSyncHistory appends an entry and enforces the rolling cap: entries are
// sorted newest-first by their embedded timestamp and everything beyond
// HistoryCap is deleted.
func (m *Manager) SaveSyncHistory(ctx context.Context, entry HistoryEntry) error {
	if entry.Timestamp == "" {
		entry.Timestamp = m.now().UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return errs.State("encode_history", err, nil)
	}
	key := historyPrefix + entry.Timestamp + "-" + uuid.NewString()[:8]
	if err := m.store.Set(ctx, key, string(data)); err != nil {
		return errs.State("save_history", err, nil)
	}

	entries, keys, err := m.loadHistory(ctx)
	if err != nil {
		return err
	}
	if len(entries) <= HistoryCap {
		return nil
	}
	for i := HistoryCap; i < len(entries); i++ {
		if err := m.store.Delete(ctx, keys[i]); err != nil {
			return errs.State("evict_history", err, map[string]any{"key": keys[i]})
		}
	}
	return nil
}

// GetSyncHistory returns up to limit entries, newest first. A non-positive
// limit returns all retained entries.
func (m *Manager) GetSyncHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	entries, _, err := m.loadHistory(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// loadHistory reads every history entry and returns entries and their keys,
// both sorted newest-first by the entry's embedded timestamp.
func (m *Manager) loadHistory(ctx context.Context) ([]HistoryEntry, []string, error) {
	keys, err := m.store.Keys(ctx, historyPrefix)
	if err != nil {
		return nil, nil, errs.State("list_history", err, nil)
	}

	type keyed struct {
		key   string
		entry HistoryEntry
	}
	items := make([]keyed, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := m.store.Get(ctx, k)
		if err != nil {
			return nil, nil, errs.State("read_history", err, map[string]any{"key": k})
		}
		if !ok {
			continue
		}
		var e HistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, nil, errs.State("decode_history", fmt.Errorf("entry %s: %w", k, err), nil)
		}
		items = append(items, keyed{key: k, entry: e})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].entry.Timestamp > items[j].entry.Timestamp
	})

	entries := make([]HistoryEntry, len(items))
	outKeys := make([]string, len(items))
	for i, it := range items {
		entries[i] = it.entry
		outKeys[i] = it.key
	}
	return entries, outKeys, nil
}
