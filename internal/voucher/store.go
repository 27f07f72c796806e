package voucher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/localstate"
)

// storageKey is the local state entry holding the serialized collection
const storageKey = "vouchers"

// Remote defines the backend operations the store depends on
type Remote interface {
	List(ctx context.Context) ([]*Voucher, error)
	Remove(ctx context.Context, id string) error
	Update(ctx context.Context, id string, patch Patch) (*Voucher, error)
}

// Store owns the ordered voucher collection, most recent first.
// Local state is only written with fully resolved collections.
type Store struct {
	mu       sync.RWMutex
	kv       localstate.KV
	remote   Remote
	vouchers []Voucher
	// seq counts additions; addedAt records the seq of each id's latest Add
	seq     uint64
	addedAt map[string]uint64
}

// NewStore creates an empty Store; call Load to restore persisted vouchers
func NewStore(kv localstate.KV, remote Remote) *Store {
	return &Store{
		kv:      kv,
		remote:  remote,
		addedAt: make(map[string]uint64),
	}
}

// Load restores the collection from local state. A corrupt entry is discarded,
// the collection is reset to empty and an error wrapping ErrPersistence is returned.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.kv.Get(storageKey)
	if err != nil {
		return fmt.Errorf("loading vouchers: %w", err)
	}
	if data == nil {
		s.vouchers = nil
		return nil
	}

	var vouchers []Voucher
	if err := json.Unmarshal(data, &vouchers); err != nil {
		slog.Error("Discarding unreadable persisted vouchers", "error", err)
		s.vouchers = nil
		if delErr := s.kv.Delete(storageKey); delErr != nil {
			slog.Warn("Failed to discard persisted vouchers", "error", delErr)
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.vouchers = vouchers
	return nil
}

// Persist writes the current collection to local state
func (s *Store) Persist() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.write(s.vouchers)
}

func (s *Store) write(vouchers []Voucher) error {
	if vouchers == nil {
		vouchers = []Voucher{}
	}
	data, err := json.Marshal(vouchers)
	if err != nil {
		return fmt.Errorf("marshaling vouchers: %w", err)
	}
	if err := s.kv.Put(storageKey, data); err != nil {
		return fmt.Errorf("persisting vouchers: %w", err)
	}
	return nil
}

// commit persists next and, only if that succeeds, makes it the collection.
// Callers must hold the write lock.
func (s *Store) commit(next []Voucher) error {
	if err := s.write(next); err != nil {
		return err
	}
	s.vouchers = next
	return nil
}

// Add prepends a voucher. A voucher with the same id is replaced.
func (s *Store) Add(v Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Voucher, 0, len(s.vouchers)+1)
	next = append(next, v)
	for _, existing := range s.vouchers {
		if existing.ID != v.ID {
			next = append(next, existing)
		}
	}
	if err := s.commit(next); err != nil {
		return err
	}
	s.seq++
	s.addedAt[v.ID] = s.seq
	return nil
}

// Remove deletes a voucher remotely and, once the backend confirms, locally
func (s *Store) Remove(ctx context.Context, id string) error {
	if err := s.remote.Remove(ctx, id); err != nil {
		return fmt.Errorf("removing voucher %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Voucher, 0, len(s.vouchers))
	for _, existing := range s.vouchers {
		if existing.ID != id {
			next = append(next, existing)
		}
	}
	if len(next) == len(s.vouchers) {
		return nil
	}
	return s.commit(next)
}

// Update edits a voucher remotely and replaces the local copy with the
// backend's authoritative record. An empty patch filename keeps the current one.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (*Voucher, error) {
	if patch.Filename == "" {
		current, err := s.Get(id)
		if err != nil {
			return nil, fmt.Errorf("updating voucher %s without a filename: %w", id, err)
		}
		patch.Filename = current.Filename
	}

	updated, err := s.remote.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("updating voucher %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Voucher, len(s.vouchers))
	copy(next, s.vouchers)
	found := false
	for i := range next {
		if next[i].ID == id {
			next[i] = *updated
			found = true
			break
		}
	}
	if !found {
		next = append([]Voucher{*updated}, next...)
	}
	if err := s.commit(next); err != nil {
		return nil, err
	}
	return updated, nil
}

// Refresh replaces the collection with the backend's list. Local-only
// vouchers and vouchers added while the list was in flight are kept.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.RLock()
	started := s.seq
	s.mu.RUnlock()

	remote, err := s.remote.List(ctx)
	if err != nil {
		return fmt.Errorf("refreshing vouchers: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	listed := make(map[string]struct{}, len(remote))
	next := make([]Voucher, 0, len(remote)+len(s.vouchers))
	for _, v := range remote {
		listed[v.ID] = struct{}{}
		next = append(next, *v)
	}
	for _, v := range s.vouchers {
		if _, ok := listed[v.ID]; ok {
			continue
		}
		if v.IsLocal() || s.addedAt[v.ID] > started {
			next = append(next, v)
		}
	}
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].UploadDate.After(next[j].UploadDate)
	})
	return s.commit(next)
}

// List returns a copy of the collection
func (s *Store) List() []Voucher {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Voucher, len(s.vouchers))
	copy(out, s.vouchers)
	return out
}

// Search returns the vouchers whose title or OCR text contains query
func (s *Store) Search(query string) []Voucher {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Voucher, 0)
	for _, v := range s.vouchers {
		if v.Matches(query) {
			out = append(out, v)
		}
	}
	return out
}

// Get returns the voucher with the given id
func (s *Store) Get(id string) (*Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.vouchers {
		if v.ID == id {
			found := v
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}
