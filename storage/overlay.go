package storage

import (
	"bytes"
	"sort"
	"sync"
)

// EntryOverhead is the fixed byte cost charged for every stored key on top of
// the raw key and value lengths.
const EntryOverhead = 40

// EntrySize reports the accounted size of a single key-value entry.
func EntrySize(key, value []byte) int64 {
	return int64(len(key) + len(value) + EntryOverhead)
}

type stagedValue struct {
	value   []byte
	deleted bool
}

// Overlay stages writes on top of a base reader. Nothing reaches the base
// until Commit, which applies every staged change in one atomic batch.
type Overlay struct {
	mu     sync.RWMutex
	base   Reader
	staged map[string]stagedValue
}

// NewOverlay creates an empty overlay over base.
func NewOverlay(base Reader) *Overlay {
	return &Overlay{base: base, staged: make(map[string]stagedValue)}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	entry, ok := o.staged[string(key)]
	o.mu.RUnlock()
	if ok {
		if entry.deleted {
			return nil, ErrNotFound
		}
		return append([]byte(nil), entry.value...), nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	o.mu.RLock()
	entry, ok := o.staged[string(key)]
	o.mu.RUnlock()
	if ok {
		return !entry.deleted, nil
	}
	return o.base.Has(key)
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.staged[string(key)] = stagedValue{value: append([]byte(nil), value...)}
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.staged[string(key)] = stagedValue{deleted: true}
	return nil
}

// Len returns the number of staged keys.
func (o *Overlay) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.staged)
}

// Batch renders the staged changes in key order.
func (o *Overlay) Batch() *Batch {
	o.mu.RLock()
	defer o.mu.RUnlock()
	keys := make([]string, 0, len(o.staged))
	for k := range o.staged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := new(Batch)
	for _, k := range keys {
		entry := o.staged[k]
		if entry.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), entry.value)
	}
	return batch
}

// Commit writes all staged changes to db atomically and clears the overlay.
func (o *Overlay) Commit(db Database) error {
	batch := o.Batch()
	if batch.Len() == 0 {
		return nil
	}
	if err := db.Write(batch); err != nil {
		return err
	}
	o.Discard()
	return nil
}

// Discard drops every staged change.
func (o *Overlay) Discard() {
	o.mu.Lock()
	o.staged = make(map[string]stagedValue)
	o.mu.Unlock()
}

// UsageDelta returns the change in accounted bytes for staged keys under
// prefix relative to the base reader. Sizes are measured on the full key.
func (o *Overlay) UsageDelta(prefix []byte) (int64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var delta int64
	for k, entry := range o.staged {
		key := []byte(k)
		if !bytes.HasPrefix(key, prefix) {
			continue
		}
		old, err := o.base.Get(key)
		switch {
		case err == nil:
			delta -= EntrySize(key, old)
		case err != ErrNotFound:
			return 0, err
		}
		if !entry.deleted {
			delta += EntrySize(key, entry.value)
		}
	}
	return delta, nil
}
