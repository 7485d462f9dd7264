package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
)

type versionedDoc struct {
	data    []byte
	version uint64
}

// Memory is an in-process Store with per-document version counters.
// Commit validates that every document read by the body is still at the
// version it was read at; a mismatch aborts the commit with ErrConflict
// and RunTransaction re-executes the body.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]versionedDoc
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]versionedDoc)}
}

func memKey(collection, key string) string {
	return collection + "/" + key
}

type memoryTx struct {
	store *Memory
	reads map[string]uint64
	// writes are staged until commit; reads see them first.
	writes map[string][]byte
}

func (t *memoryTx) Get(collection, key string, out any) error {
	k := memKey(collection, key)
	if raw, ok := t.writes[k]; ok {
		return json.Unmarshal(raw, out)
	}

	t.store.mu.RLock()
	doc, ok := t.store.docs[k]
	t.store.mu.RUnlock()

	if _, seen := t.reads[k]; !seen {
		t.reads[k] = doc.version // version 0 records an observed absence
	}
	if !ok {
		return ErrNoDocument
	}
	return json.Unmarshal(doc.data, out)
}

func (t *memoryTx) Set(collection, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	t.writes[memKey(collection, key)] = raw
	return nil
}

func (t *memoryTx) Query(collection, field, value string, limit int) ([]json.RawMessage, error) {
	prefix := collection + "/"

	t.store.mu.RLock()
	keys := make([]string, 0)
	for k := range t.store.docs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var out []json.RawMessage
	for _, k := range keys {
		doc := t.store.docs[k]
		if _, seen := t.reads[k]; !seen {
			t.reads[k] = doc.version
		}
		if fieldEquals(doc.data, field, value) {
			out = append(out, json.RawMessage(doc.data))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	t.store.mu.RUnlock()

	// Staged writes of this transaction are visible to its own queries.
	for k, raw := range t.writes {
		if limit > 0 && len(out) >= limit {
			break
		}
		if strings.HasPrefix(k, prefix) && fieldEquals(raw, field, value) {
			out = append(out, json.RawMessage(raw))
		}
	}
	return out, nil
}

func fieldEquals(raw []byte, field, value string) bool {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	s, ok := doc[field].(string)
	return ok && s == value
}

func (s *Memory) commit(t *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, readVersion := range t.reads {
		if s.docs[k].version != readVersion {
			return ErrConflict
		}
	}
	for k, raw := range t.writes {
		s.docs[k] = versionedDoc{data: raw, version: s.docs[k].version + 1}
	}
	return nil
}

func (s *Memory) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := &memoryTx{
			store:  s,
			reads:  make(map[string]uint64),
			writes: make(map[string][]byte),
		}
		if err := fn(t); err != nil {
			return err
		}
		err := s.commit(t)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return ErrTxnRetriesExhausted
}

func (s *Memory) Create(ctx context.Context, collection, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	k := memKey(collection, key)
	s.mu.Lock()
	s.docs[k] = versionedDoc{data: raw, version: s.docs[k].version + 1}
	s.mu.Unlock()
	return nil
}

func (s *Memory) Close() error {
	return nil
}
