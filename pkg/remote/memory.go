package remote

import (
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
)

// MemoryStore is an in-process DocumentStore. It is used when no DSN is
// configured and as the fake in tests; reads and writes can be made to
// fail to exercise degradation paths.
type MemoryStore struct {
	mu    sync.RWMutex
	colls map[string]map[string]Document
	now   func() time.Time

	failReads  atomic.Pointer[error]
	failWrites atomic.Pointer[error]
	reads      atomic.Int64
	writes     atomic.Int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		colls: make(map[string]map[string]Document),
		now:   time.Now,
	}
}

// SetClock overrides the clock used for UpdatedAt.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// FailReads makes subsequent reads return err; nil restores normal reads.
func (m *MemoryStore) FailReads(err error) {
	if err == nil {
		m.failReads.Store(nil)
		return
	}
	m.failReads.Store(&err)
}

// FailWrites makes subsequent writes return err; nil restores normal writes.
func (m *MemoryStore) FailWrites(err error) {
	if err == nil {
		m.failWrites.Store(nil)
		return
	}
	m.failWrites.Store(&err)
}

// Reads returns the number of read calls served or failed.
func (m *MemoryStore) Reads() int64 { return m.reads.Load() }

// Writes returns the number of write calls served or failed.
func (m *MemoryStore) Writes() int64 { return m.writes.Load() }

func (m *MemoryStore) readErr() error {
	m.reads.Add(1)
	if p := m.failReads.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *MemoryStore) writeErr() error {
	m.writes.Add(1)
	if p := m.failWrites.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, collection, id string) (*Document, error) {
	if err := m.readErr(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.colls[collection][id]
	if !ok {
		return nil, nil
	}
	c := copyDoc(doc)
	return &c, nil
}

func (m *MemoryStore) GetMany(_ context.Context, collection string, ids []string) ([]Document, error) {
	if err := m.readErr(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := m.colls[collection][id]; ok {
			out = append(out, copyDoc(doc))
		}
	}
	return out, nil
}

func (m *MemoryStore) Put(_ context.Context, doc Document) error {
	if err := m.writeErr(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(doc)
	return nil
}

func (m *MemoryStore) PutBatch(_ context.Context, docs []Document) error {
	if len(docs) > MaxBatch {
		return ErrBatchTooLarge
	}
	if err := m.writeErr(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range docs {
		m.putLocked(doc)
	}
	return nil
}

func (m *MemoryStore) putLocked(doc Document) {
	coll, ok := m.colls[doc.Collection]
	if !ok {
		coll = make(map[string]Document)
		m.colls[doc.Collection] = coll
	}
	doc = copyDoc(doc)
	doc.UpdatedAt = m.now()
	coll[doc.ID] = doc
}

func (m *MemoryStore) Delete(_ context.Context, collection, id string) error {
	if err := m.writeErr(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.colls[collection], id)
	return nil
}

func (m *MemoryStore) List(_ context.Context, collection string) ([]Document, error) {
	if err := m.readErr(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.colls[collection]))
	for _, doc := range m.colls[collection] {
		out = append(out, copyDoc(doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) QueryBounds(_ context.Context, collection string, b orb.Bound) ([]Document, error) {
	if err := m.readErr(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Document
	for _, doc := range m.colls[collection] {
		if doc.HasGeo && b.Contains(orb.Point{doc.Lon, doc.Lat}) {
			out = append(out, copyDoc(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, collection string, now time.Time) (int64, error) {
	if err := m.writeErr(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, doc := range m.colls[collection] {
		if doc.Expired(now) {
			delete(m.colls[collection], id)
			n++
		}
	}
	return n, nil
}

// Count returns the number of documents in a collection.
func (m *MemoryStore) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.colls[collection])
}

func (m *MemoryStore) Close() error { return nil }

func copyDoc(d Document) Document {
	d.Data = slices.Clone(d.Data)
	return d
}
