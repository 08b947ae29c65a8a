package store

import "sync"

// Record is a committed model as persisted by a Backend.
type Record struct {
	Data   []byte
	CRC    uint32
	Labels []string
}

// Backend persists the active model. The store validates whatever Load
// returns exactly as it validates an upload, so a backend only needs to
// round-trip bytes.
type Backend interface {
	Init() error
	// Load returns the stored record; ok is false when nothing is stored.
	Load() (rec Record, ok bool, err error)
	// Save replaces the stored record. rec.Data may alias caller memory
	// and must be copied if retained.
	Save(rec Record) error
	Erase() error
	Close() error
}

// MemoryBackend keeps the record in RAM; it is lost on restart.
type MemoryBackend struct {
	mu  sync.Mutex
	rec *Record
}

// NewMemoryBackend returns an empty volatile backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Init() error { return nil }

func (b *MemoryBackend) Load() (Record, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rec == nil {
		return Record{}, false, nil
	}
	return cloneRecord(*b.rec), true, nil
}

func (b *MemoryBackend) Save(rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := cloneRecord(rec)
	b.rec = &c
	return nil
}

func (b *MemoryBackend) Erase() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rec = nil
	return nil
}

func (b *MemoryBackend) Close() error { return nil }

func cloneRecord(r Record) Record {
	return Record{
		Data:   append([]byte(nil), r.Data...),
		CRC:    r.CRC,
		Labels: append([]string(nil), r.Labels...),
	}
}
