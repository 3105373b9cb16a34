package capture

import (
	"sync"

	"indicam/pkg/indi"
)

type storeKey struct {
	device string
	name   string
}

// Entry is the stored view of a property.
type Entry struct {
	Property indi.Property

	// Observed is set once an update event for the property has been
	// seen. Values only known from the definition are not confirmed.
	Observed bool
}

// Store holds the last known state of every property seen during a run.
// It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[storeKey]*Entry
}

func NewStore() *Store {
	return &Store{entries: make(map[storeKey]*Entry)}
}

// Upsert inserts p or merges its element values into the stored property.
// Elements are matched by name; elements not present in p keep their
// values. Once a property has been observed, definitions are ignored.
// BLOB contents are not retained.
func (s *Store) Upsert(p *indi.Property, observed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey{device: p.Device, name: p.Name}
	entry, ok := s.entries[key]
	if !ok {
		prop := *p
		prop.Elements = make([]indi.Element, 0, len(p.Elements))
		entry = &Entry{Property: prop}
		s.entries[key] = entry
	}

	// A definition arriving after an update does not replace the values
	// the device has confirmed.
	if ok && entry.Observed && !observed {
		return
	}

	if p.State != "" {
		entry.Property.State = p.State
	}
	if observed {
		entry.Observed = true
	}

	for _, e := range p.Elements {
		e.Blob = nil
		merged := false
		for i := range entry.Property.Elements {
			if entry.Property.Elements[i].Name == e.Name {
				if e.Label == "" {
					e.Label = entry.Property.Elements[i].Label
				}
				entry.Property.Elements[i] = e
				merged = true
				break
			}
		}
		if !merged {
			entry.Property.Elements = append(entry.Property.Elements, e)
		}
	}
}

// Get returns a copy of the stored property.
func (s *Store) Get(device, name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[storeKey{device: device, name: name}]
	if !ok {
		return Entry{}, false
	}
	return Entry{Property: entry.Property.Clone(), Observed: entry.Observed}, true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
